package courier

import "context"

// ScriptMessage is a message the hosted page posted on a named channel.
// Payload is whatever the surface received: a decoded object, raw JSON bytes
// or a JSON string.
type ScriptMessage struct {
	Channel string
	Payload any
}

// LoadStatus reports navigation progress of the surface. Loading is true once
// navigation commits and false when it finishes or fails; Err is set on
// failure.
type LoadStatus struct {
	Loading bool
	Err     error
}

// SurfaceEvents are the callbacks a Surface invokes while presenting.
// OnMessage returns nil when the message terminated the session and the
// rejection reason otherwise; surfaces that cannot answer the page ignore it.
type SurfaceEvents struct {
	OnMessage    func(ScriptMessage) error
	OnLoadStatus func(LoadStatus)
	OnProgress   func(float64)
}

// Surface is an embedded web-rendering surface.
type Surface interface {
	// Present loads url and starts relaying messages posted on channels.
	Present(ctx context.Context, url string, channels []Channel, events SurfaceEvents) error
	// Unregister stops relaying messages for channels.
	Unregister(channels []Channel)
	// Dismiss tears the surface down.
	Dismiss() error
}
