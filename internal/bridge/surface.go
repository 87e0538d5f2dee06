// Package bridge relays a courier presentation to a browser running on a
// remote device. The device attaches over WebSocket (or plain HTTP for native
// shells), receives the URL to load and forwards the messages the hosted page
// posts back.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
)

var (
	ErrNotPresented         = errors.New("surface has not been presented")
	ErrAlreadyPresented     = errors.New("surface already presented")
	ErrSurfaceClosed        = errors.New("surface dismissed")
	ErrChannelNotRegistered = errors.New("channel not registered")
	// ErrMessageRejected wraps the reason a session refused a result message.
	ErrMessageRejected = errors.New("result message rejected")
)

// RelaySurface is a courier.Surface whose browser lives on a remote device.
// Transports feed it through Deliver, ReportLoad and ReportProgress and watch
// Done to learn when the session is over.
type RelaySurface struct {
	mu        sync.RWMutex
	url       string
	order     []courier.Channel
	channels  map[courier.Channel]struct{}
	events    courier.SurfaceEvents
	presented bool

	done    chan struct{}
	dismiss sync.Once
	logger  *slog.Logger
}

func NewRelaySurface(logger *slog.Logger) *RelaySurface {
	return &RelaySurface{
		channels: make(map[courier.Channel]struct{}),
		done:     make(chan struct{}),
		logger:   logger.With("component", "RelaySurface"),
	}
}

// Present implements courier.Surface. The URL is handed to the device when it
// attaches, so presenting never blocks on the network.
func (s *RelaySurface) Present(_ context.Context, url string, channels []courier.Channel, events courier.SurfaceEvents) error {
	if s.closed() {
		return ErrSurfaceClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presented {
		return ErrAlreadyPresented
	}
	s.url = url
	s.events = events
	s.order = append([]courier.Channel(nil), channels...)
	for _, c := range channels {
		s.channels[c] = struct{}{}
	}
	s.presented = true
	return nil
}

// Unregister implements courier.Surface.
func (s *RelaySurface) Unregister(channels []courier.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range channels {
		delete(s.channels, c)
	}
}

// Dismiss implements courier.Surface. It is safe to call more than once.
func (s *RelaySurface) Dismiss() error {
	s.dismiss.Do(func() {
		close(s.done)
		s.logger.Debug("Relay surface dismissed")
	})
	return nil
}

// Done is closed once the surface is dismissed.
func (s *RelaySurface) Done() <-chan struct{} { return s.done }

func (s *RelaySurface) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// URL returns the presented URL, or "" before Present.
func (s *RelaySurface) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

// Channels returns the channels still registered, in presentation order.
func (s *RelaySurface) Channels() []courier.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]courier.Channel, 0, len(s.channels))
	for _, c := range s.order {
		if _, ok := s.channels[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Deliver forwards a message the page posted on channel. Messages on channels
// that are not registered are refused and never reach the session.
func (s *RelaySurface) Deliver(channel string, payload any) error {
	if s.closed() {
		return ErrSurfaceClosed
	}

	s.mu.RLock()
	presented := s.presented
	_, registered := s.channels[courier.Channel(channel)]
	onMessage := s.events.OnMessage
	s.mu.RUnlock()

	switch {
	case !presented:
		return ErrNotPresented
	case !registered:
		s.logger.Debug("Ignoring message on unregistered channel", "channel", channel)
		return ErrChannelNotRegistered
	}
	if onMessage == nil {
		return nil
	}
	if err := onMessage(courier.ScriptMessage{Channel: channel, Payload: payload}); err != nil {
		if errors.Is(err, courier.ErrSessionTerminated) {
			return ErrSurfaceClosed
		}
		return fmt.Errorf("%w: %w", ErrMessageRejected, err)
	}
	return nil
}

// ReportLoad forwards a navigation status change from the device.
func (s *RelaySurface) ReportLoad(status courier.LoadStatus) {
	if s.closed() {
		return
	}
	s.mu.RLock()
	onLoad := s.events.OnLoadStatus
	s.mu.RUnlock()
	if onLoad != nil {
		onLoad(status)
	}
}

// ReportProgress forwards estimated load progress, clamped to [0, 1].
func (s *RelaySurface) ReportProgress(p float64) {
	if s.closed() {
		return
	}
	p = min(max(p, 0), 1)
	s.mu.RLock()
	onProgress := s.events.OnProgress
	s.mu.RUnlock()
	if onProgress != nil {
		onProgress(p)
	}
}
