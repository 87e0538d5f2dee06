package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

// Frame types exchanged on the relay WebSocket.
const (
	FramePresent  = "present"
	FrameDismiss  = "dismiss"
	FrameMessage  = "message"
	FrameLoad     = "load"
	FrameProgress = "progress"
	FrameError    = "error"
)

const maxRelayBody = 64 << 10

// Frame is the single JSON shape used in both directions; Type selects which
// fields are meaningful.
type Frame struct {
	Type     string            `json:"type"`
	URL      string            `json:"url,omitempty"`
	Channels []courier.Channel `json:"channels,omitempty"`
	Channel  string            `json:"channel,omitempty"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Loading  *bool             `json:"loading,omitempty"`
	Error    string            `json:"error,omitempty"`
	Value    *float64          `json:"value,omitempty"`
}

// loadReport is the body of POST /bridge/{id}/load.
type loadReport struct {
	Loading  bool     `json:"loading"`
	Error    string   `json:"error,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
}

// Relay serves the device-facing side of the bridge.
type Relay struct {
	registry *Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger

	pongWait     time.Duration
	pingInterval time.Duration
	writeWait    time.Duration
}

// RelayOption tunes a Relay.
type RelayOption func(*Relay)

// WithKeepalive overrides the WebSocket pong wait; pings go out at 9/10 of it.
func WithKeepalive(pongWait time.Duration) RelayOption {
	return func(r *Relay) {
		r.pongWait = pongWait
		r.pingInterval = pongWait * 9 / 10
	}
}

// WithCheckOrigin restricts which origins may open the relay WebSocket.
func WithCheckOrigin(fn func(*http.Request) bool) RelayOption {
	return func(r *Relay) { r.upgrader.CheckOrigin = fn }
}

// AllowOrigins accepts WebSocket handshakes from the listed origins and from
// clients that send no Origin header, such as native shells.
func AllowOrigins(origins ...string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(o, "/"); o != "" {
			allowed[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}

func NewRelay(registry *Registry, logger *slog.Logger, opts ...RelayOption) *Relay {
	r := &Relay{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		logger:       logger.With("component", "Relay"),
		pongWait:     60 * time.Second,
		pingInterval: 54 * time.Second,
		writeWait:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lookup resolves the {id} path value, writing 404 or 410 when the session
// cannot take messages.
func (rl *Relay) lookup(w http.ResponseWriter, r *http.Request) (*Entry, bool) {
	entry, ok := rl.registry.Get(r.PathValue("id"))
	if !ok {
		response.WriteJSONError(w, http.StatusNotFound, "unknown session")
		return nil, false
	}
	if entry.Session.State() == courier.StateTerminated {
		response.WriteJSONError(w, http.StatusGone, "session terminated")
		return nil, false
	}
	return entry, true
}

// ServeShell handles GET /bridge/{id}.
func (rl *Relay) ServeShell(w http.ResponseWriter, r *http.Request) {
	entry, ok := rl.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := renderShell(w, shellData{
		SessionID: entry.Session.ID(),
		Channels:  entry.Surface.Channels(),
	}); err != nil {
		rl.logger.Error("Failed to render shell page", "session_id", entry.Session.ID(), "err", err)
	}
}

// PostMessage handles POST /bridge/{id}/messages/{channel}. The body is the
// raw payload the page posted.
func (rl *Relay) PostMessage(w http.ResponseWriter, r *http.Request) {
	entry, ok := rl.lookup(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRelayBody))
	if err != nil {
		response.WriteJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	switch err := entry.Surface.Deliver(r.PathValue("channel"), json.RawMessage(body)); {
	case errors.Is(err, ErrSurfaceClosed):
		response.WriteJSONError(w, http.StatusGone, "session terminated")
		return
	case errors.Is(err, ErrChannelNotRegistered):
		response.WriteJSONError(w, http.StatusNotFound, "unknown channel")
		return
	case errors.Is(err, ErrMessageRejected):
		response.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		response.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"state": entry.Session.State().String()})
}

// PostLoad handles POST /bridge/{id}/load.
func (rl *Relay) PostLoad(w http.ResponseWriter, r *http.Request) {
	entry, ok := rl.lookup(w, r)
	if !ok {
		return
	}
	var report loadReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRelayBody)).Decode(&report); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	entry.Surface.ReportLoad(toLoadStatus(report.Loading, report.Error))
	if report.Progress != nil {
		entry.Surface.ReportProgress(*report.Progress)
	}
	w.WriteHeader(http.StatusNoContent)
}

func toLoadStatus(loading bool, msg string) courier.LoadStatus {
	status := courier.LoadStatus{Loading: loading}
	if msg != "" {
		status.Err = errors.New(msg)
	}
	return status
}

// ServeWS handles GET /bridge/{id}/ws.
func (rl *Relay) ServeWS(w http.ResponseWriter, r *http.Request) {
	entry, ok := rl.lookup(w, r)
	if !ok {
		return
	}
	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.logger.Error("Failed to upgrade WebSocket connection", "err", err)
		return
	}

	c := &relayConn{
		relay:  rl,
		entry:  entry,
		conn:   conn,
		send:   make(chan Frame, 16),
		closed: make(chan struct{}),
		logger: rl.logger.With("session_id", entry.Session.ID(), "remote_addr", r.RemoteAddr),
	}
	c.send <- Frame{Type: FramePresent, URL: entry.Surface.URL(), Channels: entry.Surface.Channels()}
	c.logger.Info("Device attached")

	go c.writePump()
	c.readPump()
}

type relayConn struct {
	relay  *Relay
	entry  *Entry
	conn   *websocket.Conn
	send   chan Frame
	closed chan struct{}
	logger *slog.Logger
}

// readPump runs on the handler goroutine and owns connection teardown.
func (c *relayConn) readPump() {
	defer func() {
		close(c.closed)
		_ = c.conn.Close()
		c.logger.Info("Device detached")
	}()

	c.conn.SetReadLimit(maxRelayBody)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.relay.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.relay.pongWait))
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", "err", err)
			}
			return
		}
		c.handle(frame)
	}
}

func (c *relayConn) handle(frame Frame) {
	surface := c.entry.Surface
	switch frame.Type {
	case FrameMessage:
		var payload any = frame.Payload
		if len(frame.Payload) == 0 {
			payload = nil
		}
		if err := surface.Deliver(frame.Channel, payload); err != nil && !errors.Is(err, ErrSurfaceClosed) {
			c.reply(Frame{Type: FrameError, Channel: frame.Channel, Error: err.Error()})
		}
	case FrameLoad:
		loading := frame.Loading != nil && *frame.Loading
		surface.ReportLoad(toLoadStatus(loading, frame.Error))
	case FrameProgress:
		if frame.Value != nil {
			surface.ReportProgress(*frame.Value)
		}
	default:
		c.reply(Frame{Type: FrameError, Error: "unknown frame type " + frame.Type})
	}
}

func (c *relayConn) reply(f Frame) {
	select {
	case c.send <- f:
	default:
		c.logger.Warn("Relay send buffer full, dropping frame", "type", f.Type)
	}
}

func (c *relayConn) writePump() {
	ticker := time.NewTicker(c.relay.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				return
			}
		case <-c.entry.Surface.Done():
			c.drain()
			_ = c.write(Frame{Type: FrameDismiss})
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.relay.writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.relay.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// drain flushes frames queued before the session ended.
func (c *relayConn) drain() {
	for {
		select {
		case f := <-c.send:
			_ = c.write(f)
		default:
			return
		}
	}
}

func (c *relayConn) write(f Frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.relay.writeWait))
	return c.conn.WriteJSON(f)
}
