package courier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrNilSurface         = errors.New("courier: surface is required")
	ErrNilHandler         = errors.New("courier: result handler is required")
	ErrAlreadyPresented   = errors.New("courier: session already presented")
	ErrSessionTerminated  = errors.New("courier: session terminated")
	ErrSurfacePresentFail = errors.New("courier: surface failed to present")
)

// SessionState is the lifecycle position of a Session.
type SessionState int32

const (
	StateCreated SessionState = iota
	StatePresented
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePresented:
		return "presented"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ResultHandler receives the terminal Outcome of a session. It is called at
// most once and never with a nil Outcome.
type ResultHandler func(Outcome)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithLoadStatusHandler receives navigation status from the surface.
func WithLoadStatusHandler(fn func(LoadStatus)) Option {
	return func(s *Session) { s.onLoad = fn }
}

// WithProgressHandler receives estimated load progress in [0, 1].
func WithProgressHandler(fn func(float64)) Option {
	return func(s *Session) { s.onProgress = fn }
}

// WithRejectHandler is told about every message that was dropped, either
// because it could not be decoded or because the session had already ended.
func WithRejectHandler(fn func(ScriptMessage, error)) Option {
	return func(s *Session) { s.onReject = fn }
}

// Session is one presentation of the hosted web app on a Surface. It moves
// Created -> Presented -> Terminated exactly once; the first decodable result
// message terminates it, invokes the ResultHandler and dismisses the surface.
type Session struct {
	id      string
	kind    OperationKind
	url     string
	surface Surface
	handler ResultHandler

	onLoad     func(LoadStatus)
	onProgress func(float64)
	onReject   func(ScriptMessage, error)
	logger     *slog.Logger

	state   atomic.Int32
	outcome atomic.Value // outcomeBox
	done    chan struct{}
}

type outcomeBox struct{ Outcome }

// NewDeliverySession prepares a delivery presentation of params on surface.
func NewDeliverySession(params DeliveryParams, surface Surface, handler ResultHandler, opts ...Option) (*Session, error) {
	return newSession(params, surface, handler, opts...)
}

// NewRetrievalSession prepares a retrieval presentation of params on surface.
func NewRetrievalSession(params RetrievalParams, surface Surface, handler ResultHandler, opts ...Option) (*Session, error) {
	return newSession(params, surface, handler, opts...)
}

// NewSession prepares a presentation for either parameter type.
func NewSession(params Params, surface Surface, handler ResultHandler, opts ...Option) (*Session, error) {
	return newSession(params, surface, handler, opts...)
}

func newSession(params Params, surface Surface, handler ResultHandler, opts ...Option) (*Session, error) {
	if surface == nil {
		return nil, ErrNilSurface
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	s := &Session{
		id:      uuid.NewString(),
		kind:    params.Operation(),
		url:     BuildURL(params),
		surface: surface,
		handler: handler,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", s.id, "operation", s.kind.String())
	return s, nil
}

func (s *Session) ID() string               { return s.id }
func (s *Session) Operation() OperationKind { return s.kind }
func (s *Session) URL() string              { return s.url }
func (s *Session) State() SessionState      { return SessionState(s.state.Load()) }

// Done is closed when the session terminates, with or without an outcome.
func (s *Session) Done() <-chan struct{} { return s.done }

// Outcome returns the terminal outcome, if one was delivered.
func (s *Session) Outcome() (Outcome, bool) {
	box, ok := s.outcome.Load().(outcomeBox)
	if !ok {
		return nil, false
	}
	return box.Outcome, true
}

// Present loads the session URL on the surface and registers the result
// channels. A session can be presented once.
func (s *Session) Present(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StatePresented)) {
		if s.State() == StateTerminated {
			return ErrSessionTerminated
		}
		return ErrAlreadyPresented
	}

	events := SurfaceEvents{
		OnMessage:    s.receive,
		OnLoadStatus: s.loadStatus,
		OnProgress:   s.progress,
	}
	if err := s.surface.Present(ctx, s.url, Channels(), events); err != nil {
		if s.state.CompareAndSwap(int32(StatePresented), int32(StateTerminated)) {
			close(s.done)
		}
		return fmt.Errorf("%w: %w", ErrSurfacePresentFail, err)
	}
	s.logger.Debug("Session presented")
	return nil
}

// Dismiss ends the session without an outcome; the ResultHandler is not
// called. It returns ErrSessionTerminated when the session had already ended,
// so only one of an outcome and a dismissal ever terminates a session.
func (s *Session) Dismiss() error {
	if s.state.CompareAndSwap(int32(StateCreated), int32(StateTerminated)) {
		close(s.done)
		return nil
	}
	if !s.state.CompareAndSwap(int32(StatePresented), int32(StateTerminated)) {
		return ErrSessionTerminated
	}
	close(s.done)
	s.logger.Info("Session dismissed without outcome")
	s.surface.Unregister(Channels())
	return s.surface.Dismiss()
}

func (s *Session) receive(msg ScriptMessage) error {
	if s.State() != StatePresented {
		return s.reject(msg, ErrSessionTerminated)
	}

	outcome, err := Decode(msg.Channel, msg.Payload, s.kind)
	if err != nil {
		s.logger.Warn("Dropping undecodable result message", "channel", msg.Channel, "err", err)
		return s.reject(msg, err)
	}

	if !s.state.CompareAndSwap(int32(StatePresented), int32(StateTerminated)) {
		return s.reject(msg, ErrSessionTerminated)
	}
	s.outcome.Store(outcomeBox{outcome})
	close(s.done)

	s.surface.Unregister(Channels())
	s.logger.Info("Session terminated", "channel", msg.Channel)
	s.handler(outcome)
	if err := s.surface.Dismiss(); err != nil {
		s.logger.Warn("Surface dismiss failed", "err", err)
	}
	return nil
}

func (s *Session) reject(msg ScriptMessage, err error) error {
	if s.onReject != nil {
		s.onReject(msg, err)
	}
	return err
}

func (s *Session) loadStatus(status LoadStatus) {
	if status.Err != nil {
		s.logger.Warn("Surface failed to load", "err", status.Err)
	}
	if s.onLoad != nil {
		s.onLoad(status)
	}
}

func (s *Session) progress(p float64) {
	if s.onProgress != nil {
		s.onProgress(p)
	}
}
