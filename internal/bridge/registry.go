package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-courier-bridge/internal/metrics"
	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDuplicateSession = errors.New("session id already registered")
)

// Entry is a live session together with the surface relaying it.
type Entry struct {
	Session   *courier.Session
	Surface   *RelaySurface
	Owner     urn.URN
	CreatedAt time.Time
}

// Registry holds the live sessions of this instance. Entries stay for the
// configured TTL, terminated or not, so late relays get a definite answer.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	logger  *slog.Logger
}

func NewRegistry(ttl time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		logger:  logger.With("component", "SessionRegistry"),
	}
}

// TTL is how long an entry is kept after creation.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Add registers e under its session id.
func (r *Registry) Add(e *Entry) error {
	if e == nil || e.Session == nil || e.Surface == nil {
		return errors.New("entry needs a session and a surface")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := e.Session.ID()
	if _, exists := r.entries[id]; exists {
		return ErrDuplicateSession
	}
	r.entries[id] = e
	metrics.SessionsActive.Inc()
	return nil
}

func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Dismiss ends the session on behalf of its caller. The entry is kept until
// it expires.
func (r *Registry) Dismiss(id string) error {
	e, ok := r.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	err := e.Session.Dismiss()
	if errors.Is(err, courier.ErrSessionTerminated) {
		return nil
	}
	metrics.SessionsTerminated.WithLabelValues(e.Session.Operation().String(), metrics.ResultDismissed).Inc()
	return err
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sweep removes entries older than the TTL, dismissing those still open, and
// returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var expired []*Entry
	for id, e := range r.entries {
		if now.Sub(e.CreatedAt) < r.ttl {
			continue
		}
		delete(r.entries, id)
		metrics.SessionsActive.Dec()
		expired = append(expired, e)
	}
	r.mu.Unlock()

	for _, e := range expired {
		err := e.Session.Dismiss()
		if errors.Is(err, courier.ErrSessionTerminated) {
			continue
		}
		if err != nil {
			r.logger.Warn("Failed to dismiss expired session", "session_id", e.Session.ID(), "err", err)
		}
		metrics.SessionsTerminated.WithLabelValues(e.Session.Operation().String(), metrics.ResultExpired).Inc()
		r.logger.Info("Session expired", "session_id", e.Session.ID())
	}
	return len(expired)
}

// RunJanitor sweeps every interval until ctx is cancelled.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				r.logger.Debug("Swept expired sessions", "count", n)
			}
		}
	}
}

// Close dismisses every open session and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	for _, e := range entries {
		metrics.SessionsActive.Dec()
		_ = e.Session.Dismiss()
	}
}
