package courier_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSurface struct {
	mu           sync.Mutex
	presentErr   error
	url          string
	channels     []courier.Channel
	events       courier.SurfaceEvents
	unregistered []courier.Channel
	dismissed    int
}

func (f *fakeSurface) Present(_ context.Context, url string, channels []courier.Channel, events courier.SurfaceEvents) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presentErr != nil {
		return f.presentErr
	}
	f.url = url
	f.channels = channels
	f.events = events
	return nil
}

func (f *fakeSurface) Unregister(channels []courier.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, channels...)
}

func (f *fakeSurface) Dismiss() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed++
	return nil
}

func (f *fakeSurface) post(channel string, payload any) error {
	f.mu.Lock()
	onMessage := f.events.OnMessage
	f.mu.Unlock()
	return onMessage(courier.ScriptMessage{Channel: channel, Payload: payload})
}

func (f *fakeSurface) dismissCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dismissed
}

type recorder struct {
	mu       sync.Mutex
	outcomes []courier.Outcome
}

func (r *recorder) handle(o courier.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) all() []courier.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]courier.Outcome(nil), r.outcomes...)
}

func TestNewSession(t *testing.T) {
	t.Run("Requires surface and handler", func(t *testing.T) {
		_, err := courier.NewDeliverySession(baseDelivery(), nil, func(courier.Outcome) {})
		assert.ErrorIs(t, err, courier.ErrNilSurface)

		_, err = courier.NewDeliverySession(baseDelivery(), &fakeSurface{}, nil)
		assert.ErrorIs(t, err, courier.ErrNilHandler)
	})

	t.Run("Builds URL and id", func(t *testing.T) {
		s, err := courier.NewRetrievalSession(courier.RetrievalParams{AccessToken: "t", CitiboxID: 5}, &fakeSurface{}, func(courier.Outcome) {})
		require.NoError(t, err)
		assert.NotEmpty(t, s.ID())
		assert.Equal(t, courier.Retrieval, s.Operation())
		assert.Equal(t, courier.BuildURL(courier.RetrievalParams{AccessToken: "t", CitiboxID: 5}), s.URL())
		assert.Equal(t, courier.StateCreated, s.State())

		s2, err := courier.NewSession(baseDelivery(), &fakeSurface{}, func(courier.Outcome) {}, courier.WithID("fixed"))
		require.NoError(t, err)
		assert.Equal(t, "fixed", s2.ID())
	})
}

func TestSession_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("First decodable message wins", func(t *testing.T) {
		surface := &fakeSurface{}
		rec := &recorder{}
		var rejected []error
		s, err := courier.NewDeliverySession(baseDelivery(), surface, rec.handle,
			courier.WithLogger(newTestLogger()),
			courier.WithRejectHandler(func(_ courier.ScriptMessage, err error) { rejected = append(rejected, err) }),
		)
		require.NoError(t, err)

		require.NoError(t, s.Present(ctx))
		assert.Equal(t, courier.StatePresented, s.State())
		assert.Equal(t, s.URL(), surface.url)
		assert.Equal(t, courier.Channels(), surface.channels)

		require.NoError(t, surface.post("cancel", map[string]any{"code": "not_started"}))
		assert.ErrorIs(t, surface.post("success", map[string]any{"boxNumber": 1, "citiboxId": 2, "deliveryId": "d"}), courier.ErrSessionTerminated)

		require.Len(t, rec.all(), 1)
		assert.Equal(t, courier.DeliveryCancel{Code: "not_started"}, rec.all()[0])
		assert.Equal(t, courier.StateTerminated, s.State())
		assert.Equal(t, 1, surface.dismissCount())
		assert.ElementsMatch(t, courier.Channels(), surface.unregistered)

		outcome, ok := s.Outcome()
		require.True(t, ok)
		assert.Equal(t, courier.DeliveryCancel{Code: "not_started"}, outcome)

		require.Len(t, rejected, 1)
		assert.ErrorIs(t, rejected[0], courier.ErrSessionTerminated)

		select {
		case <-s.Done():
		default:
			t.Fatal("done channel should be closed")
		}
	})

	t.Run("Undecodable message is dropped and session stays open", func(t *testing.T) {
		surface := &fakeSurface{}
		rec := &recorder{}
		var rejected []error
		s, err := courier.NewRetrievalSession(courier.RetrievalParams{AccessToken: "t", CitiboxID: 1}, surface, rec.handle,
			courier.WithLogger(newTestLogger()),
			courier.WithRejectHandler(func(_ courier.ScriptMessage, err error) { rejected = append(rejected, err) }),
		)
		require.NoError(t, err)
		require.NoError(t, s.Present(ctx))

		assert.ErrorIs(t, surface.post("bogus", map[string]any{"code": "x"}), courier.ErrUnknownChannel)
		assert.ErrorIs(t, surface.post("success", map[string]any{"boxNumber": 1}), courier.ErrMissingField)
		assert.Empty(t, rec.all())
		assert.Equal(t, courier.StatePresented, s.State())
		assert.Equal(t, 0, surface.dismissCount())
		require.Len(t, rejected, 2)
		assert.ErrorIs(t, rejected[0], courier.ErrUnknownChannel)
		assert.ErrorIs(t, rejected[1], courier.ErrMissingField)

		require.NoError(t, surface.post("fail", `{"code":"empty_box"}`))
		require.Len(t, rec.all(), 1)
		assert.Equal(t, courier.RetrievalFailure{Code: "empty_box"}, rec.all()[0])
	})

	t.Run("Concurrent messages produce one callback", func(t *testing.T) {
		surface := &fakeSurface{}
		var calls atomic.Int32
		s, err := courier.NewDeliverySession(baseDelivery(), surface, func(courier.Outcome) { calls.Add(1) },
			courier.WithLogger(newTestLogger()))
		require.NoError(t, err)
		require.NoError(t, s.Present(ctx))

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = surface.post("error", map[string]any{"code": "tracking_missing"})
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, surface.dismissCount())
	})

	t.Run("Dismiss produces no outcome", func(t *testing.T) {
		surface := &fakeSurface{}
		rec := &recorder{}
		s, err := courier.NewDeliverySession(baseDelivery(), surface, rec.handle, courier.WithLogger(newTestLogger()))
		require.NoError(t, err)
		require.NoError(t, s.Present(ctx))

		require.NoError(t, s.Dismiss())
		assert.ErrorIs(t, s.Dismiss(), courier.ErrSessionTerminated)
		assert.Equal(t, courier.StateTerminated, s.State())
		assert.Equal(t, 1, surface.dismissCount())

		assert.ErrorIs(t, surface.post("success", map[string]any{"boxNumber": 1, "citiboxId": 2, "deliveryId": "d"}), courier.ErrSessionTerminated)
		assert.Empty(t, rec.all())
		_, ok := s.Outcome()
		assert.False(t, ok)
	})

	t.Run("Dismiss before present", func(t *testing.T) {
		surface := &fakeSurface{}
		s, err := courier.NewDeliverySession(baseDelivery(), surface, func(courier.Outcome) {})
		require.NoError(t, err)

		require.NoError(t, s.Dismiss())
		assert.Equal(t, 0, surface.dismissCount())
		assert.ErrorIs(t, s.Present(ctx), courier.ErrSessionTerminated)
	})

	t.Run("Present twice", func(t *testing.T) {
		s, err := courier.NewDeliverySession(baseDelivery(), &fakeSurface{}, func(courier.Outcome) {})
		require.NoError(t, err)
		require.NoError(t, s.Present(ctx))
		assert.ErrorIs(t, s.Present(ctx), courier.ErrAlreadyPresented)
	})

	t.Run("Surface present failure terminates", func(t *testing.T) {
		boom := errors.New("boom")
		s, err := courier.NewDeliverySession(baseDelivery(), &fakeSurface{presentErr: boom}, func(courier.Outcome) {})
		require.NoError(t, err)

		err = s.Present(ctx)
		assert.ErrorIs(t, err, courier.ErrSurfacePresentFail)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, courier.StateTerminated, s.State())
		<-s.Done()
	})

	t.Run("Load status and progress are forwarded", func(t *testing.T) {
		surface := &fakeSurface{}
		var statuses []courier.LoadStatus
		var progress []float64
		s, err := courier.NewDeliverySession(baseDelivery(), surface, func(courier.Outcome) {},
			courier.WithLogger(newTestLogger()),
			courier.WithLoadStatusHandler(func(ls courier.LoadStatus) { statuses = append(statuses, ls) }),
			courier.WithProgressHandler(func(p float64) { progress = append(progress, p) }),
		)
		require.NoError(t, err)
		require.NoError(t, s.Present(ctx))

		loadErr := errors.New("offline")
		surface.events.OnLoadStatus(courier.LoadStatus{Loading: true})
		surface.events.OnProgress(0.5)
		surface.events.OnLoadStatus(courier.LoadStatus{Loading: false, Err: loadErr})

		require.Len(t, statuses, 2)
		assert.True(t, statuses[0].Loading)
		assert.ErrorIs(t, statuses[1].Err, loadErr)
		assert.Equal(t, []float64{0.5}, progress)
		assert.Equal(t, courier.StatePresented, s.State())
	})
}
