package bridge_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-courier-bridge/internal/bridge"
	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type outcomes struct {
	mu   sync.Mutex
	list []courier.Outcome
}

func (o *outcomes) handle(out courier.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, out)
}

func (o *outcomes) all() []courier.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]courier.Outcome(nil), o.list...)
}

// newPresentedEntry builds a delivery session on a relay surface and presents it.
func newPresentedEntry(t *testing.T, id string, rec *outcomes) *bridge.Entry {
	t.Helper()
	surface := bridge.NewRelaySurface(newTestLogger())
	session, err := courier.NewDeliverySession(courier.DeliveryParams{
		AccessToken: "tok",
		Tracking:    "TRK1",
		Recipient:   courier.PhoneRecipient("+34600000000"),
	}, surface, rec.handle, courier.WithID(id), courier.WithLogger(newTestLogger()))
	require.NoError(t, err)
	require.NoError(t, session.Present(context.Background()))
	return &bridge.Entry{Session: session, Surface: surface}
}
