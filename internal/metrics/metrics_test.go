package metrics_test

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-courier-bridge/internal/metrics"
	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
)

func TestDropReason(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want string
	}{
		{"unknown channel", fmt.Errorf("%w: teleport", courier.ErrUnknownChannel), metrics.ReasonUnknownChannel},
		{"terminated", courier.ErrSessionTerminated, metrics.ReasonTerminated},
		{"missing field", courier.ErrMissingField, metrics.ReasonUndecodable},
		{"anything else", errors.New("boom"), metrics.ReasonUndecodable},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, metrics.DropReason(tc.err))
		})
	}
}

func TestCountersAndHandler(t *testing.T) {
	created := metrics.SessionsCreated.WithLabelValues("delivery")
	before := testutil.ToFloat64(created)
	created.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(created))

	dropped := metrics.MessagesDropped.WithLabelValues(metrics.ReasonUndecodable)
	before = testutil.ToFloat64(dropped)
	dropped.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(dropped))

	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `courier_sessions_created_total{operation="delivery"}`)
	assert.Contains(t, string(body), "courier_messages_dropped_total")
}
