// Package metrics exposes Prometheus instrumentation for bridge sessions.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
)

// Result labels for SessionsTerminated.
const (
	ResultSuccess   = "success"
	ResultCancel    = "cancel"
	ResultError     = "error"
	ResultFail      = "fail"
	ResultDismissed = "dismissed"
	ResultExpired   = "expired"
)

// Reason labels for MessagesDropped.
const (
	ReasonUndecodable    = "undecodable"
	ReasonUnknownChannel = "unknown_channel"
	ReasonTerminated     = "terminated"
)

var (
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Total number of presentation sessions created",
		},
		[]string{"operation"},
	)

	SessionsTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "sessions",
			Name:      "terminated_total",
			Help:      "Total number of sessions that ended, by result",
		},
		[]string{"operation", "result"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "courier",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of sessions currently held by the registry",
		},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "messages",
			Name:      "dropped_total",
			Help:      "Result messages that did not terminate a session",
		},
		[]string{"reason"},
	)
)

// DropReason maps a session reject error to a MessagesDropped label.
func DropReason(err error) string {
	switch {
	case errors.Is(err, courier.ErrUnknownChannel):
		return ReasonUnknownChannel
	case errors.Is(err, courier.ErrSessionTerminated):
		return ReasonTerminated
	default:
		return ReasonUndecodable
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
