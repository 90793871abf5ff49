// Package metrics exposes Prometheus counters for the tracking server.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/service/tracking"
)

type Metrics struct {
	EventsRecorded   *prometheus.CounterVec
	TrackingFailures *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtrack_events_recorded_total",
			Help: "Tracking events appended to the store",
		}, []string{"type"}),
		TrackingFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtrack_tracking_failures_total",
			Help: "Tracking requests that did not append an event",
		}, []string{"type", "reason"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailtrack_http_request_duration_seconds",
			Help:    "Latency of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

var _ tracking.Observer = (*Metrics)(nil)

func (m *Metrics) EventRecorded(t domain.EventType) {
	m.EventsRecorded.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) TrackingFailed(t domain.EventType, err error) {
	m.TrackingFailures.WithLabelValues(string(t), Reason(err)).Inc()
}

// Reason buckets an error for the failure counter.
func Reason(err error) string {
	switch {
	case errors.Is(err, tracking.ErrValidation):
		return "validation"
	case errors.Is(err, tracking.ErrNotFound):
		return "not_found"
	case errors.Is(err, tracking.ErrStoreBusy):
		return "busy"
	case errors.Is(err, tracking.ErrStoreCorrupt):
		return "corrupt"
	default:
		return "other"
	}
}

// Middleware records request latency labelled by chi route pattern, so
// tenant and email IDs never become label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
