// Package tracking serves the tracking pixel, click redirects and the
// per-tenant dashboard API over HTTP.
package tracking

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/pkg/httputil"
	"github.com/ignite/mailtrack/internal/pkg/logger"
	trackingsvc "github.com/ignite/mailtrack/internal/service/tracking"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3b,
}

// HealthChecker reports whether the backing store can serve requests.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

type Handler struct {
	recorder   *trackingsvc.Recorder
	aggregator *trackingsvc.Aggregator
	health     HealthChecker

	version        string
	retryAfter     time.Duration
	allowedOrigins []string
	middlewares    []func(http.Handler) http.Handler
	metrics        http.Handler
}

// Option customizes a Handler.
type Option func(*Handler)

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(h *Handler) { h.version = v }
}

// WithRetryAfter sets the Retry-After hint sent with 503 responses.
func WithRetryAfter(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.retryAfter = d
		}
	}
}

// WithAllowedOrigins enables CORS for the dashboard frontend.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) { h.allowedOrigins = origins }
}

// WithMiddleware adds router-level middleware, e.g. request metrics.
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.middlewares = append(h.middlewares, mw) }
}

// WithMetricsHandler serves exposition at /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(rec *trackingsvc.Recorder, agg *trackingsvc.Aggregator, health HealthChecker, opts ...Option) *Handler {
	h := &Handler{
		recorder:   rec,
		aggregator: agg,
		health:     health,
		version:    "dev",
		retryAfter: time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range h.middlewares {
		r.Use(mw)
	}
	if len(h.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.HandleHealth)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}
	r.Post("/tenants", h.HandleCreateTenant)

	r.Route("/{tenantID}", func(r chi.Router) {
		r.Get("/pixel/{emailID}", h.HandleOpen)
		r.Get("/click/{emailID}", h.HandleClick)
		r.Get("/click-url/{emailID}", h.HandleClickURL)
		r.Post("/emails", h.HandleCreateEmail)
		r.Get("/emails/{emailID}/events", h.HandleEmailEvents)
		r.Get("/dashboard", h.HandleDashboard)
	})
	return r
}

// HandleOpen records an open and always answers with the pixel. Mail
// clients render whatever comes back, so failures are only logged.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	emailID := strings.TrimSuffix(chi.URLParam(r, "emailID"), ".gif")

	if _, err := h.recorder.RecordOpen(r.Context(), tenantID, emailID, requestMeta(r)); err != nil {
		logger.Warn("open not recorded", "tenant", tenantID, "email_id", emailID, "error", err)
	}
	httputil.GIF(w, pixelGIF)
}

// HandleClick records a click and redirects to the decoded destination.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	emailID := chi.URLParam(r, "emailID")

	target, err := h.recorder.RecordClick(r.Context(), tenantID, emailID, rawQueryValue(r.URL.RawQuery, "url"), requestMeta(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleClickURL returns the tracked link for ?url=.
func (h *Handler) HandleClickURL(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		httputil.BadRequest(w, "missing 'url' parameter")
		return
	}
	link, err := h.recorder.ClickURL(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "emailID"), target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, link)
}

type createEmailRequest struct {
	Subject   *string `json:"subject"`
	Recipient *string `json:"recipient"`
}

func (h *Handler) HandleCreateEmail(w http.ResponseWriter, r *http.Request) {
	var req createEmailRequest
	if r.ContentLength != 0 && !httputil.Decode(w, r, &req) {
		return
	}
	reg, err := h.recorder.RegisterEmail(r.Context(), chi.URLParam(r, "tenantID"), req.Subject, req.Recipient)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.Created(w, reg)
}

type createTenantRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) HandleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if r.ContentLength != 0 && !httputil.Decode(w, r, &req) {
		return
	}
	tenant, err := h.recorder.RegisterTenant(r.Context(), req.ID, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.Created(w, tenant)
}

type emailEventsResponse struct {
	EmailID string         `json:"email_id"`
	Events  []domain.Event `json:"events"`
}

func (h *Handler) HandleEmailEvents(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "emailID")
	events, err := h.recorder.EmailEvents(r.Context(), chi.URLParam(r, "tenantID"), emailID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, emailEventsResponse{EmailID: emailID, Events: events})
}

func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	g, err := trackingsvc.ParseGranularity(r.URL.Query().Get("granularity"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	summary, err := h.aggregator.TenantSummary(r.Context(), chi.URLParam(r, "tenantID"), g)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, summary)
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Service: "mailtrack", Version: h.version}
	if err := h.health.Healthy(r.Context()); err != nil {
		logger.Error("health check failed", "error", err)
		resp.Status = "unhealthy"
		resp.Error = "store unavailable"
		httputil.JSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	httputil.OK(w, resp)
}

// writeError maps service errors onto status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trackingsvc.ErrValidation):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, trackingsvc.ErrNotFound):
		httputil.NotFound(w, "not found")
	case errors.Is(err, trackingsvc.ErrStoreBusy):
		logger.Warn("store busy", "error", err)
		httputil.ServiceUnavailable(w, h.retryAfter, "store busy, retry later")
	default:
		httputil.InternalError(w, err)
	}
}

func requestMeta(r *http.Request) trackingsvc.RequestMeta {
	return trackingsvc.RequestMeta{UserAgent: r.UserAgent(), IPAddress: realIP(r)}
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// rawQueryValue returns the still-encoded value of key, so the resolver
// decodes the destination exactly once.
func rawQueryValue(rawQuery, key string) string {
	for _, part := range strings.Split(rawQuery, "&") {
		k, v, _ := strings.Cut(part, "=")
		if k == key {
			return v
		}
	}
	return ""
}
