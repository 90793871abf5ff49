package tracking

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/pkg/logger"
)

const invalidateTimeout = 2 * time.Second

// RequestMeta is the client information captured from a tracking request.
type RequestMeta struct {
	UserAgent string
	IPAddress string
}

// Registration is returned when an email is registered for tracking.
type Registration struct {
	EmailID          int64  `json:"email_id"`
	TrackingPixelURL string `json:"tracking_pixel_url"`
}

// ClickLink is a tracked redirect link for a destination URL.
type ClickLink struct {
	ClickURL    string `json:"click_url"`
	OriginalURL string `json:"original_url"`
}

// Recorder validates inbound tracking requests and turns them into store
// writes. It is safe for concurrent use.
//
// Repeated identical requests are not deduplicated: an email opened three
// times yields three open events.
type Recorder struct {
	repo     Repository
	cache    SummaryCache
	observer Observer
	baseURL  string
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithCache invalidates the tenant's cached summary after every write.
func WithCache(c SummaryCache) RecorderOption {
	return func(r *Recorder) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithObserver reports recorded events and failures to o.
func WithObserver(o Observer) RecorderOption {
	return func(r *Recorder) {
		if o != nil {
			r.observer = o
		}
	}
}

// NewRecorder creates a recorder backed by repo. baseURL is the public
// address used to build tracking links.
func NewRecorder(repo Repository, baseURL string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		repo:     repo,
		cache:    NopCache{},
		observer: nopObserver{},
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ParseEmailID parses a raw path segment into a positive email ID.
func ParseEmailID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: email id %q is not a positive integer", ErrValidation, raw)
	}
	return id, nil
}

func validateTenantID(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	return nil
}

// RegisterTenant creates a tenant explicitly. An empty id gets a generated
// one. Registering an existing id returns the stored tenant.
func (r *Recorder) RegisterTenant(ctx context.Context, id, name string) (*domain.Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	return r.repo.CreateTenant(ctx, id, strings.TrimSpace(name))
}

// RegisterEmail creates an email under tenantID and returns its tracking
// pixel URL. Unknown tenants are created on the fly.
func (r *Recorder) RegisterEmail(ctx context.Context, tenantID string, subject, recipient *string) (*Registration, error) {
	if err := validateTenantID(tenantID); err != nil {
		return nil, err
	}
	email, err := r.repo.CreateEmail(ctx, tenantID, subject, recipient)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, tenantID)

	logger.Info("email registered", "tenant", tenantID, "email_id", email.ID, "recipient", deref(recipient))
	return &Registration{
		EmailID:          email.ID,
		TrackingPixelURL: r.PixelURL(tenantID, email.ID),
	}, nil
}

// PixelURL builds {baseURL}/{tenantID}/pixel/{emailID}.gif.
func (r *Recorder) PixelURL(tenantID string, emailID int64) string {
	return fmt.Sprintf("%s/%s/pixel/%d.gif", r.baseURL, url.PathEscape(tenantID), emailID)
}

// RecordOpen appends an open event. The HTTP layer serves the pixel no
// matter what this returns; errors are for logging.
func (r *Recorder) RecordOpen(ctx context.Context, tenantID, emailIDRaw string, meta RequestMeta) (*domain.Event, error) {
	evt, err := r.record(ctx, domain.EventOpen, tenantID, emailIDRaw, nil, meta)
	if err != nil {
		r.observer.TrackingFailed(domain.EventOpen, err)
		return nil, err
	}
	return evt, nil
}

// RecordClick resolves rawURL, appends a click event and returns the
// decoded destination to redirect to. An invalid URL appends nothing.
func (r *Recorder) RecordClick(ctx context.Context, tenantID, emailIDRaw, rawURL string, meta RequestMeta) (string, error) {
	target, err := Resolve(rawURL)
	if err != nil {
		r.observer.TrackingFailed(domain.EventClick, err)
		return "", err
	}
	if _, err := r.record(ctx, domain.EventClick, tenantID, emailIDRaw, &target, meta); err != nil {
		r.observer.TrackingFailed(domain.EventClick, err)
		return "", err
	}
	return target, nil
}

func (r *Recorder) record(ctx context.Context, t domain.EventType, tenantID, emailIDRaw string, target *string, meta RequestMeta) (*domain.Event, error) {
	if err := validateTenantID(tenantID); err != nil {
		return nil, err
	}
	emailID, err := ParseEmailID(emailIDRaw)
	if err != nil {
		return nil, err
	}

	evt, err := r.repo.AppendEvent(ctx, domain.NewEvent{
		TenantID:  tenantID,
		EmailID:   emailID,
		Type:      t,
		UserAgent: optional(meta.UserAgent),
		IPAddress: optional(meta.IPAddress),
		URL:       target,
	})
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, tenantID)
	r.observer.EventRecorded(t)
	return evt, nil
}

// ClickURL builds a tracked link for target. target is the decoded
// destination; the email must belong to the tenant.
func (r *Recorder) ClickURL(ctx context.Context, tenantID, emailIDRaw, target string) (*ClickLink, error) {
	if err := validateTenantID(tenantID); err != nil {
		return nil, err
	}
	emailID, err := ParseEmailID(emailIDRaw)
	if err != nil {
		return nil, err
	}
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	if _, err := r.repo.GetEmail(ctx, tenantID, emailID); err != nil {
		return nil, err
	}
	return &ClickLink{
		ClickURL: fmt.Sprintf("%s/%s/click/%d?url=%s",
			r.baseURL, url.PathEscape(tenantID), emailID, url.QueryEscape(target)),
		OriginalURL: target,
	}, nil
}

// EmailEvents returns every event of one email in timestamp order.
func (r *Recorder) EmailEvents(ctx context.Context, tenantID, emailIDRaw string) ([]domain.Event, error) {
	if err := validateTenantID(tenantID); err != nil {
		return nil, err
	}
	emailID, err := ParseEmailID(emailIDRaw)
	if err != nil {
		return nil, err
	}
	if _, err := r.repo.GetEmail(ctx, tenantID, emailID); err != nil {
		return nil, err
	}

	events := []domain.Event{}
	for evt, err := range r.repo.ListEmailEvents(ctx, tenantID, emailID) {
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

// invalidate runs detached from ctx: once a write has committed the cache
// must be cleared even if the caller has gone away.
func (r *Recorder) invalidate(ctx context.Context, tenantID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	if err := r.cache.Invalidate(ctx, tenantID); err != nil {
		logger.Error("summary cache invalidation failed", "tenant", tenantID, "error", err)
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
