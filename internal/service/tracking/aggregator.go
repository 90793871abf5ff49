package tracking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/pkg/logger"
)

// recentEventsLimit caps Summary.RecentEvents.
const recentEventsLimit = 50

// Granularity selects the time series bucket width.
type Granularity string

const (
	GranularityDay  Granularity = "day"
	GranularityHour Granularity = "hour"
)

// ParseGranularity accepts "", "day" or "hour". Empty means day.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case "", GranularityDay:
		return GranularityDay, nil
	case GranularityHour:
		return GranularityHour, nil
	default:
		return "", fmt.Errorf("%w: unknown granularity %q", ErrValidation, s)
	}
}

func (g Granularity) bucket(t time.Time) time.Time {
	t = t.UTC()
	if g == GranularityHour {
		return t.Truncate(time.Hour)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EmailStats are the counters of a single email.
type EmailStats struct {
	EmailID int64   `json:"email_id"`
	Subject *string `json:"subject,omitempty"`
	Opens   int     `json:"opens"`
	Clicks  int     `json:"clicks"`
}

// Point is one time series bucket.
type Point struct {
	Bucket time.Time `json:"bucket"`
	Count  int       `json:"count"`
}

// Summary is the dashboard view of one tenant.
type Summary struct {
	TenantID     string         `json:"tenant_id"`
	Granularity  Granularity    `json:"granularity"`
	TotalEmails  int            `json:"total_emails"`
	TotalOpens   int            `json:"total_opens"`
	TotalClicks  int            `json:"total_clicks"`
	UniqueOpens  int            `json:"unique_opens"`
	UniqueClicks int            `json:"unique_clicks"`
	PerEmail     []EmailStats   `json:"per_email"`
	OpenSeries   []Point        `json:"open_series"`
	ClickSeries  []Point        `json:"click_series"`
	Devices      map[string]int `json:"devices"`
	RecentEvents []domain.Event `json:"recent_events"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// Aggregator computes read-only tenant statistics.
type Aggregator struct {
	repo  Repository
	cache SummaryCache
	now   func() time.Time
}

// NewAggregator creates an aggregator. A nil cache disables caching.
func NewAggregator(repo Repository, cache SummaryCache) *Aggregator {
	if cache == nil {
		cache = NopCache{}
	}
	return &Aggregator{repo: repo, cache: cache, now: time.Now}
}

// TenantSummary returns the statistics of tenantID. A tenant without
// emails, or one that was never registered, yields an all-zero summary.
func (a *Aggregator) TenantSummary(ctx context.Context, tenantID string, g Granularity) (*Summary, error) {
	if err := validateTenantID(tenantID); err != nil {
		return nil, err
	}
	if g == "" {
		g = GranularityDay
	}

	cached, gen, lookupErr := a.cache.Lookup(ctx, tenantID, g)
	if lookupErr != nil {
		logger.Warn("summary cache lookup failed", "tenant", tenantID, "error", lookupErr)
	} else if cached != nil {
		return cached, nil
	}

	s, err := a.compute(ctx, tenantID, g)
	if err != nil {
		return nil, err
	}

	// Without a generation from Lookup a stored entry could outlive a write.
	if lookupErr == nil {
		if err := a.cache.Put(ctx, tenantID, g, gen, s); err != nil {
			logger.Warn("summary cache store failed", "tenant", tenantID, "error", err)
		}
	}
	return s, nil
}

func (a *Aggregator) compute(ctx context.Context, tenantID string, g Granularity) (*Summary, error) {
	s := &Summary{
		TenantID:     tenantID,
		Granularity:  g,
		PerEmail:     []EmailStats{},
		OpenSeries:   []Point{},
		ClickSeries:  []Point{},
		Devices:      map[string]int{},
		RecentEvents: []domain.Event{},
		GeneratedAt:  a.now().UTC(),
	}

	perEmail := make(map[int64]*EmailStats)
	var order []int64
	statsFor := func(id int64) *EmailStats {
		es, ok := perEmail[id]
		if !ok {
			es = &EmailStats{EmailID: id}
			perEmail[id] = es
			order = append(order, id)
		}
		return es
	}

	for email, err := range a.repo.ListEmails(ctx, tenantID) {
		if err != nil {
			return nil, fmt.Errorf("list emails: %w", err)
		}
		statsFor(email.ID).Subject = email.Subject
	}

	// Emails registered after ListEmails returned can still show up here;
	// statsFor picks them up so every counted event has an email row.
	opens := make(map[time.Time]int)
	clicks := make(map[time.Time]int)
	recent := make([]domain.Event, 0, recentEventsLimit)
	for evt, err := range a.repo.ListEvents(ctx, tenantID) {
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		es := statsFor(evt.EmailID)
		switch evt.Type {
		case domain.EventOpen:
			es.Opens++
			s.TotalOpens++
			opens[g.bucket(evt.Timestamp)]++
		case domain.EventClick:
			es.Clicks++
			s.TotalClicks++
			clicks[g.bucket(evt.Timestamp)]++
		}
		ua := ""
		if evt.UserAgent != nil {
			ua = *evt.UserAgent
		}
		s.Devices[ClassifyDevice(ua)]++

		if len(recent) == recentEventsLimit {
			copy(recent, recent[1:])
			recent = recent[:recentEventsLimit-1]
		}
		recent = append(recent, evt)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, id := range order {
		es := perEmail[id]
		if es.Opens > 0 {
			s.UniqueOpens++
		}
		if es.Clicks > 0 {
			s.UniqueClicks++
		}
		s.PerEmail = append(s.PerEmail, *es)
	}
	s.TotalEmails = len(s.PerEmail)
	s.OpenSeries = series(opens)
	s.ClickSeries = series(clicks)

	for i := len(recent) - 1; i >= 0; i-- {
		s.RecentEvents = append(s.RecentEvents, recent[i])
	}
	return s, nil
}

func series(buckets map[time.Time]int) []Point {
	out := make([]Point, 0, len(buckets))
	for b, n := range buckets {
		out = append(out, Point{Bucket: b, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out
}
