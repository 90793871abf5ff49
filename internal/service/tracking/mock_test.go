package tracking

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
)

// mockRepo is an in-memory repository for testing.
type mockRepo struct {
	mu      sync.Mutex
	tenants map[string]*domain.Tenant
	emails  map[int64]*domain.Email
	events  []domain.Event
	nextID  int64
	nextEvt int64
	now     func() time.Time

	appendErr error
}

func newMockRepo() *mockRepo {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var tick int64
	return &mockRepo{
		tenants: make(map[string]*domain.Tenant),
		emails:  make(map[int64]*domain.Email),
		now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Minute)
		},
	}
}

func (m *mockRepo) CreateTenant(_ context.Context, id, name string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureTenant(id, name), nil
}

func (m *mockRepo) ensureTenant(id, name string) *domain.Tenant {
	if t, ok := m.tenants[id]; ok {
		return t
	}
	if name == "" {
		name = id
	}
	t := &domain.Tenant{ID: id, Name: name, CreatedAt: m.now()}
	m.tenants[id] = t
	return t
}

func (m *mockRepo) GetTenant(_ context.Context, id string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *mockRepo) CreateEmail(_ context.Context, tenantID string, subject, recipient *string) (*domain.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureTenant(tenantID, "")
	m.nextID++
	e := &domain.Email{ID: m.nextID, TenantID: tenantID, Subject: subject, Recipient: recipient, CreatedAt: m.now()}
	m.emails[e.ID] = e
	return e, nil
}

func (m *mockRepo) GetEmail(_ context.Context, tenantID string, emailID int64) (*domain.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[emailID]
	if !ok || e.TenantID != tenantID {
		return nil, fmt.Errorf("email %d: %w", emailID, ErrNotFound)
	}
	return e, nil
}

func (m *mockRepo) AppendEvent(_ context.Context, ne domain.NewEvent) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return nil, m.appendErr
	}
	e, ok := m.emails[ne.EmailID]
	if !ok || e.TenantID != ne.TenantID {
		return nil, fmt.Errorf("email %d: %w", ne.EmailID, ErrNotFound)
	}
	m.nextEvt++
	evt := domain.Event{
		ID:        m.nextEvt,
		EmailID:   ne.EmailID,
		Type:      ne.Type,
		Timestamp: m.now(),
		UserAgent: ne.UserAgent,
		IPAddress: ne.IPAddress,
		URL:       ne.URL,
	}
	m.events = append(m.events, evt)
	return &evt, nil
}

// addEvent inserts an event with an explicit timestamp.
func (m *mockRepo) addEvent(emailID int64, t domain.EventType, ts time.Time, ua string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEvt++
	evt := domain.Event{ID: m.nextEvt, EmailID: emailID, Type: t, Timestamp: ts}
	if ua != "" {
		evt.UserAgent = &ua
	}
	if t == domain.EventClick {
		u := "https://example.com"
		evt.URL = &u
	}
	m.events = append(m.events, evt)
}

func (m *mockRepo) ListEmails(_ context.Context, tenantID string) iter.Seq2[domain.Email, error] {
	m.mu.Lock()
	var out []domain.Email
	for _, e := range m.emails {
		if e.TenantID == tenantID {
			out = append(out, *e)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return func(yield func(domain.Email, error) bool) {
		for _, e := range out {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (m *mockRepo) ListEvents(_ context.Context, tenantID string) iter.Seq2[domain.Event, error] {
	return m.listEvents(func(e domain.Event) bool {
		em, ok := m.emails[e.EmailID]
		return ok && em.TenantID == tenantID
	})
}

func (m *mockRepo) ListEmailEvents(_ context.Context, tenantID string, emailID int64) iter.Seq2[domain.Event, error] {
	return m.listEvents(func(e domain.Event) bool {
		em, ok := m.emails[e.EmailID]
		return ok && em.TenantID == tenantID && e.EmailID == emailID
	})
}

func (m *mockRepo) listEvents(keep func(domain.Event) bool) iter.Seq2[domain.Event, error] {
	m.mu.Lock()
	var out []domain.Event
	for _, e := range m.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	m.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return func(yield func(domain.Event, error) bool) {
		for _, e := range out {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (m *mockRepo) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// memCache is a generation-versioned SummaryCache kept in memory.
type memCache struct {
	mu      sync.Mutex
	gens    map[string]int64
	entries map[string]*Summary
	puts    int
	failInv bool
}

func newMemCache() *memCache {
	return &memCache{gens: make(map[string]int64), entries: make(map[string]*Summary)}
}

func (c *memCache) key(tenantID string, g Granularity, gen int64) string {
	return fmt.Sprintf("%s/%s/%d", tenantID, g, gen)
}

func (c *memCache) Lookup(_ context.Context, tenantID string, g Granularity) (*Summary, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.gens[tenantID]
	return c.entries[c.key(tenantID, g, gen)], gen, nil
}

func (c *memCache) Put(_ context.Context, tenantID string, g Granularity, gen int64, s *Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.entries[c.key(tenantID, g, gen)] = s
	return nil
}

func (c *memCache) Invalidate(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failInv {
		return errors.New("cache down")
	}
	c.gens[tenantID]++
	return nil
}

// countingObserver records observer callbacks.
type countingObserver struct {
	mu       sync.Mutex
	recorded map[domain.EventType]int
	failed   map[domain.EventType]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{recorded: map[domain.EventType]int{}, failed: map[domain.EventType]int{}}
}

func (o *countingObserver) EventRecorded(t domain.EventType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorded[t]++
}

func (o *countingObserver) TrackingFailed(t domain.EventType, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed[t]++
}
