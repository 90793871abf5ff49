package tracking

import (
	"context"
	"iter"

	"github.com/ignite/mailtrack/internal/domain"
)

// Repository defines the data access contract for tenants, emails and
// events. Implementations must be safe for concurrent use and must make each
// write atomic with respect to other writes.
type Repository interface {
	// CreateTenant inserts a tenant. If the ID already exists the existing
	// record is returned unchanged (idempotent).
	CreateTenant(ctx context.Context, id, name string) (*domain.Tenant, error)

	// GetTenant returns ErrNotFound if the tenant does not exist.
	GetTenant(ctx context.Context, id string) (*domain.Tenant, error)

	// CreateEmail registers an email under tenantID, creating the tenant
	// first if it is unknown.
	CreateEmail(ctx context.Context, tenantID string, subject, recipient *string) (*domain.Email, error)

	// GetEmail returns ErrNotFound if the email is absent or belongs to a
	// different tenant.
	GetEmail(ctx context.Context, tenantID string, emailID int64) (*domain.Email, error)

	// AppendEvent stores one event row, timestamped at insert. Returns
	// ErrNotFound if the email does not belong to the tenant.
	AppendEvent(ctx context.Context, e domain.NewEvent) (*domain.Event, error)

	// ListEmails streams a tenant's emails ordered by ID.
	ListEmails(ctx context.Context, tenantID string) iter.Seq2[domain.Email, error]

	// ListEvents streams all of a tenant's events ordered by timestamp.
	// Each call re-reads current state.
	ListEvents(ctx context.Context, tenantID string) iter.Seq2[domain.Event, error]

	// ListEmailEvents streams the events of one email, tenant-scoped.
	ListEmailEvents(ctx context.Context, tenantID string, emailID int64) iter.Seq2[domain.Event, error]
}

// Observer receives notifications about recorder outcomes. The metrics
// package provides the Prometheus implementation.
type Observer interface {
	EventRecorded(t domain.EventType)
	TrackingFailed(t domain.EventType, err error)
}

type nopObserver struct{}

func (nopObserver) EventRecorded(domain.EventType)         {}
func (nopObserver) TrackingFailed(domain.EventType, error) {}
