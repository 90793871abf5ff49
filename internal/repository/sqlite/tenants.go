package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/service/tracking"
)

// CreateTenant inserts the tenant unless the ID exists, and returns the
// stored record either way.
func (s *Store) CreateTenant(ctx context.Context, id, name string) (*domain.Tenant, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", tracking.ErrValidation)
	}
	if name == "" {
		name = id
	}

	var t *domain.Tenant
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		if err := ensureTenant(ctx, tx, id, name, s.now()); err != nil {
			return err
		}
		var err error
		t, err = scanTenant(tx.QueryRowContext(ctx,
			`SELECT id, name, created_at FROM tenants WHERE id = ?`, id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create tenant %q: %w", id, err)
	}
	return t, nil
}

// GetTenant returns tracking.ErrNotFound for unknown IDs.
func (s *Store) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	t, err := scanTenant(s.reader.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM tenants WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %q: %w", id, tracking.ErrNotFound)
	}
	if err != nil {
		return nil, s.classify(fmt.Errorf("get tenant %q: %w", id, err))
	}
	return t, nil
}

func ensureTenant(ctx context.Context, tx *sql.Tx, id, name string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO tenants (id, name, created_at) VALUES (?, ?, ?)`,
		id, name, now.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func scanTenant(row scanner) (*domain.Tenant, error) {
	var (
		t       domain.Tenant
		created int64
	)
	if err := row.Scan(&t.ID, &t.Name, &created); err != nil {
		return nil, err
	}
	t.CreatedAt = fromNanos(created)
	return &t, nil
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
