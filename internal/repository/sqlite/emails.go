package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/service/tracking"
)

// CreateEmail registers an email. An unknown tenant is created in the same
// transaction (name defaults to the ID) so tracking never waits on a
// provisioning step.
func (s *Store) CreateEmail(ctx context.Context, tenantID string, subject, recipient *string) (*domain.Email, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", tracking.ErrValidation)
	}

	var email *domain.Email
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()
		if err := ensureTenant(ctx, tx, tenantID, tenantID, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO emails (tenant_id, subject, recipient, created_at) VALUES (?, ?, ?, ?)`,
			tenantID, subject, recipient, now.UnixNano())
		if err != nil {
			return fmt.Errorf("insert email: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("email id: %w", err)
		}
		email = &domain.Email{
			ID:        id,
			TenantID:  tenantID,
			Subject:   subject,
			Recipient: recipient,
			CreatedAt: fromNanos(now.UnixNano()),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create email for tenant %q: %w", tenantID, err)
	}
	return email, nil
}

// GetEmail looks the email up by (tenant_id, id). An email owned by another
// tenant is reported as not found.
func (s *Store) GetEmail(ctx context.Context, tenantID string, emailID int64) (*domain.Email, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT id, tenant_id, subject, recipient, created_at
		FROM emails
		WHERE tenant_id = ? AND id = ?
	`, tenantID, emailID)

	email, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email %d of tenant %q: %w", emailID, tenantID, tracking.ErrNotFound)
	}
	if err != nil {
		return nil, s.classify(fmt.Errorf("get email %d: %w", emailID, err))
	}
	return email, nil
}

// ListEmails streams the tenant's emails in ID order.
func (s *Store) ListEmails(ctx context.Context, tenantID string) iter.Seq2[domain.Email, error] {
	return func(yield func(domain.Email, error) bool) {
		rows, err := s.reader.QueryContext(ctx, `
			SELECT id, tenant_id, subject, recipient, created_at
			FROM emails
			WHERE tenant_id = ?
			ORDER BY id
		`, tenantID)
		if err != nil {
			yield(domain.Email{}, s.classify(fmt.Errorf("list emails: %w", err)))
			return
		}
		defer rows.Close()

		for rows.Next() {
			email, err := scanEmail(rows)
			if err != nil {
				yield(domain.Email{}, s.classify(fmt.Errorf("scan email: %w", err)))
				return
			}
			if !yield(*email, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Email{}, s.classify(fmt.Errorf("list emails: %w", err)))
		}
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEmail(row scanner) (*domain.Email, error) {
	var (
		e                  domain.Email
		subject, recipient sql.NullString
		created            int64
	)
	if err := row.Scan(&e.ID, &e.TenantID, &subject, &recipient, &created); err != nil {
		return nil, err
	}
	e.Subject = nullable(subject)
	e.Recipient = nullable(recipient)
	e.CreatedAt = fromNanos(created)
	return &e, nil
}
