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

// AppendEvent writes one event row. The ownership check and the insert run
// in the same write transaction, so an event can never reference an email
// of another tenant.
func (s *Store) AppendEvent(ctx context.Context, ne domain.NewEvent) (*domain.Event, error) {
	if err := validateNewEvent(ne); err != nil {
		return nil, err
	}

	var evt *domain.Event
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM emails WHERE tenant_id = ? AND id = ?`, ne.TenantID, ne.EmailID,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("email %d of tenant %q: %w", ne.EmailID, ne.TenantID, tracking.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}

		ts := s.now().UTC().UnixNano()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (email_id, event_type, timestamp, user_agent, ip_address, url)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ne.EmailID, string(ne.Type), ts, ne.UserAgent, ne.IPAddress, ne.URL)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("event id: %w", err)
		}
		evt = &domain.Event{
			ID:        id,
			EmailID:   ne.EmailID,
			Type:      ne.Type,
			Timestamp: fromNanos(ts),
			UserAgent: ne.UserAgent,
			IPAddress: ne.IPAddress,
			URL:       ne.URL,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append %s event: %w", ne.Type, err)
	}
	return evt, nil
}

func validateNewEvent(ne domain.NewEvent) error {
	switch {
	case strings.TrimSpace(ne.TenantID) == "":
		return fmt.Errorf("%w: tenant id is required", tracking.ErrValidation)
	case ne.EmailID <= 0:
		return fmt.Errorf("%w: email id must be positive", tracking.ErrValidation)
	case !ne.Type.Valid():
		return fmt.Errorf("%w: unknown event type %q", tracking.ErrValidation, ne.Type)
	case ne.Type == domain.EventClick && (ne.URL == nil || *ne.URL == ""):
		return fmt.Errorf("%w: click event requires a url", tracking.ErrValidation)
	case ne.Type == domain.EventOpen && ne.URL != nil:
		return fmt.Errorf("%w: open event cannot carry a url", tracking.ErrValidation)
	}
	return nil
}

const eventColumns = `e.id, e.email_id, e.event_type, e.timestamp, e.user_agent, e.ip_address, e.url`

// ListEvents streams every event of the tenant, oldest first. Nothing is
// retained between calls; ranging again re-reads the store.
func (s *Store) ListEvents(ctx context.Context, tenantID string) iter.Seq2[domain.Event, error] {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events e
		JOIN emails m ON m.id = e.email_id
		WHERE m.tenant_id = ?
		ORDER BY e.timestamp, e.id
	`, tenantID)
}

// ListEmailEvents streams the events of one email, oldest first. An email
// of another tenant yields nothing.
func (s *Store) ListEmailEvents(ctx context.Context, tenantID string, emailID int64) iter.Seq2[domain.Event, error] {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events e
		JOIN emails m ON m.id = e.email_id
		WHERE m.tenant_id = ? AND e.email_id = ?
		ORDER BY e.timestamp, e.id
	`, tenantID, emailID)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		rows, err := s.reader.QueryContext(ctx, query, args...)
		if err != nil {
			yield(domain.Event{}, s.classify(fmt.Errorf("list events: %w", err)))
			return
		}
		defer rows.Close()

		for rows.Next() {
			evt, err := scanEvent(rows)
			if err != nil {
				yield(domain.Event{}, s.classify(fmt.Errorf("scan event: %w", err)))
				return
			}
			if !yield(evt, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Event{}, s.classify(fmt.Errorf("list events: %w", err)))
		}
	}
}

func scanEvent(row scanner) (domain.Event, error) {
	var (
		e            domain.Event
		typ          string
		ts           int64
		ua, ip, link sql.NullString
	)
	if err := row.Scan(&e.ID, &e.EmailID, &typ, &ts, &ua, &ip, &link); err != nil {
		return domain.Event{}, err
	}
	e.Type = domain.EventType(typ)
	e.Timestamp = fromNanos(ts)
	e.UserAgent = nullable(ua)
	e.IPAddress = nullable(ip)
	e.URL = nullable(link)
	return e, nil
}
