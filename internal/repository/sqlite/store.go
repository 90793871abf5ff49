// Package sqlite implements the tracking repository on a single SQLite file.
//
// The store keeps one writer connection and a pool of query-only readers.
// Journal mode is WAL, so readers see the last committed state while a write
// is in flight. Writers additionally queue on a store-wide gate with a
// bounded wait; a writer that cannot get the gate in time fails with
// tracking.ErrStoreBusy instead of blocking indefinitely.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/ignite/mailtrack/internal/service/tracking"
)

// Options configures a Store.
type Options struct {
	// Path is the store file. It is created with its parent directory if
	// missing. In-memory databases are not supported.
	Path string

	// WriteTimeout bounds how long a writer waits for its turn.
	WriteTimeout time.Duration

	// BusyTimeout is handed to SQLite for file-level lock waits.
	BusyTimeout time.Duration

	// MaxReaders caps concurrent read connections.
	MaxReaders int
}

func (o *Options) setDefaults() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 5 * time.Second
	}
	if o.MaxReaders <= 0 {
		o.MaxReaders = 4
	}
}

// Store implements tracking.Repository. It is opened once at startup,
// passed to every component and closed on shutdown.
type Store struct {
	path         string
	writer       *sql.DB
	reader       *sql.DB
	gate         chan struct{}
	writeTimeout time.Duration
	now          func() time.Time

	healthy    atomic.Bool
	corruptMu  sync.Mutex
	corruptErr error
}

var _ tracking.Repository = (*Store)(nil)

// Open opens (or creates) the store file, verifies it and applies pending
// migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	opts.setDefaults()
	path := strings.TrimPrefix(opts.Path, "sqlite:")
	if path == "" || path == ":memory:" || strings.Contains(path, "mode=memory") {
		return nil, fmt.Errorf("store path must be a file, got %q", opts.Path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	busyMS := strconv.FormatInt(opts.BusyTimeout.Milliseconds(), 10)

	wq := url.Values{}
	wq.Set("_journal_mode", "WAL")
	wq.Set("_synchronous", "NORMAL")
	wq.Set("_foreign_keys", "on")
	wq.Set("_busy_timeout", busyMS)
	wq.Set("_txlock", "immediate")
	writer, err := sql.Open("sqlite3", "file:"+path+"?"+wq.Encode())
	if err != nil {
		return nil, fmt.Errorf("open store writer: %w", err)
	}

	rq := url.Values{}
	rq.Set("_foreign_keys", "on")
	rq.Set("_busy_timeout", busyMS)
	rq.Set("_query_only", "true")
	reader, err := sql.Open("sqlite3", "file:"+path+"?"+rq.Encode())
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open store reader: %w", err)
	}
	reader.SetMaxOpenConns(opts.MaxReaders)
	reader.SetMaxIdleConns(opts.MaxReaders)

	s := newStore(writer, reader, path, opts.WriteTimeout)
	if err := s.init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	log.Printf("[store] opened %s (write timeout %s, %d readers)", path, opts.WriteTimeout, opts.MaxReaders)
	return s, nil
}

func newStore(writer, reader *sql.DB, path string, writeTimeout time.Duration) *Store {
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)
	s := &Store{
		path:         path,
		writer:       writer,
		reader:       reader,
		gate:         make(chan struct{}, 1),
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
	s.healthy.Store(true)
	return s
}

func (s *Store) init(ctx context.Context) error {
	if err := s.writer.PingContext(ctx); err != nil {
		return s.classify(fmt.Errorf("ping store: %w", err))
	}

	var check string
	if err := s.writer.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&check); err != nil {
		return s.classify(fmt.Errorf("quick_check: %w", err))
	}
	if check != "ok" {
		err := fmt.Errorf("%w: quick_check reported %q", tracking.ErrStoreCorrupt, check)
		s.markCorrupt(err)
		return err
	}

	var mode string
	if err := s.writer.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode); err != nil {
		return s.classify(fmt.Errorf("journal_mode: %w", err))
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("store journal mode is %q, want wal", mode)
	}

	if _, err := migrate(ctx, s.writer, func() int64 { return s.now().UnixNano() }); err != nil {
		return s.classify(err)
	}
	return nil
}

// Close releases both connection pools.
func (s *Store) Close() error {
	return errors.Join(s.reader.Close(), s.writer.Close())
}

// Path returns the store file location.
func (s *Store) Path() string { return s.path }

// Healthy reports nil while the store is usable. After corruption has been
// observed it keeps returning the corruption error.
func (s *Store) Healthy(ctx context.Context) error {
	if !s.healthy.Load() {
		s.corruptMu.Lock()
		defer s.corruptMu.Unlock()
		return s.corruptErr
	}
	if err := s.reader.PingContext(ctx); err != nil {
		return s.classify(err)
	}
	return nil
}

// acquire waits for the store-wide write slot. The wait is bounded by the
// write timeout; the caller's own cancellation is returned unchanged.
func (s *Store) acquire(ctx context.Context) (func(), error) {
	if !s.healthy.Load() {
		return nil, fmt.Errorf("%w: writes disabled after corruption", tracking.ErrStoreCorrupt)
	}

	timer := time.NewTimer(s.writeTimeout)
	defer timer.Stop()

	select {
	case s.gate <- struct{}{}:
		return func() { <-s.gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no write slot within %s", tracking.ErrStoreBusy, s.writeTimeout)
	}
}

// withWrite runs fn in a single write transaction. Either every statement
// of fn commits or none does.
func (s *Store) withWrite(ctx context.Context, fn func(tx *sql.Tx) error) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(fmt.Errorf("begin: %w", err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return s.classify(err)
	}
	if err := tx.Commit(); err != nil {
		return s.classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Snapshot writes a consistent copy of the store to dst, which must not
// exist yet. It occupies the write slot while copying.
func (s *Store) Snapshot(ctx context.Context, dst string) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.writer.ExecContext(ctx, `VACUUM INTO ?`, dst); err != nil {
		return s.classify(fmt.Errorf("snapshot to %s: %w", dst, err))
	}
	return nil
}

// Tables lists the user tables in the store file.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, s.classify(rows.Err())
}

// IntegrityCheck runs a full PRAGMA integrity_check.
func (s *Store) IntegrityCheck(ctx context.Context) error {
	rows, err := s.reader.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return s.classify(err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return err
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return s.classify(err)
	}
	if len(problems) > 0 {
		err := fmt.Errorf("%w: %s", tracking.ErrStoreCorrupt, strings.Join(problems, "; "))
		s.markCorrupt(err)
		return err
	}
	return nil
}

func (s *Store) markCorrupt(err error) {
	s.corruptMu.Lock()
	defer s.corruptMu.Unlock()
	if s.corruptErr == nil {
		s.corruptErr = err
	}
	s.healthy.Store(false)
	logger.Error("store corruption detected, refusing further writes", "path", s.path, "error", err)
}
