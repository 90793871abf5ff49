package sqlite

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/service/tracking"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newStore(db, db, "mock.db", time.Second), mock
}

var checkEmail = regexp.QuoteMeta(`SELECT 1 FROM emails WHERE tenant_id = ? AND id = ?`)

func TestClassify_BusyIsRetryable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(checkEmail).
		WithArgs("acme", int64(1)).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})
	mock.ExpectRollback()

	_, err := s.AppendEvent(context.Background(), domain.NewEvent{TenantID: "acme", EmailID: 1, Type: domain.EventOpen})
	assert.ErrorIs(t, err, tracking.ErrStoreBusy)
	assert.True(t, tracking.IsRetryable(err))
	assert.NoError(t, s.Healthy(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify_CorruptionDisablesWrites(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(checkEmail).
		WithArgs("acme", int64(1)).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrCorrupt})
	mock.ExpectRollback()

	ne := domain.NewEvent{TenantID: "acme", EmailID: 1, Type: domain.EventOpen}
	_, err := s.AppendEvent(context.Background(), ne)
	assert.ErrorIs(t, err, tracking.ErrStoreCorrupt)
	assert.False(t, tracking.IsRetryable(err))

	// No further statements reach the database.
	_, err = s.AppendEvent(context.Background(), ne)
	assert.ErrorIs(t, err, tracking.ErrStoreCorrupt)
	assert.ErrorIs(t, s.Healthy(context.Background()), tracking.ErrStoreCorrupt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify_PassesThroughOtherErrors(t *testing.T) {
	s, _ := newMockStore(t)

	plain := errors.New("disk on fire")
	assert.Same(t, plain, s.classify(plain))
	assert.Nil(t, s.classify(nil))

	nf := tracking.ErrNotFound
	assert.ErrorIs(t, s.classify(nf), tracking.ErrNotFound)

	constraint := sqlite3.Error{Code: sqlite3.ErrConstraint}
	got := s.classify(constraint)
	assert.False(t, errors.Is(got, tracking.ErrStoreBusy))
	assert.False(t, errors.Is(got, tracking.ErrStoreCorrupt))
}

func TestClassify_LockedIsBusy(t *testing.T) {
	s, _ := newMockStore(t)

	err := s.classify(sqlite3.Error{Code: sqlite3.ErrLocked})
	assert.ErrorIs(t, err, tracking.ErrStoreBusy)
}
