package store_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/followfleet/models"
	"github.com/firasghr/followfleet/store"
)

// metaContains matches a marshaled models.ProgressMeta argument whose fields
// satisfy want.
type metaContains struct {
	want func(models.ProgressMeta) bool
}

func (m metaContains) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if !ok {
		return false
	}
	var meta models.ProgressMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return false
	}
	return m.want(meta)
}

// newMockStore mirrors the pack's sqlx+go-sqlmock wiring (jordigilh-
// kubernaut's WorkflowRepository tests: sqlmock.New() -> sqlx.NewDb(...,
// "sqlmock") -> constructor injection).
func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	return store.New(db), mock
}

func TestCreatePending(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO follow_progress").
		WithArgs(int64(1), int64(2), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.CreatePending(context.Background(), 1, 2, 0, time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkInProgress_Success(t *testing.T) {
	s, mock := newMockStore(t)

	priorMeta, err := json.Marshal(models.ProgressMeta{Group: 1, AttemptCount: 2})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT id FROM workers WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT meta FROM follow_progress").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"meta"}).AddRow(priorMeta))
	mock.ExpectExec("UPDATE follow_progress SET state = 'in_progress'").
		WithArgs(int64(1), int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.MarkInProgress(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkInProgress_BumpsAttemptCount(t *testing.T) {
	s, mock := newMockStore(t)

	priorMeta, err := json.Marshal(models.ProgressMeta{Group: 1, AttemptCount: 2})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT id FROM workers WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT meta FROM follow_progress").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"meta"}).AddRow(priorMeta))
	mock.ExpectExec("UPDATE follow_progress SET state = 'in_progress'").
		WithArgs(int64(1), int64(2), metaContains{want: func(m models.ProgressMeta) bool {
			return m.AttemptCount == 3
		}}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.MarkInProgress(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkInProgress_NoPendingRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT id FROM workers WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT meta FROM follow_progress").
		WithArgs(int64(1), int64(2)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.MarkInProgress(context.Background(), 1, 2)
	assert.Error(t, err)
}

func TestRecordOutcome_OK(t *testing.T) {
	s, mock := newMockStore(t)

	priorMeta, err := json.Marshal(models.ProgressMeta{Group: 1, AttemptCount: 1})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT id FROM workers WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT meta FROM follow_progress").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"meta"}).AddRow(priorMeta))
	mock.ExpectExec("UPDATE follow_progress SET state = 'completed'").
		WithArgs(int64(1), int64(2), metaContains{want: func(m models.ProgressMeta) bool {
			return m.DurationMS == 200 && m.AttemptCount == 1
		}}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE workers SET daily_follows = daily_follows \\+ 1").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.RecordOutcome(context.Background(), 1, 2, "ok", 200*time.Millisecond, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOutcome_RateLimited(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT id FROM workers WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT meta FROM follow_progress").
		WithArgs(int64(1), int64(2)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE follow_progress SET state = 'failed'").
		WithArgs(int64(1), int64(2), "rate limit", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE workers SET rate_limit_until").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RecordOutcome(context.Background(), 1, 2, "rate_limited", 0, "rate limit")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyReset(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE workers SET daily_follows = 0").
		WillReturnResult(sqlmock.NewResult(0, 5))

	err := s.DailyReset(context.Background(), time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleFuture(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO follow_progress").
		WithArgs(int64(1), int64(10), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO follow_progress").
		WithArgs(int64(1), int64(11), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	err := s.ScheduleFuture(context.Background(), 1, []int64{10, 11}, time.Now(), 30*time.Minute, 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkersMissingProxy(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id"}).AddRow(int64(3)).AddRow(int64(7))
	mock.ExpectQuery("SELECT id FROM workers WHERE deleted_at IS NULL AND proxy_host = ''").
		WillReturnRows(rows)

	ids, err := s.WorkersMissingProxy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignProxy(t *testing.T) {
	s, mock := newMockStore(t)

	p := models.ProxyConfig{Host: "proxy1", Port: 8080, Username: "u", Password: "p", Scheme: "http"}
	mock.ExpectExec("UPDATE workers SET proxy_host").
		WithArgs(int64(5), p.Host, p.Port, p.Username, p.Password, p.Scheme).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AssignProxy(context.Background(), 5, p)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
