package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewStorage(db, logger), mock
}

func TestQueryActiveJobs(t *testing.T) {
	st, mock := newMockStorage(t)
	now := time.Date(2025, 3, 10, 9, 0, 30, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "job_name", "job_startdatetime", "duration", "job_status"}).
			AddRow(int64(1), "job-a", now.Add(-30*time.Second), int64(60), "SCHEDULED").
			AddRow(int64(2), "job-b", now.Add(-10*time.Second), int64(120), "SCHEDULED"))

	mock.ExpectQuery(regexp.QuoteMeta("FROM instruments WHERE job_id = ANY($1)")).
		WithArgs(pq.Array([]int64{1, 2})).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "name"}).
			AddRow(int64(1), "X").
			AddRow(int64(1), "Y").
			AddRow(int64(2), "Y"))

	mock.ExpectQuery(regexp.QuoteMeta("FROM fields WHERE job_id = ANY($1)")).
		WithArgs(pq.Array([]int64{1, 2})).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "name"}).
			AddRow(int64(1), "BID").
			AddRow(int64(2), "ASK"))

	jobs, err := st.QueryActiveJobs(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, int64(1), jobs[0].JobID)
	assert.Equal(t, []string{"X", "Y"}, jobs[0].Instruments)
	assert.Equal(t, []string{"BID"}, jobs[0].Fields)

	assert.Equal(t, int64(2), jobs[1].JobID)
	assert.Equal(t, []string{"Y"}, jobs[1].Instruments)
	assert.Equal(t, []string{"ASK"}, jobs[1].Fields)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryActiveJobsEmpty(t *testing.T) {
	st, mock := newMockStorage(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "job_name", "job_startdatetime", "duration", "job_status"}))

	jobs, err := st.QueryActiveJobs(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	// the member queries are skipped entirely when no job is active
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryActiveJobsError(t *testing.T) {
	st, mock := newMockStorage(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs")).
		WithArgs(now).
		WillReturnError(errors.New("connection refused"))

	_, err := st.QueryActiveJobs(context.Background(), now)
	assert.Error(t, err)
}

func TestCheckUpdateFlag(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"set", "1", true},
		{"cleared", "0", false},
		{"unknown value", "yes", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, mock := newMockStorage(t)

			mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM metadata WHERE key = $1")).
				WithArgs("update_flag").
				WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(tt.value))

			got, err := st.CheckUpdateFlag(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckUpdateFlagMissingRow(t *testing.T) {
	st, mock := newMockStorage(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM metadata WHERE key = $1")).
		WithArgs("update_flag").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	got, err := st.CheckUpdateFlag(context.Background())
	require.NoError(t, err)
	assert.False(t, got)
}

func TestClearUpdateFlag(t *testing.T) {
	st, mock := newMockStorage(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO metadata")).
		WithArgs("update_flag").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.ClearUpdateFlag(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
