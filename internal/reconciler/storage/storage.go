// Package storage is the reconciler's read side of the job store: the
// point-in-time active-job query and the update-flag operations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/feedops/tick-capture/internal/reconciler/domain"
)

const updateFlagKey = "update_flag"

// Storage handles all database operations for the reconciler.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance.
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

type jobRow struct {
	JobID     int64     `db:"job_id"`
	Name      string    `db:"job_name"`
	StartTime time.Time `db:"job_startdatetime"`
	Duration  int64     `db:"duration"`
	Status    string    `db:"job_status"`
}

type memberRow struct {
	JobID int64  `db:"job_id"`
	Name  string `db:"name"`
}

// QueryActiveJobs returns every job whose window contains now, with its
// instrument and field sets attached. Jobs whose window elapsed before they
// were ever observed are simply never returned.
func (s *Storage) QueryActiveJobs(ctx context.Context, now time.Time) ([]domain.Job, error) {
	const query = `
		SELECT job_id, job_name, job_startdatetime, duration, job_status
		FROM jobs
		WHERE job_startdatetime <= $1
		  AND $1 < job_startdatetime + (duration * INTERVAL '1 second')
		ORDER BY job_id
	`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, now); err != nil {
		return nil, fmt.Errorf("failed to query active jobs: %w", err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(rows))
	jobs := make([]domain.Job, len(rows))
	index := make(map[int64]int, len(rows))
	for i, r := range rows {
		ids[i] = r.JobID
		index[r.JobID] = i
		jobs[i] = domain.Job{
			JobID:     r.JobID,
			Name:      r.Name,
			StartTime: r.StartTime.UTC(),
			Duration:  r.Duration,
			Status:    r.Status,
		}
	}

	instruments, err := s.members(ctx, "SELECT job_id, instrument_name AS name FROM instruments WHERE job_id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	for jobID, names := range instruments {
		jobs[index[jobID]].Instruments = names
	}

	fields, err := s.members(ctx, "SELECT job_id, field_name AS name FROM fields WHERE job_id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query fields: %w", err)
	}
	for jobID, names := range fields {
		jobs[index[jobID]].Fields = names
	}

	return jobs, nil
}

func (s *Storage) members(ctx context.Context, query string, jobIDs []int64) (map[int64][]string, error) {
	var rows []memberRow
	if err := s.db.SelectContext(ctx, &rows, query, pq.Array(jobIDs)); err != nil {
		return nil, err
	}

	out := make(map[int64][]string, len(jobIDs))
	for _, r := range rows {
		out[r.JobID] = append(out[r.JobID], r.Name)
	}

	return out, nil
}

// CheckUpdateFlag reports whether the writer has flagged a job change since
// the flag was last cleared. A missing metadata row counts as unset.
func (s *Storage) CheckUpdateFlag(ctx context.Context) (bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM metadata WHERE key = $1", updateFlagKey)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check update flag: %w", err)
	}

	return value == "1", nil
}

// ClearUpdateFlag resets the update flag after the change has been consumed.
func (s *Storage) ClearUpdateFlag(ctx context.Context) error {
	const query = `
		INSERT INTO metadata (key, value) VALUES ($1, '0')
		ON CONFLICT (key) DO UPDATE SET value = '0'
	`

	if _, err := s.db.ExecContext(ctx, query, updateFlagKey); err != nil {
		return fmt.Errorf("failed to clear update flag: %w", err)
	}

	return nil
}
