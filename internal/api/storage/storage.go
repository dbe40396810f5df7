package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/feedops/tick-capture/internal/api/domain"
	"github.com/feedops/tick-capture/internal/api/model"
	"github.com/feedops/tick-capture/shared/postgresql"
)

const updateFlagKey = "update_flag"

// Storage is the writer side of the job store: job creation and deletion,
// display queries, and the update flag the reconciler polls.
type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateJob inserts the job row, its instruments and fields, and sets the
// update flag, all in one transaction. Returns the assigned job id.
func (s *Storage) CreateJob(ctx context.Context, job *model.Job) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var jobID int64
	err = tx.QueryRowContext(
		ctx,
		`INSERT INTO jobs (job_name, job_startdatetime, duration, job_status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING job_id`,
		job.Name,
		job.StartTime,
		job.Duration,
		job.Status,
	).Scan(&jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to create job: %w", err)
	}

	for _, instrument := range job.Instruments {
		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO instruments (instrument_name, job_id) VALUES ($1, $2)",
			instrument,
			jobID,
		); err != nil {
			return 0, fmt.Errorf("failed to insert instrument: %w", err)
		}
	}

	for _, field := range job.Fields {
		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO fields (field_name, job_id) VALUES ($1, $2)",
			field,
			jobID,
		); err != nil {
			return 0, fmt.Errorf("failed to insert field: %w", err)
		}
	}

	if err := setUpdateFlag(ctx, tx); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit job: %w", err)
	}

	return jobID, nil
}

// DeleteJob removes the job and its instrument/field rows (via cascade) and
// sets the update flag so the reconciler tears the subscriptions down.
func (s *Storage) DeleteJob(ctx context.Context, jobID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE job_id = $1", jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}

	if err := setUpdateFlag(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	return nil
}

// GetJob returns one job with its instrument and field sets.
func (s *Storage) GetJob(ctx context.Context, jobID int64) (*model.Job, error) {
	var job model.Job
	err := s.db.GetContext(
		ctx,
		&job,
		`SELECT job_id, job_name, job_startdatetime, duration, job_status
		 FROM jobs
		 WHERE job_id = $1`,
		jobID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if err := s.db.SelectContext(
		ctx,
		&job.Instruments,
		"SELECT instrument_name FROM instruments WHERE job_id = ANY($1)",
		pq.Array([]int64{jobID}),
	); err != nil {
		return nil, fmt.Errorf("failed to get instruments: %w", err)
	}

	if err := s.db.SelectContext(
		ctx,
		&job.Fields,
		"SELECT field_name FROM fields WHERE job_id = ANY($1)",
		pq.Array([]int64{jobID}),
	); err != nil {
		return nil, fmt.Errorf("failed to get fields: %w", err)
	}

	return &job, nil
}

// ListRecentJobs returns the newest jobs with instrument/field counts for
// the management display.
func (s *Storage) ListRecentJobs(ctx context.Context, limit int) ([]model.JobSummary, error) {
	const query = `
		SELECT jobs.job_id, jobs.job_name, jobs.job_startdatetime, jobs.duration, jobs.job_status,
		       (SELECT COUNT(*) FROM instruments WHERE instruments.job_id = jobs.job_id) AS instrument_count,
		       (SELECT COUNT(*) FROM fields WHERE fields.job_id = jobs.job_id) AS field_count
		FROM jobs
		ORDER BY jobs.job_id DESC
		LIMIT $1
	`

	var jobs []model.JobSummary
	if err := s.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %w", err)
	}

	return jobs, nil
}

// SetUpdateFlag flags a job change outside a transaction. The transactional
// writers above set it themselves; this is for administrative use.
func (s *Storage) SetUpdateFlag(ctx context.Context) error {
	return setUpdateFlag(ctx, s.db)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func setUpdateFlag(ctx context.Context, e execer) error {
	const query = `
		INSERT INTO metadata (key, value) VALUES ($1, '1')
		ON CONFLICT (key) DO UPDATE SET value = '1'
	`

	if _, err := e.ExecContext(ctx, query, updateFlagKey); err != nil {
		return fmt.Errorf("failed to set update flag: %w", err)
	}

	return nil
}
