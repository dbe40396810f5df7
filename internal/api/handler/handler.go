package handler

import (
	"context"
	"log/slog"

	"github.com/feedops/tick-capture/internal/api/model"
	"github.com/feedops/tick-capture/internal/api/storage"
	"github.com/feedops/tick-capture/shared/postgresql"
)

// Notifier publishes the jobs-changed notification consumed by the
// reconciler. Satisfied by *rabbitmq.Client.
type Notifier interface {
	Publish(ctx context.Context, body []byte) error
}

// JobStore is the job store as the handlers consume it. Satisfied by
// *storage.Storage.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) (int64, error)
	GetJob(ctx context.Context, jobID int64) (*model.Job, error)
	ListRecentJobs(ctx context.Context, limit int) ([]model.JobSummary, error)
	DeleteJob(ctx context.Context, jobID int64) error
}

// Dependencies holds all dependencies needed by handlers.
type Dependencies struct {
	Logger   *slog.Logger
	DBClient *postgresql.Client
	Notifier Notifier
}

// JobHandler handles job-related HTTP requests.
type JobHandler struct {
	logger   *slog.Logger
	storage  JobStore
	notifier Notifier
}

// NewJobHandler creates a new JobHandler instance.
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:   deps.Logger,
		storage:  storage.NewStorage(deps.DBClient),
		notifier: deps.Notifier,
	}
}
