package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feedops/tick-capture/internal/api/domain"
	"github.com/feedops/tick-capture/internal/api/dto"
	"github.com/feedops/tick-capture/internal/api/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// CreateJob handles POST /api/v1/jobs.
// Inserts the job with its instruments and fields, sets the update flag, and
// notifies the reconciler.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	duration := req.DurationSeconds
	if duration <= 0 && req.EndTime != nil {
		duration = int64(req.EndTime.Sub(req.StartTime) / time.Second)
	}
	if duration <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "duration_seconds or an end_time after start_time is required",
		})
		return
	}

	instruments := trimAll(req.Instruments)
	fields := trimAll(req.Fields)
	if len(instruments) == 0 || len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "at least one instrument and one field are required",
		})
		return
	}

	job := model.Job{
		Name:        req.Name,
		StartTime:   req.StartTime.UTC(),
		Duration:    duration,
		Status:      domain.JobStatusScheduled,
		Instruments: instruments,
		Fields:      fields,
	}

	jobID, err := h.storage.CreateJob(c.Request.Context(), &job)
	if err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}
	job.JobID = jobID

	h.logger.Info("Job created",
		slog.Int64("job_id", jobID),
		slog.String("job_name", job.Name),
		slog.Time("start_time", job.StartTime),
		slog.Int64("duration_seconds", job.Duration),
		slog.Int("instruments", len(instruments)),
	)

	h.notifyJobsChanged(c, "created", jobID)

	c.JSON(http.StatusCreated, jobToResponse(&job))
}

// GetJob handles GET /api/v1/jobs/:job_id.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.storage.GetJob(c.Request.Context(), jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get job",
			slog.Int64("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

// ListJobs handles GET /api/v1/jobs.
// Returns the newest jobs with instrument/field counts.
func (h *JobHandler) ListJobs(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	jobs, err := h.storage.ListRecentJobs(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobSummaryDTO, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = dto.JobSummaryDTO{
			JobID:           job.JobID,
			Name:            job.Name,
			StartTime:       job.StartTime.UTC().Format(time.RFC3339),
			Duration:        job.Duration,
			Status:          job.Status,
			InstrumentCount: job.InstrumentCount,
			FieldCount:      job.FieldCount,
		}
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id.
// Deleting an active job is allowed; the reconciler unsubscribes its
// instruments on the next tick.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	err := h.storage.DeleteJob(c.Request.Context(), jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete job",
			slog.Int64("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete job",
		})
		return
	}

	h.logger.Info("Job deleted", slog.Int64("job_id", jobID))

	h.notifyJobsChanged(c, "deleted", jobID)

	c.Status(http.StatusNoContent)
}

func (h *JobHandler) jobIDParam(c *gin.Context) (int64, bool) {
	jobID, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil || jobID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a positive integer",
		})
		return 0, false
	}
	return jobID, true
}

// notifyJobsChanged publishes the change event the reconciler listens for.
// The persisted update flag is already set in the same transaction as the
// change, so a publish failure only delays reconciliation; it never loses it.
func (h *JobHandler) notifyJobsChanged(c *gin.Context, action string, jobID int64) {
	if h.notifier == nil {
		return
	}

	body, err := json.Marshal(gin.H{
		"event":  "jobs-changed",
		"action": action,
		"job_id": jobID,
	})
	if err != nil {
		h.logger.Warn("Failed to encode jobs-changed event", slog.String("error", err.Error()))
		return
	}

	if err := h.notifier.Publish(c.Request.Context(), body); err != nil {
		h.logger.Warn("Failed to publish jobs-changed event",
			slog.String("action", action),
			slog.Int64("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func jobToResponse(job *model.Job) dto.JobResponse {
	return dto.JobResponse{
		JobID:       job.JobID,
		Name:        job.Name,
		StartTime:   job.StartTime.UTC().Format(time.RFC3339),
		EndTime:     job.EndTime().UTC().Format(time.RFC3339),
		Duration:    job.Duration,
		Status:      job.Status,
		Instruments: job.Instruments,
		Fields:      job.Fields,
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
