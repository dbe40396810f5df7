package dto

import "time"

// CreateJobRequest carries a new capture job. Either duration_seconds or
// end_time must be supplied; when both are present duration_seconds wins.
type CreateJobRequest struct {
	Name            string     `json:"name" binding:"required"`
	StartTime       time.Time  `json:"start_time" binding:"required"`
	DurationSeconds int64      `json:"duration_seconds"`
	EndTime         *time.Time `json:"end_time"`
	Instruments     []string   `json:"instruments" binding:"required"`
	Fields          []string   `json:"fields" binding:"required"`
}

type JobResponse struct {
	JobID       int64    `json:"job_id"`
	Name        string   `json:"name"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	Duration    int64    `json:"duration_seconds"`
	Status      string   `json:"status"`
	Instruments []string `json:"instruments"`
	Fields      []string `json:"fields"`
}

type JobSummaryDTO struct {
	JobID           int64  `json:"job_id"`
	Name            string `json:"name"`
	StartTime       string `json:"start_time"`
	Duration        int64  `json:"duration_seconds"`
	Status          string `json:"status"`
	InstrumentCount int    `json:"instrument_count"`
	FieldCount      int    `json:"field_count"`
}

type ListJobsResponse struct {
	Jobs []JobSummaryDTO `json:"jobs"`
}
