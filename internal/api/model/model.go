package model

import "time"

// Job is a capture job row plus its instrument and field sets.
type Job struct {
	JobID       int64     `db:"job_id"`
	Name        string    `db:"job_name"`
	StartTime   time.Time `db:"job_startdatetime"`
	Duration    int64     `db:"duration"` // seconds
	Status      string    `db:"job_status"`
	Instruments []string  `db:"-"`
	Fields      []string  `db:"-"`
}

// EndTime is the instant the job's capture window closes.
func (j Job) EndTime() time.Time {
	return j.StartTime.Add(time.Duration(j.Duration) * time.Second)
}

// JobSummary is the tabular row returned by the recent-jobs listing.
type JobSummary struct {
	JobID           int64     `db:"job_id"`
	Name            string    `db:"job_name"`
	StartTime       time.Time `db:"job_startdatetime"`
	Duration        int64     `db:"duration"`
	Status          string    `db:"job_status"`
	InstrumentCount int       `db:"instrument_count"`
	FieldCount      int       `db:"field_count"`
}
