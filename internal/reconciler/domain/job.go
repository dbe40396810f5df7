package domain

import "time"

// Job is a capture job as the reconciler sees it: a time window plus the
// instruments and fields to keep subscribed while the window is open.
// Status is informational only; the reconciler never reads it.
type Job struct {
	JobID       int64
	Name        string
	StartTime   time.Time
	Duration    int64 // seconds
	Status      string
	Instruments []string
	Fields      []string
}

// EndTime is the instant the job's window closes.
func (j Job) EndTime() time.Time {
	return j.StartTime.Add(time.Duration(j.Duration) * time.Second)
}

// ActiveAt reports whether now falls inside the job's half-open window
// [start, start+duration).
func (j Job) ActiveAt(now time.Time) bool {
	return !now.Before(j.StartTime) && now.Before(j.EndTime())
}
