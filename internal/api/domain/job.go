package domain

import (
	"errors"
)

// Job status values are informational display state only; the reconciler
// derives activity from the time window, never from the status column.
const (
	JobStatusScheduled = "SCHEDULED"
	JobStatusCanceled  = "CANCELED"
)

var (
	ErrJobNotFound = errors.New("job not found")
)
