package reconciler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/feedops/tick-capture/internal/reconciler/domain"
)

// jobCache is the point-in-time snapshot of jobs whose window contains the
// last refresh instant. It is read and written only by the reconciler loop
// goroutine and replaced wholesale on every refresh.
type jobCache struct {
	store       Store
	jobs        map[int64]domain.Job
	lastRefresh time.Time
}

func newJobCache(store Store) *jobCache {
	return &jobCache{
		store: store,
		jobs:  make(map[int64]domain.Job),
	}
}

// refresh replaces the snapshot with the store's active-job query result at
// now and records the refresh timestamp. On error the previous snapshot is
// kept untouched.
func (c *jobCache) refresh(ctx context.Context, now time.Time) error {
	jobs, err := c.store.QueryActiveJobs(ctx, now)
	if err != nil {
		return fmt.Errorf("cache refresh failed: %w", err)
	}

	next := make(map[int64]domain.Job, len(jobs))
	for _, job := range jobs {
		next[job.JobID] = job
	}

	c.jobs = next
	c.lastRefresh = now

	return nil
}

// stale reports whether the snapshot is older than the given interval at now.
func (c *jobCache) stale(now time.Time, interval time.Duration) bool {
	return now.Sub(c.lastRefresh) > interval
}

// fieldUnion returns the union of the field sets of every cached job that
// requests the instrument, sorted for deterministic subscribe batches.
func (c *jobCache) fieldUnion(instrument string) []string {
	seen := make(map[string]struct{})
	for _, job := range c.jobs {
		if !contains(job.Instruments, instrument) {
			continue
		}
		for _, f := range job.Fields {
			seen[f] = struct{}{}
		}
	}

	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	return fields
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
