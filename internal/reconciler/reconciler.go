// Package reconciler keeps the live feed-subscription set in sync with the
// jobs currently inside their capture window.
//
// One loop goroutine per process derives the desired subscription set from
// the job store, diffs it against the registry of live subscriptions, and
// issues minimal batched subscribe/unsubscribe calls against the feed
// session. Instrument requests are deduplicated across jobs: the feed holds
// at most one subscription per instrument no matter how many jobs ask for it.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/feedops/tick-capture/internal/feed"
	"github.com/feedops/tick-capture/internal/reconciler/domain"
)

const (
	// DefaultPollInterval is the sleep between reconcile ticks.
	DefaultPollInterval = 5 * time.Second
	// DefaultCacheUpdateInterval bounds the job cache staleness when no
	// change notification arrives.
	DefaultCacheUpdateInterval = 60 * time.Second
)

// ErrAlreadyRunning is returned by Start when the loop is already up.
// Callers racing to start the reconciler get exactly one loop; the losers
// can treat this error as "already started" rather than a failure.
var ErrAlreadyRunning = errors.New("reconciler: already running")

// Store is the job store as the reconciler consumes it.
type Store interface {
	QueryActiveJobs(ctx context.Context, now time.Time) ([]domain.Job, error)
	CheckUpdateFlag(ctx context.Context) (bool, error)
	ClearUpdateFlag(ctx context.Context) error
}

// Config holds reconciler dependencies and tuning.
type Config struct {
	Logger  *slog.Logger
	Store   Store
	Session feed.Session

	// PollInterval is the sleep between ticks; defaults to DefaultPollInterval.
	PollInterval time.Duration
	// CacheUpdateInterval is the periodic refresh bound; defaults to
	// DefaultCacheUpdateInterval.
	CacheUpdateInterval time.Duration

	// Notify, when non-nil, wakes the loop early; the tick that follows reads
	// the persisted update flag as usual. Used to feed broker notifications
	// into the loop without sharing any state with it.
	Notify <-chan struct{}

	// Now overrides the clock; nil means time.Now. Tests only.
	Now func() time.Time
}

// Reconciler owns the job cache and subscription registry and runs the
// control loop over them.
type Reconciler struct {
	logger  *slog.Logger
	store   Store
	session feed.Session

	pollInterval        time.Duration
	cacheUpdateInterval time.Duration
	notify              <-chan struct{}
	now                 func() time.Time

	// cache and registry are confined to the loop goroutine.
	cache    *jobCache
	registry *registry

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a reconciler. The instance is inert until Start is called.
func New(cfg *Config) *Reconciler {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	cacheUpdateInterval := cfg.CacheUpdateInterval
	if cacheUpdateInterval <= 0 {
		cacheUpdateInterval = DefaultCacheUpdateInterval
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Reconciler{
		logger:              cfg.Logger,
		store:               cfg.Store,
		session:             cfg.Session,
		pollInterval:        pollInterval,
		cacheUpdateInterval: cacheUpdateInterval,
		notify:              cfg.Notify,
		now:                 now,
		cache:               newJobCache(cfg.Store),
		registry:            newRegistry(),
	}
}

// Start spawns the loop goroutine. Exactly one loop runs per instance:
// concurrent and repeated calls return ErrAlreadyRunning and leave the
// running loop untouched.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}

	r.stopChan = make(chan struct{})
	r.running = true

	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Info("Reconciler started",
		slog.Duration("poll_interval", r.pollInterval),
		slog.Duration("cache_update_interval", r.cacheUpdateInterval),
	)

	return nil
}

// Stop signals the loop, waits for it to exit, and releases the feed
// session. Shutdown latency is bounded by one poll interval. Safe to call
// from any goroutine and more than once.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()

	if err := r.session.Close(); err != nil {
		r.logger.Error("Failed to close feed session",
			slog.Any("error", err),
		)
	}

	r.logger.Info("Reconciler stopped")
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		r.tick(ctx)

		select {
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		case <-r.notify:
			// writer signaled a job change; reconcile immediately
		case <-time.After(r.pollInterval):
		}
	}
}

// tick runs one reconcile pass: refresh the cache if the update flag is set
// or the periodic interval elapsed, then activate jobs that entered the
// cache and deactivate jobs that left it. Re-running with an unchanged cache
// is a no-op. A store failure aborts the pass; it resumes on the next tick.
func (r *Reconciler) tick(ctx context.Context) {
	now := r.now()

	dirty, err := r.store.CheckUpdateFlag(ctx)
	if err != nil {
		r.logger.Error("Failed to check update flag",
			slog.Any("error", err),
		)
		return
	}

	if dirty {
		if err := r.cache.refresh(ctx, now); err != nil {
			r.logger.Error("Forced cache refresh failed",
				slog.Any("error", err),
			)
			return
		}
		if err := r.store.ClearUpdateFlag(ctx); err != nil {
			// the flag stays set, so the next tick refreshes again; harmless
			r.logger.Warn("Failed to clear update flag",
				slog.Any("error", err),
			)
		}
	} else if r.cache.stale(now, r.cacheUpdateInterval) {
		if err := r.cache.refresh(ctx, now); err != nil {
			r.logger.Error("Periodic cache refresh failed",
				slog.Any("error", err),
			)
			return
		}
	}

	// Activations run before deactivations so an instrument handed from an
	// expiring job to a new one inside the same tick keeps its subscription.
	for _, jobID := range sortedJobIDs(r.cache.jobs) {
		if r.registry.hasJob(jobID) {
			continue
		}
		job := r.cache.jobs[jobID]
		if err := r.startSubscription(ctx, job); err != nil {
			r.logger.Error("Failed to activate job",
				slog.Int64("job_id", job.JobID),
				slog.String("job_name", job.Name),
				slog.Any("error", err),
			)
			// job stays out of the registry; retried next tick
		}
	}

	for _, jobID := range r.registry.jobIDs() {
		if _, active := r.cache.jobs[jobID]; active {
			continue
		}
		if err := r.stopSubscription(ctx, jobID); err != nil {
			r.logger.Error("Failed to deactivate job",
				slog.Int64("job_id", jobID),
				slog.Any("error", err),
			)
			// registry entry kept; teardown retried next tick
		}
	}
}

// startSubscription activates one job: instruments nobody owns yet are
// minted a correlation and subscribed in a single batch; instruments already
// owned by another job are only recorded for reference counting. A newly
// minted instrument is subscribed with the union of the field sets of every
// cached job that requests it.
func (r *Reconciler) startSubscription(ctx context.Context, job domain.Job) error {
	if len(job.Instruments) == 0 || len(job.Fields) == 0 {
		// nothing to subscribe; record the job so the tick stays idempotent
		r.registry.add(job.JobID, nil, nil)
		return nil
	}

	var batch []feed.Subscription
	var minted []feed.CorrelationID

	for _, instr := range job.Instruments {
		if owner, ok := r.registry.owner(instr); ok {
			if missing := owner.missingFields(job.Fields); len(missing) > 0 {
				r.logger.Warn("Instrument already subscribed with a narrower field set",
					slog.String("instrument", instr),
					slog.Int64("job_id", job.JobID),
					slog.Int64("owner_job_id", owner.correlation.JobID),
					slog.Any("missing_fields", missing),
				)
			}
			continue
		}

		corr := feed.CorrelationID{Instrument: instr, JobID: job.JobID}
		batch = append(batch, feed.Subscription{
			Topic:       instr,
			Fields:      r.cache.fieldUnion(instr),
			Correlation: corr,
		})
		minted = append(minted, corr)
	}

	r.registry.add(job.JobID, job.Instruments, batch)

	if len(batch) > 0 {
		if err := r.session.Subscribe(ctx, batch); err != nil {
			r.registry.rollback(job.JobID, minted)
			return err
		}
	}

	r.logger.Info("Job activated",
		slog.Int64("job_id", job.JobID),
		slog.String("job_name", job.Name),
		slog.Int("instruments", len(job.Instruments)),
		slog.Int("subscribed", len(batch)),
		slog.Int("live_instruments", r.registry.instrumentCount()),
	)

	return nil
}

// stopSubscription deactivates one job: instruments still referenced by
// another job keep their live subscription; the rest are unsubscribed in a
// single batch. On feed failure the registry entry is kept so the teardown
// is retried next tick.
func (r *Reconciler) stopSubscription(ctx context.Context, jobID int64) error {
	released := r.registry.releasable(jobID)

	if len(released) > 0 {
		if err := r.session.Unsubscribe(ctx, released); err != nil {
			return err
		}
	}

	r.registry.drop(jobID, released)

	r.logger.Info("Job deactivated",
		slog.Int64("job_id", jobID),
		slog.Int("unsubscribed", len(released)),
		slog.Int("live_instruments", r.registry.instrumentCount()),
	)

	return nil
}

func sortedJobIDs(jobs map[int64]domain.Job) []int64 {
	ids := make([]int64, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
