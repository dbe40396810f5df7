package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedops/tick-capture/internal/reconciler/domain"
)

func TestJobCacheRefreshReplacesSnapshot(t *testing.T) {
	t0 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{jobs: []domain.Job{
		{JobID: 1, StartTime: t0, Duration: 3600, Instruments: []string{"X"}},
	}}
	cache := newJobCache(store)

	require.NoError(t, cache.refresh(context.Background(), t0))
	assert.Len(t, cache.jobs, 1)
	assert.Equal(t, t0, cache.lastRefresh)

	// the old snapshot does not linger once the job drops out
	store.jobs = nil
	require.NoError(t, cache.refresh(context.Background(), t0.Add(time.Minute)))
	assert.Empty(t, cache.jobs)
}

func TestJobCacheRefreshKeepsSnapshotOnError(t *testing.T) {
	t0 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{jobs: []domain.Job{
		{JobID: 1, StartTime: t0, Duration: 3600, Instruments: []string{"X"}},
	}}
	cache := newJobCache(store)
	require.NoError(t, cache.refresh(context.Background(), t0))

	store.queryErr = errors.New("db down")
	err := cache.refresh(context.Background(), t0.Add(time.Minute))
	require.Error(t, err)
	assert.Len(t, cache.jobs, 1)
	assert.Equal(t, t0, cache.lastRefresh)
}

func TestJobCacheStale(t *testing.T) {
	t0 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	cache := newJobCache(&fakeStore{})

	// never refreshed counts as stale
	assert.True(t, cache.stale(t0, time.Minute))

	cache.lastRefresh = t0
	assert.False(t, cache.stale(t0.Add(30*time.Second), time.Minute))
	assert.False(t, cache.stale(t0.Add(time.Minute), time.Minute))
	assert.True(t, cache.stale(t0.Add(61*time.Second), time.Minute))
}

func TestJobCacheFieldUnion(t *testing.T) {
	t0 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{jobs: []domain.Job{
		{JobID: 1, StartTime: t0, Duration: 3600, Instruments: []string{"X", "Y"}, Fields: []string{"BID", "ASK"}},
		{JobID: 2, StartTime: t0, Duration: 3600, Instruments: []string{"Y"}, Fields: []string{"ASK", "VOLUME"}},
	}}
	cache := newJobCache(store)
	require.NoError(t, cache.refresh(context.Background(), t0))

	assert.Equal(t, []string{"ASK", "BID"}, cache.fieldUnion("X"))
	assert.Equal(t, []string{"ASK", "BID", "VOLUME"}, cache.fieldUnion("Y"))
	assert.Empty(t, cache.fieldUnion("Z"))
}
