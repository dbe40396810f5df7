package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedops/tick-capture/internal/feed"
)

func sub(instrument string, jobID int64, fields ...string) feed.Subscription {
	return feed.Subscription{
		Topic:       instrument,
		Fields:      fields,
		Correlation: feed.CorrelationID{Instrument: instrument, JobID: jobID},
	}
}

func TestRegistrySingleOwnerPerInstrument(t *testing.T) {
	g := newRegistry()

	g.add(1, []string{"X", "Y"}, []feed.Subscription{
		sub("X", 1, "BID"),
		sub("Y", 1, "BID"),
	})

	// the second job references Y without minting a new owner
	g.add(2, []string{"Y", "Z"}, []feed.Subscription{
		sub("Z", 2, "BID"),
	})

	assert.Equal(t, 3, g.instrumentCount())

	owner, ok := g.owner("Y")
	require.True(t, ok)
	assert.Equal(t, int64(1), owner.correlation.JobID)
}

func TestRegistryReferenceCounting(t *testing.T) {
	g := newRegistry()
	g.add(1, []string{"X", "Y"}, []feed.Subscription{
		sub("X", 1, "BID"),
		sub("Y", 1, "BID"),
	})
	g.add(2, []string{"Y", "Z"}, []feed.Subscription{
		sub("Z", 2, "BID"),
	})

	// job 1 leaves: X has no other reference, Y is still held by job 2
	rel := g.releasable(1)
	require.Len(t, rel, 1)
	assert.Equal(t, "X", rel[0].Instrument)

	g.drop(1, rel)
	assert.False(t, g.hasJob(1))
	assert.Equal(t, 2, g.instrumentCount())

	// Y's owner still carries job 1's correlation even though job 1 is gone
	owner, ok := g.owner("Y")
	require.True(t, ok)
	assert.Equal(t, feed.CorrelationID{Instrument: "Y", JobID: 1}, owner.correlation)

	// job 2 leaves: both remaining instruments are released
	rel = g.releasable(2)
	require.Len(t, rel, 2)
	assert.Equal(t, "Y", rel[0].Instrument)
	assert.Equal(t, "Z", rel[1].Instrument)
	assert.Equal(t, int64(1), rel[0].JobID)
	assert.Equal(t, int64(2), rel[1].JobID)

	g.drop(2, rel)
	assert.Zero(t, g.instrumentCount())
	assert.Empty(t, g.jobIDs())
}

func TestRegistryRollback(t *testing.T) {
	g := newRegistry()
	g.add(1, []string{"X"}, []feed.Subscription{sub("X", 1, "BID")})

	batch := []feed.Subscription{sub("Z", 2, "BID")}
	g.add(2, []string{"X", "Z"}, batch)

	minted := []feed.CorrelationID{batch[0].Correlation}
	g.rollback(2, minted)

	assert.False(t, g.hasJob(2))
	assert.True(t, g.hasJob(1))

	// job 1's ownership of X survives the rollback
	_, ok := g.owner("X")
	assert.True(t, ok)
	_, ok = g.owner("Z")
	assert.False(t, ok)
}

func TestRegistryJobIDsSorted(t *testing.T) {
	g := newRegistry()
	g.add(7, nil, nil)
	g.add(2, nil, nil)
	g.add(5, nil, nil)

	assert.Equal(t, []int64{2, 5, 7}, g.jobIDs())
}

func TestOwnershipMissingFields(t *testing.T) {
	o := &ownership{
		correlation: feed.CorrelationID{Instrument: "X", JobID: 1},
		fields:      map[string]struct{}{"BID": {}, "ASK": {}},
	}

	assert.Empty(t, o.missingFields([]string{"BID", "ASK"}))
	assert.Equal(t, []string{"LAST_PRICE", "VOLUME"}, o.missingFields([]string{"VOLUME", "BID", "LAST_PRICE"}))
}
