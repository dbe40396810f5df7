package reconciler

import (
	"sort"

	"github.com/feedops/tick-capture/internal/feed"
)

// ownership is the live feed subscription for one instrument. Correlation
// keeps the job ID it was minted under even after that job expires, as long
// as another job still references the instrument.
type ownership struct {
	correlation feed.CorrelationID
	fields      map[string]struct{}
}

// missingFields returns the requested fields the live subscription does not
// carry, sorted.
func (o *ownership) missingFields(want []string) []string {
	var missing []string
	for _, f := range want {
		if _, ok := o.fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	sort.Strings(missing)
	return missing
}

// registry tracks which jobs reference which instruments and which
// correlation owns each live subscription. It is confined to the reconciler
// loop goroutine; no locking.
//
// Invariant: an instrument has an entry in instrumentOwners iff at least one
// job's entry in jobInstruments contains it.
type registry struct {
	jobInstruments   map[int64]map[string]struct{}
	instrumentOwners map[string]*ownership
}

func newRegistry() *registry {
	return &registry{
		jobInstruments:   make(map[int64]map[string]struct{}),
		instrumentOwners: make(map[string]*ownership),
	}
}

func (g *registry) hasJob(jobID int64) bool {
	_, ok := g.jobInstruments[jobID]
	return ok
}

func (g *registry) jobIDs() []int64 {
	ids := make([]int64, 0, len(g.jobInstruments))
	for id := range g.jobInstruments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (g *registry) owner(instrument string) (*ownership, bool) {
	o, ok := g.instrumentOwners[instrument]
	return o, ok
}

// add records the job's instrument set and mints ownership for every entry of
// the subscribe batch. Instruments already owned by another job are recorded
// for the job without touching their owner.
func (g *registry) add(jobID int64, instruments []string, batch []feed.Subscription) {
	set := make(map[string]struct{}, len(instruments))
	for _, instr := range instruments {
		set[instr] = struct{}{}
	}
	g.jobInstruments[jobID] = set

	for _, sub := range batch {
		fields := make(map[string]struct{}, len(sub.Fields))
		for _, f := range sub.Fields {
			fields[f] = struct{}{}
		}
		g.instrumentOwners[sub.Topic] = &ownership{
			correlation: sub.Correlation,
			fields:      fields,
		}
	}
}

// rollback undoes a failed activation: the job's entry and every ownership
// minted for it are removed so the next tick retries from scratch.
func (g *registry) rollback(jobID int64, minted []feed.CorrelationID) {
	delete(g.jobInstruments, jobID)
	for _, corr := range minted {
		delete(g.instrumentOwners, corr.Instrument)
	}
}

// releasable returns the correlation IDs of the job's instruments that no
// other job references, i.e. the ones whose live subscription must be torn
// down when this job deactivates.
func (g *registry) releasable(jobID int64) []feed.CorrelationID {
	var out []feed.CorrelationID
	for instr := range g.jobInstruments[jobID] {
		if g.referenced(instr, jobID) {
			continue
		}
		if o, ok := g.instrumentOwners[instr]; ok {
			out = append(out, o.correlation)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// referenced reports whether any job other than exclude references instr.
func (g *registry) referenced(instr string, exclude int64) bool {
	for jobID, set := range g.jobInstruments {
		if jobID == exclude {
			continue
		}
		if _, ok := set[instr]; ok {
			return true
		}
	}
	return false
}

// drop removes the job and the ownerships released on its behalf.
func (g *registry) drop(jobID int64, released []feed.CorrelationID) {
	for _, corr := range released {
		delete(g.instrumentOwners, corr.Instrument)
	}
	delete(g.jobInstruments, jobID)
}

func (g *registry) instrumentCount() int {
	return len(g.instrumentOwners)
}
