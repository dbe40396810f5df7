// Package feed defines the boundary toward the market-data vendor session.
//
// The reconciler only drives subscribe/unsubscribe batches and routes incoming
// events by correlation ID; everything else about the vendor protocol lives
// behind the Session interface.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CorrelationID ties a live subscription back to the job that caused it.
// The session layer treats it as an opaque handle; its string form travels on
// the wire.
type CorrelationID struct {
	Instrument string
	JobID      int64
}

// String renders the wire form "instrument|jobID".
func (c CorrelationID) String() string {
	return fmt.Sprintf("%s|%d", c.Instrument, c.JobID)
}

// ParseCorrelationID parses the wire form produced by String.
func ParseCorrelationID(s string) (CorrelationID, error) {
	idx := strings.LastIndex(s, "|")
	if idx <= 0 || idx == len(s)-1 {
		return CorrelationID{}, fmt.Errorf("%w: %q", ErrBadCorrelation, s)
	}

	jobID, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return CorrelationID{}, fmt.Errorf("%w: %q", ErrBadCorrelation, s)
	}

	return CorrelationID{Instrument: s[:idx], JobID: jobID}, nil
}

// Subscription is one entry of a batched subscribe request.
type Subscription struct {
	Topic       string
	Fields      []string
	Correlation CorrelationID
}

// EventType classifies incoming session traffic.
type EventType string

const (
	// EventData carries market data for a subscribed instrument.
	EventData EventType = "data"
	// EventStatus reports per-subscription state changes (up/down).
	EventStatus EventType = "status"
	// EventSession reports session-level connectivity changes.
	EventSession EventType = "session"
)

// Event is delivered for every message the session receives. Data and status
// events carry the correlation ID minted at subscribe time; session events
// carry a zero correlation.
type Event struct {
	Type        EventType
	Correlation CorrelationID
	Payload     json.RawMessage
}

// EventHandler consumes session events. It is called from the session's read
// goroutine and must not block.
type EventHandler func(Event)

// Session is the vendor feed session as seen by the reconciler.
type Session interface {
	// Subscribe issues one batched subscribe covering exactly the given
	// entries. The session holds at most one subscription per topic; callers
	// are responsible for deduplication.
	Subscribe(ctx context.Context, subs []Subscription) error

	// Unsubscribe tears down the subscriptions identified by the given
	// correlation IDs in one batch.
	Unsubscribe(ctx context.Context, corrs []CorrelationID) error

	// Close releases the session. Subsequent calls are no-ops.
	Close() error
}
