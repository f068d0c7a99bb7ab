// Package record defines the finished intake record and the sinks it is
// handed to once a dialogue completes.
//
// Sinks are called off the turn path through a [Dispatcher]. A record is
// delivered at most once: a failed save is logged and counted, never retried
// from the caller's turn.
package record

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Record is the structured result of one completed call.
type Record struct {
	ID          uuid.UUID         `json:"id"`
	CallID      string            `json:"call_id"`
	Schema      string            `json:"schema"`
	Fields      map[string]string `json:"fields"`
	Flags       []string          `json:"flags"`
	Caller      string            `json:"caller,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// New returns a record with a fresh ID. fields and flags are copied.
func New(callID, schema string, fields map[string]string, flags []string, caller string, completedAt time.Time) Record {
	f := maps.Clone(fields)
	if f == nil {
		f = map[string]string{}
	}
	fl := slices.Clone(flags)
	if fl == nil {
		fl = []string{}
	}
	return Record{
		ID:          uuid.New(),
		CallID:      callID,
		Schema:      schema,
		Fields:      f,
		Flags:       fl,
		Caller:      caller,
		CompletedAt: completedAt.UTC(),
	}
}

// Sink persists finished records.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Save stores rec. Implementations must be safe for concurrent use.
	Save(ctx context.Context, rec Record) error
}

// Pinger is implemented by sinks that can report whether their backend is
// reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
