// Package callstore keeps the dialogue state of every live call, keyed by the
// telephony call identifier.
//
// A [Store] is the single source of truth while a call is in progress. Each
// call's state is mutated only through [Store.Update], which is atomic per
// call: two updates for the same call never interleave, while different calls
// never contend on a shared lock for the duration of an update.
//
// Calls that stop sending turns (the caller hung up without a status
// callback) are reclaimed once they have been idle longer than the store's
// idle timeout, either lazily on lookup or by [Sweeper].
package callstore

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when no live state exists for a call.
var ErrNotFound = errors.New("callstore: call not found")

// Status is the lifecycle position of a dialogue.
type Status string

const (
	StatusNotStarted           Status = "not_started"
	StatusInProgress           Status = "in_progress"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusComplete             Status = "complete"
	StatusAbandoned            Status = "abandoned"
)

// Terminal reports whether no further turn can change the dialogue.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusAbandoned
}

// State is the dialogue state of one call.
type State struct {
	CallID string `json:"call_id"`

	// Step indexes the slot currently being asked, or slot.NotStarted.
	Step int `json:"step"`

	// Collected maps slot keys to validator-accepted values.
	Collected map[string]string `json:"collected"`

	// Flags are out-of-band markers raised during the dialogue.
	Flags []string `json:"flags,omitempty"`

	Status Status `json:"status"`

	// Spelling is set while the current slot is re-asked with its
	// spell-it-out prompt after a rejected confirmation.
	Spelling bool `json:"spelling,omitempty"`

	// Retries counts consecutive rejected or empty turns on the current step.
	Retries int `json:"retries,omitempty"`

	// Caller is the caller's number as reported by the transport.
	Caller string `json:"caller,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasFlag reports whether flag has been raised.
func (s *State) HasFlag(flag string) bool {
	return slices.Contains(s.Flags, flag)
}

// AddFlag raises flag once.
func (s *State) AddFlag(flag string) {
	if flag == "" || s.HasFlag(flag) {
		return
	}
	s.Flags = append(s.Flags, flag)
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Collected = make(map[string]string, len(s.Collected))
	for k, v := range s.Collected {
		c.Collected[k] = v
	}
	c.Flags = slices.Clone(s.Flags)
	return &c
}

// Store is the session store contract. Returned states are copies; the only
// way to change stored state is [Store.Update].
type Store interface {
	// GetOrCreate returns the state for callID, creating it with init when
	// absent. created reports whether init ran.
	GetOrCreate(ctx context.Context, callID string, init func(*State)) (st *State, created bool, err error)

	// Get returns the state for callID or [ErrNotFound].
	Get(ctx context.Context, callID string) (*State, error)

	// Update applies fn to the state of callID atomically. When fn returns an
	// error nothing is written and the error is returned unchanged.
	Update(ctx context.Context, callID string, fn func(*State) error) (*State, error)

	// Delete discards the state of callID and reports whether live state
	// was removed. Deleting an absent call is not an error.
	Delete(ctx context.Context, callID string) (removed bool, err error)

	// Sweep discards every state idle for longer than the idle timeout and
	// returns how many idle calls were reclaimed since the previous sweep,
	// including those already dropped on lookup. Each reclaimed call is
	// reported by exactly one Sweep and never also by Delete.
	Sweep(ctx context.Context) (int, error)

	// Len returns the number of live calls.
	Len(ctx context.Context) (int, error)
}
