package dialogue

import (
	"github.com/MrWong99/voiceintake/internal/slot"
)

// Kind classifies what the transport should do after a turn.
type Kind int

const (
	// KindRepeat asks the current slot again: no input or a rejected answer.
	KindRepeat Kind = iota + 1

	// KindNext asks a new question: the next slot, or the read-back of a
	// value that needs confirmation.
	KindNext

	// KindComplete ends the dialogue with a full record.
	KindComplete

	// KindReask repeats the yes/no confirmation question.
	KindReask

	// KindReprompt re-enters a slot with its spell-it-out prompt after the
	// caller rejected the read-back.
	KindReprompt

	// KindGiveUp ends the dialogue without a record after too many failed
	// turns.
	KindGiveUp
)

var kindNames = map[Kind]string{
	KindRepeat:   "repeat",
	KindNext:     "next",
	KindComplete: "complete",
	KindReask:    "reask",
	KindReprompt: "reprompt",
	KindGiveUp:   "give_up",
}

// String returns the snake_case name used in logs and metrics.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Outcome is the engine's answer to one turn.
type Outcome struct {
	Kind Kind

	// Prompt is the next thing to say. Zero for KindComplete and KindGiveUp.
	Prompt slot.Prompt

	// LeadIn, when set, is said before Prompt ("Das habe ich nicht
	// verstanden.").
	LeadIn slot.Prompt

	// Step and SlotKey identify the slot the caller is answering next.
	Step    int
	SlotKey string

	// Mode and MaxDigits tell the transport which input to gather.
	Mode      slot.Mode
	MaxDigits int

	// Reason is the validator's rejection reason, for logs.
	Reason string

	// Fields holds the collected values; set for KindComplete only.
	Fields map[string]string

	// Flags are the out-of-band markers raised so far.
	Flags []string

	// Caller is the caller's number as given to [Engine.Start].
	Caller string

	// Handoff is set only on the turn that ended the dialogue. A completed
	// record is handed to the sink on that turn, after which the session no
	// longer exists.
	Handoff bool
}

// Terminal reports whether the dialogue is over and the call should end.
func (o Outcome) Terminal() bool {
	return o.Kind == KindComplete || o.Kind == KindGiveUp
}
