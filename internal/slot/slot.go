// Package slot declares what a dialogue collects: an ordered, immutable list
// of slots, each with a prompt, an input mode and a validator.
//
// A [Schema] is built once at start-up (usually from the YAML form
// declaration) and shared read-only between all calls. Adding a question to a
// form is a data change: append a [Slot], nothing else.
package slot

import (
	"errors"
	"fmt"
	"strings"
)

// NotStarted is the step index of a dialogue that has not asked anything yet.
const NotStarted = -1

// ErrOutOfRange is returned by [Schema.SlotAt] for a step outside the schema.
var ErrOutOfRange = errors.New("slot: step out of range")

// Mode tells the transport which kind of caller input a slot expects.
type Mode string

const (
	// ModeSpeech collects free-form recognised speech.
	ModeSpeech Mode = "speech"

	// ModeDigits collects keypad digits (phone numbers, dates).
	ModeDigits Mode = "digits"

	// ModeChoice collects one option of a closed set, by keypad or speech.
	ModeChoice Mode = "choice"
)

// IsValid reports whether m is a recognised input mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeSpeech, ModeDigits, ModeChoice:
		return true
	}
	return false
}

// Prompt is what the caller hears. Asset, when set, references a pre-recorded
// audio file; Text is always the spoken fallback.
type Prompt struct {
	Text  string
	Asset string

	// Personal marks text that contains a caller's answer. It is spoken by
	// the telephony provider and never synthesised to a stored file.
	Personal bool
}

// IsZero reports whether the prompt carries neither text nor asset.
func (p Prompt) IsZero() bool {
	return p.Text == "" && p.Asset == ""
}

// Render substitutes {value} in the prompt text. Assets are left untouched
// because a recording cannot contain the caller's answer.
func (p Prompt) Render(value string) Prompt {
	if !strings.Contains(p.Text, "{value}") {
		return p
	}
	return Prompt{Text: strings.ReplaceAll(p.Text, "{value}", value), Personal: true}
}

// Confirmation configures the yes/no read-back of a captured value.
type Confirmation struct {
	// Question is asked after the value is captured. {value} is replaced.
	Question Prompt

	// SpellPrompt replaces the slot prompt after the caller said "no".
	SpellPrompt Prompt

	// Yes and No are the accepted answers.
	Yes []string
	No  []string

	// Flag is raised when the caller rejects the captured value.
	Flag string
}

// Exception configures the "my data was misheard" short-circuit: when the
// accepted answer matches one of Phrases, Flag is raised and the slot is left
// for manual follow-up instead of being read back.
type Exception struct {
	Phrases []string
	Flag    string
}

// Slot is one piece of information the dialogue must collect.
type Slot struct {
	Key         string
	Prompt      Prompt
	RetryPrompt Prompt
	Mode        Mode
	Validate    Validator

	// Required is always true in a built schema: the dialogue completes only
	// once every slot holds a value or was flagged for follow-up. Optional
	// slots are not supported and NewSchema sets the field.
	Required bool

	// MaxDigits bounds keypad entry for ModeDigits and ModeChoice slots.
	// Zero means the transport waits for '#' or the timeout.
	MaxDigits int

	Confirm   *Confirmation
	Exception *Exception
}

// Schema is an ordered, immutable list of slots.
type Schema struct {
	name  string
	slots []Slot
	index map[string]int
}

// NewSchema validates slots and returns a [Schema]. A schema without slots,
// with duplicate or empty keys, or with a nil validator is a programming
// error and rejected here rather than during a call. Every slot of the
// returned schema is marked Required.
func NewSchema(name string, slots ...Slot) (*Schema, error) {
	if len(slots) == 0 {
		return nil, fmt.Errorf("slot: schema %q has no slots", name)
	}
	var errs []error
	index := make(map[string]int, len(slots))
	for i, s := range slots {
		prefix := fmt.Sprintf("slot: schema %q slot[%d]", name, i)
		if s.Key == "" {
			errs = append(errs, fmt.Errorf("%s: key is required", prefix))
		} else if prev, ok := index[s.Key]; ok {
			errs = append(errs, fmt.Errorf("%s: key %q duplicates slot[%d]", prefix, s.Key, prev))
		} else {
			index[s.Key] = i
		}
		if s.Validate == nil {
			errs = append(errs, fmt.Errorf("%s: validator is required", prefix))
		}
		if s.Mode != "" && !s.Mode.IsValid() {
			errs = append(errs, fmt.Errorf("%s: mode %q is invalid", prefix, s.Mode))
		}
		if s.Prompt.IsZero() {
			errs = append(errs, fmt.Errorf("%s: prompt is required", prefix))
		}
		if s.Confirm != nil && (len(s.Confirm.Yes) == 0 || len(s.Confirm.No) == 0) {
			errs = append(errs, fmt.Errorf("%s: confirmation needs yes and no phrases", prefix))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cp := make([]Slot, len(slots))
	copy(cp, slots)
	for i := range cp {
		if cp[i].Mode == "" {
			cp[i].Mode = ModeSpeech
		}
		cp[i].Required = true
	}
	return &Schema{name: name, slots: cp, index: index}, nil
}

// Name returns the schema name, e.g. "clinic".
func (s *Schema) Name() string { return s.name }

// TotalSteps returns the number of slots.
func (s *Schema) TotalSteps() int { return len(s.slots) }

// SlotAt returns the slot asked at step.
func (s *Schema) SlotAt(step int) (Slot, error) {
	if step < 0 || step >= len(s.slots) {
		return Slot{}, fmt.Errorf("%w: %d of %d", ErrOutOfRange, step, len(s.slots))
	}
	return s.slots[step], nil
}

// Step returns the step index of the slot with the given key.
func (s *Schema) Step(key string) (int, bool) {
	i, ok := s.index[key]
	return i, ok
}

// Keys returns the slot keys in order.
func (s *Schema) Keys() []string {
	keys := make([]string, len(s.slots))
	for i, sl := range s.slots {
		keys[i] = sl.Key
	}
	return keys
}
