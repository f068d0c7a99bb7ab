// Package dialogue implements the per-call slot-filling state machine.
//
// An [Engine] walks the slots of a [slot.Schema] in order. Each inbound turn
// is one call to [Engine.Advance]; the engine validates the raw input against
// the current slot, stores the normalised value, and tells the transport what
// to say next. A slot may carry a yes/no read-back ([slot.Confirmation]) and a
// "my data was misheard" trigger ([slot.Exception]).
//
// The engine owns no state of its own. Dialogue state lives in a
// [callstore.Store] and every turn is applied through [callstore.Store.Update],
// so turns of one call never race while different calls proceed in parallel.
// The engine does no I/O beyond the store: prompts, synthesis and record
// persistence belong to the caller.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/voiceintake/internal/callstore"
	"github.com/MrWong99/voiceintake/internal/observe"
	"github.com/MrWong99/voiceintake/internal/phonetic"
	"github.com/MrWong99/voiceintake/internal/slot"
)

// State is the stored dialogue state of one call.
type State = callstore.State

var (
	// ErrNoActiveSession is returned when a turn arrives for a call that was
	// never started or has already been discarded.
	ErrNoActiveSession = errors.New("dialogue: no active session")

	// ErrNotConfirming is returned by [Engine.Confirm] when the call is not
	// waiting for a yes/no answer.
	ErrNotConfirming = errors.New("dialogue: call is not awaiting confirmation")
)

// Option configures an [Engine].
type Option func(*Engine)

// WithMaxRetries ends the dialogue with [KindGiveUp] once a slot has failed
// more than n consecutive turns. Zero (the default) retries forever.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithRetryLeadIn sets what is said before repeating a question whose answer
// was not understood.
func WithRetryLeadIn(p slot.Prompt) Option {
	return func(e *Engine) { e.retryLeadIn = p }
}

// WithMatcher sets the phonetic matcher used to classify yes/no answers.
// Pass nil to require whole-word matches only.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithMetrics records turn and dialogue metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine drives dialogues for one schema. It is safe for concurrent use.
type Engine struct {
	schema      *slot.Schema
	store       callstore.Store
	matcher     *phonetic.Matcher
	maxRetries  int
	retryLeadIn slot.Prompt
	metrics     *observe.Metrics
}

// New returns an [Engine] for schema backed by store.
func New(schema *slot.Schema, store callstore.Store, opts ...Option) *Engine {
	e := &Engine{
		schema:  schema,
		store:   store,
		matcher: phonetic.New(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Schema returns the schema the engine walks.
func (e *Engine) Schema() *slot.Schema { return e.schema }

// Start begins the dialogue for callID and returns the first question. When
// the call already has a session (a duplicated "new call" webhook) its
// current question is returned as [KindRepeat] and nothing is reset.
func (e *Engine) Start(ctx context.Context, callID, caller string) (Outcome, error) {
	st, created, err := e.store.GetOrCreate(ctx, callID, func(st *State) {
		st.Status = callstore.StatusInProgress
		st.Step = 0
		st.Caller = caller
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("dialogue: start %s: %w", callID, err)
	}

	log := observe.Logger(ctx)
	if !created {
		log.Debug("dialogue: duplicate start", "step", st.Step, "status", st.Status)
		out, err := e.current(st)
		if err == nil && out.Kind == KindNext {
			out.Kind = KindRepeat
		}
		return out, err
	}

	if e.metrics != nil {
		e.metrics.ActiveCalls.Add(ctx, 1)
	}
	log.Info("dialogue: started", "schema", e.schema.Name(), "steps", e.schema.TotalSteps())
	out, err := e.current(st)
	if err == nil {
		e.recordTurn(ctx, out)
	}
	return out, err
}

// Advance applies one caller turn. raw is the recognised speech or the keypad
// digits; empty means the caller said nothing before the gather timed out.
//
// While the call waits for a yes/no answer the turn is handled as by
// [Engine.Confirm]. The turn that ends the dialogue (complete or given up)
// carries Handoff and deletes the session; later turns for the call get
// [ErrNoActiveSession].
func (e *Engine) Advance(ctx context.Context, callID, raw string) (Outcome, error) {
	return e.apply(ctx, callID, func(st *State) (Outcome, error) {
		return e.transition(st, raw)
	})
}

// Confirm applies the caller's answer to a read-back question.
func (e *Engine) Confirm(ctx context.Context, callID, raw string) (Outcome, error) {
	return e.apply(ctx, callID, func(st *State) (Outcome, error) {
		if st.Status != callstore.StatusAwaitingConfirmation {
			return Outcome{}, ErrNotConfirming
		}
		return e.confirm(st, raw)
	})
}

// Abandon discards the session of callID after the caller hung up. Any
// partial record is dropped. Abandoning an unknown call is not an error.
func (e *Engine) Abandon(ctx context.Context, callID string) error {
	st, err := e.store.Get(ctx, callID)
	if errors.Is(err, callstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dialogue: abandon %s: %w", callID, err)
	}
	removed, err := e.store.Delete(ctx, callID)
	if err != nil {
		return fmt.Errorf("dialogue: abandon %s: %w", callID, err)
	}
	if !removed {
		// The final turn or the sweeper got there first.
		return nil
	}

	if e.metrics != nil {
		e.metrics.ActiveCalls.Add(ctx, -1)
		if !st.Status.Terminal() {
			e.metrics.RecordDialogue(ctx, e.schema.Name(), "abandoned")
		}
	}
	if !st.Status.Terminal() {
		observe.Logger(ctx).Info("dialogue: abandoned", "step", st.Step, "collected", len(st.Collected))
	}
	return nil
}

// RecordExpired accounts for n sessions reclaimed by the idle sweep.
func (e *Engine) RecordExpired(ctx context.Context, n int) {
	if e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.ActiveCalls.Add(ctx, int64(-n))
	for range n {
		e.metrics.RecordDialogue(ctx, e.schema.Name(), "expired")
	}
}

// apply runs step inside one atomic store update.
func (e *Engine) apply(ctx context.Context, callID string, step func(*State) (Outcome, error)) (Outcome, error) {
	var out Outcome
	_, err := e.store.Update(ctx, callID, func(st *State) error {
		var err error
		out, err = step(st)
		return err
	})
	switch {
	case errors.Is(err, callstore.ErrNotFound):
		return Outcome{}, ErrNoActiveSession
	case errors.Is(err, ErrNotConfirming):
		return Outcome{}, err
	case err != nil:
		return Outcome{}, fmt.Errorf("dialogue: turn %s: %w", callID, err)
	}

	e.recordTurn(ctx, out)
	log := observe.Logger(ctx)
	switch out.Kind {
	case KindComplete:
		if out.Handoff {
			log.Info("dialogue: complete", "fields", len(out.Fields), "flags", out.Flags)
			if e.metrics != nil {
				e.metrics.RecordDialogue(ctx, e.schema.Name(), "complete")
			}
		}
	case KindGiveUp:
		if out.Handoff {
			log.Warn("dialogue: giving up after repeated failures", "slot", out.SlotKey)
			if e.metrics != nil {
				e.metrics.RecordDialogue(ctx, e.schema.Name(), "gave_up")
			}
		}
	case KindRepeat, KindReask:
		log.Debug("dialogue: retry", "slot", out.SlotKey, "reason", out.Reason)
	default:
		log.Debug("dialogue: turn", "kind", out.Kind, "slot", out.SlotKey, "step", out.Step)
	}
	if out.Handoff && out.Terminal() {
		e.discard(ctx, callID)
	}
	return out, nil
}

// discard deletes the session of a call whose dialogue just ended. A session
// that cannot be deleted is left to idle expiry.
func (e *Engine) discard(ctx context.Context, callID string) {
	removed, err := e.store.Delete(ctx, callID)
	if err != nil {
		observe.Logger(ctx).Warn("dialogue: discard finished session", "err", err)
		return
	}
	if removed && e.metrics != nil {
		e.metrics.ActiveCalls.Add(ctx, -1)
	}
}

func (e *Engine) recordTurn(ctx context.Context, out Outcome) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordTurn(ctx, out.SlotKey, out.Kind.String())
	if out.Kind == KindRepeat && out.Reason != "" {
		e.metrics.RecordRejection(ctx, out.SlotKey)
	}
}

// transition is the single generic transition step for all slots.
func (e *Engine) transition(st *State, raw string) (Outcome, error) {
	switch st.Status {
	case callstore.StatusComplete:
		return e.completed(st, false), nil
	case callstore.StatusAbandoned:
		return e.gaveUp(st, false), nil
	case callstore.StatusAwaitingConfirmation:
		return e.confirm(st, raw)
	case callstore.StatusNotStarted:
		st.Status = callstore.StatusInProgress
		st.Step = 0
	}

	sl, err := e.schema.SlotAt(st.Step)
	if err != nil {
		return Outcome{}, err
	}

	in := strings.TrimSpace(raw)
	if in == "" {
		return e.retry(st, sl, e.ask(st, sl), slot.Prompt{}, "", KindRepeat), nil
	}

	res := sl.Validate(in)
	if !res.OK() {
		return e.retry(st, sl, e.reask(st, sl), e.retryLeadIn, res.Reason, KindRepeat), nil
	}

	if sl.Exception != nil && sl.Exception.Matches(res.Value) {
		// The answer says the data is wrong; leave the slot for manual
		// follow-up and skip its read-back.
		st.AddFlag(sl.Exception.Flag)
		return e.next(st), nil
	}

	st.Collected[sl.Key] = res.Value
	if sl.Confirm != nil && !st.Spelling {
		st.Status = callstore.StatusAwaitingConfirmation
		st.Retries = 0
		return e.readBack(st, sl), nil
	}
	return e.next(st), nil
}

// confirm handles the yes/no answer to a read-back.
func (e *Engine) confirm(st *State, raw string) (Outcome, error) {
	sl, err := e.schema.SlotAt(st.Step)
	if err != nil {
		return Outcome{}, err
	}
	if sl.Confirm == nil {
		// Schema changed under a live call; treat the value as confirmed.
		st.Status = callstore.StatusInProgress
		return e.next(st), nil
	}

	switch sl.Confirm.Classify(e.matcher, raw) {
	case slot.AnswerYes:
		st.Status = callstore.StatusInProgress
		return e.next(st), nil

	case slot.AnswerNo:
		delete(st.Collected, sl.Key)
		st.AddFlag(sl.Confirm.Flag)
		st.Status = callstore.StatusInProgress
		st.Spelling = true
		st.Retries = 0
		return e.prompt(st, sl, KindReprompt), nil
	}

	var leadIn slot.Prompt
	if strings.TrimSpace(raw) != "" {
		leadIn = e.retryLeadIn
	}
	return e.retry(st, sl, e.question(st, sl), leadIn, "", KindReask), nil
}

// next moves past the current slot.
func (e *Engine) next(st *State) Outcome {
	st.Step++
	st.Retries = 0
	st.Spelling = false
	if st.Step >= e.schema.TotalSteps() {
		st.Status = callstore.StatusComplete
		return e.completed(st, true)
	}
	sl, _ := e.schema.SlotAt(st.Step)
	return e.prompt(st, sl, KindNext)
}

// retry counts a failed turn and repeats p, or gives up past the cap.
func (e *Engine) retry(st *State, sl slot.Slot, p, leadIn slot.Prompt, reason string, kind Kind) Outcome {
	st.Retries++
	if e.maxRetries > 0 && st.Retries > e.maxRetries {
		st.Status = callstore.StatusAbandoned
		out := e.gaveUp(st, true)
		out.SlotKey = sl.Key
		return out
	}
	out := Outcome{
		Kind:      kind,
		Prompt:    p,
		LeadIn:    leadIn,
		Step:      st.Step,
		SlotKey:   sl.Key,
		Mode:      sl.Mode,
		MaxDigits: sl.MaxDigits,
		Reason:    reason,
		Flags:     slices.Clone(st.Flags),
		Caller:    st.Caller,
	}
	if kind == KindReask {
		out.Mode = slot.ModeSpeech
		out.MaxDigits = 0
	}
	return out
}

// current describes the question the call is waiting on without changing
// anything.
func (e *Engine) current(st *State) (Outcome, error) {
	switch st.Status {
	case callstore.StatusComplete:
		return e.completed(st, false), nil
	case callstore.StatusAbandoned:
		return e.gaveUp(st, false), nil
	}
	sl, err := e.schema.SlotAt(st.Step)
	if err != nil {
		return Outcome{}, err
	}
	if st.Status == callstore.StatusAwaitingConfirmation {
		return e.readBack(st, sl), nil
	}
	return e.prompt(st, sl, KindNext), nil
}

func (e *Engine) prompt(st *State, sl slot.Slot, kind Kind) Outcome {
	return Outcome{
		Kind:      kind,
		Prompt:    e.ask(st, sl),
		Step:      st.Step,
		SlotKey:   sl.Key,
		Mode:      sl.Mode,
		MaxDigits: sl.MaxDigits,
		Flags:     slices.Clone(st.Flags),
		Caller:    st.Caller,
	}
}

func (e *Engine) readBack(st *State, sl slot.Slot) Outcome {
	return Outcome{
		Kind:    KindNext,
		Prompt:  e.question(st, sl),
		Step:    st.Step,
		SlotKey: sl.Key,
		Mode:    slot.ModeSpeech,
		Flags:   slices.Clone(st.Flags),
		Caller:  st.Caller,
	}
}

// ask returns the slot question, using the spell-it-out variant after a
// rejected read-back.
func (e *Engine) ask(st *State, sl slot.Slot) slot.Prompt {
	if st.Spelling && sl.Confirm != nil && !sl.Confirm.SpellPrompt.IsZero() {
		return sl.Confirm.SpellPrompt
	}
	return sl.Prompt
}

// reask returns what is asked after a rejected answer: the slot's retry
// prompt when it has one, otherwise the question itself.
func (e *Engine) reask(st *State, sl slot.Slot) slot.Prompt {
	if !st.Spelling && !sl.RetryPrompt.IsZero() {
		return sl.RetryPrompt
	}
	return e.ask(st, sl)
}

func (e *Engine) question(st *State, sl slot.Slot) slot.Prompt {
	return sl.Confirm.Question.Render(st.Collected[sl.Key])
}

func (e *Engine) completed(st *State, handoff bool) Outcome {
	return Outcome{
		Kind:    KindComplete,
		Step:    st.Step,
		Fields:  maps.Clone(st.Collected),
		Flags:   slices.Clone(st.Flags),
		Caller:  st.Caller,
		Handoff: handoff,
	}
}

func (e *Engine) gaveUp(st *State, handoff bool) Outcome {
	return Outcome{
		Kind:    KindGiveUp,
		Step:    st.Step,
		Flags:   slices.Clone(st.Flags),
		Caller:  st.Caller,
		Handoff: handoff,
	}
}
