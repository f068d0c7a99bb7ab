// Package twilio is the telephony transport: it turns Twilio voice webhooks
// into dialogue turns and dialogue outcomes into TwiML.
//
// A call enters at POST /twilio/voice, which starts the dialogue, greets the
// caller and asks the first question inside a <Gather>. Every answer is
// posted to POST /twilio/gather and advances the dialogue by one turn.
// Twilio's status callback (POST /twilio/status) discards the session once
// the caller hangs up.
package twilio

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voiceintake/internal/dialogue"
	"github.com/MrWong99/voiceintake/internal/observe"
	"github.com/MrWong99/voiceintake/internal/prompt"
	"github.com/MrWong99/voiceintake/internal/record"
	"github.com/MrWong99/voiceintake/internal/slot"
)

// Route paths.
const (
	VoicePath  = "/twilio/voice"
	GatherPath = "/twilio/gather"
	StatusPath = "/twilio/status"
)

// Dialogue is the part of [dialogue.Engine] the transport drives.
type Dialogue interface {
	Schema() *slot.Schema
	Start(ctx context.Context, callID, caller string) (dialogue.Outcome, error)
	Advance(ctx context.Context, callID, raw string) (dialogue.Outcome, error)
	Abandon(ctx context.Context, callID string) error
}

// Resolver turns a prompt into playable audio or text.
type Resolver interface {
	Resolve(ctx context.Context, p slot.Prompt, lang string) prompt.Resolved
}

// Dispatcher receives completed records.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec record.Record) error
}

// Config holds what the transport says and how it gathers input.
type Config struct {
	// Language is the BCP-47 tag for <Say> and speech recognition.
	// Default: "de-DE".
	Language string

	// Voice is the Twilio <Say> voice, e.g. "Polly.Vicki". Empty uses the
	// account default.
	Voice string

	// GatherTimeout is how many seconds Twilio waits for input. Default: 6.
	GatherTimeout int

	// SpeechTimeout is passed to <Gather speechTimeout>. Default: "auto".
	SpeechTimeout string

	// GreetingPause is the silence in seconds between greeting and first
	// question.
	GreetingPause int

	Greeting slot.Prompt
	Closing  slot.Prompt
	Apology  slot.Prompt
	GiveUp   slot.Prompt
}

// DefaultApology is said whenever the dialogue cannot continue.
var DefaultApology = slot.Prompt{Text: "Ein Fehler ist aufgetreten. Bitte versuchen Sie es später erneut."}

func (c *Config) defaults() {
	if c.Language == "" {
		c.Language = "de-DE"
	}
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = 6
	}
	if c.SpeechTimeout == "" {
		c.SpeechTimeout = "auto"
	}
	if c.Apology.IsZero() {
		c.Apology = DefaultApology
	}
	if c.GiveUp.IsZero() {
		c.GiveUp = c.Apology
	}
}

// Option configures a [Handler].
type Option func(*Handler)

// WithDispatcher sets where completed records go. Without one, records are
// only logged.
func WithDispatcher(d Dispatcher) Option {
	return func(h *Handler) { h.dispatcher = d }
}

// WithClock overrides the completion timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler serves the Twilio webhooks.
type Handler struct {
	dlg        Dialogue
	resolver   Resolver
	dispatcher Dispatcher
	cfg        Config
	now        func() time.Time
}

// New creates a Handler.
func New(dlg Dialogue, resolver Resolver, cfg Config, opts ...Option) *Handler {
	cfg.defaults()
	h := &Handler{
		dlg:      dlg,
		resolver: resolver,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	if h.dispatcher == nil {
		h.dispatcher = logDispatcher{}
	}
	return h
}

// Register adds the webhook routes to mux, each wrapped by mw (signature
// check, metrics) when given.
func (h *Handler) Register(mux *http.ServeMux, mw ...func(http.Handler) http.Handler) {
	wrap := func(f http.HandlerFunc) http.Handler {
		var hdl http.Handler = f
		for i := len(mw) - 1; i >= 0; i-- {
			hdl = mw[i](hdl)
		}
		return hdl
	}
	mux.Handle("POST "+VoicePath, wrap(h.Voice))
	mux.Handle("POST "+GatherPath, wrap(h.Gather))
	mux.Handle("POST "+StatusPath, wrap(h.Status))
}

// Voice handles a new inbound call.
func (h *Handler) Voice(w http.ResponseWriter, r *http.Request) {
	ctx, callID, ok := h.begin(w, r)
	if !ok {
		return
	}
	caller := r.PostFormValue("From")

	out, err := h.dlg.Start(ctx, callID, caller)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	var intro []any
	if out.Kind == dialogue.KindNext && !h.cfg.Greeting.IsZero() {
		intro = append(intro, h.speak(ctx, h.cfg.Greeting))
		if h.cfg.GreetingPause > 0 {
			intro = append(intro, Pause{Length: h.cfg.GreetingPause})
		}
	}
	h.respond(ctx, w, out, intro...)
}

// Gather handles the result of a <Gather>: one dialogue turn.
func (h *Handler) Gather(w http.ResponseWriter, r *http.Request) {
	ctx, callID, ok := h.begin(w, r)
	if !ok {
		return
	}
	out, err := h.dlg.Advance(ctx, callID, callerInput(r))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.respond(ctx, w, out)
}

// terminalStatuses end a call from Twilio's side.
var terminalStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// Status handles Twilio's call status callback.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	callID := r.PostFormValue("CallSid")
	if callID == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}
	ctx := observe.WithCallID(r.Context(), callID)
	status := r.PostFormValue("CallStatus")
	if terminalStatuses[status] {
		if err := h.dlg.Abandon(ctx, callID); err != nil {
			observe.Logger(ctx).Error("twilio: discard session failed", "call_status", status, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		observe.Logger(ctx).Debug("twilio: call ended", "call_status", status,
			"duration", r.PostFormValue("CallDuration"))
	}
	w.WriteHeader(http.StatusNoContent)
}

// begin parses the form and tags the context with the call ID.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request) (context.Context, string, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return nil, "", false
	}
	callID := r.PostFormValue("CallSid")
	if callID == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return nil, "", false
	}
	return observe.WithCallID(r.Context(), callID), callID, true
}

// callerInput prefers keypad digits over recognised speech.
func callerInput(r *http.Request) string {
	if d := strings.TrimSpace(r.PostFormValue("Digits")); d != "" && d != "timeout" {
		return d
	}
	return strings.TrimSpace(r.PostFormValue("SpeechResult"))
}

// respond renders out, preceded by intro.
func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, out dialogue.Outcome, intro ...any) {
	resp := Response{Verbs: intro}

	switch out.Kind {
	case dialogue.KindComplete:
		if out.Handoff {
			h.handoff(ctx, out)
		}
		if !h.cfg.Closing.IsZero() {
			resp.Verbs = append(resp.Verbs, h.speak(ctx, h.cfg.Closing))
		}
		resp.Verbs = append(resp.Verbs, Hangup{})
	case dialogue.KindGiveUp:
		resp.Verbs = append(resp.Verbs, h.speak(ctx, h.cfg.GiveUp), Hangup{})
	default:
		resp.Verbs = append(resp.Verbs, h.gather(ctx, out))
	}

	if err := writeTwiML(w, resp); err != nil {
		observe.Logger(ctx).Error("twilio: write response", "err", err)
	}
}

// gather asks the outcome's question and waits for the answer.
func (h *Handler) gather(ctx context.Context, out dialogue.Outcome) Gather {
	g := Gather{
		Input:               inputFor(out.Mode),
		Action:              GatherPath,
		Method:              http.MethodPost,
		Timeout:             h.cfg.GatherTimeout,
		Language:            h.cfg.Language,
		ActionOnEmptyResult: true,
	}
	if out.Mode != slot.ModeSpeech {
		g.NumDigits = out.MaxDigits
	}
	if out.Mode != slot.ModeDigits {
		g.SpeechTimeout = h.cfg.SpeechTimeout
	}
	if !out.LeadIn.IsZero() {
		g.Verbs = append(g.Verbs, h.speak(ctx, out.LeadIn))
	}
	g.Verbs = append(g.Verbs, h.speak(ctx, out.Prompt))
	return g
}

func inputFor(m slot.Mode) string {
	switch m {
	case slot.ModeDigits:
		return "dtmf"
	case slot.ModeChoice:
		return "dtmf speech"
	default:
		return "speech"
	}
}

// speak renders a prompt as <Play> when audio is available and <Say>
// otherwise.
func (h *Handler) speak(ctx context.Context, p slot.Prompt) any {
	res := h.resolver.Resolve(ctx, p, h.cfg.Language)
	if res.IsAudio() {
		return Play{URL: res.AudioURL}
	}
	return Say{Language: h.cfg.Language, Voice: h.cfg.Voice, Text: res.Text}
}

// handoff passes the completed record to the dispatcher.
func (h *Handler) handoff(ctx context.Context, out dialogue.Outcome) {
	rec := record.New(observe.CallID(ctx), h.dlg.Schema().Name(), out.Fields, out.Flags, out.Caller, h.now())
	if err := h.dispatcher.Dispatch(ctx, rec); err != nil {
		observe.Logger(ctx).Error("twilio: record not dispatched", "record_id", rec.ID.String(), "err", err)
	}
}

// fail answers with the apology and hangs up.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	log := observe.Logger(ctx)
	if errors.Is(err, dialogue.ErrNoActiveSession) {
		log.Warn("twilio: turn for unknown call", "err", err)
	} else {
		log.Error("twilio: dialogue failed", "err", err)
	}
	resp := Response{Verbs: []any{h.speak(ctx, h.cfg.Apology), Hangup{}}}
	if werr := writeTwiML(w, resp); werr != nil {
		log.Error("twilio: write response", "err", werr)
	}
}

// logDispatcher saves records to the log synchronously.
type logDispatcher struct{}

func (logDispatcher) Dispatch(ctx context.Context, rec record.Record) error {
	return record.LogSink{}.Save(ctx, rec)
}
