// Package prompt turns a [slot.Prompt] into something the telephony provider
// can play: the URL of a pre-recorded asset, the URL of a synthesised audio
// file, or the literal text for the provider's own speech engine.
//
// Resolution never fails. Synthesis errors, timeouts and an open circuit
// breaker all degrade to the literal text.
package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/voiceintake/internal/observe"
	"github.com/MrWong99/voiceintake/internal/resilience"
	"github.com/MrWong99/voiceintake/internal/slot"
	"github.com/MrWong99/voiceintake/pkg/provider/tts"
)

const (
	// DefaultTimeout bounds a single synthesis. Twilio waits about 15 s for a
	// webhook answer, so the fallback must kick in well before that.
	DefaultTimeout = 4 * time.Second

	// AudioPath is the URL path under which synthesised files are served.
	AudioPath = "/audio/"

	audioExt = ".mp3"
)

// Resolved is the playable form of a prompt. Exactly one of AudioURL and Text
// is set, unless the prompt itself was empty.
type Resolved struct {
	AudioURL string
	Text     string
	Language string
}

// IsAudio reports whether the prompt resolved to an audio URL.
func (r Resolved) IsAudio() bool { return r.AudioURL != "" }

// Option configures a [Resolver].
type Option func(*Resolver)

// WithTTS enables synthesis of literal prompts with p using voice.
func WithTTS(p tts.Provider, name string, voice tts.Voice) Option {
	return func(r *Resolver) {
		r.tts = p
		r.ttsName = name
		r.voice = voice
	}
}

// WithAudioDir sets the directory synthesised files are written to.
func WithAudioDir(dir string) Option {
	return func(r *Resolver) { r.audioDir = dir }
}

// WithAssetBase sets the URL prefix for pre-recorded assets. Relative values
// are resolved against the public base URL.
func WithAssetBase(base string) Option {
	return func(r *Resolver) { r.assetBase = base }
}

// WithTimeout bounds a single synthesis.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBreaker replaces the default circuit breaker configuration.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Resolver) { r.breakerCfg = cfg }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// Resolver maps prompts to playable audio. It is safe for concurrent use.
type Resolver struct {
	baseURL    string
	assetBase  string
	audioDir   string
	tts        tts.Provider
	ttsName    string
	voice      tts.Voice
	timeout    time.Duration
	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics

	flight singleflight.Group
	mu     sync.RWMutex
	ready  map[string]bool // file names known to exist in audioDir
}

// New creates a Resolver. baseURL is the externally reachable origin of this
// service (e.g. "https://intake.example.com"); the telephony provider fetches
// audio from there.
func New(baseURL string, opts ...Option) (*Resolver, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("prompt: base URL %q must be absolute", baseURL)
	}
	r := &Resolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    DefaultTimeout,
		breakerCfg: resilience.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: 30 * time.Second, HalfOpenMax: 1},
		ready:      make(map[string]bool),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.ttsName == "" {
		r.ttsName = "tts"
	}
	if r.assetBase == "" {
		r.assetBase = r.baseURL + "/assets/"
	} else if !strings.Contains(r.assetBase, "://") {
		r.assetBase = r.baseURL + "/" + strings.Trim(r.assetBase, "/") + "/"
	} else if !strings.HasSuffix(r.assetBase, "/") {
		r.assetBase += "/"
	}
	if r.tts != nil {
		if r.audioDir == "" {
			return nil, errors.New("prompt: audio directory is required when TTS is enabled")
		}
		if err := os.MkdirAll(r.audioDir, 0o755); err != nil {
			return nil, fmt.Errorf("prompt: create audio dir: %w", err)
		}
		r.breakerCfg.Name = r.ttsName
		r.breaker = resilience.NewCircuitBreaker(r.breakerCfg)
	}
	return r, nil
}

// Resolve returns the playable form of p in language lang. Personal prompts
// always resolve to text so caller data never lands in the audio directory.
func (r *Resolver) Resolve(ctx context.Context, p slot.Prompt, lang string) Resolved {
	if p.Asset != "" {
		return Resolved{AudioURL: r.assetURL(p.Asset), Language: lang}
	}
	text := strings.TrimSpace(p.Text)
	if text == "" || r.tts == nil || p.Personal {
		return Resolved{Text: text, Language: lang}
	}

	name := r.fileName(text, lang)
	if !r.isReady(name) {
		_, err, _ := r.flight.Do(name, func() (any, error) {
			if r.isReady(name) {
				return nil, nil
			}
			return nil, r.render(ctx, name, text, lang)
		})
		if err != nil {
			observe.Logger(ctx).Warn("prompt synthesis failed, falling back to text",
				"provider", r.ttsName, "file", name, "err", err)
			return Resolved{Text: text, Language: lang}
		}
	}
	return Resolved{AudioURL: r.baseURL + AudioPath + name, Language: lang}
}

// Prewarm synthesises prompts ahead of the first call so callers never wait
// on the synthesis backend for static text. It returns how many prompts now
// have audio.
func (r *Resolver) Prewarm(ctx context.Context, prompts []slot.Prompt, lang string) int {
	if r.tts == nil {
		return 0
	}
	var (
		mu sync.Mutex
		n  int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range prompts {
		if p.Asset != "" || p.Personal || strings.TrimSpace(p.Text) == "" || strings.Contains(p.Text, "{value}") {
			continue
		}
		g.Go(func() error {
			if r.Resolve(ctx, p, lang).IsAudio() {
				mu.Lock()
				n++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	slog.Info("prompts prewarmed", "count", n, "language", lang)
	return n
}

// AudioHandler serves the synthesised files. Mount it at [AudioPath].
func (r *Resolver) AudioHandler() http.Handler {
	if r.audioDir == "" {
		return http.NotFoundHandler()
	}
	return http.StripPrefix(AudioPath, http.FileServer(http.Dir(r.audioDir)))
}

// Ready reports whether the synthesis backend currently accepts calls.
func (r *Resolver) Ready() bool {
	return r.breaker == nil || r.breaker.State() != resilience.StateOpen
}

func (r *Resolver) assetURL(asset string) string {
	if strings.Contains(asset, "://") {
		return asset
	}
	parts := strings.Split(strings.TrimLeft(asset, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return r.assetBase + strings.Join(parts, "/")
}

// fileName derives a stable file name from everything that changes the audio.
func (r *Resolver) fileName(text, lang string) string {
	sum := sha256.Sum256([]byte(r.voice.ID + "\x00" + lang + "\x00" + text))
	return hex.EncodeToString(sum[:16]) + audioExt
}

func (r *Resolver) isReady(name string) bool {
	r.mu.RLock()
	ok := r.ready[name]
	r.mu.RUnlock()
	if ok {
		return true
	}
	if fi, err := os.Stat(filepath.Join(r.audioDir, name)); err == nil && fi.Size() > 0 {
		r.markReady(name)
		return true
	}
	return false
}

func (r *Resolver) markReady(name string) {
	r.mu.Lock()
	r.ready[name] = true
	r.mu.Unlock()
}

// render synthesises text and writes it to audioDir/name.
func (r *Resolver) render(ctx context.Context, name, text, lang string) error {
	ctx, span := observe.StartSpan(ctx, "prompt.synthesize")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	voice := r.voice
	if voice.Language == "" {
		voice.Language = lang
	}

	start := time.Now()
	var audio []byte
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		audio, err = tts.Synthesize(ctx, r.tts, text, voice)
		return err
	})
	r.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		status := "error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			status = "circuit_open"
		} else {
			r.metrics.RecordProviderError(ctx, r.ttsName, "tts")
		}
		r.metrics.RecordProviderRequest(ctx, r.ttsName, "tts", status)
		return fmt.Errorf("prompt: synthesize: %w", err)
	}
	r.metrics.RecordProviderRequest(ctx, r.ttsName, "tts", "ok")

	if err := writeAtomic(filepath.Join(r.audioDir, name), audio); err != nil {
		return fmt.Errorf("prompt: store audio: %w", err)
	}
	r.markReady(name)
	return nil
}

// writeAtomic writes data to a temp file in the target directory and renames
// it into place so the file server never serves a partial file.
func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".render-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
