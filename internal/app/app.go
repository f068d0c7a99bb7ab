// Package app wires the voiceintake subsystems into a running service.
//
// The App owns the full lifecycle: New creates and connects all subsystems,
// Run serves the webhooks until the context is cancelled, and Shutdown
// flushes pending records and releases backends in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics, WithListener). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voiceintake/internal/callstore"
	"github.com/MrWong99/voiceintake/internal/config"
	"github.com/MrWong99/voiceintake/internal/dialogue"
	"github.com/MrWong99/voiceintake/internal/health"
	"github.com/MrWong99/voiceintake/internal/observe"
	"github.com/MrWong99/voiceintake/internal/prompt"
	"github.com/MrWong99/voiceintake/internal/record"
	"github.com/MrWong99/voiceintake/internal/resilience"
	"github.com/MrWong99/voiceintake/internal/slot"
	"github.com/MrWong99/voiceintake/internal/twilio"
	"github.com/MrWong99/voiceintake/pkg/provider/tts"
)

// MetricsPath serves the Prometheus scrape endpoint.
const MetricsPath = "/metrics"

const readHeaderTimeout = 5 * time.Second

// Backends holds the pluggable backends built by main.go via the config
// registry.
type Backends struct {
	// TTS renders literal prompts. Nil lets Twilio speak them with <Say>.
	TTS     tts.Provider
	TTSName string

	// Sink persists completed records. Required.
	Sink record.Sink

	// Release frees what the factories opened. Called on shutdown.
	Release []func()
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	backends *Backends
	metrics  *observe.Metrics

	store      callstore.Store
	schema     *slot.Schema
	engine     *dialogue.Engine
	resolver   *prompt.Resolver
	dispatcher *record.Dispatcher
	health     *health.Handler
	sweeper    *callstore.Sweeper
	handler    http.Handler
	listener   net.Listener
	server     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a call store instead of creating one from config.
func WithStore(s callstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener makes Run serve on ln instead of listening on
// server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// New creates an App from cfg and backends. Subsystems not injected through
// opts are created from the config.
func New(ctx context.Context, cfg *config.Config, backends *Backends, opts ...Option) (*App, error) {
	if backends == nil || backends.Sink == nil {
		return nil, errors.New("app: a record sink is required")
	}
	a := &App{cfg: cfg, backends: backends}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	for _, release := range backends.Release {
		a.closers = append(a.closers, func() error { release(); return nil })
	}

	var checkers []health.Checker

	// 1. Form schema.
	matcher := cfg.Form.Matching.Matcher()
	schema, err := config.BuildSchema(cfg.Form, matcher)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.schema = schema

	// 2. Call store.
	if a.store == nil {
		if err := a.initStore(ctx); err != nil {
			return nil, err
		}
	}
	if p, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.Ping("session_store", p))
	}

	// 3. Dialogue engine.
	engOpts := []dialogue.Option{
		dialogue.WithMatcher(matcher),
		dialogue.WithMetrics(a.metrics),
	}
	if cfg.Session.MaxRetries > 0 {
		engOpts = append(engOpts, dialogue.WithMaxRetries(cfg.Session.MaxRetries))
	}
	if lead := cfg.Prompts.RetryLeadIn.Prompt(); !lead.IsZero() {
		engOpts = append(engOpts, dialogue.WithRetryLeadIn(lead))
	}
	a.engine = dialogue.New(schema, a.store, engOpts...)

	// 4. Prompt resolver.
	if err := a.initResolver(); err != nil {
		return nil, err
	}
	if backends.TTS != nil {
		checkers = append(checkers, health.Probe("tts", a.resolver.Ready))
	}

	// 5. Record dispatcher.
	dispOpts := []record.DispatcherOption{record.WithMetrics(a.metrics)}
	if cfg.Sink.SaveTimeout > 0 {
		dispOpts = append(dispOpts, record.WithSaveTimeout(cfg.Sink.SaveTimeout))
	}
	if cfg.Sink.Concurrency > 0 {
		dispOpts = append(dispOpts, record.WithConcurrency(cfg.Sink.Concurrency))
	}
	a.dispatcher = record.NewDispatcher(backends.Sink, dispOpts...)
	if p, ok := backends.Sink.(record.Pinger); ok {
		checkers = append(checkers, health.Ping("record_sink", p))
	}

	// 6. HTTP surface.
	a.health = health.New(checkers...)
	a.handler = a.buildHandler()

	// 7. Idle-call sweeper.
	a.sweeper = callstore.NewSweeper(a.store, cfg.Session.SweepInterval)
	a.sweeper.OnReclaim = a.engine.RecordExpired

	slog.Info("app initialised",
		"form", schema.Name(),
		"slots", schema.TotalSteps(),
		"store", cfg.Store.Backend,
		"sink", backends.Sink.Name(),
		"tts", backends.TTSName,
	)
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	idle := a.cfg.Session.IdleTimeout
	switch a.cfg.Store.Backend {
	case config.StoreRedis:
		rc := a.cfg.Store.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Username: rc.Username,
			Password: rc.Password,
			DB:       rc.DB,
		})
		var opts []callstore.RedisOption
		if rc.KeyPrefix != "" {
			opts = append(opts, callstore.WithKeyPrefix(rc.KeyPrefix))
		}
		rs := callstore.NewRedisStore(client, idle, opts...)
		if err := rs.Ping(ctx); err != nil {
			client.Close()
			return fmt.Errorf("app: connect redis %s: %w", rc.Addr, err)
		}
		a.store = rs
		a.closers = append(a.closers, client.Close)
	default:
		a.store = callstore.NewMemStore(idle)
	}
	return nil
}

func (a *App) initResolver() error {
	cfg := a.cfg
	opts := []prompt.Option{prompt.WithMetrics(a.metrics)}
	if cfg.Prompts.AssetBase != "" {
		opts = append(opts, prompt.WithAssetBase(cfg.Prompts.AssetBase))
	}
	if a.backends.TTS != nil {
		name := a.backends.TTSName
		voice := tts.Voice{
			ID:              cfg.TTS.VoiceID,
			Provider:        name,
			Language:        cfg.Prompts.Language,
			Stability:       cfg.TTS.Stability,
			SimilarityBoost: cfg.TTS.SimilarityBoost,
		}
		opts = append(opts,
			prompt.WithTTS(a.backends.TTS, name, voice),
			prompt.WithAudioDir(cfg.TTS.AudioDir),
			prompt.WithTimeout(cfg.TTS.Timeout),
		)
		if b := cfg.TTS.Breaker; b.MaxFailures > 0 || b.ResetTimeout > 0 {
			opts = append(opts, prompt.WithBreaker(resilience.CircuitBreakerConfig{
				MaxFailures:  b.MaxFailures,
				ResetTimeout: b.ResetTimeout,
			}))
		}
	}
	r, err := prompt.New(cfg.Server.PublicURL, opts...)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.resolver = r
	return nil
}

func (a *App) buildHandler() http.Handler {
	cfg := a.cfg
	tw := twilio.New(a.engine, a.resolver, twilio.Config{
		Language:      cfg.Prompts.Language,
		Voice:         cfg.Prompts.Voice,
		GatherTimeout: cfg.Server.Twilio.GatherTimeout,
		SpeechTimeout: cfg.Server.Twilio.SpeechTimeout,
		GreetingPause: cfg.Server.Twilio.GreetingPause,
		Greeting:      cfg.Prompts.Greeting.Prompt(),
		Closing:       cfg.Prompts.Closing.Prompt(),
		Apology:       cfg.Prompts.Apology.Prompt(),
		GiveUp:        cfg.Prompts.GiveUp.Prompt(),
	}, twilio.WithDispatcher(a.dispatcher))

	var mw []func(http.Handler) http.Handler
	if cfg.Server.Twilio.ValidateSignature {
		mw = append(mw, twilio.RequireSignature(cfg.Server.Twilio.AuthToken, cfg.Server.PublicURL))
	}

	mux := http.NewServeMux()
	tw.Register(mux, mw...)
	a.health.Register(mux)
	mux.Handle("GET "+prompt.AudioPath, a.resolver.AudioHandler())
	mux.Handle("GET "+MetricsPath, promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Engine returns the dialogue engine.
func (a *App) Engine() *dialogue.Engine { return a.engine }

// Run serves HTTP, sweeps idle calls and, when configured, prewarms prompt
// audio. It blocks until ctx is cancelled or the server fails. On
// cancellation readiness flips to draining and in-flight requests get up to
// server.shutdown_timeout to finish.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error { return a.sweeper.Run(gctx) })

	if a.cfg.TTS.Prewarm && a.backends.TTS != nil {
		g.Go(func() error {
			a.resolver.Prewarm(gctx, config.StaticPrompts(a.cfg), a.cfg.Prompts.Language)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: drain http: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Shutdown waits for pending record saves and releases all backends. It is
// safe to call more than once; only the first call has any effect.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.health.SetDraining()

		if err := a.dispatcher.Close(ctx); err != nil {
			slog.Warn("pending records not saved before deadline", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
