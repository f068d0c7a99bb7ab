package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voiceintake/internal/app"
	"github.com/MrWong99/voiceintake/internal/config"
	"github.com/MrWong99/voiceintake/internal/record"
	"github.com/MrWong99/voiceintake/internal/resilience"
	"github.com/MrWong99/voiceintake/pkg/provider/tts"
	"github.com/MrWong99/voiceintake/pkg/provider/tts/elevenlabs"
)

// registerBuiltins registers every backend shipped with voiceintake.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if ws := optString(entry.Options, "ws_base"); ws != "" || entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURLs(ws, entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterSink("postgres", func(ctx context.Context, entry config.SinkEntry, _ []string) (record.Sink, func(), error) {
		pool, err := record.OpenPool(ctx, entry.DSN)
		if err != nil {
			return nil, nil, err
		}
		if entry.Migrate {
			if err := record.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return record.NewPostgresSink(pool), pool.Close, nil
	})

	reg.RegisterSink("csv", func(_ context.Context, entry config.SinkEntry, keys []string) (record.Sink, func(), error) {
		return record.NewCSVSink(entry.Path, keys), nil, nil
	})

	reg.RegisterSink("log", func(context.Context, config.SinkEntry, []string) (record.Sink, func(), error) {
		return record.LogSink{}, nil, nil
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered backend", "kind", kind, "name", name)
		}
	}
}

// buildBackends instantiates the configured TTS provider and record sink
// chain. With more than one sink, later entries take over while earlier ones
// fail.
func buildBackends(ctx context.Context, cfg *config.Config, reg *config.Registry) (b *app.Backends, err error) {
	b = &app.Backends{}
	defer func() {
		if err != nil {
			for _, release := range b.Release {
				release()
			}
		}
	}()

	if name := cfg.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.TTS.ProviderEntry)
		if err != nil {
			return b, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		if len(cfg.TTS.Fallbacks) > 0 {
			fb := resilience.NewTTSFallback(p, name, resilience.FallbackConfig{
				CircuitBreaker: breakerConfig(cfg.TTS.Breaker),
			})
			for _, entry := range cfg.TTS.Fallbacks {
				alt, err := reg.CreateTTS(entry)
				if errors.Is(err, config.ErrProviderNotRegistered) {
					slog.Warn("tts fallback not registered, skipping", "name", entry.Name)
					continue
				}
				if err != nil {
					return b, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, alt)
			}
			p = fb
		}
		b.TTS, b.TTSName = p, name
		slog.Info("backend created", "kind", "tts", "name", name, "fallbacks", len(cfg.TTS.Fallbacks))
	}

	keys := make([]string, len(cfg.Form.Slots))
	for i, s := range cfg.Form.Slots {
		keys[i] = s.Key
	}
	var sinks []record.Sink
	for _, entry := range cfg.Sink.Chain {
		s, release, err := reg.CreateSink(ctx, entry, keys)
		if err != nil {
			return b, fmt.Errorf("create sink %q: %w", entry.Type, err)
		}
		if release != nil {
			b.Release = append(b.Release, release)
		}
		sinks = append(sinks, s)
		slog.Info("backend created", "kind", "sink", "name", s.Name())
	}
	switch len(sinks) {
	case 0:
		return b, errors.New("no record sink configured")
	case 1:
		b.Sink = sinks[0]
	default:
		b.Sink = record.NewFallbackSink(resilience.FallbackConfig{
			CircuitBreaker: breakerConfig(cfg.Sink.Breaker),
		}, sinks[0], sinks[1:]...)
	}
	return b, nil
}

func breakerConfig(c config.BreakerConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{MaxFailures: c.MaxFailures, ResetTimeout: c.ResetTimeout}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
