// Command voiceintake answers phone calls and collects a configured form,
// one question at a time, over Twilio voice webhooks.
//
// Usage:
//
//	voiceintake -config configs/restaurant.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/voiceintake/internal/app"
	"github.com/MrWong99/voiceintake/internal/config"
	"github.com/MrWong99/voiceintake/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config is expanded")
	watch := flag.Bool("watch", true, "reload the log level when the config file changes")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "voiceintake: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceintake: config file %q not found; copy configs/restaurant.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceintake: %v\n", err)
		}
		return 1
	}

	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&level))

	slog.Info("voiceintake starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voiceintake",
		ServiceVersion: version,
		FormName:       cfg.Form.Name,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltins(reg)

	backends, err := buildBackends(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build backends", "err", err)
		return 1
	}

	printStartupSummary(cfg, backends)

	application, err := app.New(ctx, cfg, backends)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		for _, release := range backends.Release {
			release()
		}
		return 1
	}

	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(&level, config.Diff(old, new))
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go w.Run(ctx)
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	slog.Info("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// applyReload applies the parts of a config change that take effect live.
func applyReload(level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "log_level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changed; restart to apply", "sections", d.RestartRequired)
	}
}

// ── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, b *app.Backends) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voiceintake startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Form", cfg.Form.Name)
	printRow("Slots", fmt.Sprint(len(cfg.Form.Slots)))
	printRow("Language", cfg.Prompts.Language)
	printRow("Store", cfg.Store.Backend)
	printRow("Sink", b.Sink.Name())
	tts := b.TTSName
	if tts == "" {
		tts = "(Twilio <Say>)"
	}
	printRow("TTS", tts)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
