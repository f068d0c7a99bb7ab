package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] before validation.
const (
	DefaultListenAddr      = ":10000"
	DefaultLanguage        = "de-DE"
	DefaultAudioDir        = "audio"
	DefaultShutdownTimeout = 15 * time.Second
)

// ValidSinkTypes lists the sink types understood by the built-in registry.
// Used by [Validate] to warn about unrecognised names.
var ValidSinkTypes = []string{"postgres", "csv", "log"}

// ValidTTSNames lists the built-in TTS providers.
var ValidTTSNames = []string{"elevenlabs"}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments ".env" is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. ${VAR} references are expanded from the environment.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands environment references in r, decodes the YAML,
// applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreMemory
	}
	if len(c.Sink.Chain) == 0 {
		c.Sink.Chain = []SinkEntry{{Type: "log"}}
	}
	if c.Prompts.Language == "" {
		c.Prompts.Language = DefaultLanguage
	}
	if c.TTS.Name != "" && c.TTS.AudioDir == "" {
		c.TTS.AudioDir = DefaultAudioDir
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PublicURL == "" {
		errs = append(errs, errors.New("server.public_url is required"))
	} else if u, err := url.Parse(cfg.Server.PublicURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.public_url %q must be an absolute http(s) URL", cfg.Server.PublicURL))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs cert_file and key_file"))
	}
	tw := cfg.Server.Twilio
	if tw.ValidateSignature && tw.AuthToken == "" {
		errs = append(errs, errors.New("server.twilio.validate_signature requires server.twilio.auth_token"))
	}
	if !tw.ValidateSignature && tw.AuthToken != "" {
		slog.Warn("server.twilio.auth_token is set but validate_signature is off; webhook requests are not authenticated")
	}
	if tw.GatherTimeout < 0 || tw.GreetingPause < 0 {
		errs = append(errs, errors.New("server.twilio.gather_timeout and greeting_pause must not be negative"))
	}

	// Session
	if cfg.Session.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("session.max_retries %d is negative", cfg.Session.MaxRetries))
	}
	if cfg.Session.IdleTimeout < 0 || cfg.Session.SweepInterval < 0 {
		errs = append(errs, errors.New("session durations must not be negative"))
	}
	if cfg.Session.IdleTimeout > 0 && cfg.Session.SweepInterval > cfg.Session.IdleTimeout {
		slog.Warn("session.sweep_interval exceeds idle_timeout; abandoned calls linger longer than configured",
			"sweep_interval", cfg.Session.SweepInterval,
			"idle_timeout", cfg.Session.IdleTimeout,
		)
	}

	// Store
	switch cfg.Store.Backend {
	case StoreMemory, "":
	case StoreRedis:
		if cfg.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required when store.backend is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, redis", cfg.Store.Backend))
	}

	// Sinks
	for i, s := range cfg.Sink.Chain {
		prefix := fmt.Sprintf("sink.chain[%d]", i)
		switch s.Type {
		case "":
			errs = append(errs, fmt.Errorf("%s.type is required", prefix))
		case "postgres":
			if s.DSN == "" {
				errs = append(errs, fmt.Errorf("%s.dsn is required for postgres", prefix))
			}
		case "csv":
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("%s.path is required for csv", prefix))
			}
		default:
			warnUnknown("sink", s.Type, ValidSinkTypes)
		}
	}
	if cfg.Sink.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("sink.concurrency %d is negative", cfg.Sink.Concurrency))
	}

	// TTS
	if cfg.TTS.Name != "" {
		warnUnknown("tts", cfg.TTS.Name, ValidTTSNames)
		if cfg.TTS.VoiceID == "" {
			errs = append(errs, errors.New("tts.voice_id is required when tts.name is set"))
		}
		for _, v := range []float64{cfg.TTS.Stability, cfg.TTS.SimilarityBoost} {
			if v < 0 || v > 1 {
				errs = append(errs, fmt.Errorf("tts voice setting %.2f is out of range [0, 1]", v))
			}
		}
		for i, fb := range cfg.TTS.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("tts.fallbacks[%d].name is required", i))
			}
		}
	} else if len(cfg.TTS.Fallbacks) > 0 {
		errs = append(errs, errors.New("tts.fallbacks requires tts.name"))
	}

	// Form
	if len(cfg.Form.Slots) == 0 {
		errs = append(errs, errors.New("form.slots must declare at least one slot"))
	} else if _, err := BuildSchema(cfg.Form, nil); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// warnUnknown logs a warning if name is not in known. Third-party backends
// registered at runtime are legitimate, so this never fails validation.
func warnUnknown(kind, name string, known []string) {
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name; may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
