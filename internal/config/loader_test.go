package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voiceintake/internal/config"
)

// validConfig returns a minimal config that passes validation.
func validConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{PublicURL: "https://intake.example.com"},
		Form: config.FormConfig{
			Name: "restaurant",
			Slots: []config.SlotConfig{
				{Key: "name", Prompt: config.PromptConfig{Text: "Auf welchen Namen?"}},
				{Key: "party", Prompt: config.PromptConfig{Text: "Für wie viele Personen?"},
					Validator: config.ValidatorConfig{Type: config.ValidatorDigits, MinDigits: 1}},
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr []string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{
			name:    "invalid log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "verbose" },
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "missing public url",
			mutate:  func(c *config.Config) { c.Server.PublicURL = "" },
			wantErr: []string{"server.public_url is required"},
		},
		{
			name:    "relative public url",
			mutate:  func(c *config.Config) { c.Server.PublicURL = "/intake" },
			wantErr: []string{"absolute http(s) URL"},
		},
		{
			name:    "signature without token",
			mutate:  func(c *config.Config) { c.Server.Twilio.ValidateSignature = true },
			wantErr: []string{"requires server.twilio.auth_token"},
		},
		{
			name:    "tls half configured",
			mutate:  func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "cert.pem"} },
			wantErr: []string{"server.tls"},
		},
		{
			name:    "negative retries",
			mutate:  func(c *config.Config) { c.Session.MaxRetries = -1 },
			wantErr: []string{"session.max_retries"},
		},
		{
			name:    "negative idle timeout",
			mutate:  func(c *config.Config) { c.Session.IdleTimeout = -time.Second },
			wantErr: []string{"session durations"},
		},
		{
			name:    "unknown store",
			mutate:  func(c *config.Config) { c.Store.Backend = "etcd" },
			wantErr: []string{"store.backend"},
		},
		{
			name:    "redis without addr",
			mutate:  func(c *config.Config) { c.Store.Backend = config.StoreRedis },
			wantErr: []string{"store.redis.addr"},
		},
		{
			name: "sinks missing settings",
			mutate: func(c *config.Config) {
				c.Sink.Chain = []config.SinkEntry{{Type: "postgres"}, {Type: "csv"}, {}}
			},
			wantErr: []string{"sink.chain[0].dsn", "sink.chain[1].path", "sink.chain[2].type"},
		},
		{
			name: "tts without voice",
			mutate: func(c *config.Config) {
				c.TTS.Name = "elevenlabs"
				c.TTS.Stability = 1.5
			},
			wantErr: []string{"tts.voice_id", "out of range"},
		},
		{
			name:    "tts fallbacks without primary",
			mutate:  func(c *config.Config) { c.TTS.Fallbacks = []config.ProviderEntry{{Name: "elevenlabs"}} },
			wantErr: []string{"tts.fallbacks requires tts.name"},
		},
		{
			name:    "empty form",
			mutate:  func(c *config.Config) { c.Form.Slots = nil },
			wantErr: []string{"form.slots"},
		},
		{
			name:    "bad slot validator",
			mutate:  func(c *config.Config) { c.Form.Slots[1].Validator.Type = "regex" },
			wantErr: []string{"form.slots[1].validator", "regex"},
		},
		{
			name: "multiple errors joined",
			mutate: func(c *config.Config) {
				c.Server.LogLevel = "loud"
				c.Store.Backend = "etcd"
				c.Session.MaxRetries = -2
			},
			wantErr: []string{"server.log_level", "store.backend", "session.max_retries"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not contain %q", err, want)
				}
			}
		})
	}
}
