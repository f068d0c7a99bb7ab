// Package config provides the configuration schema, loader, form builder and
// backend registry for the voiceintake server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Validator types usable in [ValidatorConfig.Type].
const (
	ValidatorFreeText    = "free_text"
	ValidatorDigits      = "digits"
	ValidatorDateOfBirth = "date_of_birth"
	ValidatorChoice      = "choice"
)

// Config is the root configuration structure. Load it with [Load] or
// [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Sink    SinkConfig    `yaml:"sink"`
	TTS     TTSConfig     `yaml:"tts"`
	Prompts PromptsConfig `yaml:"prompts"`
	Form    FormConfig    `yaml:"form"`
}

// ServerConfig holds network, telephony and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default: ":10000".
	ListenAddr string `yaml:"listen_addr"`

	// PublicURL is the externally reachable origin Twilio calls, e.g.
	// "https://intake.example.com". Audio URLs and signatures are derived
	// from it.
	PublicURL string `yaml:"public_url"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds the graceful drain. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	Twilio TwilioConfig `yaml:"twilio"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TwilioConfig configures the webhook transport.
type TwilioConfig struct {
	// AuthToken signs Twilio's webhook requests.
	AuthToken string `yaml:"auth_token"`

	// ValidateSignature rejects requests without a valid
	// X-Twilio-Signature. Requires AuthToken.
	ValidateSignature bool `yaml:"validate_signature"`

	// GatherTimeout is the number of seconds Twilio waits for input.
	// Default: 6.
	GatherTimeout int `yaml:"gather_timeout"`

	// SpeechTimeout is passed to <Gather speechTimeout>. Default: "auto".
	SpeechTimeout string `yaml:"speech_timeout"`

	// GreetingPause is the silence in seconds after the greeting.
	GreetingPause int `yaml:"greeting_pause"`
}

// SessionConfig controls the dialogue lifecycle.
type SessionConfig struct {
	// IdleTimeout discards a call that sends no turn for this long.
	// Default: 60s.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// SweepInterval is how often idle calls are reclaimed. Default: 15s.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// MaxRetries gives up after this many failed turns on one slot.
	// Zero retries forever.
	MaxRetries int `yaml:"max_retries"`
}

// StoreConfig selects where dialogue state lives.
type StoreConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SinkConfig configures record persistence. Sinks in Chain are tried in
// order; the first is the primary.
type SinkConfig struct {
	Chain []SinkEntry `yaml:"chain"`

	// SaveTimeout bounds one save attempt across the chain. Default: 10s.
	SaveTimeout time.Duration `yaml:"save_timeout"`

	// Concurrency bounds parallel saves. Default: 8.
	Concurrency int `yaml:"concurrency"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// SinkEntry selects one registered sink implementation.
type SinkEntry struct {
	// Type selects the sink: "postgres", "csv" or "log".
	Type string `yaml:"type"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// Migrate creates the records table on startup.
	Migrate bool `yaml:"migrate"`

	// Path is the CSV file path.
	Path string `yaml:"path"`
}

// BreakerConfig tunes a circuit breaker. Zero values use the defaults of
// the resilience package.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the common configuration block of a speech provider. The
// Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation, e.g. "elevenlabs".
	Name string `yaml:"name"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model, e.g. "eleven_multilingual_v2".
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// TTSConfig configures prompt synthesis. An empty Name disables synthesis;
// prompts are then spoken by Twilio's <Say>.
type TTSConfig struct {
	ProviderEntry `yaml:",inline"`

	// VoiceID is the provider voice used for every prompt.
	VoiceID string `yaml:"voice_id"`

	// Stability and SimilarityBoost tune the voice (0–1).
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`

	// AudioDir stores rendered prompts. Default: "audio".
	AudioDir string `yaml:"audio_dir"`

	// Timeout bounds one synthesis. Default: 4s.
	Timeout time.Duration `yaml:"timeout"`

	// Prewarm renders all static prompts at startup.
	Prewarm bool `yaml:"prewarm"`

	// Fallbacks are tried in order when the primary fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// PromptConfig is a prompt: literal text and an optional pre-recorded asset.
type PromptConfig struct {
	Text  string `yaml:"text"`
	Asset string `yaml:"asset"`
}

// PromptsConfig holds the fixed lines around the form and how they are
// spoken.
type PromptsConfig struct {
	// Language is the BCP-47 tag for speech. Default: "de-DE".
	Language string `yaml:"language"`

	// Voice is the Twilio <Say> voice, e.g. "Polly.Vicki".
	Voice string `yaml:"voice"`

	// AssetBase is where pre-recorded assets are served from. Relative
	// values resolve against server.public_url.
	AssetBase string `yaml:"asset_base"`

	Greeting    PromptConfig `yaml:"greeting"`
	Closing     PromptConfig `yaml:"closing"`
	Apology     PromptConfig `yaml:"apology"`
	GiveUp      PromptConfig `yaml:"give_up"`
	RetryLeadIn PromptConfig `yaml:"retry_lead_in"`
}

// FormConfig declares the slots a completed record must contain.
type FormConfig struct {
	// Name identifies the form in records and metrics, e.g. "clinic".
	Name string `yaml:"name"`

	Slots []SlotConfig `yaml:"slots"`

	// Matching tunes phonetic matching of spoken choices and yes/no answers.
	Matching MatchingConfig `yaml:"matching"`
}

// MatchingConfig tunes the phonetic matcher. Zero values use the defaults.
type MatchingConfig struct {
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
	FuzzyThreshold    float64 `yaml:"fuzzy_threshold"`
}

// SlotConfig is one slot of the form.
type SlotConfig struct {
	Key         string           `yaml:"key"`
	Prompt      PromptConfig     `yaml:"prompt"`
	RetryPrompt PromptConfig     `yaml:"retry_prompt"`
	Mode        string           `yaml:"mode"`
	MaxDigits   int              `yaml:"max_digits"`
	Validator   ValidatorConfig  `yaml:"validator"`
	Confirm     *ConfirmConfig   `yaml:"confirm"`
	Exception   *ExceptionConfig `yaml:"exception"`
}

// ValidatorConfig selects and parameterises a slot validator.
type ValidatorConfig struct {
	// Type is one of free_text, digits, date_of_birth, choice.
	Type string `yaml:"type"`

	// MinDigits is the minimum digit count for the digits validator.
	MinDigits int `yaml:"min_digits"`

	// Options are the entries of a choice validator.
	Options []ChoiceConfig `yaml:"options"`
}

// ChoiceConfig is one option of a choice slot.
type ChoiceConfig struct {
	Digit   string   `yaml:"digit"`
	Label   string   `yaml:"label"`
	Phrases []string `yaml:"phrases"`
}

// ConfirmConfig configures the yes/no read-back of a slot.
type ConfirmConfig struct {
	Question    PromptConfig `yaml:"question"`
	SpellPrompt PromptConfig `yaml:"spell_prompt"`
	Yes         []string     `yaml:"yes"`
	No          []string     `yaml:"no"`
	Flag        string       `yaml:"flag"`
}

// ExceptionConfig configures the "my data was misheard" short-circuit.
type ExceptionConfig struct {
	Phrases []string `yaml:"phrases"`
	Flag    string   `yaml:"flag"`
}
