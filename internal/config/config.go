package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/crosstalklabs/speech-relay/internal/resilience"
)

// Config holds all configuration for the speech-relay service. One
// instance is built at startup and handed to each session; there is no
// other process-wide state.
type Config struct {
	// Relay listener (framed TCP from the push-to-talk client)
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":3333"`

	// Admin HTTP listener (health, readiness, metrics, monitor)
	AdminAddr string `envconfig:"ADMIN_ADDR" default:":8080"`

	// Audio format, fixed per session. Samples are packed signed
	// little-endian PCM, interleaved by channel.
	SampleRate int `envconfig:"SAMPLE_RATE" default:"16000"`
	Channels   int `envconfig:"CHANNELS" default:"2"`
	BitDepth   int `envconfig:"BIT_DEPTH" default:"24"` // 16 or 24

	// Windowing and scheduling
	WindowSeconds    float64 `envconfig:"WINDOW_SECONDS" default:"4.0"`
	StepHz           float64 `envconfig:"STEP_HZ" default:"1.0"`
	MinWindowSeconds float64 `envconfig:"MIN_WINDOW_SECONDS" default:"1.0"`
	MaxBufferSeconds float64 `envconfig:"MAX_BUFFER_SECONDS" default:"30.0"`

	// Languages: lang1 rides the left channel, lang2 the right.
	Lang1Label string `envconfig:"LANG1_LABEL" default:"en"`
	Lang2Label string `envconfig:"LANG2_LABEL" default:"fr"`

	// Commit policy
	CommitHistory  int `envconfig:"COMMIT_HISTORY" default:"3"`
	CommitMinChars int `envconfig:"COMMIT_MIN_CHARS" default:"1"`

	// Wire limits
	TextMaxPayload int `envconfig:"TEXT_MAX_PAYLOAD" default:"128"`
	MaxPayload     int `envconfig:"MAX_PAYLOAD" default:"4096"`

	// Utterance end detection
	NoSpeechThreshold float64 `envconfig:"NO_SPEECH_THRESHOLD" default:"0.9"`
	NoSpeechGapMs     int     `envconfig:"NO_SPEECH_GAP_MS" default:"1000"`
	SilenceRMS        float64 `envconfig:"SILENCE_RMS" default:"0.005"`

	// Inference engines
	TranscribeURL     string `envconfig:"TRANSCRIBE_URL" required:"true"`
	TranscribeTimeout int    `envconfig:"TRANSCRIBE_TIMEOUT" default:"30"` // seconds
	TranslateURL      string `envconfig:"TRANSLATE_URL" required:"true"`
	TranslateTimeout  int    `envconfig:"TRANSLATE_TIMEOUT" default:"15"` // seconds

	// Resilience
	BreakerMaxFailures  int `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerResetSeconds int `envconfig:"BREAKER_RESET_SECONDS" default:"30"`
	RetryMaxAttempts    int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Outbound frame queue depth (worker -> socket writer)
	OutboundQueueSize int `envconfig:"OUTBOUND_QUEUE_SIZE" default:"256"`

	// Observability
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	MonitorEnabled bool   `envconfig:"MONITOR_ENABLED" default:"true"`
}

// Load reads configuration from a .env file if present, then from
// environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.Channels < 1 {
		return fmt.Errorf("CHANNELS must be at least 1, got %d", c.Channels)
	}
	if c.BitDepth != 16 && c.BitDepth != 24 {
		return fmt.Errorf("BIT_DEPTH must be 16 or 24, got %d", c.BitDepth)
	}
	if c.StepHz <= 0 {
		return fmt.Errorf("STEP_HZ must be positive, got %f", c.StepHz)
	}
	if c.WindowSeconds <= 0 || c.MinWindowSeconds <= 0 {
		return fmt.Errorf("window durations must be positive")
	}
	if c.MinWindowSeconds > c.WindowSeconds {
		return fmt.Errorf("MIN_WINDOW_SECONDS %f exceeds WINDOW_SECONDS %f",
			c.MinWindowSeconds, c.WindowSeconds)
	}
	if c.MaxBufferSeconds < c.WindowSeconds {
		return fmt.Errorf("MAX_BUFFER_SECONDS %f smaller than WINDOW_SECONDS %f",
			c.MaxBufferSeconds, c.WindowSeconds)
	}
	if c.Lang1Label == c.Lang2Label {
		return fmt.Errorf("LANG1_LABEL and LANG2_LABEL must differ")
	}
	if c.TextMaxPayload < 4 {
		return fmt.Errorf("TEXT_MAX_PAYLOAD too small: %d", c.TextMaxPayload)
	}
	if c.MaxPayload < c.TextMaxPayload {
		return fmt.Errorf("MAX_PAYLOAD %d smaller than TEXT_MAX_PAYLOAD %d",
			c.MaxPayload, c.TextMaxPayload)
	}
	if c.TranscribeURL == "" {
		return fmt.Errorf("TRANSCRIBE_URL is required")
	}
	if c.TranslateURL == "" {
		return fmt.Errorf("TRANSLATE_URL is required")
	}
	return nil
}

// WindowSamples returns the transcription window length in samples.
func (c *Config) WindowSamples() int {
	return int(c.WindowSeconds * float64(c.SampleRate))
}

// MinWindowSamples returns the minimum schedulable window in samples.
func (c *Config) MinWindowSamples() int {
	return int(c.MinWindowSeconds * float64(c.SampleRate))
}

// BufferCapacity returns the ring buffer capacity in samples.
func (c *Config) BufferCapacity() int {
	return int(c.MaxBufferSeconds * float64(c.SampleRate))
}

// RetryConfig builds the engine call retry policy.
func (c *Config) RetryConfig() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if c.RetryMaxAttempts > 0 {
		cfg.MaxAttempts = c.RetryMaxAttempts
	}
	if c.RetryInitialBackoff > 0 {
		cfg.InitialBackoff = time.Duration(c.RetryInitialBackoff) * time.Millisecond
	}
	return cfg
}

// OppositeLang maps a source language to the translation target.
func (c *Config) OppositeLang(lang string) string {
	if lang == c.Lang1Label {
		return c.Lang2Label
	}
	return c.Lang1Label
}
