package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the interview proctoring service.
type Config struct {
	BindAddr         string        `yaml:"bind_addr"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
	AllowAnyOrigin   bool          `yaml:"allow_any_origin"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogOutput string `yaml:"log_output"`

	BackendMode    string        `yaml:"backend_mode"`
	BackendURL     string        `yaml:"backend_url"`
	BackendToken   string        `yaml:"backend_token"`
	BackendTimeout time.Duration `yaml:"backend_timeout"`

	VoiceProvider             string `yaml:"voice_provider"`
	ElevenLabsAPIKey          string `yaml:"elevenlabs_api_key"`
	ElevenLabsWSBaseURL       string `yaml:"elevenlabs_ws_base_url"`
	ElevenLabsTTSVoice        string `yaml:"elevenlabs_tts_voice_id"`
	ElevenLabsTTSModel        string `yaml:"elevenlabs_tts_model_id"`
	ElevenLabsTTSOutputFormat string `yaml:"elevenlabs_tts_output_format"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	AttemptRetention       time.Duration `yaml:"attempt_retention"`
	AttemptJanitorInterval time.Duration `yaml:"attempt_janitor_interval"`
	AttemptIdleTimeout     time.Duration `yaml:"attempt_idle_timeout"`
	AttemptLeaseTTL        time.Duration `yaml:"attempt_lease_ttl"`

	VideoPolicy          string        `yaml:"video_policy"`
	QuestionTimeCap      int           `yaml:"question_time_cap"`
	PermissionTimeout    time.Duration `yaml:"permission_timeout"`
	SynthesisTimeout     time.Duration `yaml:"synthesis_timeout"`
	TranscriptionTimeout time.Duration `yaml:"transcription_timeout"`
	SubmitTimeout        time.Duration `yaml:"submit_timeout"`
}

func defaults() Config {
	return Config{
		BindAddr:         ":8080",
		ShutdownTimeout:  15 * time.Second,
		MetricsNamespace: "proctor",
		LogLevel:         "info",
		LogFormat:        "json",
		LogOutput:        "stdout",
		BackendMode:      "http",
		BackendTimeout:   15 * time.Second,
		VoiceProvider:    "auto",

		ElevenLabsWSBaseURL: "wss://api.elevenlabs.io",
		// A calm, neutral premade voice suits the interviewer.
		ElevenLabsTTSVoice: "JBFqnCBsd6RMkjVDRZzb",
		ElevenLabsTTSModel: "eleven_multilingual_v2",
		// PCM plays back without decoding on the client.
		ElevenLabsTTSOutputFormat: "pcm_16000",

		AttemptRetention:       10 * time.Minute,
		AttemptJanitorInterval: 30 * time.Second,
		AttemptIdleTimeout:     5 * time.Minute,
		AttemptLeaseTTL:        4 * time.Hour,

		VideoPolicy:          "optional",
		QuestionTimeCap:      600,
		PermissionTimeout:    time.Minute,
		SynthesisTimeout:     30 * time.Second,
		TranscriptionTimeout: 30 * time.Second,
		SubmitTimeout:        15 * time.Second,
	}
}

// Load applies defaults, then an optional .env file, then the YAML file named
// by PROCTOR_CONFIG_FILE, then environment variables, and validates the result.
func Load() (Config, error) {
	cfg := defaults()

	dotEnv := envOrDefault("PROCTOR_ENV_FILE", ".env")
	if err := godotenv.Load(dotEnv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", dotEnv, err)
	}
	if path := stringsTrimSpace("PROCTOR_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(envOrDefault("LOG_FORMAT", cfg.LogFormat))
	cfg.LogOutput = envOrDefault("LOG_OUTPUT", cfg.LogOutput)
	cfg.BackendMode = strings.ToLower(envOrDefault("BACKEND_MODE", cfg.BackendMode))
	cfg.BackendURL = envOrDefault("BACKEND_URL", cfg.BackendURL)
	cfg.BackendToken = envOrDefault("BACKEND_TOKEN", cfg.BackendToken)
	cfg.VoiceProvider = strings.ToLower(envOrDefault("VOICE_PROVIDER", cfg.VoiceProvider))
	cfg.ElevenLabsAPIKey = envOrDefault("ELEVENLABS_API_KEY", cfg.ElevenLabsAPIKey)
	cfg.ElevenLabsWSBaseURL = envOrDefault("ELEVENLABS_WS_BASE_URL", cfg.ElevenLabsWSBaseURL)
	cfg.ElevenLabsTTSVoice = envOrDefault("ELEVENLABS_TTS_VOICE_ID", cfg.ElevenLabsTTSVoice)
	cfg.ElevenLabsTTSModel = envOrDefault("ELEVENLABS_TTS_MODEL_ID", cfg.ElevenLabsTTSModel)
	cfg.ElevenLabsTTSOutputFormat = envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", cfg.ElevenLabsTTSOutputFormat)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.VideoPolicy = strings.ToLower(envOrDefault("VIDEO_POLICY", cfg.VideoPolicy))

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"BACKEND_TIMEOUT", &cfg.BackendTimeout},
		{"ATTEMPT_RETENTION", &cfg.AttemptRetention},
		{"ATTEMPT_JANITOR_INTERVAL", &cfg.AttemptJanitorInterval},
		{"ATTEMPT_IDLE_TIMEOUT", &cfg.AttemptIdleTimeout},
		{"ATTEMPT_LEASE_TTL", &cfg.AttemptLeaseTTL},
		{"PERMISSION_TIMEOUT", &cfg.PermissionTimeout},
		{"SYNTHESIS_TIMEOUT", &cfg.SynthesisTimeout},
		{"TRANSCRIPTION_TIMEOUT", &cfg.TranscriptionTimeout},
		{"SUBMIT_TIMEOUT", &cfg.SubmitTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return err
		}
	}
	if cfg.QuestionTimeCap, err = intFromEnv("QUESTION_TIME_CAP", cfg.QuestionTimeCap); err != nil {
		return err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch c.BackendMode {
	case "http":
		if strings.TrimSpace(c.BackendURL) == "" {
			return fmt.Errorf("BACKEND_URL is required when BACKEND_MODE=http")
		}
	case "memory":
	default:
		return fmt.Errorf("BACKEND_MODE must be http or memory, got %q", c.BackendMode)
	}
	switch c.VoiceProvider {
	case "auto", "mock":
	case "elevenlabs":
		if strings.TrimSpace(c.ElevenLabsAPIKey) == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY is required when VOICE_PROVIDER=elevenlabs")
		}
	default:
		return fmt.Errorf("VOICE_PROVIDER must be auto, elevenlabs or mock, got %q", c.VoiceProvider)
	}
	if c.VideoPolicy != "optional" && c.VideoPolicy != "required" {
		return fmt.Errorf("VIDEO_POLICY must be optional or required, got %q", c.VideoPolicy)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.QuestionTimeCap < 0 {
		return fmt.Errorf("QUESTION_TIME_CAP must be >= 0")
	}
	if c.AttemptJanitorInterval < time.Second {
		return fmt.Errorf("ATTEMPT_JANITOR_INTERVAL must be at least 1s")
	}
	if c.AttemptIdleTimeout < 5*time.Second {
		return fmt.Errorf("ATTEMPT_IDLE_TIMEOUT must be at least 5s")
	}
	for name, d := range map[string]time.Duration{
		"BACKEND_TIMEOUT":       c.BackendTimeout,
		"PERMISSION_TIMEOUT":    c.PermissionTimeout,
		"SYNTHESIS_TIMEOUT":     c.SynthesisTimeout,
		"TRANSCRIPTION_TIMEOUT": c.TranscriptionTimeout,
		"SUBMIT_TIMEOUT":        c.SubmitTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
