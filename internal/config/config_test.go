package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithMemoryBackend(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("BACKEND_MODE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" || cfg.VideoPolicy != "optional" || cfg.QuestionTimeCap != 600 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AttemptRetention != 10*time.Minute {
		t.Fatalf("AttemptRetention = %s, want 10m", cfg.AttemptRetention)
	}
}

func TestLoadRequiresBackendURLInHTTPMode(t *testing.T) {
	setCoreEnvEmpty(t)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "BACKEND_URL") {
		t.Fatalf("Load() error = %v, want BACKEND_URL error", err)
	}
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "proctor.yaml")
	body := "backend_mode: http\nbackend_url: http://portal.local\nvideo_policy: required\nsubmit_timeout: 5s\nbind_addr: \":7000\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("PROCTOR_CONFIG_FILE", path)
	t.Setenv("APP_BIND_ADDR", ":9191")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BackendURL != "http://portal.local" || cfg.VideoPolicy != "required" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.SubmitTimeout != 5*time.Second {
		t.Fatalf("SubmitTimeout = %s, want 5s", cfg.SubmitTimeout)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want env override", cfg.BindAddr)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("BACKEND_MODE=memory\nQUESTION_TIME_CAP=300\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("PROCTOR_ENV_FILE", path)
	// godotenv sets variables directly; register them for cleanup first.
	t.Setenv("BACKEND_MODE", "")
	t.Setenv("QUESTION_TIME_CAP", "")
	os.Unsetenv("BACKEND_MODE")
	os.Unsetenv("QUESTION_TIME_CAP")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BackendMode != "memory" || cfg.QuestionTimeCap != 300 {
		t.Fatalf("dotenv values not applied: mode %q cap %d", cfg.BackendMode, cfg.QuestionTimeCap)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "video policy", key: "VIDEO_POLICY", val: "sometimes"},
		{name: "voice provider", key: "VOICE_PROVIDER", val: "local"},
		{name: "duration", key: "SUBMIT_TIMEOUT", val: "soon"},
		{name: "negative cap", key: "QUESTION_TIME_CAP", val: "-1"},
		{name: "bool", key: "APP_ALLOW_ANY_ORIGIN", val: "perhaps"},
		{name: "elevenlabs without key", key: "VOICE_PROVIDER", val: "elevenlabs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv("BACKEND_MODE", "memory")
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q succeeded", tt.key, tt.val)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"LOG_OUTPUT",
		"BACKEND_MODE",
		"BACKEND_URL",
		"BACKEND_TOKEN",
		"BACKEND_TIMEOUT",
		"VOICE_PROVIDER",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_WS_BASE_URL",
		"ELEVENLABS_TTS_VOICE_ID",
		"ELEVENLABS_TTS_MODEL_ID",
		"ELEVENLABS_TTS_OUTPUT_FORMAT",
		"DATABASE_URL",
		"REDIS_URL",
		"ATTEMPT_RETENTION",
		"ATTEMPT_JANITOR_INTERVAL",
		"ATTEMPT_IDLE_TIMEOUT",
		"ATTEMPT_LEASE_TTL",
		"VIDEO_POLICY",
		"QUESTION_TIME_CAP",
		"PERMISSION_TIMEOUT",
		"SYNTHESIS_TIMEOUT",
		"TRANSCRIPTION_TIMEOUT",
		"SUBMIT_TIMEOUT",
		"PROCTOR_CONFIG_FILE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
	t.Setenv("PROCTOR_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}
