package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

var errNoSecret = errors.New("no secret")

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, `{}`), mockKeychain{err: errNoSecret})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Responder.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("Responder.BaseURL = %q", cfg.Responder.BaseURL)
	}
	if got := Duration(cfg.Scheduler.JobInterval); got != 3*time.Second {
		t.Errorf("JobInterval = %v, want 3s", got)
	}
	if got := Duration(cfg.Scheduler.TickInterval); got != time.Minute {
		t.Errorf("TickInterval = %v, want 1m", got)
	}
	if !cfg.Scheduler.Fanout {
		t.Error("Scheduler.Fanout = false, want true")
	}
	if cfg.Circle.UserID != "user" {
		t.Errorf("Circle.UserID = %q, want %q", cfg.Circle.UserID, "user")
	}
	if cfg.Notify.NATSURL != "" {
		t.Errorf("Notify.NATSURL = %q, want empty", cfg.Notify.NATSURL)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{"server.port": 5000, "responder.model": "file-model"}`)

	t.Setenv("CIRCLED_RESPONDER_MODEL", "env-model")
	t.Setenv("CIRCLED_SCHEDULER_FANOUT", "false")
	t.Setenv("CIRCLED_RESPONDER_API_KEY", "env-key")

	cfg, err := loadWith(b, mockKeychain{value: "keychain-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Responder.Model != "env-model" {
		t.Errorf("Responder.Model = %q, want %q", cfg.Responder.Model, "env-model")
	}
	if cfg.Scheduler.Fanout {
		t.Error("Scheduler.Fanout = true, want false")
	}
	if cfg.Responder.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want %q", cfg.Responder.APIKey, "env-key")
	}
}

// TestFileParsing verifies that fields are correctly read from the JSON file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{
  "server.port": "5001",
  "storage.data_dir": "/tmp/circled-test",
  "log.level": "debug",
  "scheduler.job_interval": "500ms",
  "scheduler.fanout": false,
  "notify.nats_url": "nats://localhost:4222",
  "roster.path": "/etc/circled/actors.yaml",
  "responder.api_key": "ignored-secret"
}`)

	cfg, err := loadWith(b, mockKeychain{err: errNoSecret})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5001 {
		t.Errorf("Server.Port = %d, want 5001", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/circled-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if got := Duration(cfg.Scheduler.JobInterval); got != 500*time.Millisecond {
		t.Errorf("JobInterval = %v, want 500ms", got)
	}
	if cfg.Scheduler.Fanout {
		t.Error("Scheduler.Fanout = true, want false")
	}
	if cfg.Notify.NATSURL != "nats://localhost:4222" {
		t.Errorf("Notify.NATSURL = %q", cfg.Notify.NATSURL)
	}
	if cfg.Roster.Path != "/etc/circled/actors.yaml" {
		t.Errorf("Roster.Path = %q", cfg.Roster.Path)
	}
	if cfg.Responder.APIKey != "" {
		t.Errorf("secret read from backend: APIKey = %q", cfg.Responder.APIKey)
	}
}

// TestKeychainFallback verifies the secret store is consulted when no API key is in the env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, `{}`), mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Responder.APIKey != "keychain-secret" {
		t.Errorf("APIKey = %q, want %q", cfg.Responder.APIKey, "keychain-secret")
	}
	if err := cfg.RequireAPIKey(); err != nil {
		t.Errorf("RequireAPIKey: %v", err)
	}
}

// TestMissingAPIKey verifies a clear error when the API key is missing everywhere.
func TestMissingAPIKey(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, `{}`), mockKeychain{err: errNoSecret})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = cfg.RequireAPIKey()
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if want := "missing required config"; !strings.Contains(err.Error(), want) {
		t.Errorf("error = %q, want it to contain %q", err, want)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"bad duration", `{"scheduler.tick_interval": "soon"}`},
		{"bad level", `{"log.level": "loud"}`},
		{"bad int", `{"server.port": "eighty"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := loadWith(writeTempConfig(t, tt.file), mockKeychain{err: errNoSecret}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	b := newFileBackend(path)

	if err := setKey(b, "server.port", "4100"); err != nil {
		t.Fatalf("setKey port: %v", err)
	}
	if err := setKey(b, "scheduler.job_interval", "5s"); err != nil {
		t.Fatalf("setKey interval: %v", err)
	}
	if err := setKey(b, "scheduler.fanout", "no"); err == nil {
		t.Error("setKey bool accepted \"no\"")
	}
	if err := setKey(b, "scheduler.job_interval", "often"); err == nil {
		t.Error("setKey duration accepted \"often\"")
	}
	if err := setKey(b, "responder.api_key", "x"); err == nil {
		t.Error("setKey accepted a secret")
	}
	if err := setKey(b, "nope", "x"); err == nil {
		t.Error("setKey accepted an unknown key")
	}

	cfg, err := loadWith(newFileBackend(path), mockKeychain{err: errNoSecret})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Scheduler.JobInterval != "5s" {
		t.Errorf("JobInterval = %q, want 5s", cfg.Scheduler.JobInterval)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Responder.APIKey = "sk-secret"
	cfg.API.Token = "tok"

	for _, k := range ShowAll(cfg) {
		if k.Key == "responder.api_key" || k.Key == "api.token" {
			t.Errorf("ShowAll exposed %s", k.Key)
		}
	}
	if got, want := len(ValidKeys()), len(specs)-2; got != want {
		t.Errorf("len(ValidKeys()) = %d, want %d", got, want)
	}
}

func TestAPIToken(t *testing.T) {
	cfg := defaults()
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")

	first, err := APIToken(cfg)
	if err != nil {
		t.Fatalf("APIToken: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64", len(first))
	}
	second, err := APIToken(cfg)
	if err != nil || second != first {
		t.Errorf("second APIToken = (%q, %v), want the stored token", second, err)
	}

	cfg.API.Token = "configured"
	if got, _ := APIToken(cfg); got != "configured" {
		t.Errorf("APIToken = %q, want configured", got)
	}
}
