package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Responder ResponderConfig
	Scheduler SchedulerConfig
	Notify    NotifyConfig
	Roster    RosterConfig
	Circle    CircleConfig
	API       APIConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type ResponderConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout string
}

type SchedulerConfig struct {
	JobInterval  string
	TickInterval string
	// Fanout queues autonomous reactions from the rest of the roster after
	// an actor publishes a post.
	Fanout bool
}

type NotifyConfig struct {
	NATSURL string
}

type RosterConfig struct {
	Path string
}

// CircleConfig identifies the human owner of the circle.
type CircleConfig struct {
	UserID   string
	UserName string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
		Responder: ResponderConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-4o-mini",
			Timeout: "60s",
		},
		Scheduler: SchedulerConfig{
			JobInterval:  "3s",
			TickInterval: "1m",
			Fanout:       true,
		},
		Roster: RosterConfig{
			Path: "actors.yaml",
		},
		Circle: CircleConfig{
			UserID:   "user",
			UserName: "You",
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret
// store.
//
// On macOS the backend is UserDefaults (domain: com.circled.app) and the
// responder API key falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/circled/config.json
// and secrets live in $XDG_DATA_HOME/circled/secrets.json or the environment.
//
// Environment variables (CIRCLED_*) override backend values on all platforms.
// Variables already set in the process environment win over .env entries.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Responder.APIKey == "" {
		if key, err := kc.Get("circled", "api_key"); err == nil && key != "" {
			cfg.Responder.APIKey = key
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for _, d := range []struct{ key, val string }{
		{"responder.timeout", c.Responder.Timeout},
		{"scheduler.job_interval", c.Scheduler.JobInterval},
		{"scheduler.tick_interval", c.Scheduler.TickInterval},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", d.key, err)
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	return nil
}

// RequireAPIKey reports a descriptive error when no responder API key is
// configured. Only the daemon needs one.
func (c Config) RequireAPIKey() error {
	if c.Responder.APIKey != "" {
		return nil
	}
	return fmt.Errorf("%s", "missing required config: responder API key. "+
		"Set it via environment variable CIRCLED_RESPONDER_API_KEY"+apiKeyHint())
}

// Duration parses a duration-valued setting that validate already checked.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
