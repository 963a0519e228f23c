package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CIRCLED_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CIRCLED_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CIRCLED_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "responder.base_url", typ: kString, env: "CIRCLED_RESPONDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Responder.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Responder.BaseURL },
	},
	{
		key: "responder.model", typ: kString, env: "CIRCLED_RESPONDER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Responder.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Responder.Model },
	},
	{
		key: "responder.api_key", typ: kString, env: "CIRCLED_RESPONDER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Responder.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Responder.APIKey },
	},
	{
		key: "responder.timeout", typ: kDuration, env: "CIRCLED_RESPONDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Responder.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Responder.Timeout },
	},
	{
		key: "scheduler.job_interval", typ: kDuration, env: "CIRCLED_SCHEDULER_JOB_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.JobInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Scheduler.JobInterval },
	},
	{
		key: "scheduler.tick_interval", typ: kDuration, env: "CIRCLED_SCHEDULER_TICK_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.TickInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Scheduler.TickInterval },
	},
	{
		key: "scheduler.fanout", typ: kBool, env: "CIRCLED_SCHEDULER_FANOUT",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.Fanout = v.(bool) },
		extract: func(cfg Config) any { return cfg.Scheduler.Fanout },
	},
	{
		key: "notify.nats_url", typ: kString, env: "CIRCLED_NOTIFY_NATS_URL",
		apply:   func(cfg *Config, v any) { cfg.Notify.NATSURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.NATSURL },
	},
	{
		key: "roster.path", typ: kString, env: "CIRCLED_ROSTER_PATH",
		apply:   func(cfg *Config, v any) { cfg.Roster.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Roster.Path },
	},
	{
		key: "circle.user_id", typ: kString, env: "CIRCLED_CIRCLE_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.Circle.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.Circle.UserID },
	},
	{
		key: "circle.user_name", typ: kString, env: "CIRCLED_CIRCLE_USER_NAME",
		apply:   func(cfg *Config, v any) { cfg.Circle.UserName = v.(string) },
		extract: func(cfg Config) any { return cfg.Circle.UserName },
	},
	{
		key: "api.token", typ: kString, env: "CIRCLED_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString, kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString, kDuration:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
