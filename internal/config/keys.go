package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
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
		key: "server.port", typ: kInt, env: "CANON_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "CANON_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CANON_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "langflow.base_url", typ: kString, env: "CANON_LANGFLOW_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Langflow.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Langflow.BaseURL },
	},
	{
		key: "langflow.api_key", typ: kString, env: "CANON_LANGFLOW_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Langflow.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Langflow.APIKey },
	},
	{
		key: "langflow.flow_id", typ: kString, env: "CANON_LANGFLOW_FLOW_ID",
		apply:   func(cfg *Config, v any) { cfg.Langflow.FlowID = v.(string) },
		extract: func(cfg Config) any { return cfg.Langflow.FlowID },
	},
	{
		key: "langflow.timeout", typ: kDuration, env: "CANON_LANGFLOW_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Langflow.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Langflow.Timeout },
	},
	{
		key: "queue.workers", typ: kInt, env: "CANON_QUEUE_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Queue.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.Workers },
	},
	{
		key: "queue.max_attempts", typ: kInt, env: "CANON_QUEUE_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Queue.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.MaxAttempts },
	},
	{
		key: "queue.backoff_base", typ: kDuration, env: "CANON_QUEUE_BACKOFF_BASE",
		apply:   func(cfg *Config, v any) { cfg.Queue.BackoffBase = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Queue.BackoffBase },
	},
	{
		key: "queue.backoff_max", typ: kDuration, env: "CANON_QUEUE_BACKOFF_MAX",
		apply:   func(cfg *Config, v any) { cfg.Queue.BackoffMax = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Queue.BackoffMax },
	},
	{
		key: "queue.poll_interval", typ: kDuration, env: "CANON_QUEUE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Queue.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Queue.PollInterval },
	},
	{
		key: "queue.retain_completed", typ: kInt, env: "CANON_QUEUE_RETAIN_COMPLETED",
		apply:   func(cfg *Config, v any) { cfg.Queue.RetainCompleted = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.RetainCompleted },
	},
	{
		key: "queue.retain_failed", typ: kInt, env: "CANON_QUEUE_RETAIN_FAILED",
		apply:   func(cfg *Config, v any) { cfg.Queue.RetainFailed = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.RetainFailed },
	},
	{
		key: "graph.backend", typ: kString, env: "CANON_GRAPH_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Graph.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.Backend },
	},
	{
		key: "graph.neo4j_uri", typ: kString, env: "CANON_NEO4J_URI",
		apply:   func(cfg *Config, v any) { cfg.Graph.Neo4jURI = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.Neo4jURI },
	},
	{
		key: "graph.neo4j_user", typ: kString, env: "CANON_NEO4J_USER",
		apply:   func(cfg *Config, v any) { cfg.Graph.Neo4jUser = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.Neo4jUser },
	},
	{
		key: "graph.neo4j_password", typ: kString, env: "CANON_NEO4J_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Graph.Neo4jPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.Neo4jPassword },
	},
	{
		key: "webhook.notify_url", typ: kString, env: "CANON_WEBHOOK_NOTIFY_URL",
		apply:   func(cfg *Config, v any) { cfg.Webhook.NotifyURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Webhook.NotifyURL },
	},
	{
		key: "log.level", typ: kString, env: "CANON_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func envFor(key string) string {
	for _, s := range specs {
		if s.key == key {
			return s.env
		}
	}
	return ""
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
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
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("invalid duration for %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw, ok := lookup(s.env)
		if !ok || raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
