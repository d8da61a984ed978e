// Package config loads Canon settings from defaults, a JSON file and
// CANON_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Langflow LangflowConfig
	Queue    QueueConfig
	Graph    GraphConfig
	Webhook  WebhookConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int `validate:"min=1,max=65535"`
	APIToken string
}

type StorageConfig struct {
	DataDir string `validate:"required"`
}

type LangflowConfig struct {
	BaseURL string        `validate:"required,url"`
	APIKey  string        `validate:"required"`
	FlowID  string        `validate:"required"`
	Timeout time.Duration
}

type QueueConfig struct {
	Workers         int `validate:"min=1"`
	MaxAttempts     int `validate:"min=1"`
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	PollInterval    time.Duration
	RetainCompleted int
	RetainFailed    int
}

type GraphConfig struct {
	Backend       string `validate:"oneof=sqlite neo4j"`
	Neo4jURI      string `validate:"required_if=Backend neo4j"`
	Neo4jUser     string
	Neo4jPassword string
}

type WebhookConfig struct {
	NotifyURL string `validate:"omitempty,url"`
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 3000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Langflow: LangflowConfig{
			BaseURL: "http://localhost:7860",
			FlowID:  "4051bf48-02a2-46a6-8fd7-83ee074125d9",
			Timeout: 5 * time.Minute,
		},
		Queue: QueueConfig{
			Workers:         1,
			MaxAttempts:     3,
			BackoffBase:     2 * time.Second,
			BackoffMax:      5 * time.Minute,
			PollInterval:    time.Second,
			RetainCompleted: 10,
			RetainFailed:    5,
		},
		Graph: GraphConfig{
			Backend:   "sqlite",
			Neo4jURI:  "bolt://localhost:7687",
			Neo4jUser: "neo4j",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/canon/config.json and applies CANON_* environment
// overrides. Secrets are read from the environment only.
//
// Load does not check that the server can start; call Validate for that.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), os.LookupEnv)
}

func loadWith(b ConfigBackend, lookup func(string) (string, bool)) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg, lookup)

	return cfg, nil
}

var validate = validator.New()

// Validate reports the first setting that would keep the server from
// starting.
func (c Config) Validate() error {
	if c.Langflow.APIKey == "" {
		return fmt.Errorf("missing required config: Langflow API key. Set it via environment variable %s", envFor("langflow.api_key"))
	}
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed on '%s' validation (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
