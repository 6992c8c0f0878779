/*
Package configs is responsible for loading and parsing the application's configuration settings.

Values are layered with koanf: struct defaults, then an optional YAML file (CONFIG_PATH or
config.yaml), then environment variables such as PORT or HEARTBEAT_TIMEOUT, which win.
*/
package configs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the variable that points at a YAML config file.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment     string        `koanf:"environment"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Security Settings
	AllowedOrigins      []string `koanf:"allowed_origins"`
	BridgeSecret        string   `koanf:"bridge_secret"`
	SessionSecret       string   `koanf:"session_secret"`
	RequireSessionToken bool     `koanf:"require_session_token"`

	// Liveness Settings
	HeartbeatTimeout  time.Duration `koanf:"heartbeat_timeout"`
	HeartbeatGrace    time.Duration `koanf:"heartbeat_grace"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// Capacity Settings
	SendBuffer         int     `koanf:"send_buffer"`
	MaxConnections     int     `koanf:"max_connections"`
	ConnectRate        float64 `koanf:"connect_rate"`
	ConnectBurst       int     `koanf:"connect_burst"`
	ProtocolErrorRate  float64 `koanf:"protocol_error_rate"`
	ProtocolErrorBurst int     `koanf:"protocol_error_burst"`

	// Presence persistence; empty disables it.
	DatabaseURL string `koanf:"database_url"`

	// NATS bridge; empty disables it.
	NATSURL           string `koanf:"nats_url"`
	NATSSubjectPrefix string `koanf:"nats_subject_prefix"`
}

// IsDevelopment reports whether the service runs in development mode.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Environment:     "development",
		Port:            8081,
		ShutdownTimeout: 10 * time.Second,

		AllowedOrigins: []string{},

		HeartbeatTimeout:  30 * time.Second,
		HeartbeatGrace:    10 * time.Second,
		HeartbeatInterval: 5 * time.Second,

		SendBuffer:         256,
		MaxConnections:     10000,
		ConnectRate:        1,
		ConnectBurst:       10,
		ProtocolErrorRate:  1,
		ProtocolErrorBurst: 10,

		NATSSubjectPrefix: "realtime",
	}
}

// LoadConfig reads defaults, the optional config file and the environment, then validates the result.
func LoadConfig() (*AppConfig, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	known := make(map[string]struct{})
	for _, key := range k.Keys() {
		known[key] = struct{}{}
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", func(key string) string {
		key = strings.ToLower(key)
		if _, ok := known[key]; !ok {
			return ""
		}
		return key
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitOrigins(k); err != nil {
		return nil, err
	}

	cfg := &AppConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config path, or "" when there is none.
func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// splitOrigins turns a comma-separated ALLOWED_ORIGINS into a list. YAML lists are left alone.
func splitOrigins(k *koanf.Koanf) error {
	raw, ok := k.Get("allowed_origins").(string)
	if !ok {
		return nil
	}
	origins := []string{}
	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if err := k.Set("allowed_origins", origins); err != nil {
		return fmt.Errorf("failed to parse allowed_origins: %w", err)
	}
	return nil
}

// Validate checks ranges and the secrets required outside development.
func (c *AppConfig) Validate() error {
	switch c.Environment {
	case "development", "production", "test":
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}

	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", c.Port, 1024, 65535)
	}

	if c.HeartbeatTimeout <= 0 || c.HeartbeatGrace <= 0 || c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat durations must be positive")
	}
	if c.HeartbeatInterval > c.HeartbeatTimeout {
		return fmt.Errorf("heartbeat_interval %s must not exceed heartbeat_timeout %s", c.HeartbeatInterval, c.HeartbeatTimeout)
	}

	if c.SendBuffer < 1 {
		return fmt.Errorf("send_buffer must be at least 1")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}
	if c.ConnectRate <= 0 || c.ConnectBurst < 1 {
		return fmt.Errorf("connect_rate must be positive and connect_burst at least 1")
	}
	if c.ProtocolErrorRate <= 0 || c.ProtocolErrorBurst < 1 {
		return fmt.Errorf("protocol_error_rate must be positive and protocol_error_burst at least 1")
	}

	if c.RequireSessionToken && c.SessionSecret == "" {
		return fmt.Errorf("session_secret is required when require_session_token is enabled")
	}
	if c.Environment == "production" && c.BridgeSecret == "" {
		return fmt.Errorf("BRIDGE_SECRET environment variable is required in %s environment for security", c.Environment)
	}

	if c.NATSURL != "" && c.NATSSubjectPrefix == "" {
		return fmt.Errorf("nats_subject_prefix must not be empty when nats_url is set")
	}
	return nil
}
