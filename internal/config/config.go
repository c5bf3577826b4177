package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full client configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Conn    ConnConfig    `yaml:"conn"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	// BaseURL is the HTTP API endpoint, e.g. "https://api.skein.dev".
	BaseURL string `yaml:"base_url"`
	// ChannelURL is the streaming channel endpoint, e.g. "wss://api.skein.dev/ws".
	ChannelURL string `yaml:"channel_url"`
}

type ConnConfig struct {
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	HeartbeatGrace    Duration `yaml:"heartbeat_grace"`
	BackoffBase       Duration `yaml:"backoff_base"`
	BackoffCap        Duration `yaml:"backoff_cap"`
	BackoffJitter     Duration `yaml:"backoff_jitter"`
	// BackoffMaxAttempt caps the exponent, not the number of retries.
	BackoffMaxAttempt int `yaml:"backoff_max_attempt"`
	// SendRate limits outbound channel messages per second. 0 disables.
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`
}

type AuthConfig struct {
	LockTTL       Duration `yaml:"lock_ttl"`
	BroadcastWait Duration `yaml:"broadcast_wait"`
	RetryWait     Duration `yaml:"retry_wait"`
	// RefreshEarly refreshes the access token this long before its exp claim.
	RefreshEarly Duration `yaml:"refresh_early"`
}

type StorageConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
	DatabasePath    string `yaml:"database_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Duration wraps time.Duration so yaml configs can say "10s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the built-in configuration. Timing values are tunable
// defaults, not protocol requirements.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:    "https://api.skein.dev",
			ChannelURL: "wss://api.skein.dev/ws",
		},
		Conn: ConnConfig{
			HeartbeatInterval: Duration(10 * time.Second),
			HeartbeatGrace:    Duration(5 * time.Second),
			BackoffBase:       Duration(500 * time.Millisecond),
			BackoffCap:        Duration(10 * time.Second),
			BackoffJitter:     Duration(250 * time.Millisecond),
			BackoffMaxAttempt: 6,
			SendRate:          20,
			SendBurst:         40,
		},
		Auth: AuthConfig{
			LockTTL:       Duration(15 * time.Second),
			BroadcastWait: Duration(5 * time.Second),
			RetryWait:     Duration(1500 * time.Millisecond),
			RefreshEarly:  Duration(30 * time.Second),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path, layered over Default. A missing file
// is not an error. Environment variables override both.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if v := os.Getenv("SKEIN_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("SKEIN_CHANNEL_URL"); v != "" {
		cfg.Server.ChannelURL = v
	}
	if v := os.Getenv("SKEIN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if cfg.Storage.CredentialsPath == "" || cfg.Storage.DatabasePath == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		if cfg.Storage.CredentialsPath == "" {
			cfg.Storage.CredentialsPath = CredentialsPath(dir)
		}
		if cfg.Storage.DatabasePath == "" {
			cfg.Storage.DatabasePath = DatabasePath(dir)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Server.ChannelURL == "" {
		return fmt.Errorf("server.channel_url is required")
	}
	if c.Conn.HeartbeatInterval.Std() <= 0 {
		return fmt.Errorf("conn.heartbeat_interval must be positive")
	}
	if c.Conn.BackoffBase.Std() <= 0 || c.Conn.BackoffCap.Std() < c.Conn.BackoffBase.Std() {
		return fmt.Errorf("conn backoff base/cap out of range")
	}
	if c.Auth.LockTTL.Std() <= 0 {
		return fmt.Errorf("auth.lock_ttl must be positive")
	}
	return nil
}
