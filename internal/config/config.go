// ABOUTME: Configuration loading and parsing for thread-relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete thread-relay configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Client   ClientConfig   `yaml:"client"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig holds per-connection tuning for the WebSocket gateway
type GatewayConfig struct {
	SendTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`
	ReadLimit    int64         `yaml:"read_limit"`

	// Raw string values for YAML unmarshaling
	SendTimeoutRaw  string `yaml:"send_timeout"`
	WriteTimeoutRaw string `yaml:"write_timeout"`
}

// ClientConfig holds reconnection and dial tuning for the client session
// manager. Backoff and timeout values are configuration, not constants.
type ClientConfig struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	BaseBackoff          time.Duration `yaml:"-"`
	MaxBackoff           time.Duration `yaml:"-"`
	ConnectTimeout       time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	BaseBackoffRaw    string `yaml:"base_backoff"`
	MaxBackoffRaw     string `yaml:"max_backoff"`
	ConnectTimeoutRaw string `yaml:"connect_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default values applied when the config file leaves a knob unset.
const (
	DefaultHTTPAddr             = "localhost:8080"
	DefaultSendTimeout          = time.Second
	DefaultWriteTimeout         = 10 * time.Second
	DefaultReadLimit            = 64 << 10
	DefaultMaxReconnectAttempts = 5
	DefaultBaseBackoff          = 500 * time.Millisecond
	DefaultMaxBackoff           = 10 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config with every knob at its default value, except the
// database path which has no sensible default and must be set by the caller.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Client.MaxReconnectAttempts < 0 {
		return fmt.Errorf("client.max_reconnect_attempts must not be negative")
	}

	if c.Client.BaseBackoff > c.Client.MaxBackoff {
		return fmt.Errorf("client.base_backoff must not exceed client.max_backoff")
	}

	return nil
}

// applyDefaults fills in defaults for every unset knob.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Gateway.SendTimeout == 0 {
		c.Gateway.SendTimeout = DefaultSendTimeout
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = DefaultWriteTimeout
	}
	if c.Gateway.ReadLimit == 0 {
		c.Gateway.ReadLimit = DefaultReadLimit
	}
	if c.Client.MaxReconnectAttempts == 0 {
		c.Client.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Client.BaseBackoff == 0 {
		c.Client.BaseBackoff = DefaultBaseBackoff
	}
	if c.Client.MaxBackoff == 0 {
		c.Client.MaxBackoff = DefaultMaxBackoff
	}
	if c.Client.ConnectTimeout == 0 {
		c.Client.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Gateway.SendTimeoutRaw != "" {
		cfg.Gateway.SendTimeout, err = time.ParseDuration(cfg.Gateway.SendTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing send_timeout %q: %w", cfg.Gateway.SendTimeoutRaw, err)
		}
	}

	if cfg.Gateway.WriteTimeoutRaw != "" {
		cfg.Gateway.WriteTimeout, err = time.ParseDuration(cfg.Gateway.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing write_timeout %q: %w", cfg.Gateway.WriteTimeoutRaw, err)
		}
	}

	if cfg.Client.BaseBackoffRaw != "" {
		cfg.Client.BaseBackoff, err = time.ParseDuration(cfg.Client.BaseBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing base_backoff %q: %w", cfg.Client.BaseBackoffRaw, err)
		}
	}

	if cfg.Client.MaxBackoffRaw != "" {
		cfg.Client.MaxBackoff, err = time.ParseDuration(cfg.Client.MaxBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing max_backoff %q: %w", cfg.Client.MaxBackoffRaw, err)
		}
	}

	if cfg.Client.ConnectTimeoutRaw != "" {
		cfg.Client.ConnectTimeout, err = time.ParseDuration(cfg.Client.ConnectTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing connect_timeout %q: %w", cfg.Client.ConnectTimeoutRaw, err)
		}
	}

	return nil
}
