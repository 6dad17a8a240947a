// Package config loads the agent's configuration from a viper-backed
// YAML file with mapstructure tags and HUBLINK_-prefixed environment
// overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/lawik/hub-link/internal/update"
)

// AuthKind discriminates the two auth config variants.
type AuthKind string

const (
	AuthMtls         AuthKind = "mtls"
	AuthSharedSecret AuthKind = "shared_secret"
)

// AuthSection is the polymorphic `auth:` config block. Exactly one of
// the Mtls/SharedSecret branches is populated, per Type.
type AuthSection struct {
	Type AuthKind `mapstructure:"type"`

	CertPath   string `mapstructure:"cert_path"`
	KeyPath    string `mapstructure:"key_path"`
	CACertPath string `mapstructure:"ca_cert_path"`

	Key    string `mapstructure:"key"`
	Secret string `mapstructure:"secret"`
}

// Config is the agent's full configuration.
type Config struct {
	Host string      `mapstructure:"host"`
	Auth AuthSection `mapstructure:"auth"`

	Identifier        string `mapstructure:"identifier"`
	IdentifierCommand string `mapstructure:"identifier_command"`

	FwupDevpath string `mapstructure:"fwup_devpath"`
	FwupTask    string `mapstructure:"fwup_task"`

	Firmware update.FirmwareDescriptor `mapstructure:"firmware"`

	HeartbeatIntervalSecs int    `mapstructure:"heartbeat_interval_secs"`
	DataDir               string `mapstructure:"data_dir"`
	DeviceAPIVersion      string `mapstructure:"device_api_version"`

	Logging LoggingSection `mapstructure:"logging"`
}

// LoggingSection configures the ambient logging stack.
type LoggingSection struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	LogDir string `mapstructure:"log_dir"`
}

// Error is config loading's typed error.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads configuration from configPath (if non-empty) or the usual
// search locations, applies HUBLINK_-prefixed environment overrides,
// decrypts any enc:-prefixed secret values, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/hub-link")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &Error{Code: "CONFIG_READ_FAILED", Message: "failed to read config file", Err: err}
		}
	}

	v.SetEnvPrefix("HUBLINK")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &Error{Code: "CONFIG_PARSE_FAILED", Message: "failed to unmarshal config", Err: err}
	}

	if err := decryptSecrets(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("heartbeat_interval_secs", 30)
	v.SetDefault("fwup_devpath", "/dev/mmcblk0")
	v.SetDefault("fwup_task", "upgrade")
	v.SetDefault("data_dir", "/tmp/hub_link")
	v.SetDefault("device_api_version", "2.3.0")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks the config is complete enough to start a session.
func (c *Config) Validate() error {
	if c.Host == "" {
		return &Error{Code: "INVALID_CONFIG", Message: "host is required"}
	}
	if c.Identifier == "" && c.IdentifierCommand == "" {
		return &Error{Code: "INVALID_CONFIG", Message: "identifier or identifier_command is required"}
	}
	switch c.Auth.Type {
	case AuthMtls:
		if c.Auth.CertPath == "" || c.Auth.KeyPath == "" || c.Auth.CACertPath == "" {
			return &Error{Code: "INVALID_CONFIG", Message: "mtls auth requires cert_path, key_path, and ca_cert_path"}
		}
	case AuthSharedSecret:
		if c.Auth.Key == "" || c.Auth.Secret == "" {
			return &Error{Code: "INVALID_CONFIG", Message: "shared_secret auth requires key and secret"}
		}
	default:
		return &Error{Code: "INVALID_CONFIG", Message: "auth.type must be \"mtls\" or \"shared_secret\""}
	}
	return nil
}

// SocketURL returns the device-socket WebSocket URL for this config.
func (c *Config) SocketURL() string {
	return fmt.Sprintf("wss://%s/device-socket/websocket", c.Host)
}

// HeartbeatInterval returns the configured heartbeat period.
func (c *Config) HeartbeatInterval() time.Duration {
	secs := c.HeartbeatIntervalSecs
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}
