// Package config provides configuration management for ovpn-mgmt.
// It handles loading, saving, and validating application settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/mgmt"
)

// DefaultManagementPort is the port most deployments give the management
// interface.
const DefaultManagementPort = 7505

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	Management    ManagementConfig    `yaml:"management"`
	Events        EventsConfig        `yaml:"events"`
	Journal       JournalConfig       `yaml:"journal"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Health        HealthConfig        `yaml:"health"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Bridge        BridgeConfig        `yaml:"bridge"`
	Log           LogConfig           `yaml:"log"`
}

// ManagementConfig says where the management interface listens. Either
// Socket or Host and Port is set, never both.
type ManagementConfig struct {
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	Socket string `yaml:"socket,omitempty"`
	// ConnectTimeout bounds dialing and the banner handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// CommandTimeout bounds one command round trip.
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// UseKeyring looks up the management password in the credential store.
	UseKeyring bool `yaml:"use_keyring"`
}

// EventsConfig selects which unsolicited lines become events.
type EventsConfig struct {
	// CaptureNotifications also turns >LOG:, >STATE:, >BYTECOUNT: and
	// similar lines into events instead of response lines.
	CaptureNotifications bool `yaml:"capture_notifications"`
}

// JournalConfig controls the client-event journal.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path defaults to ~/.local/share/ovpn-mgmt/events.db.
	Path string `yaml:"path,omitempty"`
	// Retention drops entries older than this on open. Zero keeps all.
	Retention time.Duration `yaml:"retention"`
}

// NotificationsConfig controls desktop notifications for client events.
type NotificationsConfig struct {
	Enabled      bool `yaml:"enabled"`
	OnConnect    bool `yaml:"on_connect"`
	OnDisconnect bool `yaml:"on_disconnect"`
}

// HealthConfig controls the load-stats probe and auto-reconnect.
type HealthConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Interval             time.Duration `yaml:"interval"`
	FailureThreshold     int           `yaml:"failure_threshold"`
	AutoReconnect        bool          `yaml:"auto_reconnect"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// MonitorConfig controls the terminal monitor.
type MonitorConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// BridgeConfig controls the HTTP/WebSocket bridge.
type BridgeConfig struct {
	Listen string `yaml:"listen"`
	// AllowedOrigins lists WebSocket origins accepted besides same-host.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level      string `yaml:"level"`
	File       bool   `yaml:"file"`
	Dir        string `yaml:"dir,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig returns the default configuration.
// These are sensible defaults for most users.
func DefaultConfig() *Config {
	return &Config{
		Management: ManagementConfig{
			Host:           "127.0.0.1",
			Port:           DefaultManagementPort,
			ConnectTimeout: common.ConnectionTimeout,
			CommandTimeout: common.CommandTimeout,
			UseKeyring:     true,
		},
		Journal: JournalConfig{
			Enabled:   true,
			Retention: 30 * 24 * time.Hour,
		},
		Notifications: NotificationsConfig{
			Enabled:      false,
			OnConnect:    true,
			OnDisconnect: true,
		},
		Health: HealthConfig{
			Enabled:              true,
			Interval:             common.HealthCheckInterval,
			FailureThreshold:     3,
			AutoReconnect:        true,
			ReconnectDelay:       common.ReconnectDelay,
			MaxReconnectAttempts: 5,
		},
		Monitor: MonitorConfig{
			RefreshInterval: common.MonitorInterval,
		},
		Bridge: BridgeConfig{
			Listen: "127.0.0.1:8505",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 5,
		},
	}
}

// Path returns the default configuration file path.
func Path() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ConfigFileName), nil
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := Path()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration from path, writing defaults there when
// the file does not exist.
func LoadFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(path); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: error opening configuration: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	// Start from defaults so omitted sections keep sensible values. The
	// address is left empty so a file naming only a socket stays valid.
	config := DefaultConfig()
	config.Management.Host = ""
	config.Management.Port = 0
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: error parsing configuration: %v", common.ErrConfigLoad, err)
	}
	if config.Management.Socket == "" && config.Management.Host == "" && config.Management.Port == 0 {
		config.Management.Host = "127.0.0.1"
		config.Management.Port = DefaultManagementPort
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate verifies that configuration values are valid. Zero timeouts
// fall back to defaults.
func (c *Config) Validate() error {
	if err := c.ManagementAddress().Validate(); err != nil {
		return err
	}

	defaults := DefaultConfig()
	if c.Management.ConnectTimeout <= 0 {
		c.Management.ConnectTimeout = defaults.Management.ConnectTimeout
	}
	if c.Management.CommandTimeout <= 0 {
		c.Management.CommandTimeout = defaults.Management.CommandTimeout
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = defaults.Health.Interval
	}
	if c.Health.FailureThreshold <= 0 {
		c.Health.FailureThreshold = defaults.Health.FailureThreshold
	}
	if c.Health.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: health.max_reconnect_attempts must not be negative", common.ErrInvalidConfig)
	}
	if c.Monitor.RefreshInterval <= 0 {
		c.Monitor.RefreshInterval = defaults.Monitor.RefreshInterval
	}
	if c.Journal.Retention < 0 {
		return fmt.Errorf("%w: journal.retention must not be negative", common.ErrInvalidConfig)
	}

	if _, err := common.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ManagementAddress converts the management section to an address.
func (c *Config) ManagementAddress() mgmt.Address {
	return mgmt.Address{
		Host:   c.Management.Host,
		Port:   c.Management.Port,
		Socket: c.Management.Socket,
	}
}

// LoggerConfig converts the log section for common.InitLogger.
func (c *Config) LoggerConfig() common.LogConfig {
	level, err := common.ParseLevel(c.Log.Level)
	if err != nil {
		level = common.LevelInfo
	}
	return common.LogConfig{
		Level:       level,
		EnableFile:  c.Log.File,
		Dir:         c.Log.Dir,
		MaxFileSize: int64(c.Log.MaxSizeMB) * 1024 * 1024,
		MaxBackups:  c.Log.MaxBackups,
	}
}

// JournalPath returns the journal database path, defaulting to the data
// directory.
func (c *Config) JournalPath() (string, error) {
	if c.Journal.Path != "" {
		return c.Journal.Path, nil
	}
	dir, err := common.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.JournalFileName), nil
}

// Save saves the configuration to the default file.
func (c *Config) Save() error {
	configPath, err := Path()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}
	return c.SaveTo(configPath)
}

// SaveTo saves the configuration to path.
func (c *Config) SaveTo(path string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: error creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: error serializing configuration: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("%w: error saving configuration: %v", common.ErrConfigSave, err)
	}

	return nil
}
