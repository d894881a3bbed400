// Package config handles configuration loading, validation, and persistence
// for the uolink client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir     = "config"
	DefaultConfigFile    = "config.json"
	DefaultLoginPort     = 2593
	DefaultClientVersion = "7.0.95.0"
	DefaultAPIAddress    = "127.0.0.1:5080"
)

// Config is the root configuration structure for uolink.
type Config struct {
	mu   sync.RWMutex
	path string

	// passwordOverride holds a password given on the command line. It is
	// never written to disk.
	passwordOverride string

	Login     LoginConfig     `json:"login"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Network   NetworkConfig   `json:"network"`
	Ping      PingConfig      `json:"ping"`
	Telemetry TelemetryConfig `json:"telemetry"`
	API       APIConfig       `json:"api"`
	Database  DatabaseConfig  `json:"database"`
	History   HistoryConfig   `json:"history"`
	Logging   LoggingConfig   `json:"logging"`
}

// LoginConfig holds the login server and account settings.
type LoginConfig struct {
	IP             string `json:"ip"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
	Password       string `json:"password,omitempty"`
	ClientVersion  string `json:"client_version"`
	Encryption     bool   `json:"encryption"`
	IgnoreRelayIP  bool   `json:"ignore_relay_ip"`
	AutoLogin      bool   `json:"auto_login"`
	LastServerName string `json:"last_server_name"`
	ClientFlags    uint32 `json:"client_flags"`
}

// ReconnectConfig holds the reconnect policy and relay bounds.
type ReconnectConfig struct {
	Enabled         bool `json:"enabled"`
	ReconnectTimeMs int  `json:"reconnect_time_ms"`
	RelayAttempts   int  `json:"relay_attempts"`
	RelayTimeoutMs  int  `json:"relay_timeout_ms"`
}

// NetworkConfig holds transport and tick settings.
type NetworkConfig struct {
	PacketsPerTick   int `json:"packets_per_tick"`
	TickIntervalMs   int `json:"tick_interval_ms"`
	QueueCapacity    int `json:"queue_capacity"`
	ConnectTimeoutMs int `json:"connect_timeout_ms"`
	WriteTimeoutMs   int `json:"write_timeout_ms"`
	KeepAliveSec     int `json:"keepalive_sec"`
}

// PingConfig holds server list prober settings.
type PingConfig struct {
	Enabled    bool `json:"enabled"`
	IntervalMs int  `json:"interval_ms"`
	TimeoutMs  int  `json:"timeout_ms"`
	Privileged bool `json:"privileged"`
}

// TelemetryConfig holds MQTT telemetry settings.
type TelemetryConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// APIConfig holds the local HTTP API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Address        string   `json:"address"`
	AllowedOrigins []string `json:"allowed_origins"`
	Token          string   `json:"token"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// DatabaseConfig holds the profile store settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// HistoryConfig holds retention for recorded ping samples and log files.
type HistoryConfig struct {
	Enabled          bool   `json:"enabled"`
	CleanupTime      string `json:"cleanup_time"`
	RetentionDays    int    `json:"retention_days"`
	LogRetentionDays int    `json:"log_retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
	Console   bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Login: LoginConfig{
			IP:            "127.0.0.1",
			Port:          DefaultLoginPort,
			ClientVersion: DefaultClientVersion,
			Encryption:    false,
		},
		Reconnect: ReconnectConfig{
			Enabled:         false,
			ReconnectTimeMs: 1000,
			RelayAttempts:   5,
			RelayTimeoutMs:  3000,
		},
		Network: NetworkConfig{
			PacketsPerTick:   25,
			TickIntervalMs:   16,
			QueueCapacity:    4096,
			ConnectTimeoutMs: 5000,
			WriteTimeoutMs:   10000,
			KeepAliveSec:     30,
		},
		Ping: PingConfig{
			Enabled:    true,
			IntervalMs: 2000,
			TimeoutMs:  1000,
			Privileged: false,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Port:    1883,
		},
		API: APIConfig{
			Enabled:     true,
			Address:     DefaultAPIAddress,
			TLSCertFile: filepath.Join("data", "tls", "api.crt"),
			TLSKeyFile:  filepath.Join("data", "tls", "api.key"),
		},
		Database: DatabaseConfig{
			Path: filepath.Join("data", "uolink.db"),
		},
		History: HistoryConfig{
			Enabled:          true,
			CleanupTime:      "04:00",
			RetentionDays:    7,
			LogRetentionDays: 14,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Directory: "logs",
			Console:   true,
		},
	}
}

// Load reads configuration from a JSON file in configDir, creating a
// default file when none exists.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return fmt.Errorf("config has no file path")
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetLogin returns a copy of the login configuration.
func (c *Config) GetLogin() LoginConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Login
}

// SetLogin updates the login configuration.
func (c *Config) SetLogin(l LoginConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Login = l
}

// GetReconnect returns a copy of the reconnect configuration.
func (c *Config) GetReconnect() ReconnectConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Reconnect
}

// GetNetwork returns a copy of the network configuration.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network
}

// GetPing returns a copy of the prober configuration.
func (c *Config) GetPing() PingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Ping
}

// GetTelemetry returns a copy of the telemetry configuration.
func (c *Config) GetTelemetry() TelemetryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Telemetry
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	api := c.API
	api.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return api
}

// GetHistory returns a copy of the retention configuration.
func (c *Config) GetHistory() HistoryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.History
}

// SetLastServerName records the last selected shard.
func (c *Config) SetLastServerName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Login.LastServerName = name
}

// SetPasswordOverride sets a password that is used for this run only.
func (c *Config) SetPasswordOverride(password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passwordOverride = password
}

// Password returns the command-line password if one was given, otherwise
// the one from the file.
func (c *Config) Password() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.passwordOverride != "" {
		return c.passwordOverride
	}
	return c.Login.Password
}

// UpdateField sets key within section from a JSON-compatible value.
func (c *Config) UpdateField(section, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, ok := c.sectionLocked(section)
	if !ok {
		return fmt.Errorf("unknown config section %q", section)
	}

	data, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("failed to marshal section %s: %w", section, err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode section %s: %w", section, err)
	}
	if _, exists := m[key]; !exists && !(section == "login" && key == "password") {
		return fmt.Errorf("unknown field %s.%s", section, key)
	}

	m[key] = value
	updated, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to update field %s.%s: %w", section, key, err)
	}
	if err := json.Unmarshal(updated, target); err != nil {
		return fmt.Errorf("failed to update field %s.%s: %w", section, key, err)
	}
	return nil
}

// Field returns the JSON value of key within section.
func (c *Config) Field(section, key string) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	target, ok := c.sectionLocked(section)
	if !ok {
		return nil, fmt.Errorf("unknown config section %q", section)
	}
	data, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal section %s: %w", section, err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode section %s: %w", section, err)
	}
	v, exists := m[key]
	if !exists {
		return nil, fmt.Errorf("unknown field %s.%s", section, key)
	}
	return v, nil
}

func (c *Config) sectionLocked(name string) (interface{}, bool) {
	switch name {
	case "login":
		return &c.Login, true
	case "reconnect":
		return &c.Reconnect, true
	case "network":
		return &c.Network, true
	case "ping":
		return &c.Ping, true
	case "telemetry":
		return &c.Telemetry, true
	case "api":
		return &c.API, true
	case "database":
		return &c.Database, true
	case "history":
		return &c.History, true
	case "logging":
		return &c.Logging, true
	}
	return nil, false
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Login.Username == "" || c.Login.IP == ""
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
