package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/uolink-project/uolink/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs validation of the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validateLogin(&cfg.Login, result)
	validateReconnect(&cfg.Reconnect, result)
	validateNetwork(&cfg.Network, result)
	validatePing(&cfg.Ping, result)
	validateTelemetry(&cfg.Telemetry, result)
	validateAPI(&cfg.API, result)
	validateHistory(&cfg.History, result)

	return result
}

func validateLogin(l *LoginConfig, result *ValidationResult) {
	if strings.TrimSpace(l.IP) == "" {
		result.AddError("login.ip", "login server address is required")
	}
	validatePort(l.Port, "login.port", result)

	if strings.TrimSpace(l.Username) == "" {
		result.AddWarning("login.username", "no account configured, connect will need credentials")
	}
	if l.Password != "" {
		result.AddWarning("login.password", "password is stored in the config file in plain text")
	}

	if _, err := protocol.ParseClientVersion(l.ClientVersion); err != nil {
		result.AddError("login.client_version", err.Error())
	}
	if l.AutoLogin && strings.TrimSpace(l.LastServerName) == "" {
		result.AddWarning("login.auto_login", "auto login has no last server to select")
	}
}

func validateReconnect(r *ReconnectConfig, result *ValidationResult) {
	if r.Enabled && r.ReconnectTimeMs < 1000 {
		result.AddWarning("reconnect.reconnect_time_ms",
			fmt.Sprintf("%d ms is below the 1000 ms minimum and will be raised", r.ReconnectTimeMs))
	}
	if r.RelayAttempts < 1 {
		result.AddError("reconnect.relay_attempts", "at least one relay attempt is required")
	}
	if r.RelayTimeoutMs < 100 {
		result.AddError("reconnect.relay_timeout_ms", "relay timeout must be at least 100 ms")
	}
}

func validateNetwork(n *NetworkConfig, result *ValidationResult) {
	if n.PacketsPerTick < 1 {
		result.AddError("network.packets_per_tick", "must drain at least 1 packet per tick")
	}
	if n.TickIntervalMs < 1 {
		result.AddError("network.tick_interval_ms", "tick interval must be positive")
	}
	if n.QueueCapacity < n.PacketsPerTick {
		result.AddWarning("network.queue_capacity", "queue is smaller than one tick of packets")
	}
	if n.ConnectTimeoutMs < 100 {
		result.AddWarning("network.connect_timeout_ms", "connect timeout under 100 ms will fail on most links")
	}
	if n.KeepAliveSec < 0 {
		result.AddError("network.keepalive_sec", "keepalive interval cannot be negative")
	}
}

func validatePing(p *PingConfig, result *ValidationResult) {
	if !p.Enabled {
		return
	}
	if p.TimeoutMs < 1 {
		result.AddError("ping.timeout_ms", "ping timeout must be positive")
	}
	if p.IntervalMs < p.TimeoutMs {
		result.AddWarning("ping.interval_ms", "probe interval is shorter than the ping timeout")
	}
	if p.Privileged {
		result.AddWarning("ping.privileged", "raw ICMP sockets need elevated permissions")
	}
}

func validateTelemetry(t *TelemetryConfig, result *ValidationResult) {
	if !t.Enabled {
		return
	}
	if strings.TrimSpace(t.BrokerURL) == "" {
		result.AddError("telemetry.broker_url", "MQTT broker URL is required when enabled")
	}
	if t.Port < 1 || t.Port > 65535 {
		result.AddError("telemetry.port", "invalid MQTT port")
	}
	if t.UseTLS && (t.CertFile == "") != (t.KeyFile == "") {
		result.AddError("telemetry.cert_file", "client certificate and key must be set together")
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	host, port, err := net.SplitHostPort(a.Address)
	if err != nil {
		result.AddError("api.address", fmt.Sprintf("invalid listen address: %v", err))
		return
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && !ip.IsLoopback()) {
		if a.Token == "" {
			result.AddWarning("api.address", "API listens beyond loopback without a token")
		}
	}
	var p int
	if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
		result.AddError("api.address", "invalid port")
		return
	}
	validatePort(p, "api.address", result)
}

func validateHistory(h *HistoryConfig, result *ValidationResult) {
	if !h.Enabled {
		return
	}
	if _, err := time.Parse("15:04", h.CleanupTime); err != nil {
		result.AddError("history.cleanup_time", "cleanup time must be HH:MM")
	}
	if h.RetentionDays < 1 {
		result.AddError("history.retention_days", "retention days must be at least 1")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
	}
}
