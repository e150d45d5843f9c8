package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"
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

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validateServer(&cfg.Server, result)
	validateNetwork(&cfg.Network, result)
	validateAPI(&cfg.API, cfg.Server.Port, result)
	validateServices(cfg, result)

	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if s.Host != "" && net.ParseIP(s.Host) == nil && s.Host != "localhost" {
		result.AddWarning("server.host", fmt.Sprintf("host %q is not an IP address, it will be resolved at bind time", s.Host))
	}
	// Port 0 binds an ephemeral port.
	if s.Port != 0 {
		validatePort(s.Port, "server.port", result)
	}

	if s.MaxPlayers < 1 {
		result.AddError("server.max_players", "must allow at least 1 player")
	}
	if s.ProtocolVersion < 0 {
		result.AddError("server.protocol_version", "protocol version cannot be negative")
	}
	if strings.TrimSpace(s.VersionName) == "" {
		result.AddWarning("server.version_name", "version name is empty")
	}
	if len([]rune(s.MOTD)) > 256 {
		result.AddWarning("server.motd", "MOTD longer than 256 characters may be truncated by clients")
	}
	if s.CompressionThreshold < -1 {
		result.AddError("server.compression_threshold", "must be -1 (disabled) or a byte count >= 0")
	}
	if s.OnlineMode {
		result.AddError("server.online_mode", "online mode requires session authentication, which is not supported")
	}
}

func validateNetwork(n *NetworkConfig, result *ValidationResult) {
	positive := map[string]int{
		"network.read_timeout_sec":       n.ReadTimeoutSec,
		"network.frame_timeout_sec":      n.FrameTimeoutSec,
		"network.write_timeout_sec":      n.WriteTimeoutSec,
		"network.keepalive_interval_sec": n.KeepAliveIntervalSec,
		"network.stale_timeout_sec":      n.StaleTimeoutSec,
	}
	for field, v := range positive {
		if v <= 0 {
			result.AddError(field, "must be greater than 0")
		}
	}

	if n.MaxFrameSize < 1 || n.MaxFrameSize > 2097151 {
		result.AddError("network.max_frame_size", "must be between 1 and 2097151")
	}
	if n.MaxUnknownPackets < 0 {
		result.AddError("network.max_unknown_packets", "must be 0 (unlimited) or positive")
	}
	if n.KeepAliveIntervalSec > 0 && n.ReadTimeoutSec > 0 && n.KeepAliveIntervalSec >= n.ReadTimeoutSec {
		result.AddWarning("network.keepalive_interval_sec",
			"keep-alive interval is not shorter than the read timeout, idle players may be dropped")
	}
}

func validateAPI(a *APIConfig, gamePort int, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.Port == gamePort {
		result.AddError("api.port", "port conflict detected: api and game ports must differ")
	}
	if a.TLSEnabled {
		if strings.TrimSpace(a.TLSCertFile) == "" {
			result.AddError("api.tls_cert_file", "TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(a.TLSKeyFile) == "" {
			result.AddError("api.tls_key_file", "TLS key file is required when TLS is enabled")
		}
	}
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	if ip := net.ParseIP(a.Host); ip != nil && !ip.IsLoopback() && a.Token == "" {
		result.AddWarning("api.host", "admin API is reachable from other hosts and has no authentication")
	}
}

func validateServices(cfg *Config, result *ValidationResult) {
	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if cfg.LAN.Enabled && cfg.LAN.IntervalMS < 100 {
		result.AddError("lan.interval_ms", "announce interval must be at least 100ms")
	}

	if strings.TrimSpace(cfg.Storage.DatabasePath) == "" {
		result.AddError("storage.database_path", "database path is required")
	}
	if cfg.Storage.RetentionDays < 1 {
		result.AddError("storage.retention_days", "retention days must be at least 1")
	}
	if _, _, err := cfg.Storage.PruneClock(); err != nil {
		result.AddError("storage.prune_time", err.Error())
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		result.AddError("logging.level", fmt.Sprintf("unknown log level %q", cfg.Logging.Level))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
