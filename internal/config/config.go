// Package config handles configuration loading, validation, and persistence
// for the blockgate server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir       = "config"
	DefaultConfigFile      = "config.json"
	DefaultGamePort        = 25565
	DefaultAPIPort         = 25580
	DefaultProtocolVersion = 754
	DefaultVersionName     = "1.16.5"
)

// Config is the root configuration structure for blockgate.
type Config struct {
	mu   sync.RWMutex
	path string

	Server  ServerConfig  `json:"server"`
	Network NetworkConfig `json:"network"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	LAN     LANConfig     `json:"lan"`
	Storage StorageConfig `json:"storage"`
	Console ConsoleConfig `json:"console"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig describes the game listener and what it advertises.
type ServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	MOTD            string `json:"motd"`
	MaxPlayers      int    `json:"max_players"`
	VersionName     string `json:"version_name"`
	ProtocolVersion int    `json:"protocol_version"`

	// CompressionThreshold of -1 disables compression negotiation.
	CompressionThreshold int  `json:"compression_threshold"`
	OnlineMode           bool `json:"online_mode"`
}

// Addr returns host:port for the game listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// NetworkConfig holds per-connection limits and timers.
type NetworkConfig struct {
	ReadTimeoutSec       int `json:"read_timeout_sec"`
	FrameTimeoutSec      int `json:"frame_timeout_sec"`
	WriteTimeoutSec      int `json:"write_timeout_sec"`
	MaxFrameSize         int `json:"max_frame_size"`
	MaxUnknownPackets    int `json:"max_unknown_packets"`
	KeepAliveIntervalSec int `json:"keepalive_interval_sec"`
	StaleTimeoutSec      int `json:"stale_timeout_sec"`
}

func (n NetworkConfig) ReadTimeout() time.Duration  { return seconds(n.ReadTimeoutSec) }
func (n NetworkConfig) FrameTimeout() time.Duration { return seconds(n.FrameTimeoutSec) }
func (n NetworkConfig) WriteTimeout() time.Duration { return seconds(n.WriteTimeoutSec) }
func (n NetworkConfig) KeepAliveInterval() time.Duration {
	return seconds(n.KeepAliveIntervalSec)
}
func (n NetworkConfig) StaleTimeout() time.Duration { return seconds(n.StaleTimeoutSec) }

// APIConfig holds admin API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`

	// Token, when set, is required as a bearer token on every /api route
	// outside /api/public.
	Token string `json:"token"`
}

// Addr returns host:port for the admin API.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`

	// StatusIntervalSec is the heartbeat period; 0 disables the heartbeat.
	StatusIntervalSec int `json:"status_interval_sec"`
}

func (m MQTTConfig) StatusInterval() time.Duration { return seconds(m.StatusIntervalSec) }

// LANConfig controls the LAN discovery announcer.
type LANConfig struct {
	Enabled    bool `json:"enabled"`
	IntervalMS int  `json:"interval_ms"`
}

func (l LANConfig) Interval() time.Duration {
	return time.Duration(l.IntervalMS) * time.Millisecond
}

// StorageConfig holds the session journal settings.
type StorageConfig struct {
	DatabasePath  string `json:"database_path"`
	RetentionDays int    `json:"retention_days"`
	// PruneTime is the local HH:MM at which old sessions and logs are removed.
	PruneTime string `json:"prune_time"`
}

// Retention returns how long closed sessions are kept.
func (s StorageConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// PruneClock parses PruneTime into an hour and minute.
func (s StorageConfig) PruneClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s.PruneTime))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid prune time %q, want HH:MM", s.PruneTime)
	}
	return t.Hour(), t.Minute(), nil
}

// ConsoleConfig controls the interactive operator console.
type ConsoleConfig struct {
	Enabled bool `json:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                 "0.0.0.0",
			Port:                 DefaultGamePort,
			MOTD:                 "A blockgate server",
			MaxPlayers:           20,
			VersionName:          DefaultVersionName,
			ProtocolVersion:      DefaultProtocolVersion,
			CompressionThreshold: -1,
		},
		Network: NetworkConfig{
			ReadTimeoutSec:       30,
			FrameTimeoutSec:      10,
			WriteTimeoutSec:      10,
			MaxFrameSize:         2097151,
			MaxUnknownPackets:    0,
			KeepAliveIntervalSec: 15,
			StaleTimeoutSec:      60,
		},
		API: APIConfig{
			Enabled:      true,
			Host:         "127.0.0.1",
			Port:         DefaultAPIPort,
			RateLimitRPS: 100,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "blockgate",

			StatusIntervalSec: 30,
		},
		LAN: LANConfig{
			Enabled:    false,
			IntervalMS: 1500,
		},
		Storage: StorageConfig{
			DatabasePath:  filepath.Join("data", "sessions.db"),
			RetentionDays: 30,
			PruneTime:     "04:00",
		},
		Console: ConsoleConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file in configDir. A missing file is
// created with defaults.
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

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json always lists every option.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the server section.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetNetwork returns a copy of the network section.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network
}

func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

func (c *Config) GetLAN() LANConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LAN
}

func (c *Config) GetStorage() StorageConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Storage
}

func (c *Config) GetConsole() ConsoleConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Console
}

func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// SetMOTD replaces the advertised message of the day.
func (c *Config) SetMOTD(motd string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server.MOTD = motd
}

// ApplyOverrides sets listener and log level values given on the command
// line. Zero values leave the loaded configuration untouched.
func (c *Config) ApplyOverrides(host string, port int, logLevel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if host != "" {
		c.Server.Host = host
	}
	if port != 0 {
		c.Server.Port = port
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// UpdateServerField updates a single field of the server section by its
// JSON key.
func (c *Config) UpdateServerField(key string, value interface{}) error {
	return c.PatchServer(map[string]interface{}{key: value})
}

// PatchServer applies several server fields at once. Nothing changes unless
// every key is known and the result passes validation.
func (c *Config) PatchServer(fields map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Server)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	for key, value := range fields {
		if _, ok := m[key]; !ok {
			return fmt.Errorf("unknown server field %s", key)
		}
		m[key] = value
	}

	updated, _ := json.Marshal(m)
	var server ServerConfig
	if err := json.Unmarshal(updated, &server); err != nil {
		return fmt.Errorf("failed to update server fields: %w", err)
	}

	result := &ValidationResult{}
	validateServer(&server, result)
	if !result.IsValid() {
		return result.Errors[0]
	}

	c.Server = server
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
