package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gree bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Gree     GreeConfig     `yaml:"gree"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Health   HealthConfig   `yaml:"health"`
}

// BridgeConfig contains bridge identity and MQTT topic settings.
type BridgeConfig struct {
	// ID identifies this bridge instance in health and status messages.
	ID string `yaml:"id"`

	// TopicPrefix is the root of all device topics.
	// State is published to {prefix}/{device_id}, commands arrive on
	// {prefix}/{device_id}/set.
	TopicPrefix string `yaml:"topic_prefix"`
}

// GreeConfig contains device protocol and scheduling settings.
type GreeConfig struct {
	// Network is the list of device IP addresses to target directly.
	// Leave empty to rely on broadcast discovery only.
	Network []string `yaml:"network"`

	// Broadcast is the subnet broadcast address used for discovery
	// when Network is empty (e.g., "192.168.1.255").
	Broadcast string `yaml:"broadcast"`

	// UDPPort is the device control port. Default: 7000 (vendor default).
	UDPPort int `yaml:"udp_port"`

	// ExchangeTimeout is the per-attempt timeout for a request/response
	// exchange with a device.
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"`

	// MaxRetries is the number of retries after the initial attempt
	// before an exchange fails with DeviceUnreachable.
	MaxRetries int `yaml:"max_retries"`

	// RetryInterval is how often devices that were not found during
	// startup discovery are re-scanned.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// SyncTime enables pushing the host clock to each device after bind.
	SyncTime bool `yaml:"sync_time"`

	// TrackingParams is the list of device parameters requested on every
	// status poll. Empty means the built-in default set.
	TrackingParams []string `yaml:"tracking_params"`

	Polling    PollingConfig    `yaml:"polling"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
}

// PollingConfig contains the adaptive polling tier settings.
//
// Each tier has an interval (how often a device at that tier is polled)
// and a hold duration (how long the tier is held before decaying one
// step towards normal). Normal has no hold; it is the terminal tier.
type PollingConfig struct {
	NormalInterval    time.Duration `yaml:"normal_interval"`
	FastInterval      time.Duration `yaml:"fast_interval"`
	FastHold          time.Duration `yaml:"fast_hold"`
	UltraFastInterval time.Duration `yaml:"ultra_fast_interval"`
	UltraFastHold     time.Duration `yaml:"ultra_fast_hold"`
	ImmediateInterval time.Duration `yaml:"immediate_interval"`
	ImmediateHold     time.Duration `yaml:"immediate_hold"`
}

// DispatcherConfig contains command dispatcher settings.
type DispatcherConfig struct {
	// Workers is the number of concurrent command workers.
	Workers int `yaml:"workers"`

	// QueueSize is the inbound command queue capacity.
	QueueSize int `yaml:"queue_size"`

	// CommandTimeout bounds a single command execution end to end.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Retain    bool                `yaml:"retain"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for command and
// poll latency metrics. Optional; the bridge runs without it.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HealthConfig contains health reporting settings.
type HealthConfig struct {
	// Interval is how often health status is published over MQTT.
	Interval time.Duration `yaml:"interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GREEBRIDGE_SECTION_KEY
// For example: GREEBRIDGE_MQTT_HOST, GREEBRIDGE_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultTrackingParams is the vendor parameter set requested on every
// status poll when gree.tracking_params is not configured.
var DefaultTrackingParams = []string{
	"Pow", "Mod", "SetTem", "TemUn", "WdSpd", "Air", "Blo", "Health",
	"SwhSlp", "Lig", "SwingLfRig", "SwUpDn", "Quiet", "Tur", "StHt",
	"HeatCoolType", "TemRec", "SvSt", "TemSen",
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:          "gree-bridge",
			TopicPrefix: "gree",
		},
		Gree: GreeConfig{
			UDPPort:         7000,
			ExchangeTimeout: 5 * time.Second,
			MaxRetries:      2,
			RetryInterval:   5 * time.Minute,
			SyncTime:        true,
			Polling: PollingConfig{
				NormalInterval:    4 * time.Second,
				FastInterval:      2 * time.Second,
				FastHold:          30 * time.Second,
				UltraFastInterval: 500 * time.Millisecond,
				UltraFastHold:     10 * time.Second,
				ImmediateInterval: 100 * time.Millisecond,
				ImmediateHold:     2 * time.Second,
			},
			Dispatcher: DispatcherConfig{
				Workers:        4,
				QueueSize:      64,
				CommandTimeout: 15 * time.Second,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "gree-bridge",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/greebridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Health: HealthConfig{
			Interval: 30 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GREEBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Gree network, comma-separated list of device addresses
	if v := os.Getenv("GREEBRIDGE_NETWORK"); v != "" {
		cfg.Gree.Network = splitAndTrim(v)
	}
	if v := os.Getenv("GREEBRIDGE_BROADCAST"); v != "" {
		cfg.Gree.Broadcast = v
	}
	if v := os.Getenv("GREEBRIDGE_UDP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gree.UDPPort = port
		}
	}

	// MQTT
	if v := os.Getenv("GREEBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GREEBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GREEBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GREEBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("GREEBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("GREEBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// splitAndTrim splits a comma-separated list and trims whitespace.
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Bridge validation
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.TopicPrefix == "" {
		errs = append(errs, "bridge.topic_prefix is required")
	}

	// Gree validation
	if c.Gree.UDPPort < 1 || c.Gree.UDPPort > 65535 {
		errs = append(errs, "gree.udp_port must be between 1 and 65535")
	}
	if len(c.Gree.Network) == 0 && c.Gree.Broadcast == "" {
		errs = append(errs, "gree.network or gree.broadcast is required (no way to find devices)")
	}
	if c.Gree.ExchangeTimeout <= 0 {
		errs = append(errs, "gree.exchange_timeout must be positive")
	}
	if c.Gree.MaxRetries < 0 {
		errs = append(errs, "gree.max_retries must not be negative")
	}

	// Polling tiers must be strictly ordered: immediate < ultra_fast < fast < normal
	p := c.Gree.Polling
	if p.ImmediateInterval <= 0 || p.UltraFastInterval <= 0 || p.FastInterval <= 0 || p.NormalInterval <= 0 {
		errs = append(errs, "gree.polling intervals must all be positive")
	} else if !(p.ImmediateInterval < p.UltraFastInterval &&
		p.UltraFastInterval < p.FastInterval &&
		p.FastInterval < p.NormalInterval) {
		errs = append(errs, "gree.polling intervals must be strictly increasing from immediate to normal")
	}

	// Dispatcher validation
	if c.Gree.Dispatcher.Workers < 1 {
		errs = append(errs, "gree.dispatcher.workers must be at least 1")
	}
	if c.Gree.Dispatcher.QueueSize < 1 {
		errs = append(errs, "gree.dispatcher.queue_size must be at least 1")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TrackingParams returns the configured tracking parameters, falling back
// to the vendor default set when none are configured.
func (c *Config) TrackingParams() []string {
	if len(c.Gree.TrackingParams) > 0 {
		return c.Gree.TrackingParams
	}
	return DefaultTrackingParams
}
