package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic BLE light bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	BLE       BLEConfig       `yaml:"ble"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig identifies this bridge instance on the bus.
type BridgeConfig struct {
	ID string `yaml:"id"`

	// Zone is the numeric zone embedded in every topic (zone<N>).
	Zone int `yaml:"zone"`

	// TopicPrefix is the first topic level. Default: "goveeblemqtt"
	TopicPrefix string `yaml:"topic_prefix"`

	// HealthInterval is how often the retained health document is refreshed (seconds).
	HealthInterval int `yaml:"health_interval"`

	// StatusQueueSize bounds the number of pending status notifications.
	StatusQueueSize int `yaml:"status_queue_size"`
}

// BLEConfig contains radio transport and per-light session settings.
type BLEConfig struct {
	// Adapter is the HCI adapter hint (e.g. "hci0"). Empty selects the default adapter.
	Adapter string `yaml:"adapter"`

	// Simulate replaces the radio with an in-memory transport.
	Simulate bool `yaml:"simulate"`

	// ConnectTimeout bounds a single connect attempt (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// ConnectBackoff is the wait after a failed connect (milliseconds).
	ConnectBackoff int `yaml:"connect_backoff_ms"`

	// WriteBackoff is the wait after a failed frame write (milliseconds).
	WriteBackoff int `yaml:"write_backoff_ms"`

	// KeepAlive is the maximum quiet period before a keep-alive frame (milliseconds).
	KeepAlive int `yaml:"keep_alive_ms"`

	// Devices lists lights known ahead of the first command.
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one configured light.
type DeviceConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Model string `yaml:"model"`

	// Autostart creates the session at startup instead of on first command.
	Autostart bool `yaml:"autostart"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig     `yaml:"broker"`
	Auth      MQTTAuthConfig       `yaml:"auth"`
	QoS       int                  `yaml:"qos"`
	Reconnect MQTTReconnectConfig  `yaml:"reconnect"`
	Embedded  EmbeddedBrokerConfig `yaml:"embedded"`
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

// EmbeddedBrokerConfig runs an in-process broker for standalone installs.
// When enabled the bridge client connects to it instead of an external broker.
type EmbeddedBrokerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_BLE_SECTION_KEY
// For example: GRAYLOGIC_BLE_MQTT_HOST, GRAYLOGIC_BLE_ZONE
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:              "ble-bridge-01",
			Zone:            1,
			TopicPrefix:     "goveeblemqtt",
			HealthInterval:  30,
			StatusQueueSize: 64,
		},
		BLE: BLEConfig{
			ConnectTimeout: 10,
			ConnectBackoff: 2000,
			WriteBackoff:   1000,
			KeepAlive:      1000,
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-ble.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-ble",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			Embedded: EmbeddedBrokerConfig{
				Address: ":1883",
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_BLE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bridge
	if v := os.Getenv("GRAYLOGIC_BLE_ZONE"); v != "" {
		if zone, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.Zone = zone
		}
	}
	if v := os.Getenv("GRAYLOGIC_BLE_TOPIC_PREFIX"); v != "" {
		cfg.Bridge.TopicPrefix = v
	}

	// BLE
	if v := os.Getenv("GRAYLOGIC_BLE_ADAPTER"); v != "" {
		cfg.BLE.Adapter = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_BLE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_BLE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_BLE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_BLE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_BLE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_BLE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.Zone < 0 {
		errs = append(errs, "bridge.zone must not be negative")
	}
	if c.Bridge.TopicPrefix == "" || strings.ContainsAny(c.Bridge.TopicPrefix, "+#") {
		errs = append(errs, "bridge.topic_prefix must be non-empty and free of wildcards")
	}
	if c.Bridge.HealthInterval <= 0 {
		errs = append(errs, "bridge.health_interval must be positive")
	}

	if c.BLE.ConnectBackoff <= 0 || c.BLE.WriteBackoff <= 0 || c.BLE.KeepAlive <= 0 {
		errs = append(errs, "ble backoff and keep-alive intervals must be positive")
	}
	seen := make(map[string]bool, len(c.BLE.Devices))
	for i, d := range c.BLE.Devices {
		key := strings.ToUpper(strings.NewReplacer(":", "", "-", "").Replace(d.ID))
		if len(key) != 12 {
			errs = append(errs, fmt.Sprintf("ble.devices[%d].id %q is not a 6-byte address", i, d.ID))
			continue
		}
		if seen[key] {
			errs = append(errs, fmt.Sprintf("ble.devices[%d].id %q is duplicated", i, d.ID))
		}
		seen[key] = true
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Durations converts the millisecond BLE settings into durations.
func (b BLEConfig) Durations() (connectBackoff, writeBackoff, keepAlive time.Duration) {
	return time.Duration(b.ConnectBackoff) * time.Millisecond,
		time.Duration(b.WriteBackoff) * time.Millisecond,
		time.Duration(b.KeepAlive) * time.Millisecond
}
