package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the InfluxDB north service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	North    NorthConfig    `yaml:"north"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InfluxDBConfig contains the destination database settings.
//
// Host, Port and Database compose the destination URL together with the
// optional Username/Password pair. Token and Org are only needed when the
// destination is an InfluxDB 2.x server not using 1.x compatibility auth.
type InfluxDBConfig struct {
	Scheme          string `yaml:"scheme"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	RetentionPolicy string `yaml:"retention_policy"`
	Token           string `yaml:"token"`
	Org             string `yaml:"org"`
	BatchSize       int    `yaml:"batch_size"`
	Timeout         int    `yaml:"timeout"` // seconds
}

// NorthConfig controls the north task that drains buffered readings.
type NorthConfig struct {
	// Stream names the position record in the reading store.
	Stream string `yaml:"stream"`

	// Interval is the time between send attempts (seconds).
	Interval int `yaml:"interval"`

	// BlockSize is the maximum number of readings handed to a single send.
	BlockSize int `yaml:"block_size"`

	// Purge deletes readings from the store once they have been delivered.
	Purge bool `yaml:"purge"`
}

// DatabaseConfig contains SQLite reading buffer settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Topic     string              `yaml:"topic"`
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
}

// APIConfig contains HTTP status server settings.
type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Host      string             `yaml:"host"`
	Port      int                `yaml:"port"`
	Timeouts  APITimeoutConfig   `yaml:"timeouts"`
	Auth      APIAuthConfig      `yaml:"auth"`
	WebSocket APIWebSocketConfig `yaml:"websocket"`
}

// APIAuthConfig controls bearer token checks on the status endpoints.
// An empty JWTSecret leaves the API open.
type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// APIWebSocketConfig contains settings for the live status stream (seconds
// and bytes).
type APIWebSocketConfig struct {
	PushInterval   int `yaml:"push_interval"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
	MaxMessageSize int `yaml:"max_message_size"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
// Environment variables follow the pattern: INFLUXNORTH_SECTION_KEY
// For example: INFLUXNORTH_INFLUXDB_HOST, INFLUXNORTH_DATABASE_PATH
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
//
// The destination host, port and database have no defaults: they identify
// the one database this process writes to and must be configured.
func defaultConfig() *Config {
	return &Config{
		InfluxDB: InfluxDBConfig{
			Scheme:    "http",
			BatchSize: 100,
			Timeout:   10,
		},
		North: NorthConfig{
			Stream:    "influxdb",
			Interval:  5,
			BlockSize: 500,
			Purge:     true,
		},
		Database: DatabaseConfig{
			Path:        "./data/influxnorth.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "influxnorth",
			},
			QoS:   1,
			Topic: "readings/#",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: APIWebSocketConfig{
				PushInterval:   5,
				PingInterval:   30,
				PongTimeout:    10,
				MaxMessageSize: 4096,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: INFLUXNORTH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// InfluxDB
	if v := os.Getenv("INFLUXNORTH_INFLUXDB_HOST"); v != "" {
		cfg.InfluxDB.Host = v
	}
	if v := os.Getenv("INFLUXNORTH_INFLUXDB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.InfluxDB.Port = port
		}
	}
	if v := os.Getenv("INFLUXNORTH_INFLUXDB_DATABASE"); v != "" {
		cfg.InfluxDB.Database = v
	}
	if v := os.Getenv("INFLUXNORTH_INFLUXDB_USERNAME"); v != "" {
		cfg.InfluxDB.Username = v
	}
	if v := os.Getenv("INFLUXNORTH_INFLUXDB_PASSWORD"); v != "" {
		cfg.InfluxDB.Password = v
	}
	if v := os.Getenv("INFLUXNORTH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Database
	if v := os.Getenv("INFLUXNORTH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("INFLUXNORTH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("INFLUXNORTH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("INFLUXNORTH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("INFLUXNORTH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("INFLUXNORTH_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Destination
	if c.InfluxDB.Scheme != "http" && c.InfluxDB.Scheme != "https" {
		errs = append(errs, "influxdb.scheme must be http or https")
	}
	if c.InfluxDB.Host == "" {
		errs = append(errs, "influxdb.host is required")
	}
	if c.InfluxDB.Port < 1 || c.InfluxDB.Port > 65535 {
		errs = append(errs, "influxdb.port must be between 1 and 65535")
	}
	if c.InfluxDB.Database == "" {
		errs = append(errs, "influxdb.database is required")
	}
	if c.InfluxDB.Username == "" && c.InfluxDB.Password != "" {
		errs = append(errs, "influxdb.password is set without influxdb.username")
	}

	// North task
	if c.North.Stream == "" {
		errs = append(errs, "north.stream is required")
	}
	if c.North.Interval <= 0 {
		errs = append(errs, "north.interval must be positive")
	}
	if c.North.BlockSize <= 0 {
		errs = append(errs, "north.block_size must be positive")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Topic == "" {
		errs = append(errs, "mqtt.topic is required when mqtt is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && (c.API.WebSocket.PushInterval <= 0 || c.API.WebSocket.PingInterval <= 0 || c.API.WebSocket.PongTimeout <= 0) {
		errs = append(errs, "api.websocket intervals must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetInfluxTimeout returns the InfluxDB request timeout as a Duration.
func (c *Config) GetInfluxTimeout() time.Duration {
	return time.Duration(c.InfluxDB.Timeout) * time.Second
}

// GetNorthInterval returns the north task interval as a Duration.
func (c *Config) GetNorthInterval() time.Duration {
	return time.Duration(c.North.Interval) * time.Second
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
