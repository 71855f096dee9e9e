package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for deviceguard.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Guard     GuardConfig     `yaml:"guard"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// MQTT is optional; when disabled no security events are published.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// LoggingConfig contains operational logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains admin credential and lockfile settings.
type SecurityConfig struct {
	// AdminPasswordHash is an Argon2id PHC string. Generate one with
	// `deviceguard hash-password`.
	AdminPasswordHash string         `yaml:"admin_password_hash"`
	Lockfile          LockfileConfig `yaml:"lockfile"`
}

// LockfileConfig controls the signed lockfile written to secured storage devices.
type LockfileConfig struct {
	Enabled     bool   `yaml:"enabled"`
	HostKeyPath string `yaml:"host_key_path"`
	DirName     string `yaml:"dir_name"`
}

// GuardConfig contains whitelist policy and enumeration settings.
//
// AutoBlockUnregistered, LogLevel and MaxLogSize are boot defaults; once an
// administrator changes them at runtime the persisted values win.
type GuardConfig struct {
	AutoBlockUnregistered  bool   `yaml:"auto_block_unregistered"`
	LogLevel               string `yaml:"log_level"`
	MaxLogSize             int    `yaml:"max_log_size"`
	PollInterval           int    `yaml:"poll_interval"`       // seconds
	EnumerationTimeout     int    `yaml:"enumeration_timeout"` // seconds
	SysfsRoot              string `yaml:"sysfs_root"`
	ReadPartitionSignature bool   `yaml:"read_partition_signature"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DEVICEGUARD_SECTION_KEY
// For example: DEVICEGUARD_DATABASE_PATH, DEVICEGUARD_API_HOST
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
		Database: DatabaseConfig{
			Path:        "./data/deviceguard.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "deviceguard",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8470,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Lockfile: LockfileConfig{
				Enabled:     true,
				HostKeyPath: "./data/host_key.pem",
				DirName:     ".device_guard",
			},
		},
		Guard: GuardConfig{
			LogLevel:               "INFO",
			MaxLogSize:             1000,
			PollInterval:           2,
			EnumerationTimeout:     5,
			SysfsRoot:              "/sys/bus/usb/devices",
			ReadPartitionSignature: true,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEVICEGUARD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("DEVICEGUARD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DEVICEGUARD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DEVICEGUARD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("DEVICEGUARD_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("DEVICEGUARD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Keep the admin hash out of config files in production.
	if v := os.Getenv("DEVICEGUARD_ADMIN_PASSWORD_HASH"); v != "" {
		cfg.Security.AdminPasswordHash = v
	}

	if v := os.Getenv("DEVICEGUARD_SYSFS_ROOT"); v != "" {
		cfg.Guard.SysfsRoot = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Without an admin hash every mutating operation would be refused.
	if c.Security.AdminPasswordHash == "" {
		errs = append(errs, "security.admin_password_hash is required (set DEVICEGUARD_ADMIN_PASSWORD_HASH environment variable)")
	} else if !strings.HasPrefix(c.Security.AdminPasswordHash, "$argon2id$") {
		errs = append(errs, "security.admin_password_hash must be an argon2id PHC string")
	}

	if c.Security.Lockfile.Enabled {
		if c.Security.Lockfile.HostKeyPath == "" {
			errs = append(errs, "security.lockfile.host_key_path is required when lockfiles are enabled")
		}
		if c.Security.Lockfile.DirName == "" || strings.ContainsAny(c.Security.Lockfile.DirName, `/\`) {
			errs = append(errs, "security.lockfile.dir_name must be a single path element")
		}
	}

	switch strings.ToUpper(c.Guard.LogLevel) {
	case "INFO", "WARNING", "ERROR":
	default:
		errs = append(errs, "guard.log_level must be INFO, WARNING, or ERROR")
	}

	if c.Guard.MaxLogSize < 1 {
		errs = append(errs, "guard.max_log_size must be at least 1")
	}
	if c.Guard.PollInterval < 1 {
		errs = append(errs, "guard.poll_interval must be at least 1 second")
	}
	if c.Guard.EnumerationTimeout < 1 {
		errs = append(errs, "guard.enumeration_timeout must be at least 1 second")
	}
	if c.Guard.SysfsRoot == "" {
		errs = append(errs, "guard.sysfs_root is required")
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

// GetPollInterval returns the presence monitor poll interval.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Guard.PollInterval) * time.Second
}

// GetEnumerationTimeout returns the bound on a single enumeration pass.
func (c *Config) GetEnumerationTimeout() time.Duration {
	return time.Duration(c.Guard.EnumerationTimeout) * time.Second
}
