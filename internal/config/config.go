package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverDynamoDB = "dynamodb"
	DriverMemory   = "memory"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Store     StoreConfig     `yaml:"store"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	AWS       AWSConfig       `yaml:"aws"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Pairing   PairingConfig   `yaml:"pairing"`
	Chat      ChatConfig      `yaml:"chat"`
	APNS      APNSConfig      `yaml:"apns"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// StoreConfig selects the backend for users and connections.
// Messages always live in PostgreSQL unless the driver is memory.
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// DynamoDBConfig holds DynamoDB table configuration
type DynamoDBConfig struct {
	Region           string `yaml:"region"`
	Endpoint         string `yaml:"endpoint"`
	UsersTable       string `yaml:"users_table"`
	ConnectionsTable string `yaml:"connections_table"`
}

// AWSConfig holds AWS configuration used for attachment uploads
type AWSConfig struct {
	Region    string `yaml:"region"`
	S3Bucket  string `yaml:"s3_bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// PairingConfig holds the timing rules of the pairing engine
type PairingConfig struct {
	ConnectionTTL   time.Duration `yaml:"connection_ttl"`
	PairingInterval time.Duration `yaml:"pairing_interval"`
	PresenceWindow  time.Duration `yaml:"presence_window"`
}

// ChatConfig holds chat limits
type ChatConfig struct {
	TypingTTL        time.Duration `yaml:"typing_ttl"`
	MaxMessageLength int           `yaml:"max_message_length"`
}

// APNSConfig holds Apple push configuration. Push is disabled when
// CertificatePath is empty.
type APNSConfig struct {
	CertificatePath     string `yaml:"certificate_path"`
	CertificatePassword string `yaml:"certificate_password"`
	Topic               string `yaml:"topic"`
	Production          bool   `yaml:"production"`
}

// RateLimitConfig holds per-user limits for the poll endpoint
type RateLimitConfig struct {
	PollPerMinute int `yaml:"poll_per_minute"`
	Burst         int `yaml:"burst"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every optional field filled in
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Store: StoreConfig{Driver: DriverPostgres},
		DynamoDB: DynamoDBConfig{
			UsersTable:       "click_users",
			ConnectionsTable: "click_connections",
		},
		Log: LogConfig{Level: "info"},
		Pairing: PairingConfig{
			ConnectionTTL:   30 * 24 * time.Hour,
			PairingInterval: 24 * time.Hour,
			PresenceWindow:  300 * time.Second,
		},
		Chat: ChatConfig{
			TypingTTL:        5 * time.Second,
			MaxMessageLength: 2000,
		},
		RateLimit: RateLimitConfig{
			PollPerMinute: 30,
			Burst:         5,
		},
	}
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	switch c.Store.Driver {
	case DriverPostgres, DriverDynamoDB, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of postgres, dynamodb, memory", c.Store.Driver))
	}
	if c.Pairing.ConnectionTTL <= 0 {
		errs = append(errs, errors.New("pairing.connection_ttl must be positive"))
	}
	if c.Pairing.PairingInterval <= 0 {
		errs = append(errs, errors.New("pairing.pairing_interval must be positive"))
	}
	if c.Pairing.PresenceWindow <= 0 {
		errs = append(errs, errors.New("pairing.presence_window must be positive"))
	}
	if c.Chat.TypingTTL <= 0 {
		errs = append(errs, errors.New("chat.typing_ttl must be positive"))
	}
	if c.Chat.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("chat.max_message_length must be positive"))
	}
	if c.RateLimit.PollPerMinute <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit values must be positive"))
	}
	if c.APNS.CertificatePath != "" && c.APNS.Topic == "" {
		errs = append(errs, errors.New("apns.topic is required when apns.certificate_path is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
