package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Storage  StorageConfig  `json:"storage"`
	Signing  SigningConfig  `json:"signing"`
	Cleanup  CleanupConfig  `json:"cleanup"`
	Events   EventsConfig   `json:"events"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	// PublicBaseURL is the externally reachable address of this API.
	PublicBaseURL string `json:"public_base_url"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
	AutoMigrate    bool          `json:"auto_migrate"`
}

// StorageConfig selects and configures the artifact store.
type StorageConfig struct {
	Driver          string        `json:"driver"` // "s3" or "memory"
	Bucket          string        `json:"bucket"`
	Region          string        `json:"region"`
	Endpoint        string        `json:"endpoint"`
	AccessKeyID     string        `json:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key"`
	UsePathStyle    bool          `json:"use_path_style"`
	PresignTTL      time.Duration `json:"presign_ttl"`
}

// SigningConfig holds the signing, batch and retention policy.
type SigningConfig struct {
	ValidationBaseURL string        `json:"validation_base_url"`
	BatchConcurrency  int           `json:"batch_concurrency"`
	MaxBatchSize      int           `json:"max_batch_size"`
	MaxUploadBytes    int64         `json:"max_upload_bytes"`
	DefaultRetention  time.Duration `json:"default_retention"`
	QRSize            int           `json:"qr_size"`
}

// CleanupConfig configures the expiry sweep trigger.
type CleanupConfig struct {
	Enabled      bool          `json:"enabled"`
	Schedule     string        `json:"schedule"`
	Timeout      time.Duration `json:"timeout"`
	TriggerToken string        `json:"trigger_token"`
}

// EventsConfig
type EventsConfig struct {
	SNSTopicARN string `json:"sns_topic_arn"`
	Region      string `json:"region"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
	Mode  string `json:"mode"`
}

// Default returns the configuration used when no file or env override applies.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 5 * time.Second,
			PublicBaseURL:   "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "docseal",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
			AutoMigrate:    true,
		},
		Storage: StorageConfig{
			Driver:     "s3",
			Bucket:     "docseal-documents",
			Region:     "us-east-1",
			PresignTTL: 15 * time.Minute,
		},
		Signing: SigningConfig{
			ValidationBaseURL: "http://localhost:3000/validate",
			BatchConcurrency:  4,
			MaxBatchSize:      50,
			MaxUploadBytes:    20 << 20,
			DefaultRetention:  0,
			QRSize:            300,
		},
		Cleanup: CleanupConfig{
			Enabled:  true,
			Schedule: "@every 1h",
			Timeout:  10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
			Mode:  "development",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) {
	setString(&config.Server.Host, "SERVER_HOST")
	setInt(&config.Server.Port, "SERVER_PORT")
	setString(&config.Server.PublicBaseURL, "SERVER_PUBLIC_BASE_URL")

	setString(&config.Database.Host, "DATABASE_HOST")
	setInt(&config.Database.Port, "DATABASE_PORT")
	setString(&config.Database.User, "DATABASE_USER")
	setString(&config.Database.Password, "DATABASE_PASSWORD")
	setString(&config.Database.DBName, "DATABASE_DBNAME")
	setString(&config.Database.SSLMode, "DATABASE_SSLMODE")
	setBool(&config.Database.AutoMigrate, "DATABASE_AUTO_MIGRATE")

	setString(&config.Storage.Driver, "STORAGE_DRIVER")
	setString(&config.Storage.Bucket, "STORAGE_BUCKET")
	setString(&config.Storage.Region, "STORAGE_REGION")
	setString(&config.Storage.Endpoint, "STORAGE_ENDPOINT")
	setString(&config.Storage.AccessKeyID, "STORAGE_ACCESS_KEY_ID")
	setString(&config.Storage.SecretAccessKey, "STORAGE_SECRET_ACCESS_KEY")
	setBool(&config.Storage.UsePathStyle, "STORAGE_USE_PATH_STYLE")
	setDuration(&config.Storage.PresignTTL, "STORAGE_PRESIGN_TTL")

	setString(&config.Signing.ValidationBaseURL, "SIGNING_VALIDATION_BASE_URL")
	setInt(&config.Signing.BatchConcurrency, "SIGNING_BATCH_CONCURRENCY")
	setInt(&config.Signing.MaxBatchSize, "SIGNING_MAX_BATCH_SIZE")
	setInt64(&config.Signing.MaxUploadBytes, "SIGNING_MAX_UPLOAD_BYTES")
	setInt(&config.Signing.QRSize, "SIGNING_QR_SIZE")
	setDuration(&config.Signing.DefaultRetention, "SIGNING_DEFAULT_RETENTION")

	setBool(&config.Cleanup.Enabled, "CLEANUP_ENABLED")
	setString(&config.Cleanup.Schedule, "CLEANUP_SCHEDULE")
	setDuration(&config.Cleanup.Timeout, "CLEANUP_TIMEOUT")
	setString(&config.Cleanup.TriggerToken, "CLEANUP_TRIGGER_TOKEN")

	setString(&config.Events.SNSTopicARN, "EVENTS_SNS_TOPIC_ARN")
	setString(&config.Events.Region, "EVENTS_REGION")

	setString(&config.Security.JWTSecret, "JWT_SECRET")

	setString(&config.Logging.Level, "LOG_LEVEL")
	setString(&config.Logging.Mode, "LOG_MODE")
}

// Validate checks the settings that have no safe fallback.
func (c *Config) Validate() error {
	if c.Signing.BatchConcurrency < 1 {
		return fmt.Errorf("signing.batch_concurrency must be at least 1")
	}
	if c.Signing.MaxBatchSize < 1 {
		return fmt.Errorf("signing.max_batch_size must be at least 1")
	}
	switch c.Storage.Driver {
	case "s3", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "s3" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if strings.TrimSpace(c.Signing.ValidationBaseURL) == "" {
		return fmt.Errorf("signing.validation_base_url is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
