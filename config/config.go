package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the vanish service
type Config struct {
	Port     int    `json:"port"`
	BaseURL  string `json:"base_url"`
	TestMode bool   `json:"test_mode"`

	StorageType     string        `json:"storage_type"`
	StoreTimeout    time.Duration `json:"store_timeout"`
	RetentionGrace  time.Duration `json:"retention_grace"`
	MaxContentBytes int64         `json:"max_content_bytes"`

	RedisURL          string `json:"-"`
	RedisKeyPrefix    string `json:"redis_key_prefix"`
	MongoDBURI        string `json:"-"`
	MongoDBDatabase   string `json:"mongodb_database"`
	MongoDBCollection string `json:"mongodb_collection"`
	DynamoDBTable     string `json:"dynamodb_table"`
	AWSRegion         string `json:"aws_region"`
	BoltPath          string `json:"bolt_path"`

	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"`
	GinMode       string `json:"gin_mode"`
	EnableMetrics bool   `json:"enable_metrics"`

	Version    string `json:"version"`
	BuildTime  string `json:"build_time"`
	CommitHash string `json:"commit_hash"`
}

// Supported storage backends
var StorageTypes = []string{"redis", "mongodb", "dynamodb", "bolt", "memory"}

// GinModes are the router modes GIN_MODE accepts
var GinModes = []string{"debug", "release", "test"}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:              3000,
		StorageType:       "redis",
		StoreTimeout:      5 * time.Second,
		RetentionGrace:    24 * time.Hour,
		MaxContentBytes:   1024 * 1024, // 1MB
		RedisURL:          "redis://localhost:6379/0",
		RedisKeyPrefix:    "paste",
		MongoDBURI:        "mongodb://localhost:27017",
		MongoDBDatabase:   "vanish",
		MongoDBCollection: "pastes",
		DynamoDBTable:     "vanish-pastes",
		BoltPath:          "./vanish.db",
		LogLevel:          "info",
		LogFormat:         "text",
		GinMode:           "debug",
		EnableMetrics:     true,
	}
}

// LoadConfig loads configuration from CLI flags, a .env file and
// environment variables. Environment values override flags.
func LoadConfig(args []string) (*Config, error) {
	// A missing .env is normal outside local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	config := DefaultConfig()

	// Parse CLI flags
	fs := flag.NewFlagSet("vanish", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&config.Port, "port", config.Port, "Port to listen on")
	fs.StringVar(&config.BaseURL, "base-url", config.BaseURL, "Base URL for paste links (derived from the request when empty)")
	fs.BoolVar(&config.TestMode, "test-mode", config.TestMode, "Honor the x-test-now-ms header")
	fs.StringVar(&config.StorageType, "storage", config.StorageType, "Storage backend: "+strings.Join(StorageTypes, ", "))
	fs.DurationVar(&config.StoreTimeout, "store-timeout", config.StoreTimeout, "Timeout for each storage call")
	fs.DurationVar(&config.RetentionGrace, "retention-grace", config.RetentionGrace, "How long expired pastes stay in the backend (negative keeps them forever)")
	fs.Int64Var(&config.MaxContentBytes, "max-content-bytes", config.MaxContentBytes, "Maximum paste size in bytes")
	fs.StringVar(&config.RedisURL, "redis-url", config.RedisURL, "Redis connection URL")
	fs.StringVar(&config.RedisKeyPrefix, "redis-key-prefix", config.RedisKeyPrefix, "Redis key prefix")
	fs.StringVar(&config.MongoDBURI, "mongodb-uri", config.MongoDBURI, "MongoDB connection URI")
	fs.StringVar(&config.MongoDBDatabase, "mongodb-database", config.MongoDBDatabase, "MongoDB database name")
	fs.StringVar(&config.MongoDBCollection, "mongodb-collection", config.MongoDBCollection, "MongoDB collection name")
	fs.StringVar(&config.DynamoDBTable, "dynamodb-table", config.DynamoDBTable, "DynamoDB table name")
	fs.StringVar(&config.AWSRegion, "aws-region", config.AWSRegion, "AWS region for DynamoDB")
	fs.StringVar(&config.BoltPath, "bolt-path", config.BoltPath, "bbolt database file")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "Log format (text, json)")
	fs.StringVar(&config.GinMode, "gin-mode", config.GinMode, "Router mode: "+strings.Join(GinModes, ", "))
	fs.BoolVar(&config.EnableMetrics, "enable-metrics", config.EnableMetrics, "Expose /metrics")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if val := os.Getenv("PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Port = port
		}
	}
	if val := os.Getenv("BASE_URL"); val != "" {
		config.BaseURL = val
	}
	if val := os.Getenv("TEST_MODE"); val != "" {
		// Only "1" and "true" enable it
		config.TestMode = val == "1" || strings.EqualFold(val, "true")
	}
	if val := os.Getenv("STORAGE_TYPE"); val != "" {
		config.StorageType = val
	}
	if val := os.Getenv("STORE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.StoreTimeout = d
		}
	}
	if val := os.Getenv("RETENTION_GRACE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.RetentionGrace = d
		}
	}
	if val := os.Getenv("MAX_CONTENT_BYTES"); val != "" {
		if size, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.MaxContentBytes = size
		}
	}
	if val := os.Getenv("REDIS_URL"); val != "" {
		config.RedisURL = val
	}
	if val := os.Getenv("REDIS_KEY_PREFIX"); val != "" {
		config.RedisKeyPrefix = val
	}
	if val := os.Getenv("MONGODB_URI"); val != "" {
		config.MongoDBURI = val
	}
	if val := os.Getenv("MONGODB_DATABASE"); val != "" {
		config.MongoDBDatabase = val
	}
	if val := os.Getenv("MONGODB_COLLECTION"); val != "" {
		config.MongoDBCollection = val
	}
	if val := os.Getenv("DYNAMODB_TABLE"); val != "" {
		config.DynamoDBTable = val
	}
	if val := os.Getenv("AWS_REGION"); val != "" {
		config.AWSRegion = val
	}
	if val := os.Getenv("BOLT_PATH"); val != "" {
		config.BoltPath = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.LogFormat = val
	}
	if val := os.Getenv("GIN_MODE"); val != "" {
		config.GinMode = val
	}
	if val := os.Getenv("ENABLE_METRICS"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.EnableMetrics = b
		}
	}

	return config, config.Validate()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	validType := false
	for _, st := range StorageTypes {
		if c.StorageType == st {
			validType = true
			break
		}
	}
	if !validType {
		return fmt.Errorf("invalid storage type: %s (valid: %s)", c.StorageType, strings.Join(StorageTypes, ", "))
	}

	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive: %v", c.StoreTimeout)
	}

	if c.MaxContentBytes < 1 {
		return fmt.Errorf("max content bytes must be positive: %d", c.MaxContentBytes)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}

	switch c.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid gin mode: %s (valid: %s)", c.GinMode, strings.Join(GinModes, ", "))
	}

	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base url must start with http:// or https://: %s", c.BaseURL)
	}

	return nil
}

// Debug reports whether the router runs in gin debug mode, which also
// turns on per-request logging
func (c *Config) Debug() bool {
	return c.GinMode == "debug"
}
