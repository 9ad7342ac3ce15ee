package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the collection service
type Config struct {
	// HTTP server settings
	Server ServerConfig `yaml:"server" json:"server"`

	// Account pool settings
	Pool PoolConfig `yaml:"pool" json:"pool"`

	// Media collection settings
	Collector CollectorConfig `yaml:"collector" json:"collector"`

	// Remote gateway settings
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// PoolConfig holds account pool configuration
type PoolConfig struct {
	PoolFile            string        `yaml:"pool_file" json:"pool_file"`
	SessionDir          string        `yaml:"session_dir" json:"session_dir"`
	MaxAccounts         int           `yaml:"max_accounts" json:"max_accounts"`
	Cooldown            time.Duration `yaml:"cooldown" json:"cooldown"`
	DailyOperationLimit int           `yaml:"daily_operation_limit" json:"daily_operation_limit"`
	ReconcileInterval   time.Duration `yaml:"reconcile_interval" json:"reconcile_interval"`
	RecoveryThreshold   float64       `yaml:"recovery_threshold" json:"recovery_threshold"`

	// Seed accounts ensured in the pool at startup. Password may be a
	// secret reference (env:VAR or keyring:user) resolved through pkg/auth.
	Accounts []AccountSeed `yaml:"accounts" json:"accounts"`
}

// AccountSeed describes one account to ensure in the pool at startup
type AccountSeed struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	Proxy    string `yaml:"proxy" json:"proxy"`
}

// CollectorConfig holds media collection configuration
type CollectorConfig struct {
	TempDir             string        `yaml:"temp_dir" json:"temp_dir"`
	RequestDelayMin     time.Duration `yaml:"request_delay_min" json:"request_delay_min"`
	RequestDelayMax     time.Duration `yaml:"request_delay_max" json:"request_delay_max"`
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DefaultMaxFeedPosts int           `yaml:"default_max_feed_posts" json:"default_max_feed_posts"`
	TempRetention       time.Duration `yaml:"temp_retention" json:"temp_retention"`
}

// GatewayConfig holds remote gateway configuration
type GatewayConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	DownloadTimeout   time.Duration `yaml:"download_timeout" json:"download_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	SessionPassphrase string        `yaml:"session_passphrase" json:"-"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute, // collection responses carry binary payloads
			ShutdownTimeout: 15 * time.Second,
		},
		Pool: PoolConfig{
			PoolFile:            "data/account_pool.json",
			SessionDir:          "data/sessions",
			MaxAccounts:         30,
			Cooldown:            2 * time.Hour,
			DailyOperationLimit: 100,
			ReconcileInterval:   15 * time.Minute,
			RecoveryThreshold:   50,
		},
		Collector: CollectorConfig{
			TempDir:             "data/temp_downloads",
			RequestDelayMin:     1 * time.Second,
			RequestDelayMax:     3 * time.Second,
			ConcurrentDownloads: 2,
			DefaultMaxFeedPosts: 10,
			TempRetention:       time.Hour,
		},
		Gateway: GatewayConfig{
			BaseURL:           "https://www.instagram.com",
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			RequestTimeout:    30 * time.Second,
			DownloadTimeout:   30 * time.Second,
			RequestsPerMinute: 60,
			MaxRetries:        3,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if host := os.Getenv("IGCOLLECTOR_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("IGCOLLECTOR_PORT"); port != "" {
		if val, err := strconv.Atoi(port); err == nil && val > 0 {
			c.Server.Port = val
		}
	}

	if poolFile := os.Getenv("IGCOLLECTOR_POOL_FILE"); poolFile != "" {
		c.Pool.PoolFile = poolFile
	}
	if sessionDir := os.Getenv("IGCOLLECTOR_SESSION_DIR"); sessionDir != "" {
		c.Pool.SessionDir = sessionDir
	}
	if cooldown := os.Getenv("IGCOLLECTOR_ACCOUNT_COOLDOWN"); cooldown != "" {
		if val, err := time.ParseDuration(cooldown); err == nil && val > 0 {
			c.Pool.Cooldown = val
		}
	}
	if limit := os.Getenv("IGCOLLECTOR_DAILY_OPERATION_LIMIT"); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil && val > 0 {
			c.Pool.DailyOperationLimit = val
		}
	}
	if interval := os.Getenv("IGCOLLECTOR_RECONCILE_INTERVAL"); interval != "" {
		if val, err := time.ParseDuration(interval); err == nil && val > 0 {
			c.Pool.ReconcileInterval = val
		}
	}

	if tempDir := os.Getenv("IGCOLLECTOR_TEMP_DIR"); tempDir != "" {
		c.Collector.TempDir = tempDir
	}
	if concurrent := os.Getenv("IGCOLLECTOR_CONCURRENT_DOWNLOADS"); concurrent != "" {
		if val, err := strconv.Atoi(concurrent); err == nil && val > 0 {
			c.Collector.ConcurrentDownloads = val
		}
	}

	if baseURL := os.Getenv("IGCOLLECTOR_GATEWAY_URL"); baseURL != "" {
		c.Gateway.BaseURL = baseURL
	}
	if userAgent := os.Getenv("IGCOLLECTOR_USER_AGENT"); userAgent != "" {
		c.Gateway.UserAgent = userAgent
	}
	if rpm := os.Getenv("IGCOLLECTOR_REQUESTS_PER_MINUTE"); rpm != "" {
		if val, err := strconv.Atoi(rpm); err == nil && val > 0 {
			c.Gateway.RequestsPerMinute = val
		}
	}
	if passphrase := os.Getenv("IGCOLLECTOR_SESSION_PASSPHRASE"); passphrase != "" {
		c.Gateway.SessionPassphrase = passphrase
	}

	if logLevel := os.Getenv("IGCOLLECTOR_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile := os.Getenv("IGCOLLECTOR_LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".igcollector.yaml",
		".igcollector.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "igcollector", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "igcollector", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server port must be in 1-65535"))
	}

	if c.Pool.PoolFile == "" {
		errs = append(errs, errors.New("pool file path is required"))
	}
	if c.Pool.SessionDir == "" {
		errs = append(errs, errors.New("session directory is required"))
	}
	if c.Pool.Cooldown <= 0 {
		errs = append(errs, errors.New("account cooldown must be positive"))
	}
	if c.Pool.DailyOperationLimit <= 0 {
		errs = append(errs, errors.New("daily operation limit must be positive"))
	}
	if c.Pool.MaxAccounts <= 0 {
		errs = append(errs, errors.New("max accounts must be positive"))
	}

	if c.Collector.RequestDelayMin < 0 {
		errs = append(errs, errors.New("minimum request delay cannot be negative"))
	}
	if c.Collector.RequestDelayMax < c.Collector.RequestDelayMin {
		errs = append(errs, errors.New("maximum request delay must be >= minimum"))
	}
	if c.Collector.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Collector.ConcurrentDownloads > 10 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 10"))
	}
	if c.Collector.DefaultMaxFeedPosts < 1 || c.Collector.DefaultMaxFeedPosts > 50 {
		errs = append(errs, errors.New("default max feed posts must be in 1-50"))
	}

	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("gateway base URL is required"))
	}
	if c.Gateway.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.Gateway.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if host, ok := flags["host"].(string); ok && host != "" {
		c.Server.Host = host
	}
	if port, ok := flags["port"].(int); ok && port > 0 {
		c.Server.Port = port
	}
	if poolFile, ok := flags["pool-file"].(string); ok && poolFile != "" {
		c.Pool.PoolFile = poolFile
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igcollector.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
