package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigFile is read when no --config-file is given. Its absence is not an error.
const DefaultConfigFile = "turbine.toml"

// Handler names accepted by HANDLER / --handler.
const (
	HandlerStatic = "static"
	HandlerDrain  = "drain"
)

type Config struct {
	// Environment
	GoEnv string `toml:"go_env" env:"GO_ENV" default:"development"`

	// Listener
	BindHost string `toml:"bind_host" env:"BIND_HOST" default:"0.0.0.0"`
	TCPPort  int    `toml:"tcp_port" env:"TCP_PORT" default:"12345"`

	// Connection handling
	Handler        string `toml:"handler" env:"HANDLER" default:"static"`
	DocumentRoot   string `toml:"document_root" env:"DOCUMENT_ROOT" default:"web_resources"`
	MaxRequestSize int    `toml:"max_request_size" env:"MAX_REQUEST_SIZE" default:"8192"`
	MaxFileSize    int64  `toml:"max_file_size" env:"MAX_FILE_SIZE" default:"10485760"`

	// Admission control. Zero disables the respective limit.
	MaxConnections int     `toml:"max_connections" env:"MAX_CONNECTIONS" default:"0"`
	WorkerCount    int     `toml:"worker_count" env:"WORKER_COUNT" default:"1000"`
	AcceptRate     float64 `toml:"accept_rate" env:"ACCEPT_RATE" default:"0"`
	AcceptBurst    int     `toml:"accept_burst" env:"ACCEPT_BURST" default:"0"`

	// Timeouts
	ReadTimeout     Duration `toml:"read_timeout" env:"READ_TIMEOUT" default:"30s"`
	WriteTimeout    Duration `toml:"write_timeout" env:"WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" default:"5s"`

	// Admin endpoint (health checks, stats, metrics). Empty disables it.
	AdminAddr string `toml:"admin_addr" env:"ADMIN_ADDR"`

	// Logging
	LogLevel  string `toml:"log_level" env:"LOG_LEVEL" default:"info"`
	LogFormat string `toml:"log_format" env:"LOG_FORMAT" default:"json"`
}

// Duration lets time.Duration values be written as "30s" in TOML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		GoEnv:           "development",
		BindHost:        "0.0.0.0",
		TCPPort:         12345,
		Handler:         HandlerStatic,
		DocumentRoot:    "web_resources",
		MaxRequestSize:  8192,
		MaxFileSize:     10 << 20,
		WorkerCount:     1000,
		ReadTimeout:     Duration(30 * time.Second),
		WriteTimeout:    Duration(30 * time.Second),
		ShutdownTimeout: Duration(5 * time.Second),
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// LoadConfig builds the configuration from defaults, the optional TOML file and
// the environment, in that order of precedence. An empty configFile means
// DefaultConfigFile, which may be absent.
func LoadConfig(configFile string) (*Config, error) {
	// .env is optional; real environment variables still apply without it
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("dotenv_load_failed", "error", err.Error())
	}

	config := Default()

	explicit := configFile != ""
	if !explicit {
		configFile = DefaultConfigFile
	}
	if err := config.loadFile(configFile, explicit); err != nil {
		return nil, err
	}

	if err := config.loadEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadFile(path string, required bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".toml") {
		return fmt.Errorf("config file %s is not a toml file", path)
	}
	dec := toml.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	loadEnvString(&c.GoEnv, "GO_ENV")
	loadEnvString(&c.BindHost, "BIND_HOST")
	if err := loadEnvInt(&c.TCPPort, "TCP_PORT"); err != nil {
		return err
	}

	loadEnvString(&c.Handler, "HANDLER")
	loadEnvString(&c.DocumentRoot, "DOCUMENT_ROOT")
	if err := loadEnvInt(&c.MaxRequestSize, "MAX_REQUEST_SIZE"); err != nil {
		return err
	}
	if err := loadEnvInt64(&c.MaxFileSize, "MAX_FILE_SIZE"); err != nil {
		return err
	}

	if err := loadEnvInt(&c.MaxConnections, "MAX_CONNECTIONS"); err != nil {
		return err
	}
	if err := loadEnvInt(&c.WorkerCount, "WORKER_COUNT"); err != nil {
		return err
	}
	if err := loadEnvFloat(&c.AcceptRate, "ACCEPT_RATE"); err != nil {
		return err
	}
	if err := loadEnvInt(&c.AcceptBurst, "ACCEPT_BURST"); err != nil {
		return err
	}

	if err := loadEnvDuration(&c.ReadTimeout, "READ_TIMEOUT"); err != nil {
		return err
	}
	if err := loadEnvDuration(&c.WriteTimeout, "WRITE_TIMEOUT"); err != nil {
		return err
	}
	if err := loadEnvDuration(&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT"); err != nil {
		return err
	}

	loadEnvString(&c.AdminAddr, "ADMIN_ADDR")
	loadEnvString(&c.LogLevel, "LOG_LEVEL")
	loadEnvString(&c.LogFormat, "LOG_FORMAT")
	return nil
}

// Helper functions for type conversion. An unset variable leaves the target untouched.
func loadEnvString(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func loadEnvInt(target *int, key string) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}

func loadEnvInt64(target *int64, key string) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}

func loadEnvFloat(target *float64, key string) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}

func loadEnvDuration(target *Duration, key string) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", key, err)
		}
		*target = Duration(parsed)
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var problems []string

	if c.TCPPort < 0 || c.TCPPort > 65535 {
		problems = append(problems, "TCP_PORT must be between 0 and 65535")
	}
	if c.BindHost != "" && net.ParseIP(c.BindHost) == nil && c.BindHost != "localhost" {
		problems = append(problems, "BIND_HOST must be an IP address or localhost")
	}

	validHandlers := []string{HandlerStatic, HandlerDrain}
	if !contains(validHandlers, c.Handler) {
		problems = append(problems, fmt.Sprintf("HANDLER must be one of: %s", strings.Join(validHandlers, ", ")))
	}
	if c.Handler == HandlerStatic && c.DocumentRoot == "" {
		problems = append(problems, "DOCUMENT_ROOT is required for the static handler")
	}
	if c.MaxRequestSize < 16 {
		problems = append(problems, "MAX_REQUEST_SIZE must be at least 16")
	}
	if c.MaxFileSize < 1 {
		problems = append(problems, "MAX_FILE_SIZE must be positive")
	}

	if c.MaxConnections < 0 {
		problems = append(problems, "MAX_CONNECTIONS must not be negative")
	}
	if c.WorkerCount < 0 {
		problems = append(problems, "WORKER_COUNT must not be negative")
	}
	if c.AcceptRate < 0 {
		problems = append(problems, "ACCEPT_RATE must not be negative")
	}
	if c.AcceptBurst < 0 {
		problems = append(problems, "ACCEPT_BURST must not be negative")
	}

	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		problems = append(problems, "READ_TIMEOUT and WRITE_TIMEOUT must be positive")
	}
	if c.ShutdownTimeout < 0 {
		problems = append(problems, "SHUTDOWN_TIMEOUT must not be negative")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		problems = append(problems, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		problems = append(problems, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ListenAddr is the host:port the acceptor binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindHost, strconv.Itoa(c.TCPPort))
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// TOML renders the effective configuration, used by `turbine config`.
func (c *Config) TOML() ([]byte, error) {
	return toml.Marshal(c)
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
