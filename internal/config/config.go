// Package config contains everything related to configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath   string
	PolicyPath     string
	ExportDir      string
	LogFile        string
	LogLevel       string
	APIKey         string
	NATSURL        string
	DefaultModel   string
	Governor       GovernorConfig
	AuditThreshold int // kilobytes; 0 disables rotation
	LogJSON        bool
	Notify         bool
}

// GovernorConfig mirrors governor.Config so this package stays free of
// domain imports.
type GovernorConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrent  int
	MinInterval    time.Duration
	AttemptTimeout time.Duration
}

// Default values
const (
	defaultAuditThresholdKB = 51200
	defaultMaxRetries       = 3
	defaultInitialBackoff   = time.Second
	defaultMaxConcurrent    = 1
	defaultModel            = "gemini-2.5-flash"
	appDirName              = "mind-persona"
)

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	// Try loading .env from multiple locations
	envPaths := getEnvPaths()
	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	base := getDefaultBaseDir()
	cfg := &Config{
		DatabasePath:   getEnvString("PERSONA_DB_PATH", filepath.Join(base, "persona.db")),
		PolicyPath:     getEnvString("PERSONA_POLICY_PATH", filepath.Join(base, "policy.yaml")),
		ExportDir:      getEnvString("PERSONA_EXPORT_DIR", filepath.Join(base, "exports")),
		LogFile:        getEnvString("PERSONA_LOG_FILE", ""),
		LogLevel:       getEnvString("LOG_LEVEL", "info"),
		LogJSON:        strings.EqualFold(getEnvString("LOG_FORMAT", "text"), "json"),
		APIKey:         getEnvString("GEMINI_API_KEY", os.Getenv("API_KEY")),
		NATSURL:        getEnvString("NATS_URL", ""),
		DefaultModel:   getEnvString("PERSONA_DEFAULT_MODEL", defaultModel),
		Notify:         getEnvBool("PERSONA_NOTIFY", false),
		AuditThreshold: getEnvInt("AUDIT_DOWNLOAD_THRESHOLD_KB", defaultAuditThresholdKB),
		Governor: GovernorConfig{
			MaxRetries:     getEnvInt("GOVERNOR_MAX_RETRIES", defaultMaxRetries),
			InitialBackoff: getEnvDuration("GOVERNOR_INITIAL_BACKOFF", defaultInitialBackoff),
			MaxConcurrent:  getEnvInt("GOVERNOR_MAX_CONCURRENT", defaultMaxConcurrent),
			MinInterval:    getEnvDuration("GOVERNOR_MIN_INTERVAL", 0),
			AttemptTimeout: getEnvDuration("GOVERNOR_ATTEMPT_TIMEOUT", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure database directory exists
	if err := ensureDir(filepath.Dir(cfg.DatabasePath)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the governor and audit trail cannot work with.
func (c *Config) Validate() error {
	if c.Governor.MaxRetries < 1 {
		return fmt.Errorf("GOVERNOR_MAX_RETRIES must be at least 1, got %d", c.Governor.MaxRetries)
	}
	if c.Governor.MaxConcurrent < 1 {
		return fmt.Errorf("GOVERNOR_MAX_CONCURRENT must be at least 1, got %d", c.Governor.MaxConcurrent)
	}
	if c.Governor.InitialBackoff <= 0 {
		return fmt.Errorf("GOVERNOR_INITIAL_BACKOFF must be positive, got %s", c.Governor.InitialBackoff)
	}
	if c.AuditThreshold < 0 {
		return fmt.Errorf("AUDIT_DOWNLOAD_THRESHOLD_KB must not be negative, got %d", c.AuditThreshold)
	}
	return nil
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	// Current directory
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	// Home directory locations
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", appDirName, ".env"),
			filepath.Join(home, ".mind-persona", ".env"),
		)
	}

	// Parent directory (useful for development)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(cwd), ".env"))
	}

	return paths
}

// getDefaultBaseDir returns the directory holding the database, policy and
// exports.
func getDefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", appDirName)
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns the default.
// Accepts the forms understood by strconv.ParseBool plus "yes" and "on".
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return defaultValue
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		// Try parsing as seconds if no unit specified
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
