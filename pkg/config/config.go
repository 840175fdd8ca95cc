package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all host configuration.
type Config struct {
	// PluginDirs are the directories scanned for plugin manifests, in
	// search order.
	PluginDirs []string

	// SettingsPath is the JSON settings document location.
	SettingsPath string

	// TaskWorkers is the task runner worker count.
	TaskWorkers int

	// TaskQueueSize is the task runner queue capacity.
	TaskQueueSize int

	// StatusInterval is how often the scheduler probes service status.
	StatusInterval time.Duration

	// DebugAddr is the local metrics/health listener address. Empty
	// disables the listener.
	DebugAddr string

	// LogLevel is the logrus level name.
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	defaultDirs := strings.Join([]string{
		filepath.Join(home, ".arrdeck", "plugins"),
		"/etc/arrdeck/plugins",
	}, string(os.PathListSeparator))

	cfg := &Config{
		PluginDirs:     filepath.SplitList(getEnv("ARRDECK_PLUGIN_DIRS", defaultDirs)),
		SettingsPath:   getEnv("ARRDECK_SETTINGS_PATH", filepath.Join(home, ".arrdeck", "settings.json")),
		TaskWorkers:    getEnvInt("ARRDECK_TASK_WORKERS", 4),
		TaskQueueSize:  getEnvInt("ARRDECK_TASK_QUEUE_SIZE", 64),
		StatusInterval: getEnvDuration("ARRDECK_STATUS_INTERVAL", 30*time.Second),
		DebugAddr:      getEnv("ARRDECK_DEBUG_ADDR", "127.0.0.1:9090"),
		LogLevel:       getEnv("ARRDECK_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.PluginDirs) == 0 {
		return fmt.Errorf("at least one plugin directory is required")
	}
	if c.SettingsPath == "" {
		return fmt.Errorf("settings path is required")
	}
	if c.TaskWorkers <= 0 {
		return fmt.Errorf("task worker count must be positive, got %d", c.TaskWorkers)
	}
	if c.TaskQueueSize <= 0 {
		return fmt.Errorf("task queue size must be positive, got %d", c.TaskQueueSize)
	}
	if c.StatusInterval <= 0 {
		return fmt.Errorf("status interval must be positive, got %s", c.StatusInterval)
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
