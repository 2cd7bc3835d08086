package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	PublishTargetMemory = "memory"
	PublishTargetSheets = "sheets"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath string

	// AMQP. An empty URL runs the coalescer in the API process.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Dashboard publishing
	PublishTarget        string
	GoogleSpreadsheetID  string
	DashboardDebounce    time.Duration
	DashboardRecentLimit int

	// Logging
	LogLevel  string
	LogFormat string

	// Ops
	MetricsAddr     string
	ShutdownTimeout time.Duration
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8081"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/hisob.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "hisob"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_changed"),

		PublishTarget:        getEnv("PUBLISH_TARGET", PublishTargetMemory),
		GoogleSpreadsheetID:  getEnv("GOOGLE_SPREADSHEET_ID", ""),
		DashboardDebounce:    getEnvDuration("DASHBOARD_DEBOUNCE", 2*time.Second),
		DashboardRecentLimit: getEnvInt("DASHBOARD_RECENT_LIMIT", 5),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		MetricsAddr:     getEnv("METRICS_ADDR", ":9091"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// Validate validates the configuration and returns every problem at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	validTargets := []string{PublishTargetMemory, PublishTargetSheets}
	if !slices.Contains(validTargets, c.PublishTarget) {
		errors = append(errors, fmt.Sprintf("invalid publish target '%s': must be one of %v", c.PublishTarget, validTargets))
	}
	if c.PublishTarget == PublishTargetSheets && c.GoogleSpreadsheetID == "" {
		errors = append(errors, "Google Spreadsheet ID is required when using sheets publish target")
	}

	if c.DashboardDebounce <= 0 {
		errors = append(errors, fmt.Sprintf("invalid dashboard debounce %v: must be positive", c.DashboardDebounce))
	} else if c.DashboardDebounce > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid dashboard debounce %v: must be at most 1 hour", c.DashboardDebounce))
	}

	if c.DashboardRecentLimit < 1 || c.DashboardRecentLimit > 50 {
		errors = append(errors, fmt.Sprintf("invalid dashboard recent limit %d: must be between 1 and 50", c.DashboardRecentLimit))
	}

	validLevels := []string{"debug", "info", "warn", "warning", "error"}
	if !slices.Contains(validLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}
	validFormats := []string{"text", "json", "tint"}
	if !slices.Contains(validFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validFormats))
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid metrics address '%s': %v", c.MetricsAddr, err))
		}
	}

	if c.ShutdownTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be at least 1 second", c.ShutdownTimeout))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// UseAMQP reports whether change notifications go through the broker.
func (c *Config) UseAMQP() bool {
	return c.AMQPURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
