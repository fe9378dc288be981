// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir            string // Base directory for the database (always absolute)
	Port               int
	LogLevel           string
	DevMode            bool
	MaxConcurrentTasks int           // Upper bound on tasks executing at once
	DispatchInterval   time.Duration // How often the task manager polls for pending work
	PipelineCron       string        // Cron spec for the daily analysis pipeline
	NewsCron           string        // Cron spec for the faster news collection cadence
	Timezone           string        // IANA timezone name the cron specs are evaluated in
	ForecastAheadDays  int           // Forecast horizon in trading days
	HistoryYears       int           // Trailing window fetched from the data source
	MinHistoryPoints   int           // Below this, signals and forecasts are skipped
	StaleRunningAfter  time.Duration // RUNNING tasks older than this are requeued on startup
	DataSourceURL      string        // Base URL of the market data source
	SearxURL           string        // Base URL of the SearXNG instance for news search
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("STOCKDECK_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:            absDataDir,
		Port:               getEnvAsInt("PORT", 8080),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		MaxConcurrentTasks: getEnvAsInt("MAX_CONCURRENT_TASKS", 3),
		DispatchInterval:   time.Duration(getEnvAsInt("DISPATCH_INTERVAL_SECONDS", 5)) * time.Second,
		PipelineCron:       getEnv("PIPELINE_CRON", "10 16 * * *"),
		NewsCron:           getEnv("NEWS_CRON", "0 */4 * * *"),
		Timezone:           getEnv("TZ", "Asia/Taipei"),
		ForecastAheadDays:  getEnvAsInt("FORECAST_AHEAD_DAYS", 5),
		HistoryYears:       getEnvAsInt("HISTORY_YEARS", 3),
		MinHistoryPoints:   getEnvAsInt("MIN_HISTORY_POINTS", 50),
		StaleRunningAfter:  time.Duration(getEnvAsInt("STALE_RUNNING_MINUTES", 35)) * time.Minute,
		DataSourceURL:      getEnv("DATA_SOURCE_URL", ""),
		SearxURL:           getEnv("SEARXNG_URL", "http://localhost:8888"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("MAX_CONCURRENT_TASKS must be at least 1, got %d", c.MaxConcurrentTasks)
	}
	if c.ForecastAheadDays < 1 {
		return fmt.Errorf("FORECAST_AHEAD_DAYS must be at least 1, got %d", c.ForecastAheadDays)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TZ %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured timezone. Validate guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DatabasePath returns the path of the sqlite database file
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "stockdeck.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
