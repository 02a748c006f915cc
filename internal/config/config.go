package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv    string
	Port       string
	BusinessID string
	TerminalID string
	Remote     RemoteConfig
	Database   DatabaseConfig
}

// RemoteConfig holds connection settings for the authoritative cloud store
type RemoteConfig struct {
	BaseURL    string
	APISecret  string // HMAC secret for terminal identity tokens
	TimeoutSec int
}

// DatabaseConfig holds local database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	businessID := os.Getenv("BUSINESS_ID")
	if businessID == "" {
		return nil, fmt.Errorf("BUSINESS_ID is required")
	}

	terminalID := os.Getenv("TERMINAL_ID")
	if terminalID == "" {
		return nil, fmt.Errorf("TERMINAL_ID is required")
	}

	remoteURL := os.Getenv("REMOTE_API_URL")
	if remoteURL == "" {
		return nil, fmt.Errorf("REMOTE_API_URL is required")
	}

	return &Config{
		NodeEnv:    getEnv("NODE_ENV", "development"),
		Port:       getEnv("PORT", "3001"),
		BusinessID: businessID,
		TerminalID: terminalID,
		Remote: RemoteConfig{
			BaseURL:    remoteURL,
			APISecret:  os.Getenv("REMOTE_API_SECRET"),
			TimeoutSec: getIntEnv("REMOTE_API_TIMEOUT", 15),
		},
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "mesapos"),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
