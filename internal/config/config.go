package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment
// variables, with a .env file as fallback for local setups.
type Config struct {
	Port      string
	JWTSecret string

	Database DatabaseConfig
	Remote   RemoteConfig
	Sync     SyncConfig
}

// DatabaseConfig selects between the zero-config embedded PostgreSQL and an
// external server.
type DatabaseConfig struct {
	// UseEmbedded starts a bundled PostgreSQL under DataPath. External
	// connection fields are ignored when set.
	UseEmbedded bool
	DataPath    string
	Port        int

	Host     string
	User     string
	Password string
	Name     string
}

// RemoteConfig points at the central server.
type RemoteConfig struct {
	BaseURL  string
	APIToken string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),
		Database: DatabaseConfig{
			UseEmbedded: getBoolEnv("DB_EMBEDDED", true),
			DataPath:    getEnv("DB_DATA_PATH", "./db_data"),
			Port:        getIntEnv("DB_PORT", 5433),
			Host:        getEnv("DB_HOST", "localhost"),
			User:        getEnv("DB_USER", "millsync"),
			Password:    getEnv("DB_PASSWORD", "millsync"),
			Name:        getEnv("DB_NAME", "millsync"),
		},
		Remote: RemoteConfig{
			BaseURL:  getEnv("REMOTE_BASE_URL", ""),
			APIToken: getEnv("REMOTE_API_TOKEN", ""),
		},
		Sync: loadSyncConfig(),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Sync.Enabled && cfg.Remote.BaseURL == "" {
		return nil, fmt.Errorf("REMOTE_BASE_URL is required when sync is enabled")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getIntEnv(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
