package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	ServerPort  string
	Environment string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis configuration
	RedisAddress string

	// JWT configuration
	JWTSecret string

	FrontendAddress string

	// Engine tuning
	ConflictWindow         time.Duration // lookback window for conflict detection
	SessionIdleTimeout     time.Duration // ACTIVE -> INACTIVE after this much silence
	SessionSweepInterval   time.Duration
	DefaultMaxParticipants int

	// Sync client runtime
	ReconnectBackoffFloor time.Duration
	ReconnectBackoffCeil  time.Duration
	MaxReconnectAttempts  int
}

// Global application configuration
var AppConfig Config

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	// Find .env file
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Try to find .env in parent directories
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}

	// Load .env file if it exists
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	AppConfig = Config{
		ServerPort:      getEnv("PORT", "8080"),
		Environment:     getEnv("ENV", "development"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", "postgres"),
		DBName:          getEnv("DB_NAME", "widget_sync"),
		RedisAddress:    getEnv("REDIS_ADDRESS", "localhost:6379"),
		JWTSecret:       getEnv("JWT_SECRET", "widget-sync-secret"),
		FrontendAddress: getEnv("FRONTEND_ADDRESS", "https://production-frontend.com"),

		ConflictWindow:         getEnvDuration("CONFLICT_WINDOW_MS", 5000),
		SessionIdleTimeout:     getEnvDuration("SESSION_IDLE_TIMEOUT_MS", 30*60*1000),
		SessionSweepInterval:   getEnvDuration("SESSION_SWEEP_INTERVAL_MS", 60*1000),
		DefaultMaxParticipants: getEnvInt("SESSION_MAX_PARTICIPANTS", 10),

		ReconnectBackoffFloor: getEnvDuration("RECONNECT_BACKOFF_FLOOR_MS", 1000),
		ReconnectBackoffCeil:  getEnvDuration("RECONNECT_BACKOFF_CEIL_MS", 30000),
		MaxReconnectAttempts:  getEnvInt("MAX_RECONNECT_ATTEMPTS", 5),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid value for %s, using default %d", key, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}
