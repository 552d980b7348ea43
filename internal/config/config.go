package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string

	NatsHost string
	NatsPort string

	ApiPort    string
	ApiEnabled string

	// Batch jobs.
	ChunkSize            int
	DistributeInterval   time.Duration
	FreeMonthlyCredits   int64
	FreeCreditExpireDays int
}

// New loads and validates configuration from environment variables.
// HTTP server is optional: if CREDO_API_ENABLED != "true", ApiAddr() returns
// an error and the HTTP server simply won't start.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:               os.Getenv("CREDO_POSTGRES_USER"),
		DBPass:               os.Getenv("CREDO_POSTGRES_PASSWORD"),
		DBHost:               os.Getenv("CREDO_POSTGRES_HOST"),
		DBPort:               os.Getenv("CREDO_POSTGRES_PORT"),
		DBName:               os.Getenv("CREDO_POSTGRES_DB"),
		SSLMode:              os.Getenv("CREDO_POSTGRES_SSLMODE"),
		RedisHost:            os.Getenv("CREDO_REDIS_HOST"),
		RedisPort:            os.Getenv("CREDO_REDIS_PORT"),
		NatsHost:             os.Getenv("CREDO_NATS_HOST"),
		NatsPort:             os.Getenv("CREDO_NATS_PORT"),
		ApiPort:              os.Getenv("CREDO_API_PORT"),
		ApiEnabled:           os.Getenv("CREDO_API_ENABLED"),
		ChunkSize:            getEnvInt("CREDO_JOB_CHUNK_SIZE", 100),
		DistributeInterval:   time.Duration(getEnvInt("CREDO_DISTRIBUTE_INTERVAL_HOURS", 24)) * time.Hour,
		FreeMonthlyCredits:   int64(getEnvInt("CREDO_FREE_MONTHLY_CREDITS", 30)),
		FreeCreditExpireDays: getEnvInt("CREDO_FREE_CREDIT_EXPIRE_DAYS", 30),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: CREDO_POSTGRES_USER/HOST/DB/SSLMODE")
	}

	// Required: redis
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: CREDO_REDIS_HOST/PORT")
	}

	// Required: nats (event bus, command topics and job triggers)
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats: CREDO_NATS_HOST/PORT")
	}

	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("CREDO_JOB_CHUNK_SIZE must be positive")
	}
	if cfg.FreeMonthlyCredits <= 0 {
		return nil, fmt.Errorf("CREDO_FREE_MONTHLY_CREDITS must be positive")
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if CREDO_API_ENABLED != "true" — callers should skip
// starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("CREDO_API_PORT is required when CREDO_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (CREDO_API_ENABLED != true)")
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var intVal int
	if _, err := fmt.Sscanf(val, "%d", &intVal); err != nil {
		return defaultVal
	}
	return intVal
}
