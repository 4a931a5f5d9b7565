package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tesseract-Nexus/go-shared/secrets"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisURL      string
	ScopeCacheTTL time.Duration

	// NATS
	NATSURL        string
	IngestEnabled  bool
	ConsumerPrefix string

	// Server
	Port        string
	Environment string
	LogLevel    string

	// Services
	StaffServiceURL string

	// Reporting
	// REPORT_TIMEZONE decides where "today" and "this_week" begin
	ReportTimezone   string
	LeaderboardLimit int
	LeaderboardMax   int
	TopLimit         int
	TopMax           int

	// Exports
	ExportRatePerSec float64
	ExportBurst      int
}

func Load() *Config {
	dbPort := getEnvInt("DB_PORT", 5432)

	return &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: secrets.GetDBPassword(),
		DBName:     getEnv("DB_NAME", "analytics_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://redis.redis-marketplace.svc.cluster.local:6379/0"),
		ScopeCacheTTL: getEnvDuration("SCOPE_CACHE_TTL", 30*time.Second),

		// NATS
		NATSURL:        getEnv("NATS_URL", "nats://nats.nats.svc.cluster.local:4222"),
		IngestEnabled:  getEnvBool("FACT_INGEST_ENABLED", true),
		ConsumerPrefix: getEnv("NATS_CONSUMER_PREFIX", "analytics-points"),

		// Server
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Services
		StaffServiceURL: getEnv("STAFF_SERVICE_URL", "http://staff-service:8080"),

		// Reporting
		ReportTimezone:   getEnv("REPORT_TIMEZONE", "UTC"),
		LeaderboardLimit: getEnvInt("LEADERBOARD_LIMIT", 100),
		LeaderboardMax:   getEnvInt("LEADERBOARD_MAX_LIMIT", 500),
		TopLimit:         getEnvInt("TOP_LIMIT", 10),
		TopMax:           getEnvInt("TOP_MAX_LIMIT", 20),

		// Exports
		ExportRatePerSec: getEnvFloat("EXPORT_RATE_PER_SEC", 1),
		ExportBurst:      getEnvInt("EXPORT_BURST", 2),
	}
}

// Location returns the reporting timezone, falling back to UTC when the name is unknown.
func (c *Config) Location() *time.Location {
	loc, _ := c.LoadLocation()
	return loc
}

// LoadLocation resolves REPORT_TIMEZONE. An unknown name yields UTC together
// with the lookup error so callers can report it.
func (c *Config) LoadLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return time.UTC, fmt.Errorf("unknown REPORT_TIMEZONE %q: %w", c.ReportTimezone, err)
	}
	return loc, nil
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
