// internal/config/config.go
package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string

	// DB
	DBHost    string
	DBPort    string
	DBUser    string
	DBPass    string
	DBName    string
	DBSSLMode string

	// Auth
	ServiceExpectedToken string

	// CORS
	AllowedOrigins string

	// Sync tuning
	ConflictWindowSeconds int // operations within this window count as concurrent
	ConflictScanHours     int // best-effort secondary scan for existing conflicts
	PullBatchLimit        int // hard cap per pull call
	RetentionDays         int // processed entries older than this are cleaned up
	CleanupIntervalHours  int

	// SMTP (conflict digest)
	SMTPUser      string
	SMTPPass      string
	SMTPFrom      string
	SMTPHost      string
	SMTPPort      int
	SMTPFromName  string
	OpsAlertEmail string // empty disables the digest

	// R2 archive (retention)
	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2BucketName      string
	R2PublicURL       string
}

func Load() *Config {
	if os.Getenv("ENV") != "production" {
		_ = godotenv.Load() // optional .env for local
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8086"
	}

	return &Config{
		ServerPort: port,

		DBHost:    getEnv("DB_HOST", "localhost"),
		DBPort:    getEnv("DB_PORT", "5432"),
		DBUser:    getEnv("DB_USER", "postgres"),
		DBPass:    getEnv("DB_PASS", "postgres"),
		DBName:    getEnv("DB_NAME", "warehouse_sync_db"),
		DBSSLMode: getEnv("DB_SSLMODE", "disable"),

		ServiceExpectedToken: getEnv("SERVICE_TOKEN", "your-secret-service-token"),

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),

		ConflictWindowSeconds: getEnvInt("CONFLICT_WINDOW_SECONDS", 60),
		ConflictScanHours:     getEnvInt("CONFLICT_SCAN_HOURS", 24),
		PullBatchLimit:        getEnvInt("PULL_BATCH_LIMIT", 100),
		RetentionDays:         getEnvInt("RETENTION_DAYS", 30),
		CleanupIntervalHours:  getEnvInt("CLEANUP_INTERVAL_HOURS", 24),

		SMTPUser:      os.Getenv("SMTP_USER"),
		SMTPPass:      os.Getenv("SMTP_PASS"),
		SMTPFrom:      os.Getenv("SMTP_FROM"),
		SMTPHost:      os.Getenv("SMTP_HOST"),
		SMTPPort:      getEnvInt("SMTP_PORT", 587),
		SMTPFromName:  "Warehouse Sync",
		OpsAlertEmail: os.Getenv("OPS_ALERT_EMAIL"),

		// R2 Configuration (optional oplog archive)
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicURL:       os.Getenv("R2_PUBLIC_URL"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("❌ Invalid %s: %v", key, err)
	}
	return n
}
