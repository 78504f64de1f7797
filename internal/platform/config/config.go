package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort string
	JWTKey  []byte
	JWTExp  time.Duration

	// StoreBackend selects "postgres" or "memory". Memory mode runs the
	// whole stack in-process for local development and tests.
	StoreBackend string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	WakeQueueKey  string

	WebhookSecret    []byte
	WebhookTolerance time.Duration

	WorkerCount      int
	JobMaxAttempts   int
	SweepInterval    time.Duration
	SweepBatchLimit  int
	StaleLockTimeout time.Duration

	MailFrom      string
	OpsAlertEmail string
	SiteBaseURL   string
}

// Load reads .env plus the process environment and returns the assembled
// config. Callers pass it down explicitly; there is no package-level state.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		APIPort: getEnv("API_PORT", "8080"),
		JWTKey:  []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:  time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,

		StoreBackend: getEnv("STORE_BACKEND", "postgres"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "user"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "village_fulfillment_db"),
		DBSslMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		WakeQueueKey:  getEnv("JOB_WAKE_QUEUE", "fulfillment_jobs_wake"),

		WebhookSecret:    []byte(getEnv("PAYMENT_WEBHOOK_SECRET", "whsec_devsecret")),
		WebhookTolerance: time.Duration(getEnvAsInt("PAYMENT_WEBHOOK_TOLERANCE_SECONDS", 300)) * time.Second,

		WorkerCount:      getEnvAsInt("WORKER_COUNT", 4),
		JobMaxAttempts:   getEnvAsInt("JOB_MAX_ATTEMPTS", 3),
		SweepInterval:    time.Duration(getEnvAsInt("SWEEP_INTERVAL_SECONDS", 30)) * time.Second,
		SweepBatchLimit:  getEnvAsInt("SWEEP_BATCH_LIMIT", 100),
		StaleLockTimeout: time.Duration(getEnvAsInt("STALE_LOCK_TIMEOUT_SECONDS", 300)) * time.Second,

		MailFrom:      getEnv("MAIL_FROM", "orders@villagecalendars.com"),
		OpsAlertEmail: getEnv("OPS_ALERT_EMAIL", "ops@villagecalendars.com"),
		SiteBaseURL:   getEnv("SITE_BASE_URL", "https://villagecalendars.com"),
	}

	cfg.DBConnStr = "host=" + cfg.DBHost +
		" port=" + cfg.DBPort +
		" user=" + cfg.DBUser +
		" password=" + cfg.DBPassword +
		" dbname=" + cfg.DBName +
		" sslmode=" + cfg.DBSslMode

	return cfg
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
