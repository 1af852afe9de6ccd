package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string
	DatabaseURL   string

	// Offer orchestration
	BatchSize              int
	HoldDuration           time.Duration
	SweepInterval          time.Duration
	PriorityRecalcInterval time.Duration
	DisplayTimezone        string
	ClinicName             string

	// Twilio SMS
	TwilioAccountSID       string
	TwilioAuthToken        string
	TwilioFromNumber       string
	TwilioValidateWebhook  bool
	TwilioRetryMaxAttempts int
	TwilioRetryBaseDelay   time.Duration

	// Redis (batch advance guard)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AdminJWTSecret string

	// Staff alerts
	AlertEmail     string
	EmailProvider  string
	SendGridAPIKey string
	AlertFromEmail string
	AlertFromName  string
	AWSRegion      string

	RateLimitPerMinute int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		BatchSize:              getEnvAsInt("BATCH_SIZE", 3),
		HoldDuration:           getEnvAsDuration("HOLD_DURATION", 7*time.Minute),
		SweepInterval:          getEnvAsDuration("SWEEP_INTERVAL", 30*time.Second),
		PriorityRecalcInterval: getEnvAsDuration("PRIORITY_RECALC_INTERVAL", time.Hour),
		DisplayTimezone:        getEnv("DISPLAY_TIMEZONE", "America/Chicago"),
		ClinicName:             getEnv("CLINIC_NAME", "the clinic"),

		TwilioAccountSID:       getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:        getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:       getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioValidateWebhook:  getEnvAsBool("TWILIO_VALIDATE_WEBHOOK", false),
		TwilioRetryMaxAttempts: getEnvAsInt("TWILIO_RETRY_MAX_ATTEMPTS", 3),
		TwilioRetryBaseDelay:   getEnvAsDuration("TWILIO_RETRY_BASE_DELAY", 500*time.Millisecond),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		AlertEmail:     getEnv("ALERT_EMAIL", ""),
		EmailProvider:  getEnv("EMAIL_PROVIDER", "sendgrid"),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		AlertFromEmail: getEnv("ALERT_FROM_EMAIL", ""),
		AlertFromName:  getEnv("ALERT_FROM_NAME", "Waitline"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),

		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
