package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string
	WorkerCount int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	IntakeQueueURL      string
	FilesBucket         string
	RunsTable           string

	// Ingress
	WebhookSecret     string
	AsyncIngress      bool
	WorkerWaitSeconds int
	WorkerBatchSize   int

	// Generative AI
	GeminiAPIKey    string
	GeminiModelID   string
	SummaryProvider string
	BedrockModelID  string

	// Stage 1 limits
	MaxFileBytes       int64
	SignedURLTTL       time.Duration
	UploadPollInterval time.Duration
	UploadPollTimeout  time.Duration

	// Stage 2 retry policy
	SummaryMaxAttempts int
	SummaryBaseDelay   time.Duration

	// Completion detector read-after-write check
	SettleAttempts int
	SettleInterval time.Duration

	// Admin recovery
	AdminJWTSecret    string
	AdminCORSOrigins  string
	RetriggerCooldown time.Duration
	RedisAddr         string
	RedisPassword     string
	RedisTLS          bool

	// Review alerts
	SendGridAPIKey    string
	SendGridFromEmail string
	SESFromEmail      string
	ReviewAlertEmail  string
	DisclaimerLevel   string
	DisclaimerEnabled bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		WorkerCount: getEnvAsInt("WORKER_COUNT", 4),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		IntakeQueueURL:      getEnv("INTAKE_QUEUE_URL", ""),
		FilesBucket:         getEnv("FILES_BUCKET", "patient-files"),
		RunsTable:           getEnv("RUNS_TABLE", ""),

		WebhookSecret:     getEnv("WEBHOOK_SECRET", ""),
		AsyncIngress:      getEnvAsBool("INTAKE_ASYNC_INGRESS", false),
		WorkerWaitSeconds: getEnvAsInt("WORKER_WAIT_SECONDS", 20),
		WorkerBatchSize:   getEnvAsInt("WORKER_BATCH_SIZE", 5),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:   getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		SummaryProvider: strings.ToLower(strings.TrimSpace(getEnv("SUMMARY_PROVIDER", "gemini"))),
		BedrockModelID:  getEnv("BEDROCK_MODEL_ID", ""),

		MaxFileBytes:       getEnvAsInt64("MAX_FILE_BYTES", 10*1024*1024),
		SignedURLTTL:       getEnvAsDuration("SIGNED_URL_TTL", 15*time.Minute),
		UploadPollInterval: getEnvAsDuration("UPLOAD_POLL_INTERVAL", 2*time.Second),
		UploadPollTimeout:  getEnvAsDuration("UPLOAD_POLL_TIMEOUT", 60*time.Second),

		SummaryMaxAttempts: getEnvAsInt("SUMMARY_MAX_ATTEMPTS", 3),
		SummaryBaseDelay:   getEnvAsDuration("SUMMARY_BASE_DELAY", time.Second),

		SettleAttempts: getEnvAsInt("SETTLE_ATTEMPTS", 3),
		SettleInterval: getEnvAsDuration("SETTLE_INTERVAL", 500*time.Millisecond),

		AdminJWTSecret:    getEnv("ADMIN_JWT_SECRET", ""),
		AdminCORSOrigins:  getEnv("ADMIN_CORS_ORIGINS", ""),
		RetriggerCooldown: getEnvAsDuration("RETRIGGER_COOLDOWN", 2*time.Minute),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisTLS:          getEnvAsBool("REDIS_TLS", false),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		ReviewAlertEmail:  getEnv("REVIEW_ALERT_EMAIL", ""),
		DisclaimerLevel:   getEnv("DISCLAIMER_LEVEL", "medium"),
		DisclaimerEnabled: getEnvAsBool("DISCLAIMER_ENABLED", true),
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
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

// ReviewRecipients splits REVIEW_ALERT_EMAIL on commas.
func (c *Config) ReviewRecipients() []string {
	return splitList(c.ReviewAlertEmail)
}

// AdminOrigins splits ADMIN_CORS_ORIGINS on commas.
func (c *Config) AdminOrigins() []string {
	return splitList(c.AdminCORSOrigins)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
