package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins []string
	DefaultLanguage    string

	// Lead storage
	LeadStore   string
	DatabaseURL string
	LeadsTable  string

	// Rate limiting
	RateLimitWindow  time.Duration
	RateLimitMax     int
	RateLimitBackend string

	// Redis (rate limiter and queue broker)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Notification queue
	QueueBackend           string
	QueuePrefix            string
	QueueVisibilityTimeout time.Duration
	NotificationQueueURL   string
	NotificationDLQURL     string
	CompletedRetention     time.Duration

	// Worker pool
	WorkerCount    int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	SendTimeout    time.Duration
	MailSendRate   float64

	// Mail provider
	MailProvider     string
	MailFromEmail    string
	MailFromName     string
	SendGridAPIKey   string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	AdminNotifyEmail string

	// SES configuration set receiving delivery events; optional.
	SESConfigurationSet string

	// Templates
	TemplatesPath     string
	TemplatesS3Bucket string
	TemplatesS3Key    string

	// Auth
	APIKey         string
	AdminJWTSecret string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Dead-letter events
	KafkaBrokers    []string
	DeadLetterTopic string
}

// LoadDotEnv loads a .env file from the working directory when present.
// It reports whether a file was loaded.
func LoadDotEnv() bool {
	return godotenv.Load() == nil
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		DefaultLanguage:    strings.ToLower(getEnv("DEFAULT_LANGUAGE", "en")),

		LeadStore:   strings.ToLower(getEnv("LEAD_STORE", "memory")),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		LeadsTable:  getEnv("LEADS_TABLE", "leads"),

		RateLimitWindow:  getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		RateLimitMax:     getEnvAsInt("RATE_LIMIT_MAX", 100),
		RateLimitBackend: strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "memory")),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		QueueBackend:           strings.ToLower(getEnv("QUEUE_BACKEND", "memory")),
		QueuePrefix:            getEnv("QUEUE_PREFIX", "notify"),
		QueueVisibilityTimeout: getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", 2*time.Minute),
		NotificationQueueURL:   getEnv("NOTIFICATION_QUEUE_URL", ""),
		NotificationDLQURL:     getEnv("NOTIFICATION_DLQ_URL", ""),
		CompletedRetention:     getEnvAsDuration("COMPLETED_RETENTION", 24*time.Hour),

		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		MaxAttempts:    getEnvAsInt("MAX_ATTEMPTS", 5),
		RetryBaseDelay: getEnvAsDuration("RETRY_BASE_DELAY", 30*time.Second),
		RetryMaxDelay:  getEnvAsDuration("RETRY_MAX_DELAY", 30*time.Minute),
		SendTimeout:    getEnvAsDuration("SEND_TIMEOUT", 15*time.Second),
		MailSendRate:   getEnvAsFloat("MAIL_SEND_RATE", 0),

		MailProvider:     strings.ToLower(getEnv("MAIL_PROVIDER", "stub")),
		MailFromEmail:    getEnv("MAIL_FROM_EMAIL", "leads@localhost"),
		MailFromName:     getEnv("MAIL_FROM_NAME", "Agency Team"),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		AdminNotifyEmail: getEnv("ADMIN_NOTIFY_EMAIL", getEnv("MAIL_FROM_EMAIL", "leads@localhost")),

		SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),

		TemplatesPath:     getEnv("TEMPLATES_PATH", ""),
		TemplatesS3Bucket: getEnv("TEMPLATES_S3_BUCKET", ""),
		TemplatesS3Key:    getEnv("TEMPLATES_S3_KEY", "templates.yaml"),

		APIKey:         getEnv("API_KEY", ""),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		KafkaBrokers:    getEnvAsList("KAFKA_BROKERS"),
		DeadLetterTopic: getEnv("DEAD_LETTER_TOPIC", "notification-dead-letters"),
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.RateLimitMax <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be positive"))
	}
	if !oneOf(c.RateLimitBackend, "memory", "redis") {
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend))
	}
	if !oneOf(c.LeadStore, "memory", "postgres", "dynamodb") {
		errs = append(errs, fmt.Errorf("unknown LEAD_STORE %q", c.LeadStore))
	}
	if c.LeadStore == "postgres" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for LEAD_STORE=postgres"))
	}
	if !oneOf(c.QueueBackend, "memory", "redis", "sqs") {
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}
	if c.QueueBackend == "sqs" && (c.NotificationQueueURL == "" || c.NotificationDLQURL == "") {
		errs = append(errs, errors.New("NOTIFICATION_QUEUE_URL and NOTIFICATION_DLQ_URL are required for QUEUE_BACKEND=sqs"))
	}
	if !oneOf(c.MailProvider, "sendgrid", "ses", "smtp", "stub") {
		errs = append(errs, fmt.Errorf("unknown MAIL_PROVIDER %q", c.MailProvider))
	}
	if strings.TrimSpace(c.AdminNotifyEmail) == "" {
		errs = append(errs, errors.New("ADMIN_NOTIFY_EMAIL is required"))
	}
	if c.IsProduction() && c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required in production"))
	}
	if c.WorkerCount <= 0 {
		errs = append(errs, errors.New("WORKER_COUNT must be positive"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("MAX_ATTEMPTS must be at least 1"))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT must be positive"))
	}
	// An attempt must finish before the broker hands the job to another worker.
	if c.QueueVisibilityTimeout <= c.SendTimeout {
		errs = append(errs, fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT (%s) must exceed SEND_TIMEOUT (%s)", c.QueueVisibilityTimeout, c.SendTimeout))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

func oneOf(value string, options ...string) bool {
	for _, opt := range options {
		if value == opt {
			return true
		}
	}
	return false
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
