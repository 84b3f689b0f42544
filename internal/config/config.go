// Package config defines the process configuration for the subtrack reminder
// services. Configuration is loaded once at startup and is immutable after.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or invalid format fails startup.
package config

import (
	"time"

	"subtrack/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"subtrack-reminders"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Email         EmailConfig
	Auth          AuthConfig
	Workflow      WorkflowConfig
	Observability ObservabilityConfig

	Build BuildInfo
}

// IsLocal reports whether the process runs in local development mode.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	DashboardURL   string        `envconfig:"DASHBOARD_URL" validate:"required,url"`
	SupportURL     string        `envconfig:"SUPPORT_URL" validate:"omitempty,url"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	// RateLimitPerMinute applies per authenticated actor.
	RateLimitPerMinute int      `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120" validate:"gte=0"`
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	AutoMigrate       bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// ReminderQueueURL receives wake messages. Empty selects the in-process
	// dispatcher, which is only valid for a single API instance.
	ReminderQueueURL string `envconfig:"SQS_REMINDERS" validate:"omitempty,url"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds email delivery provider settings.
type EmailConfig struct {
	Provider       string       `envconfig:"EMAIL_PROVIDER" default:"sendgrid" validate:"oneof=sendgrid ses stub"`
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required_if=Provider sendgrid"`
	SendGridURL    string       `envconfig:"SENDGRID_BASE_URL" default:"https://api.sendgrid.com" validate:"url"`
	SESConfigSet   string       `envconfig:"SES_CONFIGURATION_SET"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"reminders@subtrack.app" validate:"email"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"SubTrack"`
}

// AuthConfig holds bearer token secrets.
type AuthConfig struct {
	// JWTSecret verifies HS256 user tokens.
	JWTSecret SecretString `envconfig:"JWT_SECRET" validate:"required,min=32"`
	JWTIssuer string       `envconfig:"JWT_ISSUER" default:"subtrack"`
	// CallbackSecret authenticates the scheduling host on /workflow callbacks.
	CallbackSecret SecretString `envconfig:"WORKFLOW_CALLBACK_SECRET" validate:"required,min=16"`
}

// WorkflowConfig tunes the reminder engine and its host loops.
type WorkflowConfig struct {
	Offsets []int `envconfig:"REMINDER_OFFSETS_DAYS" default:"7,3,1" validate:"required,min=1,dive,gt=0"`

	RetryInitial     time.Duration `envconfig:"WORKFLOW_RETRY_INITIAL" default:"1m" validate:"gt=0"`
	RetryMax         time.Duration `envconfig:"WORKFLOW_RETRY_MAX" default:"6h" validate:"gtefield=RetryInitial"`
	RetryMultiplier  float64       `envconfig:"WORKFLOW_RETRY_MULTIPLIER" default:"2" validate:"gte=1"`
	RetryMaxAttempts int           `envconfig:"WORKFLOW_RETRY_MAX_ATTEMPTS" default:"0" validate:"gte=0"`

	StaleRunTimeout time.Duration `envconfig:"WORKFLOW_STALE_RUN_TIMEOUT" default:"15m" validate:"gt=0"`
	SweepBatchSize  int           `envconfig:"WORKFLOW_SWEEP_BATCH_SIZE" default:"100" validate:"gt=0"`
	ReconcileBatch  int           `envconfig:"WORKFLOW_RECONCILE_BATCH_SIZE" default:"100" validate:"gt=0"`

	// Cron expressions for the in-process host loops (local mode only).
	SweepSchedule     string `envconfig:"WORKFLOW_SWEEP_SCHEDULE" default:"@every 1m" validate:"required"`
	ReconcileSchedule string `envconfig:"WORKFLOW_RECONCILE_SCHEDULE" default:"@daily" validate:"required"`

	WorkerConcurrency int `envconfig:"WORKFLOW_WORKER_CONCURRENCY" default:"8" validate:"gt=0"`
	QueueBuffer       int `envconfig:"WORKFLOW_QUEUE_BUFFER" default:"256" validate:"gt=0"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"SubTrack"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
