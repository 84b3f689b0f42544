// Package app assembles the process-wide dependencies shared by the API, the
// reminder worker and the scheduler: configuration, logging, the AWS SDK,
// the database pool, repositories, metrics and the reminder mailer.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jackc/pgx/v5/pgxpool"

	"subtrack/internal/config"
	"subtrack/internal/db"
	"subtrack/internal/external"
	"subtrack/internal/notifications/email"
	"subtrack/internal/reminder"
	"subtrack/internal/telemetry"
	"subtrack/internal/types"
	"subtrack/internal/workflow"
)

// Runtime holds the shared dependencies of one process.
type Runtime struct {
	Config        *config.Config
	Logger        *slog.Logger
	AWS           aws.Config
	Pool          *pgxpool.Pool
	Subscriptions *db.SubscriptionRepository
	Runs          *db.WorkflowRunRepository
	Metrics       telemetry.Recorder
	Mailer        *email.ReminderMailer
}

// Bootstrap loads configuration and opens every shared dependency. The
// caller owns the returned Runtime and must Close it.
func Bootstrap(ctx context.Context, component string) (*Runtime, error) {
	cfg, err := config.LoadConfig(ctx, SecretProvider(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := NewLogger(cfg.LogLevel).With("component", component)
	logger.Info("subtrack starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		logger.Info("database migrations applied")
	}

	metrics, err := telemetry.New(cfg.Observability, awsCfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	mailer, err := newMailer(cfg, awsCfg, metrics, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Runtime{
		Config:        cfg,
		Logger:        logger,
		AWS:           awsCfg,
		Pool:          pool,
		Subscriptions: db.NewSubscriptionRepository(pool),
		Runs:          db.NewWorkflowRunRepository(pool),
		Metrics:       metrics,
		Mailer:        mailer,
	}, nil
}

func newMailer(cfg *config.Config, awsCfg aws.Config, metrics telemetry.Recorder, logger *slog.Logger) (*email.ReminderMailer, error) {
	provider, err := external.NewEmailProvider(cfg.Email, awsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating email provider: %w", err)
	}
	renderer, err := email.NewRenderer(email.RendererConfig{
		AccountURL: cfg.Server.DashboardURL,
		SupportURL: cfg.Server.SupportURL,
	})
	if err != nil {
		return nil, fmt.Errorf("loading email templates: %w", err)
	}
	return email.NewReminderMailer(email.MailerConfig{
		Renderer:     renderer,
		Provider:     provider,
		From:         senderIdentity(cfg.Email),
		Logger:       logger,
		ProviderName: cfg.Email.Provider,
		Metrics:      metrics,
	}), nil
}

func senderIdentity(cfg config.EmailConfig) types.SenderIdentity {
	return types.SenderIdentity{Name: cfg.FromName, Address: cfg.FromAddress}
}

// NewReminderService builds the reminder service on top of the runtime,
// handing wake-ups to dispatcher.
func (r *Runtime) NewReminderService(dispatcher reminder.Dispatcher) (*reminder.Service, error) {
	return reminder.NewService(reminder.Deps{
		Subscriptions: r.Subscriptions,
		Runs:          r.Runs,
		Sender:        r.Mailer,
		Dispatcher:    dispatcher,
		Logger:        r.Logger,
		Metrics:       r.Metrics,
	}, ServiceOptions(r.Config.Workflow))
}

// Close flushes buffered metrics and releases the database pool.
func (r *Runtime) Close(ctx context.Context) {
	if err := r.Metrics.Flush(ctx); err != nil {
		r.Logger.Warn("final metrics flush failed", "error", err)
	}
	r.Pool.Close()
}

// ServiceOptions maps the workflow configuration onto reminder options.
func ServiceOptions(cfg config.WorkflowConfig) reminder.Options {
	return reminder.Options{
		Offsets: cfg.Offsets,
		Retry: workflow.RetryPolicy{
			Initial:     cfg.RetryInitial,
			Max:         cfg.RetryMax,
			Multiplier:  cfg.RetryMultiplier,
			MaxAttempts: cfg.RetryMaxAttempts,
		},
		StaleAfter:         cfg.StaleRunTimeout,
		ReconcileBatchSize: cfg.ReconcileBatch,
	}
}

// SecretProvider picks where *_SSM_PARAM references are resolved. Local mode
// needs none; a LocalStack endpoint reads them from the environment.
func SecretProvider(appEnv, region, endpoint string) config.SecretProvider {
	switch {
	case appEnv == "local":
		return nil
	case endpoint != "":
		return config.NewEnvVarProvider()
	default:
		return config.NewSSMProvider(region)
	}
}

// LoadAWSConfig loads the default SDK configuration for the configured
// region, pointing every client at EndpointURL when one is set.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, err
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// NewLogger creates a JSON slog.Logger at the given level. Unknown levels
// fall back to info.
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel maps a LOG_LEVEL value to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
