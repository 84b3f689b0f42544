// Package main is the reminder worker Lambda. It consumes wake messages from
// the reminder SQS queue and resumes the active workflow run of each
// subscription, reporting failed records back as partial batch failures so
// SQS redelivers only those.
//
// With APP_ENV=local the worker reads a single SQS event as JSON from stdin
// instead of starting the Lambda runtime:
//
//	echo '{"Records":[{"messageId":"1","body":"{\"subscription_id\":\"sub_1\"}"}]}' | go run ./cmd/reminder-worker
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"subtrack/internal/app"
	"subtrack/internal/queue"
)

// batchHandler processes one SQS batch.
type batchHandler interface {
	Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error)
}

// flusher pushes buffered metrics.
type flusher interface {
	Flush(ctx context.Context) error
}

// Handler flushes metrics after every invocation; a frozen Lambda
// environment would otherwise hold them indefinitely.
type Handler struct {
	consumer batchHandler
	metrics  flusher
	logger   *slog.Logger
}

// Handle is the Lambda entry point.
func (h *Handler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	defer func() {
		if err := h.metrics.Flush(context.WithoutCancel(ctx)); err != nil {
			h.logger.WarnContext(ctx, "metrics flush failed", "error", err)
		}
	}()
	return h.consumer.Handle(ctx, event)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	rt, err := app.Bootstrap(ctx, "reminder-worker")
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	cfg, logger := rt.Config, rt.Logger
	if cfg.AWS.ReminderQueueURL == "" {
		return errors.New("SQS_REMINDERS is required by the reminder worker")
	}

	dispatcher := queue.NewSQSDispatcher(sqs.NewFromConfig(rt.AWS), cfg.AWS.ReminderQueueURL, logger)
	svc, err := rt.NewReminderService(dispatcher)
	if err != nil {
		return fmt.Errorf("creating reminder service: %w", err)
	}

	handler := &Handler{
		consumer: queue.NewConsumer(svc, logger),
		metrics:  rt.Metrics,
		logger:   logger,
	}

	logger.Info("reminder worker initialized", "queue", cfg.AWS.ReminderQueueURL)

	if cfg.IsLocal() {
		return runOnce(ctx, handler, os.Stdin, logger)
	}

	lambda.Start(handler.Handle)
	return nil
}

// runOnce feeds one JSON-encoded SQS event from r through the handler.
func runOnce(ctx context.Context, h *Handler, r io.Reader, logger *slog.Logger) error {
	logger.Info("APP_ENV=local: reading SQS event from stdin")
	payload, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return errors.New("no input received on stdin")
	}

	var event events.SQSEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("parsing stdin as SQS event: %w", err)
	}

	resp, err := h.Handle(ctx, event)
	if err != nil {
		return err
	}
	logger.Info("batch processed",
		"records", len(event.Records),
		"failures", len(resp.BatchItemFailures),
	)
	if len(resp.BatchItemFailures) > 0 {
		return fmt.Errorf("%d of %d records failed", len(resp.BatchItemFailures), len(event.Records))
	}
	return nil
}
