// Package main is the scheduler Lambda, invoked by an EventBridge schedule.
// Each invocation reconciles upcoming renewals into workflow runs and
// sweeps due, stale and orphaned runs back onto the reminder queue.
//
// The EventBridge rule passes a scheduler.Payload; an empty payload runs
// both jobs. With APP_ENV=local one payload is read from stdin instead.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"subtrack/internal/app"
	"subtrack/internal/queue"
	"subtrack/internal/scheduler"
	"subtrack/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	rt, err := app.Bootstrap(ctx, "scheduler")
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	cfg, logger := rt.Config, rt.Logger
	if cfg.AWS.ReminderQueueURL == "" {
		return errors.New("SQS_REMINDERS is required by the scheduler")
	}

	dispatcher := queue.NewSQSDispatcher(sqs.NewFromConfig(rt.AWS), cfg.AWS.ReminderQueueURL, logger)
	svc, err := rt.NewReminderService(dispatcher)
	if err != nil {
		return fmt.Errorf("creating reminder service: %w", err)
	}

	handler := &scheduler.Handler{
		Sweeper: scheduler.NewSweeper(scheduler.SweeperConfig{
			Runs:       rt.Runs,
			Dispatcher: dispatcher,
			StaleAfter: svc.StaleAfter(),
			BatchSize:  cfg.Workflow.SweepBatchSize,
			Logger:     logger,
		}),
		Reconciler: svc,
		Metrics:    rt.Metrics,
		Clock:      types.RealClock{},
		Logger:     logger,
	}

	logger.Info("scheduler initialized", "queue", cfg.AWS.ReminderQueueURL)

	if cfg.IsLocal() {
		payload, err := readPayload(os.Stdin)
		if err != nil {
			return err
		}
		result, err := handler.Handle(ctx, payload)
		if err != nil {
			return err
		}
		logger.Info(result)
		return nil
	}

	lambda.Start(handler.Handle)
	return nil
}

// readPayload decodes a scheduler payload. Blank input selects the default
// combined task.
func readPayload(r io.Reader) (scheduler.Payload, error) {
	var payload scheduler.Payload
	data, err := io.ReadAll(r)
	if err != nil {
		return payload, fmt.Errorf("reading stdin: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("parsing payload: %w", err)
	}
	return payload, nil
}
