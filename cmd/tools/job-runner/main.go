// Package main implements the job-runner CLI for invoking the scheduler
// jobs and single-subscription workflow operations directly, bypassing the
// Lambda runtime.
//
// It is intended for local development, backfills and operational
// debugging.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --list
//	go run ./cmd/tools/job-runner --task=reconcile_renewals --reference-time=2026-06-01T09:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --task=sweep_due_runs
//	go run ./cmd/tools/job-runner --task=trigger --subscription=sub_123
//	go run ./cmd/tools/job-runner --task=inspect --subscription=sub_123
//
// Configuration comes from the environment (or .env). When SQS_REMINDERS is
// empty, wake messages produced by the job are executed in-process before
// the tool exits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"subtrack/internal/app"
	"subtrack/internal/queue"
	"subtrack/internal/reminder"
	"subtrack/internal/scheduler"
	"subtrack/internal/types"
)

// Single-subscription operations handled outside scheduler.Handler.
const (
	taskTrigger = "trigger"
	taskResume  = "resume"
	taskInspect = "inspect"
)

var validTasks = map[string]string{
	string(scheduler.TaskSweepDueRuns):      "Re-dispatch due, stale and orphaned workflow runs",
	string(scheduler.TaskReconcileRenewals): "Start reminder runs for renewals inside the reminder window",
	string(scheduler.TaskSweepAndReconcile): "Reconcile, then sweep (the scheduled default)",
	taskTrigger:                             "Start a run for --subscription",
	taskResume:                              "Resume the active run of --subscription now",
	taskInspect:                             "Print the latest run of --subscription with its step log",
}

type options struct {
	task           string
	subscriptionID string
	referenceTime  *time.Time
	dryRun         bool
	list           bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if opts.list {
		printTasks(os.Stdout)
		return
	}
	if opts.dryRun {
		if err := printPlan(os.Stdout, opts); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("job-runner", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	var refTime string
	fs.StringVar(&opts.task, "task", "", "Task to run (see --list)")
	fs.StringVar(&opts.subscriptionID, "subscription", "", "Subscription id for trigger, resume and inspect")
	fs.StringVar(&refTime, "reference-time", "", "RFC3339 time used as \"now\" by the scheduler jobs")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Print what would run without executing")
	fs.BoolVar(&opts.list, "list", false, "List available tasks")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.list {
		return opts, nil
	}

	if _, ok := validTasks[opts.task]; !ok {
		err := fmt.Errorf("unknown or missing --task %q", opts.task)
		fmt.Fprintf(stderr, "error: %v\n", err)
		return opts, err
	}
	if isSubscriptionTask(opts.task) && opts.subscriptionID == "" {
		err := fmt.Errorf("--task=%s requires --subscription", opts.task)
		fmt.Fprintf(stderr, "error: %v\n", err)
		return opts, err
	}
	if refTime != "" {
		t, err := time.Parse(time.RFC3339, refTime)
		if err != nil {
			err = fmt.Errorf("invalid --reference-time: %w", err)
			fmt.Fprintf(stderr, "error: %v\n", err)
			return opts, err
		}
		t = t.UTC()
		opts.referenceTime = &t
	}
	return opts, nil
}

func isSubscriptionTask(task string) bool {
	return task == taskTrigger || task == taskResume || task == taskInspect
}

func printTasks(w io.Writer) {
	names := make([]string, 0, len(validTasks))
	for name := range validTasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-22s %s\n", name, validTasks[name])
	}
}

// printPlan writes the scheduler payload, or the subscription operation,
// that a real invocation would execute.
func printPlan(w io.Writer, opts options) error {
	var plan any
	if isSubscriptionTask(opts.task) {
		plan = map[string]string{"task": opts.task, "subscription_id": opts.subscriptionID}
	} else {
		plan = scheduler.Payload{Task: scheduler.TaskType(opts.task), ReferenceTime: opts.referenceTime}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(plan)
}

func run(opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, "job-runner")
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	cfg, logger := rt.Config, rt.Logger

	var (
		dispatcher reminder.Dispatcher
		local      *queue.LocalDispatcher
	)
	if cfg.AWS.ReminderQueueURL != "" {
		dispatcher = queue.NewSQSDispatcher(sqs.NewFromConfig(rt.AWS), cfg.AWS.ReminderQueueURL, logger)
	} else {
		local = queue.NewLocalDispatcher(cfg.Workflow.QueueBuffer, logger)
		dispatcher = local
	}

	svc, err := rt.NewReminderService(dispatcher)
	if err != nil {
		return fmt.Errorf("creating reminder service: %w", err)
	}

	start := time.Now()
	result, err := execute(ctx, opts, svc, scheduler.NewSweeper(scheduler.SweeperConfig{
		Runs:       rt.Runs,
		Dispatcher: dispatcher,
		StaleAfter: svc.StaleAfter(),
		BatchSize:  cfg.Workflow.SweepBatchSize,
		Logger:     logger,
	}), rt.Metrics, logger)
	if err != nil {
		return err
	}
	logger.Info(result, "task", opts.task, "duration", time.Since(start).String())

	if local != nil {
		n, err := local.Drain(ctx, svc)
		logger.Info("in-process wake messages executed", "count", n)
		if err != nil {
			return fmt.Errorf("executing wake messages: %w", err)
		}
	}
	return nil
}

// service is the reminder service surface the runner uses.
type service interface {
	scheduler.ReconcileService
	Trigger(ctx context.Context, subscriptionID string) (*types.TriggerResult, error)
	Resume(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error)
	LatestRun(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error)
}

func execute(ctx context.Context, opts options, svc service, sweeper scheduler.SweepService, metrics scheduler.MetricsFlusher, logger *slog.Logger) (string, error) {
	switch opts.task {
	case taskTrigger:
		res, err := svc.Trigger(ctx, opts.subscriptionID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("trigger %s: %s (run %s)", opts.subscriptionID, res.Status, res.RunID), nil
	case taskResume:
		run, err := svc.Resume(ctx, opts.subscriptionID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("resume %s: run %s is %s", opts.subscriptionID, run.ID, run.State), nil
	case taskInspect:
		run, err := svc.LatestRun(ctx, opts.subscriptionID)
		if err != nil {
			return "", err
		}
		out, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return "", err
		}
		fmt.Println(string(out))
		return fmt.Sprintf("inspect %s: run %s is %s", opts.subscriptionID, run.ID, run.State), nil
	}

	h := &scheduler.Handler{
		Sweeper:    sweeper,
		Reconciler: svc,
		Metrics:    metrics,
		Clock:      types.RealClock{},
		Logger:     logger,
	}
	return h.Handle(ctx, scheduler.Payload{Task: scheduler.TaskType(opts.task), ReferenceTime: opts.referenceTime})
}
