// Package main is the entry point for the SubTrack reminder API.
//
// It loads configuration, opens the shared dependencies, builds the HTTP
// server with the core chassis (middleware, routing, health checks) and the
// workflow handlers, then serves until SIGINT or SIGTERM.
//
// When SQS_REMINDERS is empty the process is also the scheduling host: wake
// messages go to an in-process worker pool and the resumption sweep and the
// reconcile job run on timers. This mode is for local development and
// single-instance deployments.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"subtrack/internal/api/handlers"
	"subtrack/internal/app"
	"subtrack/internal/auth"
	"subtrack/internal/config"
	"subtrack/internal/core"
	"subtrack/internal/queue"
	"subtrack/internal/reminder"
	"subtrack/internal/scheduler"
	"subtrack/internal/telemetry"
	"subtrack/internal/types"
)

const (
	shutdownTimeout      = 10 * time.Second
	metricsFlushInterval = time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, "api")
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rt.Close(closeCtx)
	}()

	cfg, logger := rt.Config, rt.Logger
	clock := types.RealClock{}

	var (
		dispatcher reminder.Dispatcher
		local      *queue.LocalDispatcher
	)
	if cfg.AWS.ReminderQueueURL != "" {
		dispatcher = queue.NewSQSDispatcher(sqs.NewFromConfig(rt.AWS), cfg.AWS.ReminderQueueURL, logger)
	} else {
		logger.Warn("SQS_REMINDERS not set, hosting wake-ups in-process")
		local = queue.NewLocalDispatcher(cfg.Workflow.QueueBuffer, logger)
		dispatcher = local
	}

	svc, err := rt.NewReminderService(dispatcher)
	if err != nil {
		return fmt.Errorf("creating reminder service: %w", err)
	}

	srv, err := newServer(cfg, logger, rt, svc, local)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gctx, srv.Handler(), cfg.Server.Port, logger)
	})

	if cw, ok := rt.Metrics.(*telemetry.CloudWatch); ok {
		g.Go(func() error {
			cw.Run(gctx, metricsFlushInterval)
			return nil
		})
	}

	if local != nil {
		sweeper := scheduler.NewSweeper(scheduler.SweeperConfig{
			Runs:       rt.Runs,
			Dispatcher: local,
			StaleAfter: svc.StaleAfter(),
			BatchSize:  cfg.Workflow.SweepBatchSize,
			Logger:     logger,
		})
		g.Go(func() error {
			return local.Run(gctx, svc, cfg.Workflow.WorkerConcurrency)
		})
		g.Go(func() error {
			return scheduler.RunCron(gctx, []scheduler.Job{
				{
					Name:     string(scheduler.TaskSweepDueRuns),
					Schedule: cfg.Workflow.SweepSchedule,
					Run: func(ctx context.Context, now time.Time) error {
						_, err := sweeper.Sweep(ctx, now)
						return err
					},
				},
				{
					Name:     string(scheduler.TaskReconcileRenewals),
					Schedule: cfg.Workflow.ReconcileSchedule,
					Run: func(ctx context.Context, now time.Time) error {
						res, err := svc.Reconcile(ctx, now)
						if err == nil {
							logger.InfoContext(ctx, "reconcile complete", "started", res.Count(), "already_running", res.AlreadyRunning)
						}
						return err
					},
				},
			}, clock, logger)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newServer wires the HTTP chassis: authentication, rate limiting, metrics,
// health checks and the workflow routes.
func newServer(cfg *config.Config, logger *slog.Logger, rt *app.Runtime, svc *reminder.Service, local *queue.LocalDispatcher) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}

	clock := types.RealClock{}
	srv.Authenticator = auth.NewTokenAuthenticator(cfg.Auth, clock)
	srv.RateLimitStore = core.NewMemoryRateLimitStore(clock)
	srv.Metrics = rt.Metrics
	if prom, ok := rt.Metrics.(*telemetry.Prometheus); ok {
		srv.MetricsHandler = prom.Handler()
	}

	srv.HealthChecks = append(srv.HealthChecks, core.CheckFunc{
		CheckName: "database",
		Fn:        rt.Pool.Ping,
	})
	if local != nil {
		srv.HealthChecks = append(srv.HealthChecks, queueCheck(local, cfg.Workflow.QueueBuffer))
	}

	workflowHandler := handlers.NewWorkflowHandler(svc, rt.Subscriptions, srv.Validator, clock, logger)
	requireSystem := srv.RequireActorType(types.ActorTypeSystem)
	srv.RouteRegistrars = append(srv.RouteRegistrars, func(r chi.Router) {
		workflowHandler.RegisterRoutes(r, requireSystem)
	})

	srv.MountRoutes()
	return srv, nil
}

// pendingCounter reports how many wake messages wait in a buffer.
type pendingCounter interface {
	Pending() int
}

// queueCheck reports unhealthy once the in-process wake buffer is full,
// since further dispatches are being rejected.
func queueCheck(q pendingCounter, capacity int) core.HealthCheck {
	return core.CheckFunc{
		CheckName: "queue",
		Fn: func(context.Context) error {
			if n := q.Pending(); n >= capacity {
				return fmt.Errorf("wake buffer full (%d pending)", n)
			}
			return nil
		},
	}
}

// serveHTTP listens on port until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func serveHTTP(ctx context.Context, handler http.Handler, port string, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
