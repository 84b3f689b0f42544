// Package telemetry implements the metrics sinks used by the engine, the
// mailer and the HTTP layer. Backends are CloudWatch (buffered, for the
// Lambda hosts), Prometheus (scraped from the API) and a no-op.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"subtrack/internal/config"
	"subtrack/internal/workflow"
)

// Recorder is the full metrics surface.
type Recorder interface {
	workflow.Metrics
	RecordReminder(ctx context.Context, provider string, daysBefore int, ok bool)
	RecordRequest(ctx context.Context, endpoint string, status int, d time.Duration)
	// Flush pushes buffered data; a no-op for pull-based backends.
	Flush(ctx context.Context) error
}

// New returns the backend selected by cfg.MetricsBackend.
func New(cfg config.ObservabilityConfig, awsCfg aws.Config, logger *slog.Logger) (Recorder, error) {
	switch cfg.MetricsBackend {
	case "prometheus":
		return NewPrometheus(cfg.MetricNamespace), nil
	case "cloudwatch":
		return NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.MetricNamespace, logger), nil
	case "none", "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.MetricsBackend)
	}
}

// stepFamily drops the period suffix so step names stay low-cardinality:
// "send-reminder-3:2026-06-08" -> "send-reminder-3".
func stepFamily(step string) string {
	family, _, _ := strings.Cut(step, ":")
	return family
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRunOutcome(context.Context, string, string)          {}
func (Nop) RecordStepRetry(context.Context, string, string)           {}
func (Nop) RecordReminder(context.Context, string, int, bool)         {}
func (Nop) RecordRequest(context.Context, string, int, time.Duration) {}
func (Nop) Flush(context.Context) error                               { return nil }
