package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"subtrack/internal/types"
)

// cwMaxDatums is the PutMetricData per-call limit.
const cwMaxDatums = 1000

// CloudWatchClient is the PutMetricData subset of the CloudWatch client.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch buffers datums in memory; Flush publishes them. Lambda hosts
// flush at the end of every invocation, the API host on a ticker.
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

var _ Recorder = (*CloudWatch)(nil)

// NewCloudWatch creates a buffered CloudWatch recorder.
func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger, now: time.Now}
}

func (c *CloudWatch) add(name string, value float64, unit cwtypes.StandardUnit, dims ...string) {
	d := cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(c.now()),
	}
	for i := 0; i+1 < len(dims); i += 2 {
		d.Dimensions = append(d.Dimensions, cwtypes.Dimension{Name: aws.String(dims[i]), Value: aws.String(dims[i+1])})
	}
	c.mu.Lock()
	c.pending = append(c.pending, d)
	c.mu.Unlock()
}

func (c *CloudWatch) RecordRunOutcome(_ context.Context, workflow, outcome string) {
	c.add(types.MetricRunOutcome, 1, cwtypes.StandardUnitCount,
		types.DimWorkflow, workflow, types.DimOutcome, outcome)
}

func (c *CloudWatch) RecordStepRetry(_ context.Context, workflow, step string) {
	c.add(types.MetricStepRetry, 1, cwtypes.StandardUnitCount,
		types.DimWorkflow, workflow, types.DimStep, stepFamily(step))
}

func (c *CloudWatch) RecordReminder(_ context.Context, provider string, daysBefore int, ok bool) {
	name := types.MetricReminderSent
	if !ok {
		name = types.MetricReminderFailed
	}
	c.add(name, 1, cwtypes.StandardUnitCount,
		types.DimProvider, provider, types.DimOffset, strconv.Itoa(daysBefore))
}

func (c *CloudWatch) RecordRequest(_ context.Context, endpoint string, status int, d time.Duration) {
	c.add(types.MetricAPILatency, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		types.DimEndpoint, endpoint, types.DimStatus, statusClass(status))
}

// Flush publishes everything buffered so far. Datums from a failed batch
// are dropped; metrics are best-effort.
func (c *CloudWatch) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	var firstErr error
	for start := 0; start < len(batch); start += cwMaxDatums {
		end := min(start+cwMaxDatums, len(batch))
		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: batch[start:end],
		})
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to publish metrics",
				slog.Int("datums", end-start),
				slog.Any("error", err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run flushes every interval until ctx is done, then flushes once more.
func (c *CloudWatch) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			_ = c.Flush(ctx)
		}
	}
}
