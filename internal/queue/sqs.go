package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"subtrack/internal/types"
)

// SQSSender is the SendMessage subset of the SQS client.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDispatcher publishes wake messages to the reminder queue.
type SQSDispatcher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSDispatcher creates an SQSDispatcher for queueURL.
func NewSQSDispatcher(client SQSSender, queueURL string, logger *slog.Logger) *SQSDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSDispatcher{client: client, queueURL: queueURL, logger: logger}
}

func (d *SQSDispatcher) Dispatch(ctx context.Context, msg types.WakeMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to marshal wake message", err)
	}

	out, err := d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"reason": {DataType: aws.String("String"), StringValue: aws.String(msg.Reason)},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue wake message", err)
	}

	d.logger.DebugContext(ctx, "wake message enqueued",
		slog.String("subscription_id", msg.SubscriptionID),
		slog.String("reason", msg.Reason),
		slog.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}

// Consumer is the Lambda handler for the reminder queue. Failed records are
// reported individually so SQS only redelivers those.
type Consumer struct {
	exec   Executor
	logger *slog.Logger
}

// NewConsumer creates a Consumer that resumes runs through exec.
func NewConsumer(exec Executor, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{exec: exec, logger: logger}
}

// Handle processes one SQS batch.
func (c *Consumer) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range event.Records {
		if err := c.handleRecord(ctx, record); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return resp, nil
}

func (c *Consumer) handleRecord(ctx context.Context, record events.SQSMessage) error {
	var msg types.WakeMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil || msg.SubscriptionID == "" {
		// Poison message: redelivery cannot fix it.
		c.logger.ErrorContext(ctx, "dropping malformed wake message",
			slog.String("message_id", record.MessageId),
			slog.Any("error", err),
		)
		return nil
	}

	if sent, ok := record.Attributes["SentTimestamp"]; ok {
		if ms, err := strconv.ParseInt(sent, 10, 64); err == nil {
			c.logger.DebugContext(ctx, "queue lag",
				slog.String("message_id", record.MessageId),
				slog.Duration("lag", time.Since(time.UnixMilli(ms))),
			)
		}
	}

	return execute(ctx, c.exec, msg, c.logger.With(slog.String("message_id", record.MessageId)))
}
