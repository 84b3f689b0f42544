package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtrack/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
	done  chan string
}

func (f *fakeExecutor) Resume(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error) {
	f.mu.Lock()
	f.calls = append(f.calls, subscriptionID)
	err := f.errs[subscriptionID]
	f.mu.Unlock()
	if f.done != nil {
		defer func() { f.done <- subscriptionID }()
	}
	if err != nil {
		return nil, err
	}
	return &types.WorkflowRun{ID: "run-" + subscriptionID, SubscriptionID: subscriptionID, State: types.RunSleeping}, nil
}

func TestSQSDispatcher_Dispatch(t *testing.T) {
	client := &fakeSQS{}
	d := NewSQSDispatcher(client, "https://sqs.local/reminders", discardLogger())

	err := d.Dispatch(context.Background(), types.WakeMessage{
		SubscriptionID: "sub-1",
		RunID:          "run-1",
		Reason:         types.WakeReasonTrigger,
	})
	require.NoError(t, err)
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "https://sqs.local/reminders", aws.ToString(in.QueueUrl))
	assert.Equal(t, types.WakeReasonTrigger, aws.ToString(in.MessageAttributes["reason"].StringValue))

	var msg types.WakeMessage
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &msg))
	assert.Equal(t, "sub-1", msg.SubscriptionID)
	assert.Equal(t, "run-1", msg.RunID)
	assert.False(t, msg.EnqueuedAt.IsZero())
}

func TestSQSDispatcher_SendError(t *testing.T) {
	d := NewSQSDispatcher(&fakeSQS{err: errors.New("throttled")}, "q", discardLogger())

	err := d.Dispatch(context.Background(), types.WakeMessage{SubscriptionID: "sub-1"})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalQueue))
}

func sqsRecord(id string, msg any) events.SQSMessage {
	body, _ := json.Marshal(msg)
	return events.SQSMessage{
		MessageId:  id,
		Body:       string(body),
		Attributes: map[string]string{"SentTimestamp": "1700000000000"},
	}
}

func TestConsumer_Handle(t *testing.T) {
	exec := &fakeExecutor{errs: map[string]error{
		"sub-gone":  types.NewAppError(types.ErrCodeNotFoundWorkflowRun, "no active run", nil),
		"sub-flaky": types.NewAppError(types.ErrCodeInternalDB, "connection reset", nil),
	}}
	c := NewConsumer(exec, discardLogger())

	event := events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord("m1", types.WakeMessage{SubscriptionID: "sub-ok", Reason: types.WakeReasonTrigger}),
		sqsRecord("m2", types.WakeMessage{SubscriptionID: "sub-gone", Reason: types.WakeReasonSweep}),
		sqsRecord("m3", types.WakeMessage{SubscriptionID: "sub-flaky", Reason: types.WakeReasonSweep}),
		{MessageId: "m4", Body: "{not json"},
		sqsRecord("m5", map[string]string{"reason": "trigger"}),
	}}

	resp, err := c.Handle(context.Background(), event)
	require.NoError(t, err)

	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m3", resp.BatchItemFailures[0].ItemIdentifier)
	assert.Equal(t, []string{"sub-ok", "sub-gone", "sub-flaky"}, exec.calls)
}

func TestLocalDispatcher_FullBuffer(t *testing.T) {
	d := NewLocalDispatcher(1, discardLogger())
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, types.WakeMessage{SubscriptionID: "sub-1"}))
	err := d.Dispatch(ctx, types.WakeMessage{SubscriptionID: "sub-2"})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalQueue))
	assert.Equal(t, 1, d.Pending())
}

func TestLocalDispatcher_Run(t *testing.T) {
	d := NewLocalDispatcher(8, discardLogger())
	exec := &fakeExecutor{done: make(chan string, 8)}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx, exec, 2) }()

	for _, id := range []string{"sub-1", "sub-2", "sub-3"} {
		require.NoError(t, d.Dispatch(ctx, types.WakeMessage{SubscriptionID: id, Reason: types.WakeReasonTrigger}))
	}

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case id := <-exec.done:
			seen[id] = true
		case <-timeout:
			t.Fatalf("only %d of 3 messages executed", len(seen))
		}
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLocalDispatcher_Drain(t *testing.T) {
	d := NewLocalDispatcher(8, discardLogger())
	exec := &fakeExecutor{done: make(chan string, 8)}
	ctx := context.Background()

	n, err := d.Drain(ctx, exec)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, id := range []string{"sub-1", "sub-2"} {
		require.NoError(t, d.Dispatch(ctx, types.WakeMessage{SubscriptionID: id}))
	}
	n, err = d.Drain(ctx, exec)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, d.Pending())
}
