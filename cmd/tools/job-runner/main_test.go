package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"subtrack/internal/types"
)

type fakeService struct {
	reconciledAt time.Time
	triggered    []string
}

func (f *fakeService) Reconcile(_ context.Context, now time.Time) (*types.ReconcileResult, error) {
	f.reconciledAt = now
	return &types.ReconcileResult{Started: []string{"sub_1", "sub_2"}}, nil
}

func (f *fakeService) Trigger(_ context.Context, id string) (*types.TriggerResult, error) {
	f.triggered = append(f.triggered, id)
	return &types.TriggerResult{SubscriptionID: id, RunID: "run_1", Status: types.TriggerStarted}, nil
}

func (f *fakeService) Resume(_ context.Context, id string) (*types.WorkflowRun, error) {
	return &types.WorkflowRun{ID: "run_1", SubscriptionID: id, State: types.RunSleeping}, nil
}

func (f *fakeService) LatestRun(_ context.Context, id string) (*types.WorkflowRun, error) {
	return &types.WorkflowRun{ID: "run_1", SubscriptionID: id, State: types.RunCompleted}, nil
}

type fakeSweeper struct{ calls int }

func (f *fakeSweeper) Sweep(context.Context, time.Time) (int, error) {
	f.calls++
	return 3, nil
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"list", []string{"--list"}, false},
		{"scheduler task", []string{"--task=sweep_due_runs"}, false},
		{"reference time", []string{"--task=reconcile_renewals", "--reference-time=2026-06-01T09:00:00Z"}, false},
		{"subscription task", []string{"--task=trigger", "--subscription=sub_1"}, false},
		{"missing task", nil, true},
		{"unknown task", []string{"--task=archive"}, true},
		{"subscription required", []string{"--task=resume"}, true},
		{"bad reference time", []string{"--task=sweep_due_runs", "--reference-time=yesterday"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseFlags(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestPrintPlan(t *testing.T) {
	opts, err := parseFlags([]string{"--task=reconcile_renewals", "--reference-time=2026-06-01T09:00:00+02:00"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := printPlan(&buf, opts); err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["task"] != "reconcile_renewals" || got["reference_time"] != "2026-06-01T07:00:00Z" {
		t.Errorf("plan = %v", got)
	}
}

func TestPrintTasks(t *testing.T) {
	var buf bytes.Buffer
	printTasks(&buf)
	for name := range validTasks {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("task %s not listed", name)
		}
	}
}

func TestExecute(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ref := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("scheduler task", func(t *testing.T) {
		svc, sw := &fakeService{}, &fakeSweeper{}
		res, err := execute(context.Background(), options{task: "sweep_and_reconcile", referenceTime: &ref}, svc, sw, nil, logger)
		if err != nil {
			t.Fatal(err)
		}
		if !svc.reconciledAt.Equal(ref) || sw.calls != 1 {
			t.Errorf("reconciledAt=%v sweeps=%d", svc.reconciledAt, sw.calls)
		}
		if !strings.Contains(res, "sweep_and_reconcile complete") {
			t.Errorf("result = %q", res)
		}
	})

	t.Run("trigger", func(t *testing.T) {
		svc := &fakeService{}
		res, err := execute(context.Background(), options{task: taskTrigger, subscriptionID: "sub_9"}, svc, &fakeSweeper{}, nil, logger)
		if err != nil {
			t.Fatal(err)
		}
		if len(svc.triggered) != 1 || !strings.Contains(res, "started") {
			t.Errorf("result = %q, triggered = %v", res, svc.triggered)
		}
	})

	t.Run("resume", func(t *testing.T) {
		res, err := execute(context.Background(), options{task: taskResume, subscriptionID: "sub_9"}, &fakeService{}, &fakeSweeper{}, nil, logger)
		if err != nil || !strings.Contains(res, "sleeping") {
			t.Errorf("result = %q, err = %v", res, err)
		}
	})
}
