package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"subtrack/internal/config"
	"subtrack/internal/core"
	"subtrack/internal/types"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return now }

type mockWorkflowService struct{ mock.Mock }

func (m *mockWorkflowService) Trigger(ctx context.Context, id string) (*types.TriggerResult, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*types.TriggerResult)
	return res, args.Error(1)
}

func (m *mockWorkflowService) Resume(ctx context.Context, id string) (*types.WorkflowRun, error) {
	args := m.Called(ctx, id)
	run, _ := args.Get(0).(*types.WorkflowRun)
	return run, args.Error(1)
}

func (m *mockWorkflowService) LatestRun(ctx context.Context, id string) (*types.WorkflowRun, error) {
	args := m.Called(ctx, id)
	run, _ := args.Get(0).(*types.WorkflowRun)
	return run, args.Error(1)
}

func (m *mockWorkflowService) Reconcile(ctx context.Context, at time.Time) (*types.ReconcileResult, error) {
	args := m.Called(ctx, at)
	res, _ := args.Get(0).(*types.ReconcileResult)
	return res, args.Error(1)
}

type stubSubscriptions map[string]*types.Subscription

func (s stubSubscriptions) GetSubscription(_ context.Context, id string) (*types.Subscription, error) {
	if sub, ok := s[id]; ok {
		return sub, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
}

var (
	owner  = types.Actor{ID: "usr_owner", Type: types.ActorTypeUser}
	other  = types.Actor{ID: "usr_other", Type: types.ActorTypeUser}
	system = types.Actor{ID: "scheduler", Type: types.ActorTypeSystem}
)

func newTestRouter(t *testing.T, svc WorkflowService) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := core.NewServer(&config.Config{}, logger)
	require.NoError(t, err)

	subs := stubSubscriptions{
		"sub_1": {ID: "sub_1", UserID: owner.ID, Name: "Netflix", Status: types.SubscriptionActive},
	}
	h := NewWorkflowHandler(svc, subs, core.NewValidator(), fixedClock{}, logger)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			switch req.Header.Get("X-Test-Actor") {
			case "owner":
				req = req.WithContext(types.WithActor(req.Context(), owner))
			case "other":
				req = req.WithContext(types.WithActor(req.Context(), other))
			case "system":
				req = req.WithContext(types.WithActor(req.Context(), system))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.RegisterRoutes(r, srv.RequireActorType(types.ActorTypeSystem))
	return r
}

func serve(t *testing.T, h http.Handler, method, path, actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != "" {
		req.Header.Set("X-Test-Actor", actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error.Code
}

func TestSendReminders_Resumes(t *testing.T) {
	svc := &mockWorkflowService{}
	svc.On("Resume", mock.Anything, "sub_1").Return(&types.WorkflowRun{ID: "run_1", SubscriptionID: "sub_1", State: types.RunSleeping}, nil)
	h := newTestRouter(t, svc)

	rec := serve(t, h, http.MethodPost, "/workflow/send-reminders", "system", `{"subscriptionId":"sub_1"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data ResumeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "resumed", resp.Data.Status)
	assert.Equal(t, "run_1", resp.Data.Run.ID)
	svc.AssertExpectations(t)
}

func TestSendReminders_NoActiveRunIsAcknowledged(t *testing.T) {
	svc := &mockWorkflowService{}
	svc.On("Resume", mock.Anything, "sub_1").Return(nil, types.NewAppError(types.ErrCodeNotFoundWorkflowRun, "no active run", nil))
	h := newTestRouter(t, svc)

	rec := serve(t, h, http.MethodPost, "/workflow/send-reminders", "system", `{"subscriptionId":"sub_1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"no_active_run"`)
}

func TestSendReminders_Rejections(t *testing.T) {
	svc := &mockWorkflowService{}
	h := newTestRouter(t, svc)

	tests := []struct {
		name     string
		actor    string
		body     string
		wantCode int
		wantErr  types.ErrorCode
	}{
		{"user caller", "owner", `{"subscriptionId":"sub_1"}`, http.StatusForbidden, types.ErrCodePermissionActorType},
		{"anonymous", "", `{"subscriptionId":"sub_1"}`, http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
		{"missing id", "system", `{}`, http.StatusBadRequest, types.ErrCodeValidationMissingField},
		{"bad id", "system", `{"subscriptionId":"a b"}`, http.StatusBadRequest, types.ErrCodeValidationInvalidID},
		{"bad json", "system", `{"subscriptionId":`, http.StatusBadRequest, types.ErrCodeValidationInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, h, http.MethodPost, "/workflow/send-reminders", tt.actor, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, string(tt.wantErr), errorCode(t, rec))
		})
	}
	svc.AssertNotCalled(t, "Resume", mock.Anything, mock.Anything)
}

func TestProcessReminders(t *testing.T) {
	svc := &mockWorkflowService{}
	svc.On("Reconcile", mock.Anything, now).Return(&types.ReconcileResult{
		Scanned:        3,
		Started:        []string{"sub_1", "sub_2"},
		AlreadyRunning: 1,
	}, nil)
	h := newTestRouter(t, svc)

	rec := serve(t, h, http.MethodGet, "/workflow/process-reminders", "system", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"data":{"count":2,"scanned":3,"started":["sub_1","sub_2"],"already_running":1,"already_done":0,"failed":0}}`, rec.Body.String())

	rec = serve(t, h, http.MethodGet, "/workflow/process-reminders", "owner", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	svc.AssertNumberOfCalls(t, "Reconcile", 1)
}

func TestTrigger(t *testing.T) {
	svc := &mockWorkflowService{}
	svc.On("Trigger", mock.Anything, "sub_1").Return(&types.TriggerResult{SubscriptionID: "sub_1", RunID: "run_1", Status: types.TriggerStarted}, nil).Once()
	svc.On("Trigger", mock.Anything, "sub_1").Return(&types.TriggerResult{SubscriptionID: "sub_1", RunID: "run_1", Status: types.TriggerAlreadyRunning}, nil).Once()
	h := newTestRouter(t, svc)

	rec := serve(t, h, http.MethodPost, "/workflow/trigger/sub_1", "owner", "")
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"started"`)

	rec = serve(t, h, http.MethodPost, "/workflow/trigger/sub_1", "system", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"already_running"`)
	svc.AssertExpectations(t)
}

func TestTrigger_Authorization(t *testing.T) {
	svc := &mockWorkflowService{}
	h := newTestRouter(t, svc)

	rec := serve(t, h, http.MethodPost, "/workflow/trigger/sub_1", "other", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(types.ErrCodePermissionNotOwner), errorCode(t, rec))

	rec = serve(t, h, http.MethodPost, "/workflow/trigger/sub_missing", "owner", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundSubscription), errorCode(t, rec))

	rec = serve(t, h, http.MethodPost, "/workflow/trigger/sub_1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	svc.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
}

func TestGetRun(t *testing.T) {
	svc := &mockWorkflowService{}
	svc.On("LatestRun", mock.Anything, "sub_1").Return(&types.WorkflowRun{
		ID:             "run_1",
		SubscriptionID: "sub_1",
		State:          types.RunCompleted,
		Steps:          []types.StepRecord{{Name: "send-reminder-7:2026-03-08", Completed: true}},
	}, nil)
	h := newTestRouter(t, svc)

	rec := serve(t, h, http.MethodGet, "/workflow/runs/sub_1", "owner", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"state":"completed"`)
	assert.Contains(t, rec.Body.String(), "send-reminder-7:2026-03-08")

	rec = serve(t, h, http.MethodGet, "/workflow/runs/sub_1", "other", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
