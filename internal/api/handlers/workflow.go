// Package handlers contains the HTTP handlers of the SubTrack API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"subtrack/internal/core"
	"subtrack/internal/types"
)

// WorkflowService is the reminder workflow surface the handlers call.
type WorkflowService interface {
	Trigger(ctx context.Context, subscriptionID string) (*types.TriggerResult, error)
	Resume(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error)
	LatestRun(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error)
	Reconcile(ctx context.Context, now time.Time) (*types.ReconcileResult, error)
}

// SubscriptionLookup resolves a subscription for the ownership check.
type SubscriptionLookup interface {
	GetSubscription(ctx context.Context, id string) (*types.Subscription, error)
}

// ResumeRequest is the body of POST /workflow/send-reminders.
type ResumeRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,subscription_id"`
}

// ResumeResponse reports what a resume callback did.
type ResumeResponse struct {
	SubscriptionID string             `json:"subscription_id"`
	Status         string             `json:"status"`
	Run            *types.WorkflowRun `json:"run,omitempty"`
}

const (
	resumeStatusResumed     = "resumed"
	resumeStatusNoActiveRun = "no_active_run"
)

// ReconcileResponse is the body of GET /workflow/process-reminders.
type ReconcileResponse struct {
	Count int `json:"count"`
	*types.ReconcileResult
}

// WorkflowHandler serves the /workflow endpoints.
type WorkflowHandler struct {
	service   WorkflowService
	subs      SubscriptionLookup
	validator *core.Validator
	clock     types.Clock
	logger    *slog.Logger
}

// NewWorkflowHandler creates a WorkflowHandler.
func NewWorkflowHandler(svc WorkflowService, subs SubscriptionLookup, v *core.Validator, clock types.Clock, l *slog.Logger) *WorkflowHandler {
	if v == nil {
		v = core.NewValidator()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &WorkflowHandler{service: svc, subs: subs, validator: v, clock: clock, logger: l}
}

// RegisterRoutes mounts the workflow endpoints. requireSystem guards the
// scheduling host callbacks.
func (h *WorkflowHandler) RegisterRoutes(r chi.Router, requireSystem func(http.Handler) http.Handler) {
	r.Route("/workflow", func(r chi.Router) {
		r.With(requireSystem).Post("/send-reminders", h.SendReminders)
		r.With(requireSystem).Get("/process-reminders", h.ProcessReminders)
		r.Post("/trigger/{subscriptionId}", h.Trigger)
		r.Get("/runs/{subscriptionId}", h.GetRun)
	})
}

// SendReminders handles POST /workflow/send-reminders, the resume callback
// of the scheduling host. It is safe to call repeatedly: a run that is not
// due or is held by another execution comes back unchanged, and a
// subscription without an active run is acknowledged with no_active_run.
func (h *WorkflowHandler) SendReminders(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	run, err := h.service.Resume(r.Context(), req.SubscriptionID)
	if types.HasCode(err, types.ErrCodeNotFoundWorkflowRun) {
		core.Data(w, r, http.StatusOK, ResumeResponse{SubscriptionID: req.SubscriptionID, Status: resumeStatusNoActiveRun})
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "resume callback failed",
			slog.String("subscription_id", req.SubscriptionID),
			slog.String("error", err.Error()),
		)
		core.Error(w, r, err)
		return
	}

	core.Data(w, r, http.StatusOK, ResumeResponse{
		SubscriptionID: req.SubscriptionID,
		Status:         resumeStatusResumed,
		Run:            run,
	})
}

// ProcessReminders handles GET /workflow/process-reminders by reconciling
// due subscriptions against their runs.
func (h *WorkflowHandler) ProcessReminders(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Reconcile(r.Context(), h.clock.Now())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, ReconcileResponse{Count: res.Count(), ReconcileResult: res})
}

// Trigger handles POST /workflow/trigger/{subscriptionId}. Only the owner
// or the system may trigger. A new run answers 202, an active one 200.
func (h *WorkflowHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	sub, err := h.authorize(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.service.Trigger(r.Context(), sub.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	status := http.StatusAccepted
	if res.Status == types.TriggerAlreadyRunning {
		status = http.StatusOK
	}
	core.Data(w, r, status, res)
}

// GetRun handles GET /workflow/runs/{subscriptionId}, returning the latest
// run with its step log.
func (h *WorkflowHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	sub, err := h.authorize(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	run, err := h.service.LatestRun(r.Context(), sub.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, run)
}

// authorize loads the subscription named in the path and checks the caller
// may act on it.
func (h *WorkflowHandler) authorize(r *http.Request) (*types.Subscription, error) {
	id := chi.URLParam(r, "subscriptionId")
	if !core.ValidSubscriptionID(id) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidID, "invalid subscription id", nil)
	}

	actor, ok := types.GetActor(r.Context())
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil)
	}

	sub, err := h.subs.GetSubscription(r.Context(), id)
	if err != nil {
		return nil, err
	}

	if !actor.IsSystem() && sub.UserID != actor.ID {
		h.logger.WarnContext(r.Context(), "subscription access denied",
			slog.String("subscription_id", id),
			slog.String("actor_id", actor.ID),
		)
		return nil, types.NewAppError(types.ErrCodePermissionNotOwner, "You do not own this subscription", nil)
	}
	return sub, nil
}
