package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"subtrack/internal/types"
	"subtrack/internal/workflow"
)

// WorkflowRunRepository persists workflow runs and their step logs. It
// implements workflow.Store.
//
// Claims are a single conditional UPDATE, so two hosts resuming the same
// run race on the row and exactly one sees a row affected.
type WorkflowRunRepository struct {
	db DBTX
}

var _ workflow.Store = (*WorkflowRunRepository)(nil)

// NewWorkflowRunRepository creates a WorkflowRunRepository on db.
func NewWorkflowRunRepository(db DBTX) *WorkflowRunRepository {
	return &WorkflowRunRepository{db: db}
}

const runColumns = `id, workflow, subscription_id, scope_key, state, wake_at,
	attempts, last_error, outcome, created_at, updated_at, last_woken_at, finished_at`

const activeStates = `('pending', 'sleeping', 'running')`

func scanRun(row pgx.Row) (*types.WorkflowRun, error) {
	var (
		run   types.WorkflowRun
		state string
	)
	err := row.Scan(
		&run.ID, &run.Workflow, &run.SubscriptionID, &run.ScopeKey, &state, &run.WakeAt,
		&run.Attempts, &run.LastError, &run.Outcome, &run.CreatedAt, &run.UpdatedAt,
		&run.LastWokenAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.State = types.RunState(state)
	return &run, nil
}

func notFoundRun() error {
	return types.NewAppError(types.ErrCodeNotFoundWorkflowRun, "workflow run not found", nil)
}

// CreateRun inserts a new run. The partial unique index on active states
// turns a second concurrent start into ErrCodeConflictRunActive, with the
// holder's run_id in the details when it can be read back.
func (r *WorkflowRunRepository) CreateRun(ctx context.Context, run *types.WorkflowRun) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO workflow_runs
		   (id, workflow, subscription_id, scope_key, state, wake_at, attempts, last_error, outcome, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		run.ID, run.Workflow, run.SubscriptionID, run.ScopeKey, string(run.State), run.WakeAt,
		run.Attempts, run.LastError, run.Outcome, run.CreatedAt,
	)
	if err == nil {
		return nil
	}
	if !hasPgCode(err, pgUniqueViolation) {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create workflow run", err)
	}

	details := map[string]any{"subscription_id": run.SubscriptionID}
	var holder string
	if scanErr := r.db.QueryRow(ctx,
		`SELECT id FROM workflow_runs WHERE subscription_id = $1 AND state IN `+activeStates,
		run.SubscriptionID,
	).Scan(&holder); scanErr == nil {
		details["run_id"] = holder
	}
	return types.NewAppErrorWithDetails(types.ErrCodeConflictRunActive,
		"an active workflow run already exists for this subscription", err, details)
}

func (r *WorkflowRunRepository) GetRun(ctx context.Context, runID string) (*types.WorkflowRun, error) {
	return r.getOne(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, runID)
}

func (r *WorkflowRunRepository) GetActiveRun(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error) {
	return r.getOne(ctx,
		`SELECT `+runColumns+` FROM workflow_runs
		 WHERE subscription_id = $1 AND state IN `+activeStates,
		subscriptionID)
}

func (r *WorkflowRunRepository) GetLatestRun(ctx context.Context, subscriptionID string) (*types.WorkflowRun, error) {
	return r.getOne(ctx,
		`SELECT `+runColumns+` FROM workflow_runs
		 WHERE subscription_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		subscriptionID)
}

func (r *WorkflowRunRepository) getOne(ctx context.Context, query string, arg string) (*types.WorkflowRun, error) {
	run, err := scanRun(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundRun()
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve workflow run", err)
	}
	steps, err := r.listSteps(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return run, nil
}

func (r *WorkflowRunRepository) listSteps(ctx context.Context, runID string) ([]types.StepRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT step_key, completed, result, attempts, last_error, created_at, updated_at
		 FROM workflow_steps
		 WHERE run_id = $1
		 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list workflow steps", err)
	}
	defer rows.Close()

	steps := []types.StepRecord{}
	for rows.Next() {
		var (
			step   types.StepRecord
			result []byte
		)
		if err := rows.Scan(&step.Name, &step.Completed, &result, &step.Attempts, &step.LastError, &step.CreatedAt, &step.UpdatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan workflow step", err)
		}
		if len(result) > 0 {
			step.Result = result
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed iterating workflow steps", err)
	}
	return steps, nil
}

// ClaimRun moves a claimable run to running and stamps the lease.
func (r *WorkflowRunRepository) ClaimRun(ctx context.Context, runID string, now, staleBefore time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE workflow_runs
		 SET state = 'running', last_woken_at = $2, updated_at = $2
		 WHERE id = $1
		   AND (state = 'pending'
		        OR (state = 'sleeping' AND (wake_at IS NULL OR wake_at <= $2))
		        OR (state = 'running' AND last_woken_at <= $3))`,
		runID, now, staleBefore,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim workflow run", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_runs WHERE id = $1)`, runID).Scan(&exists); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check workflow run", err)
	}
	if !exists {
		return false, notFoundRun()
	}
	return false, nil
}

// SaveStep upserts the step and bumps the run's updated_at in one statement.
// Once a step is completed its result is frozen.
func (r *WorkflowRunRepository) SaveStep(ctx context.Context, runID string, step types.StepRecord) error {
	var result any
	if len(step.Result) > 0 {
		result = []byte(step.Result)
	}
	_, err := r.db.Exec(ctx,
		`WITH upserted AS (
		   INSERT INTO workflow_steps (run_id, step_key, completed, result, attempts, last_error, created_at, updated_at)
		   VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		   ON CONFLICT (run_id, step_key) DO UPDATE SET
		     completed  = workflow_steps.completed OR EXCLUDED.completed,
		     result     = CASE WHEN workflow_steps.completed THEN workflow_steps.result ELSE EXCLUDED.result END,
		     attempts   = EXCLUDED.attempts,
		     last_error = EXCLUDED.last_error,
		     updated_at = EXCLUDED.updated_at
		   RETURNING run_id
		 )
		 UPDATE workflow_runs SET updated_at = $8 WHERE id IN (SELECT run_id FROM upserted)`,
		runID, step.Name, step.Completed, result, step.Attempts, step.LastError, step.CreatedAt, step.UpdatedAt,
	)
	if err != nil {
		if hasPgCode(err, pgForeignKeyViolation) {
			return notFoundRun()
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save workflow step", err)
	}
	return nil
}

func (r *WorkflowRunRepository) Suspend(ctx context.Context, runID string, wakeAt time.Time, attempts int, lastErr string) error {
	return r.update(ctx, "failed to suspend workflow run",
		`UPDATE workflow_runs
		 SET state = 'sleeping', wake_at = $2, attempts = $3, last_error = $4, updated_at = NOW()
		 WHERE id = $1`,
		runID, wakeAt, attempts, lastErr)
}

func (r *WorkflowRunRepository) CompleteRun(ctx context.Context, runID, outcome string, at time.Time) error {
	return r.update(ctx, "failed to complete workflow run",
		`UPDATE workflow_runs
		 SET state = 'completed', wake_at = NULL, outcome = $2, finished_at = $3, updated_at = $3
		 WHERE id = $1`,
		runID, outcome, at)
}

func (r *WorkflowRunRepository) FailRun(ctx context.Context, runID, reason string, at time.Time) error {
	return r.update(ctx, "failed to fail workflow run",
		`UPDATE workflow_runs
		 SET state = 'failed', wake_at = NULL, outcome = '', last_error = $2, finished_at = $3, updated_at = $3
		 WHERE id = $1`,
		runID, reason, at)
}

func (r *WorkflowRunRepository) update(ctx context.Context, msg, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, msg, err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundRun()
	}
	return nil
}

// ListDueRuns returns one keyset page of runs the host must resume. Step
// logs are not loaded.
func (r *WorkflowRunRepository) ListDueRuns(ctx context.Context, q workflow.DueQuery) ([]*types.WorkflowRun, error) {
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+runColumns+`
		 FROM workflow_runs
		 WHERE id > $1
		   AND ((state = 'sleeping' AND wake_at <= $2)
		        OR (state = 'pending' AND created_at <= $3)
		        OR (state = 'running' AND last_woken_at <= $3))
		 ORDER BY id
		 LIMIT $4`,
		q.AfterID, q.Now, q.StaleBefore, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list due workflow runs", err)
	}
	defer rows.Close()

	var runs []*types.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan workflow run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed iterating workflow runs", err)
	}
	return runs, nil
}
