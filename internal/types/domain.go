package types

import (
	"encoding/json"
	"time"
)

// SubscriptionStatus is the lifecycle status of a tracked subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// BillingFrequency is how often a subscription renews.
type BillingFrequency string

const (
	FrequencyMonthly BillingFrequency = "monthly"
	FrequencyYearly  BillingFrequency = "yearly"
)

// Subscription is a third-party service a user pays for. It is owned by the
// storage layer; the reminder scheduler only reads it.
type Subscription struct {
	ID            string             `json:"id" db:"id"`
	UserID        string             `json:"user_id" db:"user_id"`
	Name          string             `json:"name" db:"name"`
	Price         float64            `json:"price" db:"price"`
	Currency      string             `json:"currency" db:"currency"`
	Frequency     BillingFrequency   `json:"frequency" db:"frequency"`
	Category      string             `json:"category,omitempty" db:"category"`
	PaymentMethod string             `json:"payment_method,omitempty" db:"payment_method"`
	Status        SubscriptionStatus `json:"status" db:"status"`
	StartDate     time.Time          `json:"start_date" db:"start_date"`
	RenewalDate   time.Time          `json:"renewal_date" db:"renewal_date"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" db:"updated_at"`

	// Owner is denormalized from the users table.
	Owner SubscriptionOwner `json:"owner"`
}

// SubscriptionOwner carries the contact details reminders are addressed to.
type SubscriptionOwner struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IsActive reports whether reminders may still be sent for the subscription.
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionActive
}

// RunState is the persisted state of a WorkflowRun.
type RunState string

const (
	RunPending   RunState = "pending"
	RunSleeping  RunState = "sleeping"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// ActiveRunStates are the states that block a new run for the same subscription.
var ActiveRunStates = []RunState{RunPending, RunSleeping, RunRunning}

// IsActive reports whether the state is non-terminal.
func (s RunState) IsActive() bool {
	return s == RunPending || s == RunSleeping || s == RunRunning
}

// IsTerminal reports whether the state is completed or failed.
func (s RunState) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StepRecord is one entry of a run's step log. Sleeps are recorded as steps
// too; their Result holds the wake time.
type StepRecord struct {
	Name      string          `json:"name"`
	Completed bool            `json:"completed"`
	Result    json.RawMessage `json:"result,omitempty"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WorkflowRun is the durable record of one workflow execution for a
// subscription. The step log is the only source of truth for what has
// already happened.
type WorkflowRun struct {
	ID             string       `json:"id"`
	Workflow       string       `json:"workflow"`
	SubscriptionID string       `json:"subscription_id"`
	ScopeKey       string       `json:"scope_key,omitempty"`
	State          RunState     `json:"state"`
	WakeAt         *time.Time   `json:"wake_at,omitempty"`
	Attempts       int          `json:"attempts"`
	LastError      string       `json:"last_error,omitempty"`
	Outcome        string       `json:"outcome,omitempty"`
	Steps          []StepRecord `json:"steps"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	LastWokenAt    *time.Time   `json:"last_woken_at,omitempty"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty"`
}

// Step returns the step record with the given name.
func (r *WorkflowRun) Step(name string) (*StepRecord, bool) {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// PutStep inserts or replaces a step record, preserving log order.
func (r *WorkflowRun) PutStep(rec StepRecord) {
	for i := range r.Steps {
		if r.Steps[i].Name == rec.Name {
			r.Steps[i] = rec
			return
		}
	}
	r.Steps = append(r.Steps, rec)
}

// Clone returns a deep copy of the run.
func (r *WorkflowRun) Clone() *WorkflowRun {
	if r == nil {
		return nil
	}
	cp := *r
	cp.WakeAt = cloneTime(r.WakeAt)
	cp.LastWokenAt = cloneTime(r.LastWokenAt)
	cp.FinishedAt = cloneTime(r.FinishedAt)
	cp.Steps = make([]StepRecord, len(r.Steps))
	for i, s := range r.Steps {
		if s.Result != nil {
			s.Result = append(json.RawMessage(nil), s.Result...)
		}
		cp.Steps[i] = s
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TriggerStatus reports what a trigger call did.
type TriggerStatus string

const (
	TriggerStarted        TriggerStatus = "started"
	TriggerAlreadyRunning TriggerStatus = "already_running"
)

// TriggerResult is returned by the trigger entry point.
type TriggerResult struct {
	SubscriptionID string        `json:"subscription_id"`
	RunID          string        `json:"run_id,omitempty"`
	Status         TriggerStatus `json:"status"`
}

// ReconcileResult summarizes one reconciliation sweep.
type ReconcileResult struct {
	Scanned        int      `json:"scanned"`
	Started        []string `json:"started"`
	AlreadyRunning int      `json:"already_running"`
	AlreadyDone    int      `json:"already_done"`
	Failed         int      `json:"failed"`
}

// Count is the number of subscriptions for which a run was started.
func (r *ReconcileResult) Count() int {
	return len(r.Started)
}

// SendInput is the contract for email transmission.
type SendInput struct {
	To          string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
}

// SenderIdentity defines the sender for outgoing emails.
type SenderIdentity struct {
	Name    string
	Address string
}
