package model

import "time"

// TaskStatus is the scheduling state of a single task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskReady      TaskStatus = "ready"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// Terminal reports whether the status is final. Terminal tasks are never
// rescheduled.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped:
		return true
	default:
		return false
	}
}

// Task is one schedulable unit of autonomous work. Tasks are created at
// decomposition time and mutated only by the orchestrator.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// Priority ranges 1..100, higher runs first.
	Priority       int        `json:"priority"`
	Dependencies   []string   `json:"dependencies,omitempty"`
	Parallelizable bool       `json:"parallelizable"`
	Status         TaskStatus `json:"status"`

	// Governance inputs, carried on the task so the orchestrator can build
	// an ActionContext without reaching into task content.
	ActionType      string   `json:"action_type"`
	TargetResources []string `json:"target_resources,omitempty"`
	Scope           string   `json:"scope,omitempty"`

	RetryCount   int      `json:"retry_count"`
	MaxRetries   int      `json:"max_retries"`
	ErrorHistory []string `json:"error_history,omitempty"`

	Outputs           map[string]string `json:"outputs,omitempty"`
	ModifiedResources []string          `json:"modified_resources,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DependsOn reports whether the task lists dep as a direct dependency.
func (t *Task) DependsOn(dep string) bool {
	for _, d := range t.Dependencies {
		if d == dep {
			return true
		}
	}
	return false
}

// Impact is a coarse estimate of how much an action changes.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// ImpactRank maps impact to a comparable integer.
var ImpactRank = map[Impact]int{
	ImpactLow:    0,
	ImpactMedium: 1,
	ImpactHigh:   2,
}

// ActionContext is the ephemeral situational record a governance evaluation
// runs against. It is built fresh per evaluation and never persisted on its
// own; approved requests capture a copy.
type ActionContext struct {
	ActionType      string   `json:"action_type"`
	TargetResources []string `json:"target_resources,omitempty"`
	Scope           string   `json:"scope,omitempty"`

	TouchesAuth     bool `json:"touches_auth"`
	TouchesProd     bool `json:"touches_prod"`
	MultiScope      bool `json:"multi_scope"`
	RecentIncidents bool `json:"recent_incidents"`

	EstimatedImpact Impact `json:"estimated_impact"`
	Actor           string `json:"actor"`
	Org             string `json:"org"`
}

// Decision is the governance outcome for a single action.
type Decision string

const (
	Auto     Decision = "auto"
	Approval Decision = "approval"
	Blocked  Decision = "blocked"
)

// AutonomyLevel names a bundle of governance defaults.
type AutonomyLevel string

const (
	AutonomyMinimal      AutonomyLevel = "minimal"
	AutonomyConservative AutonomyLevel = "conservative"
	AutonomyStandard     AutonomyLevel = "standard"
	AutonomyElevated     AutonomyLevel = "elevated"
	AutonomyFull         AutonomyLevel = "full"
)

// AutonomyPolicy governs what an actor may do without sign-off within an org,
// optionally narrowed to a scope.
type AutonomyPolicy struct {
	Actor string `json:"actor" yaml:"actor"`
	Org   string `json:"org"   yaml:"org"`
	Scope string `json:"scope,omitempty" yaml:"scope,omitempty"`

	Level       AutonomyLevel `json:"level" yaml:"level"`
	MaxAutoRisk float64       `json:"max_auto_risk" yaml:"max_auto_risk"`

	Blocked            []string `json:"blocked,omitempty"             yaml:"blocked,omitempty"`
	AutoAllowed        []string `json:"auto_allowed,omitempty"        yaml:"auto_allowed,omitempty"`
	RequireApprovalFor []string `json:"require_approval_for,omitempty" yaml:"require_approval_for,omitempty"`
}

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// DefaultApprovalTTL is how long an approval request stays actionable.
const DefaultApprovalTTL = 24 * time.Hour

// ApprovalRequest suspends an action until a human decides. Requests are
// removed on approval, rejection, or expiry.
type ApprovalRequest struct {
	ID          string        `json:"id"`
	ActionType  string        `json:"action_type"`
	Fingerprint string        `json:"fingerprint"`
	Context     ActionContext `json:"context"`

	RiskScore   float64  `json:"risk_score"`
	RiskReasons []string `json:"risk_reasons,omitempty"`

	Requester   string `json:"requester"`
	Org         string `json:"org"`
	PlanSummary string `json:"plan_summary,omitempty"`

	// TaskID is set when an orchestrator suspended a task behind this
	// request; ownership survives a process restart through it.
	TaskID string `json:"task_id,omitempty"`

	Status   ApprovalStatus `json:"status"`
	Approver string         `json:"approver,omitempty"`
	Comment  string         `json:"comment,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Expired reports whether the request is past its deadline at t.
func (r *ApprovalRequest) Expired(t time.Time) bool {
	return t.After(r.ExpiresAt)
}

// Outcome is what the external executor reports back for one task.
type Outcome struct {
	Success           bool              `json:"success"`
	Outputs           map[string]string `json:"outputs,omitempty"`
	ModifiedResources []string          `json:"modified_resources,omitempty"`
	Error             string            `json:"error,omitempty"`
}

// Conflict records overlapping side effects reported by two concurrently
// completed tasks, plus how the overlap was resolved.
type Conflict struct {
	ID         string   `json:"id"`
	TaskIDs    []string `json:"task_ids"`
	Resources  []string `json:"resources"`
	WinnerID   string   `json:"winner_id"`
	Resolution string   `json:"resolution"`
	DetectedAt string   `json:"detected_at"`
}

// RunState is the orchestrator's run-level state machine.
type RunState string

const (
	RunPlanning  RunState = "planning"
	RunRunning   RunState = "running"
	RunPaused    RunState = "paused"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunBlocked   RunState = "blocked"
)

// DispatchMode selects how ready tasks are dispatched within one iteration.
type DispatchMode string

const (
	ModeSequential DispatchMode = "sequential"
	ModeParallel   DispatchMode = "parallel"
	ModeHybrid     DispatchMode = "hybrid"
)
