package model

import "time"

// CheckpointKind classifies why a checkpoint was taken.
type CheckpointKind string

const (
	CheckpointAutomatic     CheckpointKind = "automatic"
	CheckpointManual        CheckpointKind = "manual"
	CheckpointPreGate       CheckpointKind = "pre_gate"
	CheckpointErrorRecovery CheckpointKind = "error_recovery"
	CheckpointMilestone     CheckpointKind = "milestone"
)

// DefaultCheckpointTTL is how long checkpoints remain restorable.
const DefaultCheckpointTTL = 30 * 24 * time.Hour

// HistoryEntry is one turn of conversation or tool history carried in a
// checkpoint.
type HistoryEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"ts,omitempty"`
}

// Checkpoint is a durable snapshot sufficient to resume orchestration after a
// crash or pause. Contents are never mutated after save; restoration only
// increments RestorationCount.
type Checkpoint struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	TaskID    string         `json:"task_id,omitempty"`
	Kind      CheckpointKind `json:"kind"`
	Iteration int            `json:"iteration"`
	Reason    string         `json:"reason,omitempty"`

	AgentState map[string]string `json:"agent_state,omitempty"`

	History             []HistoryEntry `json:"history,omitempty"`
	ContextSummary      string         `json:"context_summary,omitempty"`
	IsContextSummarized bool           `json:"is_context_summarized"`

	FileModifications []string          `json:"file_modifications,omitempty"`
	ErrorHistory      []string          `json:"error_history,omitempty"`
	FailedApproaches  []string          `json:"failed_approaches,omitempty"`
	CompletedTasks    []string          `json:"completed_tasks,omitempty"`
	PendingTasks      []string          `json:"pending_tasks,omitempty"`
	Verification      map[string]string `json:"verification,omitempty"`

	Valid            bool   `json:"valid"`
	InvalidReason    string `json:"invalid_reason,omitempty"`
	RestorationCount int    `json:"restoration_count"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the checkpoint is past its expiry at t.
func (c *Checkpoint) Expired(t time.Time) bool {
	return t.After(c.ExpiresAt)
}

// GateType classifies a human checkpoint gate.
type GateType string

const (
	GateArchitectureReview    GateType = "architecture_review"
	GateSecurityReview        GateType = "security_review"
	GateCostApproval          GateType = "cost_approval"
	GateDeploymentApproval    GateType = "deployment_approval"
	GateMilestoneReview       GateType = "milestone_review"
	GateTaskFailureEscalation GateType = "task_failure_escalation"
	GateCustom                GateType = "custom"
)

// GateStatus is the lifecycle state of a human checkpoint gate.
type GateStatus string

const (
	GatePending  GateStatus = "pending"
	GateApproved GateStatus = "approved"
	GateRejected GateStatus = "rejected"
	GateDeferred GateStatus = "deferred"
)

// GateOption is one labeled choice presented at a gate.
type GateOption struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	TradeOff string `json:"trade_off,omitempty"`
}

// HumanCheckpointGate is a blocking decision point requiring a human choice
// before progress continues.
type HumanCheckpointGate struct {
	ID          string     `json:"id"`
	Type        GateType   `json:"type"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	TaskID      string     `json:"task_id,omitempty"`
	Options     []GateOption `json:"options,omitempty"`

	Status         GateStatus `json:"status"`
	ChosenOption   string     `json:"chosen_option,omitempty"`
	DecisionReason string     `json:"decision_reason,omitempty"`
	DecidedBy      string     `json:"decided_by,omitempty"`

	// Applied is set once the orchestrator has acted on the decision, so a
	// resumed run never applies the same choice twice.
	Applied bool `json:"applied"`

	Priority       int  `json:"priority"`
	BlocksProgress bool `json:"blocks_progress"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether a human has decided this gate.
func (g *HumanCheckpointGate) Resolved() bool {
	return g.Status == GateApproved || g.Status == GateRejected
}
