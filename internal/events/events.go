// Package events is the engine's only push surface: structured,
// fire-and-forget notifications fanned out to configured webhooks.
package events

// Event types emitted by the orchestrator.
const (
	TaskStarted       = "task_started"
	TaskCompleted     = "task_completed"
	TaskFailed        = "task_failed"
	GateTriggered     = "gate_triggered"
	ApprovalRequested = "approval_requested"
	ConflictDetected  = "conflict_detected"
	CheckpointCreated = "checkpoint_created"
	IterationProgress = "iteration_progress"
	StallWarning      = "stall_warning"
	ProjectCompleted  = "project_completed"
	ProjectFailed     = "project_failed"
)

// Event is one structured notification. Payload is display data only; no
// consumer decision may depend on it.
type Event struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"ts"`
	RunID     string         `json:"run_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Sink receives events. Implementations must not block the caller.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// WebhookConfig defines one webhook destination.
type WebhookConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Events  []string          `yaml:"events"  json:"events"` // empty = all
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Dispatcher fans out events to matching webhook configurations.
// Returns nil from NewDispatcher when unconfigured; a nil dispatcher is a
// valid no-op Sink.
type Dispatcher struct {
	configs []WebhookConfig
}

// NewDispatcher creates a Dispatcher from webhook configurations.
func NewDispatcher(configs []WebhookConfig) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs}
}

// Emit sends the event to all webhooks whose Events list matches.
// Fires goroutines — never awaited, never blocks the caller.
func (d *Dispatcher) Emit(e Event) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if matches(cfg.Events, e.Type) {
			go Send(cfg, e)
		}
	}
}

func matches(types []string, eventType string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == eventType {
			return true
		}
	}
	return false
}
