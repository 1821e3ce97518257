package store

import (
	"sort"
	"sync"

	"github.com/ppiankov/steward/internal/audit"
	"github.com/ppiankov/steward/internal/model"
)

// Memory is an in-process Repository for tests and ephemeral runs. Entries
// are copied on write and read; callers never share backing slices or maps.
type Memory struct {
	mu          sync.RWMutex
	tasks       map[string]model.Task
	approvals   map[string]model.ApprovalRequest
	auditLog    []audit.Entry
	checkpoints map[string]model.Checkpoint
	gates       map[string]model.HumanCheckpointGate
	rollbacks   []model.RollbackRecord

	// FailAudit simulates a backing-store outage on the audit write path.
	FailAudit bool
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		tasks:       make(map[string]model.Task),
		approvals:   make(map[string]model.ApprovalRequest),
		checkpoints: make(map[string]model.Checkpoint),
		gates:       make(map[string]model.HumanCheckpointGate),
	}
}

func (m *Memory) UpsertTask(t model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) GetTask(id string) (model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) ListTasks() ([]model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpsertApproval(r model.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[r.ID] = r
	return nil
}

func (m *Memory) GetApproval(id string) (model.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.approvals[id]
	if !ok {
		return model.ApprovalRequest{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListApprovals(status model.ApprovalStatus) ([]model.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ApprovalRequest
	for _, r := range m.approvals {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteApproval(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.approvals, id)
	return nil
}

func (m *Memory) AppendAudit(e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAudit {
		return ErrNotFound
	}
	m.auditLog = append(m.auditLog, e)
	return nil
}

func (m *Memory) ListAudit(f audit.Filter) ([]audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []audit.Entry
	for _, e := range m.auditLog {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) UpsertCheckpoint(c model.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[c.ID] = c
	return nil
}

func (m *Memory) GetCheckpoint(id string) (model.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checkpoints[id]
	if !ok {
		return model.Checkpoint{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListCheckpoints(projectID string) ([]model.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Checkpoint
	for _, c := range m.checkpoints {
		if projectID == "" || c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iteration > out[j].Iteration })
	return out, nil
}

func (m *Memory) DeleteCheckpoint(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, id)
	return nil
}

func (m *Memory) UpsertGate(g model.HumanCheckpointGate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gates[g.ID] = g
	return nil
}

func (m *Memory) GetGate(id string) (model.HumanCheckpointGate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.gates[id]
	if !ok {
		return model.HumanCheckpointGate{}, ErrNotFound
	}
	return g, nil
}

func (m *Memory) ListGates(status model.GateStatus) ([]model.HumanCheckpointGate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.HumanCheckpointGate
	for _, g := range m.gates {
		if status == "" || g.Status == status {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) AppendRollback(r model.RollbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks = append(m.rollbacks, r)
	return nil
}

func (m *Memory) ListRollbacks(actionID string) ([]model.RollbackRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.RollbackRecord
	for _, r := range m.rollbacks {
		if actionID == "" || r.ActionID == actionID {
			out = append(out, r)
		}
	}
	return out, nil
}
