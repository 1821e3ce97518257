// Package store provides the engine-agnostic Repository: a minimal query
// surface (get-by-id, list-by-filter, upsert, delete) over the persisted
// entities. Payloads round-trip as opaque structured documents.
package store

import (
	"errors"

	"github.com/ppiankov/steward/internal/audit"
	"github.com/ppiankov/steward/internal/model"
)

// ErrNotFound is returned for lookups of absent entities.
var ErrNotFound = errors.New("not found")

// Repository is the full persistence surface consumed by the engine.
type Repository interface {
	UpsertTask(t model.Task) error
	GetTask(id string) (model.Task, error)
	ListTasks() ([]model.Task, error)

	UpsertApproval(r model.ApprovalRequest) error
	GetApproval(id string) (model.ApprovalRequest, error)
	ListApprovals(status model.ApprovalStatus) ([]model.ApprovalRequest, error)
	DeleteApproval(id string) error

	AppendAudit(e audit.Entry) error
	ListAudit(f audit.Filter) ([]audit.Entry, error)

	UpsertCheckpoint(c model.Checkpoint) error
	GetCheckpoint(id string) (model.Checkpoint, error)
	ListCheckpoints(projectID string) ([]model.Checkpoint, error)
	DeleteCheckpoint(id string) error

	UpsertGate(g model.HumanCheckpointGate) error
	GetGate(id string) (model.HumanCheckpointGate, error)
	ListGates(status model.GateStatus) ([]model.HumanCheckpointGate, error)

	AppendRollback(r model.RollbackRecord) error
	ListRollbacks(actionID string) ([]model.RollbackRecord, error)
}
