// Package checkpoint persists orchestration snapshots sufficient to resume
// after a crash or pause, compacting oversized history on the way in.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/steward/internal/model"
	"github.com/ppiankov/steward/internal/store"
	"github.com/ppiankov/steward/internal/summarize"
)

// Compaction thresholds: history larger than either bound is summarized
// before save, keeping only the recent tail raw.
const (
	maxHistoryEntries = 50
	maxHistoryBytes   = 16 * 1024
	rawTailKeep       = 10
)

// Backend is the persistence slice of the Repository the store needs.
type Backend interface {
	UpsertCheckpoint(c model.Checkpoint) error
	GetCheckpoint(id string) (model.Checkpoint, error)
	ListCheckpoints(projectID string) ([]model.Checkpoint, error)
	DeleteCheckpoint(id string) error
}

// State is the orchestration state a checkpoint captures.
type State struct {
	ProjectID  string
	TaskID     string
	Iteration  int
	AgentState map[string]string

	History        []model.HistoryEntry
	ContextSummary string

	FileModifications []string
	ErrorHistory      []string
	FailedApproaches  []string
	CompletedTasks    []string
	PendingTasks      []string
	Verification      map[string]string
}

// Store saves and restores checkpoints. A nil summarizer always uses the
// deterministic fallback.
type Store struct {
	backend    Backend
	summarizer summarize.Summarizer
	ttl        time.Duration
	now        func() time.Time
}

// New creates a checkpoint store with the default 30d expiry.
func New(backend Backend, summarizer summarize.Summarizer) *Store {
	return &Store{
		backend:    backend,
		summarizer: summarizer,
		ttl:        model.DefaultCheckpointTTL,
		now:        time.Now,
	}
}

// SetClock overrides the time source. For tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// SetTTL overrides the checkpoint expiry. For tests.
func (s *Store) SetTTL(ttl time.Duration) { s.ttl = ttl }

// Save persists a checkpoint of the given kind, compacting history first if
// it exceeds the entry-count or estimated-size threshold.
func (s *Store) Save(ctx context.Context, state State, kind model.CheckpointKind, reason string) (string, error) {
	now := s.now().UTC()

	c := model.Checkpoint{
		ID:                model.NewID("cp"),
		ProjectID:         state.ProjectID,
		TaskID:            state.TaskID,
		Kind:              kind,
		Iteration:         state.Iteration,
		Reason:            reason,
		AgentState:        state.AgentState,
		History:           state.History,
		ContextSummary:    state.ContextSummary,
		FileModifications: state.FileModifications,
		ErrorHistory:      state.ErrorHistory,
		FailedApproaches:  state.FailedApproaches,
		CompletedTasks:    state.CompletedTasks,
		PendingTasks:      state.PendingTasks,
		Verification:      state.Verification,
		Valid:             true,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.ttl),
	}

	if oversized(state.History) {
		summary, tail := s.compact(ctx, state.History, state.ContextSummary)
		c.ContextSummary = summary
		c.History = tail
		c.IsContextSummarized = true
	}

	if err := s.backend.UpsertCheckpoint(c); err != nil {
		return "", fmt.Errorf("persist checkpoint: %w", err)
	}
	return c.ID, nil
}

// Restore returns the checkpoint with the given ID, or the most recent valid
// one when id is empty. Invalid and expired checkpoints are skipped when
// selecting the latest; explicitly requesting an invalid checkpoint is a
// caller error. Restoration increments the counter but never mutates
// contents.
func (s *Store) Restore(projectID, id string) (*model.Checkpoint, error) {
	var c model.Checkpoint

	if id != "" {
		found, err := s.backend.GetCheckpoint(id)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", id, err)
		}
		if !found.Valid {
			return nil, fmt.Errorf("checkpoint %s is invalid: %s", id, found.InvalidReason)
		}
		c = found
	} else {
		all, err := s.backend.ListCheckpoints(projectID)
		if err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		now := s.now().UTC()
		picked := false
		// Listed by iteration descending; first valid wins.
		for _, cand := range all {
			if cand.Valid && !cand.Expired(now) {
				c = cand
				picked = true
				break
			}
		}
		if !picked {
			return nil, nil
		}
	}

	c.RestorationCount++
	if err := s.backend.UpsertCheckpoint(c); err != nil {
		return nil, fmt.Errorf("record restoration: %w", err)
	}
	return &c, nil
}

// Invalidate marks a checkpoint unusable. A reason is required.
func (s *Store) Invalidate(id, reason string) error {
	if reason == "" {
		return fmt.Errorf("invalidation requires a reason")
	}
	c, err := s.backend.GetCheckpoint(id)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", id, err)
	}
	c.Valid = false
	c.InvalidReason = reason
	return s.backend.UpsertCheckpoint(c)
}

// List returns all checkpoints for a project, newest iteration first.
func (s *Store) List(projectID string) ([]model.Checkpoint, error) {
	return s.backend.ListCheckpoints(projectID)
}

// GC removes expired checkpoints. Returns how many were collected.
func (s *Store) GC(projectID string) (int, error) {
	all, err := s.backend.ListCheckpoints(projectID)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()
	removed := 0
	for _, c := range all {
		if c.Expired(now) {
			if err := s.backend.DeleteCheckpoint(c.ID); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func oversized(history []model.HistoryEntry) bool {
	if len(history) > maxHistoryEntries {
		return true
	}
	size := 0
	for _, h := range history {
		size += len(h.Role) + len(h.Content)
	}
	return size > maxHistoryBytes
}

// compact summarizes everything but the recent tail. Summarizer failures —
// including rate limiting — degrade to the deterministic extraction; a save
// never fails because the summarizer did.
func (s *Store) compact(ctx context.Context, history []model.HistoryEntry, seed string) (string, []model.HistoryEntry) {
	cut := len(history) - rawTailKeep
	if cut < 0 {
		cut = 0
	}
	head, tail := history[:cut], history[cut:]

	if s.summarizer != nil {
		if summary, err := s.summarizer.Summarize(ctx, head, seed); err == nil {
			return summary, tail
		}
	}
	return summarize.Extract(head, seed, 30), tail
}

var _ Backend = (store.Repository)(nil)
