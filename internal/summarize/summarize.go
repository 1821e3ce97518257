// Package summarize compacts oversized orchestration history into a short
// narrative, either through an LLM endpoint or a deterministic fallback.
package summarize

import (
	"context"

	"github.com/ppiankov/steward/internal/model"
)

// Summarizer turns history into a narrative summary. Implementations may be
// unavailable; callers must fall back to Extract.
type Summarizer interface {
	Summarize(ctx context.Context, history []model.HistoryEntry, seed string) (string, error)
}

// Func adapts a function to the Summarizer interface.
type Func func(ctx context.Context, history []model.HistoryEntry, seed string) (string, error)

// Summarize calls f.
func (f Func) Summarize(ctx context.Context, history []model.HistoryEntry, seed string) (string, error) {
	return f(ctx, history, seed)
}
