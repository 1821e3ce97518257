package summarize

import (
	"strings"
	"testing"

	"github.com/ppiankov/steward/internal/model"
)

func entry(role, content string) model.HistoryEntry {
	return model.HistoryEntry{Role: role, Content: content}
}

func TestExtractKeepsOutcomeLines(t *testing.T) {
	history := []model.HistoryEntry{
		entry("orchestrator", "iteration 1 started"),
		entry("orchestrator", "task t1 completed"),
		entry("agent", "thinking about the approach"),
		entry("orchestrator", "task t2 failed: timeout"),
		entry("human", "approved request ap-1"),
	}

	out := Extract(history, "", 30)
	if strings.Contains(out, "iteration 1 started") || strings.Contains(out, "thinking") {
		t.Errorf("unremarkable lines must be dropped:\n%s", out)
	}
	for _, want := range []string{"t1 completed", "t2 failed", "approved request"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "[orchestrator]") {
		t.Errorf("lines should carry the role:\n%s", out)
	}
}

func TestExtractDeterministic(t *testing.T) {
	history := []model.HistoryEntry{
		entry("orchestrator", "task t1 completed"),
		entry("orchestrator", "conflict on db/users resolved"),
	}
	if Extract(history, "seed", 30) != Extract(history, "seed", 30) {
		t.Error("same input must give the same summary")
	}
}

func TestExtractCarriesSeed(t *testing.T) {
	out := Extract(nil, "first 40 iterations: schema migrated", 30)
	if !strings.Contains(out, "Earlier summary: first 40 iterations") {
		t.Errorf("seed summary must lead the output:\n%s", out)
	}
}

func TestExtractTruncatesLongLines(t *testing.T) {
	long := "error: " + strings.Repeat("x", 500)
	out := Extract([]model.HistoryEntry{entry("agent", long)}, "", 30)
	if len(out) > 250 {
		t.Errorf("line should be truncated to ~200 chars, got %d", len(out))
	}
	if !strings.HasSuffix(out, "...") {
		t.Errorf("truncated line should end with an ellipsis: %q", out)
	}
}

func TestExtractCapsLineCount(t *testing.T) {
	var history []model.HistoryEntry
	for i := 0; i < 100; i++ {
		history = append(history, entry("orchestrator", "task completed"))
	}

	out := Extract(history, "", 10)
	if got := len(strings.Split(out, "\n")); got != 10 {
		t.Errorf("expected 10 lines, got %d", got)
	}
}

func TestExtractNothingNotable(t *testing.T) {
	history := []model.HistoryEntry{entry("agent", "pondering"), entry("agent", "still pondering")}
	out := Extract(history, "", 30)
	if !strings.Contains(out, "2 entries") {
		t.Errorf("empty extraction should note the compacted count: %q", out)
	}
}
