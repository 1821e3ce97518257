package summarize

import (
	"fmt"
	"strings"

	"github.com/ppiankov/steward/internal/model"
)

// keepMarkers select the history lines worth carrying when no summarizer is
// available. Lowercase substrings.
var keepMarkers = []string{
	"error", "fail", "complet", "modif", "creat", "delet",
	"decision", "approv", "reject", "block", "conflict", "rollback",
}

// Extract is the deterministic fallback: keep lines that mention outcomes or
// decisions, truncated per line, capped at maxLines. Same input, same output.
func Extract(history []model.HistoryEntry, seed string, maxLines int) string {
	if maxLines <= 0 {
		maxLines = 30
	}

	var lines []string
	if seed != "" {
		lines = append(lines, "Earlier summary: "+truncate(seed, 300))
	}

	for _, h := range history {
		lower := strings.ToLower(h.Content)
		for _, m := range keepMarkers {
			if strings.Contains(lower, m) {
				lines = append(lines, fmt.Sprintf("[%s] %s", h.Role, truncate(h.Content, 200)))
				break
			}
		}
	}

	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	if len(lines) == 0 {
		return fmt.Sprintf("history compacted: %d entries, nothing notable retained", len(history))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
