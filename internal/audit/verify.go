package audit

import (
	"encoding/json"
	"fmt"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid      bool   `json:"valid"`
	Entries    int    `json:"entries"`
	Error      string `json:"error,omitempty"`
	ErrorEntry int    `json:"error_entry,omitempty"`
}

// VerifyChain validates the hash chain over entries in append order.
// Returns Valid=true if the chain is intact, or details about the first
// broken link. Entries must round-trip through the store unchanged for the
// re-marshaled hashes to line up; that fidelity is part of the Repository
// contract.
func VerifyChain(entries []Entry) VerifyResult {
	var prevLine []byte

	for i, e := range entries {
		if i == 0 {
			if e.PrevHash != GenesisHash {
				return VerifyResult{
					Error:      fmt.Sprintf("first entry prev_hash is %q, expected genesis hash", e.PrevHash),
					ErrorEntry: 1,
				}
			}
		} else {
			expected := HashLine(prevLine)
			if e.PrevHash != expected {
				return VerifyResult{
					Error:      fmt.Sprintf("hash mismatch: expected %s, got %s", expected, e.PrevHash),
					ErrorEntry: i + 1,
				}
			}
		}

		line, err := json.Marshal(e)
		if err != nil {
			return VerifyResult{
				Error:      fmt.Sprintf("marshal error: %v", err),
				ErrorEntry: i + 1,
			}
		}
		prevLine = line
	}

	return VerifyResult{Valid: true, Entries: len(entries)}
}

// RecoverTail computes the chain tail from the backing store so a restarted
// process can keep appending to the same chain. An empty store yields the
// genesis hash.
func RecoverTail(r Reader) (string, error) {
	entries, err := r.ListAudit(Filter{})
	if err != nil {
		return "", fmt.Errorf("recover audit tail: %w", err)
	}
	if len(entries) == 0 {
		return GenesisHash, nil
	}
	line, err := json.Marshal(entries[len(entries)-1])
	if err != nil {
		return "", fmt.Errorf("recover audit tail: %w", err)
	}
	return HashLine(line), nil
}
