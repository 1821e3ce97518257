package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ppiankov/steward/internal/model"
)

// GenesisHash is the prev_hash for the first entry in a new audit trail.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one immutable record in the hash-chained audit trail. Corrections
// are new entries, never edits. Artifacts is the only open string-keyed map:
// it carries the genuinely opaque payload a rollback strategy may need later.
// map[string]string marshals with sorted keys, keeping hashing deterministic.
type Entry struct {
	ID         string            `json:"id"`
	Timestamp  string            `json:"ts"`
	Actor      string            `json:"actor"`
	Org        string            `json:"org"`
	ActionType string            `json:"action_type"`
	Decision   string            `json:"decision"`
	RiskScore  float64           `json:"risk_score"`
	Reason     string            `json:"reason,omitempty"`
	Artifacts  map[string]string `json:"artifacts,omitempty"`

	RollbackAvailable bool           `json:"rollback_available"`
	Result            *model.Outcome `json:"result,omitempty"`

	PrevHash string `json:"prev_hash"`
}

// Time parses the entry timestamp. Zero time on parse failure.
func (e Entry) Time() time.Time {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Filter selects audit entries on the read side. Zero fields match anything.
type Filter struct {
	Org        string
	Actor      string
	ActionType string
	Decision   string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Matches reports whether the entry passes the filter. Limit is not applied
// here; it is the caller's truncation hint.
func (f Filter) Matches(e Entry) bool {
	if f.Org != "" && e.Org != f.Org {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.ActionType != "" && e.ActionType != f.ActionType {
		return false
	}
	if f.Decision != "" && e.Decision != f.Decision {
		return false
	}
	if !f.Since.IsZero() || !f.Until.IsZero() {
		t := e.Time()
		if !f.Since.IsZero() && t.Before(f.Since) {
			return false
		}
		if !f.Until.IsZero() && t.After(f.Until) {
			return false
		}
	}
	return true
}
