package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID generates an entity ID with the given prefix, e.g. "tk-4f1a9c0e".
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// UTCNowISO returns the current UTC time in ISO format with Z suffix.
func UTCNowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// Fingerprint identifies an action for approval dedup: the same actor asking
// to do the same thing to the same resources maps to one live request.
func (c ActionContext) Fingerprint() string {
	resources := append([]string(nil), c.TargetResources...)
	sort.Strings(resources)
	raw := strings.Join([]string{c.Actor, c.Org, c.ActionType, c.Scope, strings.Join(resources, ",")}, "|")
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])[:16]
}
