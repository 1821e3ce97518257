package risk

import (
	"fmt"
	"strings"

	"github.com/ppiankov/steward/internal/model"
)

// Banner thresholds. Other components key off these exact values, so they
// are exported constants rather than config.
const (
	HighThreshold   = 0.7
	MediumThreshold = 0.3
)

// Weights maps each independent risk factor to its contribution. The sum must
// not exceed 1.0 so the clamped total stays meaningful.
type Weights struct {
	Auth            float64 `yaml:"auth"`
	Prod            float64 `yaml:"prod"`
	MultiScope      float64 `yaml:"multi_scope"`
	RecentIncidents float64 `yaml:"recent_incidents"`
	SensitivePath   float64 `yaml:"sensitive_path"`
	ChangeBreadth   float64 `yaml:"change_breadth"`
	RollbackCost    float64 `yaml:"rollback_cost"`
	Compliance      float64 `yaml:"compliance"`
}

// DefaultWeights sums to exactly 1.0.
func DefaultWeights() Weights {
	return Weights{
		Auth:            0.20,
		Prod:            0.20,
		MultiScope:      0.10,
		RecentIncidents: 0.10,
		SensitivePath:   0.15,
		ChangeBreadth:   0.10,
		RollbackCost:    0.10,
		Compliance:      0.05,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Auth + w.Prod + w.MultiScope + w.RecentIncidents +
		w.SensitivePath + w.ChangeBreadth + w.RollbackCost + w.Compliance
}

// sensitiveMarkers flag resource paths that touch credentials, secrets, or
// production configuration.
var sensitiveMarkers = []string{
	"secret", "credential", "password", "token", ".env",
	"auth", "identity", "/etc/", "prod", "payment", "billing",
}

// complianceMarkers flag actions or resources in regulated territory.
var complianceMarkers = []string{
	"pii", "gdpr", "hipaa", "sox", "pci", "salary", "medical",
}

// hardToRollback lists action type fragments whose effects cannot be undone
// cheaply.
var hardToRollback = []string{
	"delete", "drop", "deploy", "migrate", "purge", "send", "publish",
}

// Banner returns the severity banner for a risk score: "HIGH" at or above
// 0.7, "MEDIUM" at or above 0.3, "LOW" below.
func Banner(score float64) string {
	switch {
	case score >= HighThreshold:
		return "HIGH"
	case score >= MediumThreshold:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Score computes the risk of an action with default weights.
// Deterministic, no I/O: the same inputs always produce the same score.
func Score(actionType string, ctx model.ActionContext) (float64, []string) {
	return ScoreWith(DefaultWeights(), actionType, ctx)
}

// ScoreWith computes a cumulative risk score in [0,1] over independent
// factors. This is NOT anomaly detection — it is explainable scoring based on
// action semantics. The first reason is always the severity banner.
func ScoreWith(w Weights, actionType string, ctx model.ActionContext) (float64, []string) {
	var score float64
	var reasons []string

	if ctx.TouchesAuth {
		score += w.Auth
		reasons = append(reasons, "action touches authentication or identity")
	}
	if ctx.TouchesProd {
		score += w.Prod
		reasons = append(reasons, "action touches production")
	}
	if ctx.MultiScope {
		score += w.MultiScope
		reasons = append(reasons, "change spans multiple scopes")
	}
	if ctx.RecentIncidents {
		score += w.RecentIncidents
		reasons = append(reasons, "recent incidents in this area")
	}

	if hit := matchAny(ctx.TargetResources, sensitiveMarkers); hit != "" {
		score += w.SensitivePath
		reasons = append(reasons, fmt.Sprintf("sensitive resource path (%s)", hit))
	}

	switch breadth := len(ctx.TargetResources); {
	case breadth > 5:
		score += w.ChangeBreadth
		reasons = append(reasons, fmt.Sprintf("broad change: %d resources", breadth))
	case breadth > 2:
		score += w.ChangeBreadth / 2
		reasons = append(reasons, fmt.Sprintf("moderate change breadth: %d resources", breadth))
	}

	if frag := containsAny(actionType, hardToRollback); frag != "" {
		score += w.RollbackCost
		reasons = append(reasons, fmt.Sprintf("hard to roll back (%s)", frag))
	}

	haystack := append([]string{actionType}, ctx.TargetResources...)
	if hit := matchAny(haystack, complianceMarkers); hit != "" {
		score += w.Compliance
		reasons = append(reasons, fmt.Sprintf("compliance-relevant (%s)", hit))
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	banner := fmt.Sprintf("%s: overall risk %.2f", Banner(score), score)
	return score, append([]string{banner}, reasons...)
}

// matchAny returns the first marker found in any of the values, or "".
func matchAny(values, markers []string) string {
	for _, v := range values {
		lower := strings.ToLower(v)
		for _, m := range markers {
			if strings.Contains(lower, m) {
				return m
			}
		}
	}
	return ""
}

// containsAny returns the first marker contained in s, or "".
func containsAny(s string, markers []string) string {
	lower := strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return m
		}
	}
	return ""
}
