package gate

import (
	"fmt"
	"time"

	"github.com/ppiankov/steward/internal/audit"
	"github.com/ppiankov/steward/internal/model"
	"github.com/ppiankov/steward/internal/policy"
	"github.com/ppiankov/steward/internal/risk"
)

// Scorer computes a deterministic risk score with reasons.
type Scorer func(actionType string, ctx model.ActionContext) (float64, []string)

// EvalResult is the explicit outcome of one governance evaluation. Degraded
// marks the fail-closed path: an internal failure forced APPROVAL rather than
// letting the evaluation fall open to AUTO.
type EvalResult struct {
	Decision  model.Decision
	RiskScore float64
	Reasons   []string
	Rule      string
	RequestID string
	AuditID   string
	Degraded  bool
}

// Decide applies the decision rules to a scored action.
//
// Rule order (first match wins, must not be changed):
//  1. BLOCKED if the action type is on the policy block list.
//  2. APPROVAL if risk exceeds the policy's max auto risk.
//  3. APPROVAL if the action type requires approval.
//  4. AUTO if the action type is explicitly auto-allowed.
//  5. AUTO otherwise.
func Decide(actionType string, p model.AutonomyPolicy, riskScore float64) (model.Decision, string) {
	if contains(p.Blocked, actionType) {
		return model.Blocked, fmt.Sprintf("action %q is blocked by policy", actionType)
	}
	if riskScore > p.MaxAutoRisk {
		return model.Approval, fmt.Sprintf("risk %.2f exceeds max auto risk %.2f", riskScore, p.MaxAutoRisk)
	}
	if contains(p.RequireApprovalFor, actionType) {
		return model.Approval, fmt.Sprintf("action %q requires approval by policy", actionType)
	}
	if contains(p.AutoAllowed, actionType) {
		return model.Auto, fmt.Sprintf("action %q is auto-allowed by policy", actionType)
	}
	return model.Auto, fmt.Sprintf("risk %.2f within max auto risk %.2f", riskScore, p.MaxAutoRisk)
}

// Gate combines the risk scorer and policy store into governance decisions,
// owning the pending approval requests it creates. Instance state only — no
// package-level registries — so independent gates can coexist.
type Gate struct {
	policies *policy.Store
	score    Scorer
	requests *Requests
	log      *audit.Log
	now      func() time.Time
}

// New creates a gate. A nil scorer uses the default risk scorer.
func New(policies *policy.Store, requests *Requests, log *audit.Log, score Scorer) *Gate {
	if score == nil {
		score = risk.Score
	}
	return &Gate{
		policies: policies,
		score:    score,
		requests: requests,
		log:      log,
		now:      time.Now,
	}
}

// Requests exposes the gate's request store for resolution and cleanup.
func (g *Gate) Requests() *Requests { return g.requests }

// Evaluate runs one governance evaluation. It audits exactly once for every
// outcome, including internal failures, and fails closed: any panic or
// evaluation error yields APPROVAL at risk 1.0, never AUTO.
func (g *Gate) Evaluate(ctx model.ActionContext, planSummary string) (res EvalResult) {
	audited := false

	defer func() {
		if r := recover(); r != nil {
			res = EvalResult{
				Decision:  model.Approval,
				RiskScore: 1.0,
				Rule:      fmt.Sprintf("governance evaluation degraded: %v", r),
				Degraded:  true,
			}
			if req, err := g.requests.Create(ctx, 1.0, []string{"HIGH: evaluation degraded"}, planSummary); err == nil {
				res.RequestID = req.ID
			}
			if !audited {
				res.AuditID = g.audit(ctx, res)
			}
		}
	}()

	score, reasons := g.score(ctx.ActionType, ctx)
	pol := g.policies.GetPolicy(ctx.Actor, ctx.Org, ctx.Scope)
	decision, rule := Decide(ctx.ActionType, pol, score)

	res = EvalResult{
		Decision:  decision,
		RiskScore: score,
		Reasons:   reasons,
		Rule:      rule,
	}

	if decision == model.Approval {
		req, err := g.requests.Create(ctx, score, reasons, planSummary)
		if err != nil {
			res.Degraded = true
			res.Rule = fmt.Sprintf("%s (request store degraded: %v)", rule, err)
		} else {
			res.RequestID = req.ID
		}
	}

	res.AuditID = g.audit(ctx, res)
	audited = true
	return res
}

func (g *Gate) audit(ctx model.ActionContext, res EvalResult) string {
	decision := string(res.Decision)
	switch res.Decision {
	case model.Approval:
		decision = "APPROVAL_REQUIRED"
	case model.Blocked:
		decision = "BLOCKED"
	case model.Auto:
		decision = "AUTO"
	}
	entry := audit.Entry{
		Actor:      ctx.Actor,
		Org:        ctx.Org,
		ActionType: ctx.ActionType,
		Decision:   decision,
		RiskScore:  res.RiskScore,
		Reason:     res.Rule,
	}
	if res.Degraded {
		entry.Artifacts = map[string]string{"degraded": "true"}
	}
	if res.RequestID != "" {
		if entry.Artifacts == nil {
			entry.Artifacts = map[string]string{}
		}
		entry.Artifacts["approval_request"] = res.RequestID
	}
	return g.log.Record(entry)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
