package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/steward/internal/model"
	"github.com/ppiankov/steward/internal/watch"
)

// --- Input/Output types ---

// CheckInput defines parameters for the steward_check tool.
type CheckInput struct {
	ActionType      string   `json:"action_type" jsonschema:"action type (e.g. deploy_prod, modify_code)"`
	TargetResources []string `json:"target_resources,omitempty" jsonschema:"resources the action touches"`
	Scope           string   `json:"scope,omitempty" jsonschema:"scope the action runs in"`
	Actor           string   `json:"actor" jsonschema:"acting agent identity"`
	Org             string   `json:"org" jsonschema:"organization"`
	TouchesAuth     bool     `json:"touches_auth,omitempty" jsonschema:"action touches auth or identity systems"`
	TouchesProd     bool     `json:"touches_prod,omitempty" jsonschema:"action touches production"`
	EstimatedImpact string   `json:"estimated_impact,omitempty" jsonschema:"low, medium, or high"`
	PlanSummary     string   `json:"plan_summary,omitempty" jsonschema:"what the action intends to do"`
}

// CheckOutput contains the governance decision.
type CheckOutput struct {
	Decision  string   `json:"decision"`
	RiskScore float64  `json:"risk_score"`
	Reasons   []string `json:"reasons,omitempty"`
	Rule      string   `json:"rule"`
	RequestID string   `json:"request_id,omitempty"`
}

// PendingInput is empty. No parameters needed.
type PendingInput struct{}

// PendingOutput lists pending approval requests.
type PendingOutput struct {
	Approvals []PendingItem `json:"approvals"`
}

// PendingItem describes one pending approval request.
type PendingItem struct {
	ID          string  `json:"id"`
	ActionType  string  `json:"action_type"`
	Requester   string  `json:"requester"`
	Org         string  `json:"org"`
	RiskScore   float64 `json:"risk_score"`
	PlanSummary string  `json:"plan_summary,omitempty"`
	ExpiresAt   string  `json:"expires_at"`
}

// ResolveInput identifies the approval request to resolve.
type ResolveInput struct {
	ID      string `json:"id" jsonschema:"approval request ID"`
	By      string `json:"by" jsonschema:"who is deciding"`
	Comment string `json:"comment,omitempty" jsonschema:"optional decision comment"`
}

// ResolveOutput confirms the resolution.
type ResolveOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// GatesInput filters the gate listing.
type GatesInput struct {
	Status string `json:"status,omitempty" jsonschema:"filter: pending, approved, rejected, or deferred; empty for all"`
}

// GatesOutput lists gates.
type GatesOutput struct {
	Gates []GateItem `json:"gates"`
}

// GateItem describes one human checkpoint gate.
type GateItem struct {
	ID             string             `json:"id"`
	Type           string             `json:"type"`
	Title          string             `json:"title"`
	TaskID         string             `json:"task_id,omitempty"`
	Status         string             `json:"status"`
	BlocksProgress bool               `json:"blocks_progress"`
	Options        []model.GateOption `json:"options,omitempty"`
}

// DecideInput resolves one gate.
type DecideInput struct {
	ID      string `json:"id" jsonschema:"gate ID"`
	Approve bool   `json:"approve" jsonschema:"true to approve, false to reject"`
	Option  string `json:"option,omitempty" jsonschema:"chosen option ID"`
	By      string `json:"by" jsonschema:"who is deciding"`
	Comment string `json:"comment,omitempty" jsonschema:"optional decision reason"`
}

// DecideOutput confirms the gate resolution.
type DecideOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Option string `json:"option,omitempty"`
}

// --- Handlers ---

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	if input.ActionType == "" || input.Actor == "" || input.Org == "" {
		return nil, CheckOutput{}, fmt.Errorf("action_type, actor, and org are required")
	}

	actx := model.ActionContext{
		ActionType:      input.ActionType,
		TargetResources: input.TargetResources,
		Scope:           input.Scope,
		Actor:           input.Actor,
		Org:             input.Org,
		TouchesAuth:     input.TouchesAuth,
		TouchesProd:     input.TouchesProd,
		EstimatedImpact: model.Impact(input.EstimatedImpact),
	}

	res := s.gate.Evaluate(actx, input.PlanSummary)
	out := CheckOutput{
		Decision:  string(res.Decision),
		RiskScore: res.RiskScore,
		Reasons:   res.Reasons,
		Rule:      res.Rule,
		RequestID: res.RequestID,
	}
	if res.Decision == model.Blocked {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	pending, err := s.gate.Requests().Pending()
	if err != nil {
		return nil, PendingOutput{}, err
	}

	out := PendingOutput{Approvals: []PendingItem{}}
	for _, p := range pending {
		out.Approvals = append(out.Approvals, PendingItem{
			ID:          p.ID,
			ActionType:  p.ActionType,
			Requester:   p.Requester,
			Org:         p.Org,
			RiskScore:   p.RiskScore,
			PlanSummary: p.PlanSummary,
			ExpiresAt:   p.ExpiresAt.Format("2006-01-02T15:04:05.000Z"),
		})
	}
	return nil, out, nil
}

func (s *Server) handleApprove(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	if err := s.applier.Apply(watch.Decision{
		Kind:    watch.KindApproval,
		ID:      input.ID,
		Approve: true,
		By:      input.By,
		Comment: input.Comment,
	}); err != nil {
		return nil, ResolveOutput{}, err
	}
	return nil, ResolveOutput{ID: input.ID, Status: string(model.ApprovalApproved)}, nil
}

func (s *Server) handleReject(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	if err := s.applier.Apply(watch.Decision{
		Kind:    watch.KindApproval,
		ID:      input.ID,
		Approve: false,
		By:      input.By,
		Comment: input.Comment,
	}); err != nil {
		return nil, ResolveOutput{}, err
	}
	return nil, ResolveOutput{ID: input.ID, Status: string(model.ApprovalRejected)}, nil
}

func (s *Server) handleGates(ctx context.Context, req *mcpsdk.CallToolRequest, input GatesInput) (*mcpsdk.CallToolResult, GatesOutput, error) {
	gates, err := s.repo.ListGates(model.GateStatus(input.Status))
	if err != nil {
		return nil, GatesOutput{}, err
	}

	out := GatesOutput{Gates: []GateItem{}}
	for _, g := range gates {
		out.Gates = append(out.Gates, GateItem{
			ID:             g.ID,
			Type:           string(g.Type),
			Title:          g.Title,
			TaskID:         g.TaskID,
			Status:         string(g.Status),
			BlocksProgress: g.BlocksProgress,
			Options:        g.Options,
		})
	}
	return nil, out, nil
}

func (s *Server) handleDecide(ctx context.Context, req *mcpsdk.CallToolRequest, input DecideInput) (*mcpsdk.CallToolResult, DecideOutput, error) {
	if err := s.applier.Apply(watch.Decision{
		Kind:    watch.KindGate,
		ID:      input.ID,
		Approve: input.Approve,
		Option:  input.Option,
		By:      input.By,
		Comment: input.Comment,
	}); err != nil {
		return nil, DecideOutput{}, err
	}

	status := model.GateApproved
	if !input.Approve {
		status = model.GateRejected
	}
	return nil, DecideOutput{ID: input.ID, Status: string(status), Option: input.Option}, nil
}
