// Package mcp exposes the governance surface over the Model Context
// Protocol so agents can check actions, watch approvals, and humans can
// resolve gates through MCP-capable clients.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/steward/internal/gate"
	"github.com/ppiankov/steward/internal/store"
	"github.com/ppiankov/steward/internal/watch"
)

// Server wraps the MCP SDK server around the governance gate and the
// persisted approval and gate records.
type Server struct {
	mcpServer *mcpsdk.Server
	gate      *gate.Gate
	repo      store.Repository
	applier   *watch.Applier
}

// New creates an MCP server with all steward tools registered.
func New(g *gate.Gate, repo store.Repository) *Server {
	s := &Server{
		gate:    g,
		repo:    repo,
		applier: watch.NewApplier(g.Requests(), repo),
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "steward",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all steward tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_check",
		Description: "Evaluate an action against governance policy. Returns auto, approval, or blocked with the risk explanation; approval-gated actions get a request ID to poll.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_pending",
		Description: "List pending approval requests.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_approve",
		Description: "Approve a pending approval request by ID.",
	}, s.handleApprove)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_reject",
		Description: "Reject a pending approval request by ID.",
	}, s.handleReject)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_gates",
		Description: "List human checkpoint gates, optionally filtered by status.",
	}, s.handleGates)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_decide",
		Description: "Resolve a pending gate: approve or reject, optionally choosing one of its options.",
	}, s.handleDecide)
}
