// Package mcpserver exposes overseer's gate and sandbox over the Model
// Context Protocol, so an agent host can route generated code and tool
// calls through the governor without linking overseer directly.
package mcpserver

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/overseer/internal/approval"
	"github.com/ppiankov/overseer/internal/audit"
	"github.com/ppiankov/overseer/internal/config"
	"github.com/ppiankov/overseer/internal/governor"
	"github.com/ppiankov/overseer/internal/sandbox"
)

// Server wraps the MCP SDK server with overseer gating.
type Server struct {
	mcpServer *mcpsdk.Server
	gov       *governor.Governor
	manager   *sandbox.Manager
	approvals *approval.Store
	auditLog  *audit.Log
	limits    sandbox.Limits
}

// New creates an MCP server from loaded configuration.
func New(cfg *config.Config) (*Server, error) {
	approvals, err := approval.NewStore(cfg.ApprovalDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create approval store: %w", err)
	}
	_ = approvals.Cleanup()

	var auditLog *audit.Log
	if cfg.AuditLog != "" {
		auditLog, err = audit.Open(cfg.AuditLog)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	s := &Server{
		gov:       governor.New(cfg.Governor, approvals),
		manager:   sandbox.NewManagerWithRuntime(cfg.Sandbox.Precheck, cfg.Sandbox.Runtime),
		approvals: approvals,
		auditLog:  auditLog,
		limits:    cfg.Sandbox.Limits,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "overseer",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close closes the audit log if configured.
func (s *Server) Close() error {
	if s.auditLog != nil {
		return s.auditLog.Close()
	}
	return nil
}

// registerTools adds all overseer tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "overseer_execute",
		Description: "Execute generated code in an isolated sandbox. The backend (embedded/process/container) is selected by a static pre-check; timeouts return exit code 124.",
	}, s.handleExecute)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "overseer_check",
		Description: "Classify a tool invocation and report whether it would be allowed, denied, or require human approval (dry-run).",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "overseer_approve",
		Description: "Grant approval for a require_approval action. Use after a gated action returns an approval_key.",
	}, s.handleApprove)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "overseer_pending",
		Description: "List all pending approval requests.",
	}, s.handlePending)
}
