package mcpserver

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/overseer/internal/approval"
	"github.com/ppiankov/overseer/internal/audit"
	"github.com/ppiankov/overseer/internal/model"
	"github.com/ppiankov/overseer/internal/sandbox"
)

// --- Input/Output types ---

// ExecuteInput defines parameters for the overseer_execute tool.
type ExecuteInput struct {
	Code      string `json:"code" jsonschema:"source code to execute"`
	Language  string `json:"language" jsonschema:"language: starlark/python/javascript/bash/go"`
	MaxTimeMs int    `json:"max_time_ms,omitempty" jsonschema:"wall-clock deadline in milliseconds"`
}

// ExecuteOutput contains the sandbox result or block details.
type ExecuteOutput struct {
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	ExitCode    int    `json:"exit_code"`
	TimedOut    bool   `json:"timed_out,omitempty"`
	Backend     string `json:"backend,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
	Blocked     bool   `json:"blocked,omitempty"`
	Decision    string `json:"decision,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ApprovalKey string `json:"approval_key,omitempty"`
}

// CheckInput defines parameters for the overseer_check tool.
type CheckInput struct {
	Tool    string `json:"tool" jsonschema:"tool name (shell/write/edit/git/...)"`
	Command string `json:"command,omitempty" jsonschema:"command text for shell-family tools"`
	Path    string `json:"path,omitempty" jsonschema:"target path for file-family tools"`
}

// CheckOutput contains the gate decision.
type CheckOutput struct {
	Decision    string   `json:"decision"`
	Reason      string   `json:"reason"`
	Category    string   `json:"category,omitempty"`
	RiskLevel   string   `json:"risk_level,omitempty"`
	Files       []string `json:"files,omitempty"`
	ApprovalKey string   `json:"approval_key,omitempty"`
}

// ApproveInput defines parameters for the overseer_approve tool.
type ApproveInput struct {
	Key      string `json:"key" jsonschema:"approval key from a gated action"`
	Duration string `json:"duration,omitempty" jsonschema:"approval duration (e.g. 5m), omit for one-time approval"`
}

// ApproveOutput confirms the approval.
type ApproveOutput struct {
	Key      string `json:"key"`
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
}

// PendingInput is empty — no parameters needed.
type PendingInput struct{}

// PendingOutput lists all pending approvals.
type PendingOutput struct {
	Approvals []PendingItem `json:"approvals"`
}

// PendingItem describes a single approval request.
type PendingItem struct {
	Key         string   `json:"key"`
	Status      string   `json:"status"`
	Description string   `json:"description"`
	RiskLevel   string   `json:"risk_level"`
	Files       []string `json:"files,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

// --- Handlers ---

func (s *Server) handleExecute(ctx context.Context, req *mcpsdk.CallToolRequest, input ExecuteInput) (*mcpsdk.CallToolResult, ExecuteOutput, error) {
	// Bash submissions are shell commands against the real system once
	// they leave the container; gate them like any shell tool call.
	// Other languages run as data inside a sandbox backend.
	if input.Language == "bash" || input.Language == "sh" {
		gate := s.gov.GateAction("shell", map[string]any{"command": input.Code})
		s.recordAudit("shell", input.Code, string(gate.Decision), gate.Reason)
		if gate.Decision != model.Allow {
			approved := false
			if gate.Decision == model.RequireApproval {
				approved = s.consumeIfApproved(gate.ApprovalKey)
			}
			if !approved {
				out := ExecuteOutput{
					Blocked:     true,
					Decision:    string(gate.Decision),
					Reason:      gate.Reason,
					ApprovalKey: gate.ApprovalKey,
				}
				return &mcpsdk.CallToolResult{IsError: true}, out, nil
			}
		}
	}

	limits := s.limits
	if input.MaxTimeMs > 0 {
		limits.MaxTimeMs = input.MaxTimeMs
	}

	result, err := s.manager.Execute(ctx, sandbox.Request{
		Language: input.Language,
		Code:     input.Code,
		Limits:   limits,
	})
	if err != nil {
		return nil, ExecuteOutput{}, err
	}

	s.recordAudit("sandbox", input.Language, "executed", result.Backend)
	return nil, ExecuteOutput{
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		ExitCode:   result.ExitCode,
		TimedOut:   result.TimedOut,
		Backend:    result.Backend,
		DurationMs: result.DurationMs,
	}, nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	gateInput := map[string]any{}
	if input.Command != "" {
		gateInput["command"] = input.Command
	}
	if input.Path != "" {
		gateInput["path"] = input.Path
	}

	gate := s.gov.GateAction(input.Tool, gateInput)
	s.recordAudit(input.Tool, input.Command+input.Path, string(gate.Decision), gate.Reason)

	out := CheckOutput{
		Decision:    string(gate.Decision),
		Reason:      gate.Reason,
		ApprovalKey: gate.ApprovalKey,
	}
	if gate.Classification != nil {
		out.Category = string(gate.Classification.Category)
		out.RiskLevel = string(gate.Classification.RiskLevel)
		out.Files = gate.Classification.Files
	}
	return nil, out, nil
}

func (s *Server) handleApprove(ctx context.Context, req *mcpsdk.CallToolRequest, input ApproveInput) (*mcpsdk.CallToolResult, ApproveOutput, error) {
	var duration time.Duration
	if input.Duration != "" {
		var err error
		duration, err = time.ParseDuration(input.Duration)
		if err != nil {
			return nil, ApproveOutput{}, fmt.Errorf("invalid duration %q: %w", input.Duration, err)
		}
	}

	if err := s.approvals.Approve(input.Key, duration); err != nil {
		return nil, ApproveOutput{}, err
	}

	out := ApproveOutput{
		Key:    input.Key,
		Status: "approved",
	}
	if duration > 0 {
		out.Duration = duration.String()
	}
	return nil, out, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	list, err := s.approvals.List()
	if err != nil {
		return nil, PendingOutput{}, err
	}

	items := make([]PendingItem, len(list))
	for i, a := range list {
		items[i] = PendingItem{
			Key:         a.Key,
			Status:      string(a.Status),
			Description: a.Description,
			RiskLevel:   string(a.RiskLevel),
			Files:       a.Files,
			CreatedAt:   a.CreatedAt.Format(time.RFC3339),
		}
	}

	return nil, PendingOutput{Approvals: items}, nil
}

// --- Helpers ---

// consumeIfApproved reports whether a standing approval exists for the
// key and spends it.
func (s *Server) consumeIfApproved(key string) bool {
	if key == "" {
		return false
	}
	status, err := s.approvals.Check(key)
	if err != nil || status != approval.StatusApproved {
		return false
	}
	return s.approvals.Consume(key) == nil
}

func (s *Server) recordAudit(tool, resource, decision, reason string) {
	if s.auditLog == nil {
		return
	}
	_ = s.auditLog.Record(audit.Entry{
		SessionID: "mcp",
		Phase:     "gate",
		Operation: audit.EntryOperation{Tool: tool, Resource: truncate(resource, 200)},
		Decision:  decision,
		Reason:    reason,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
