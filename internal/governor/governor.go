// Package governor is the single continue/halt gate for autonomous
// execution. Before an action it consults the destructive-operation
// classifier to decide allow / require_approval / deny; after each cycle it
// consults the loop detector over a history snapshot and turns a positive
// verdict into a hard stop. The governor carries no history of its own —
// both checks are pure functions of their inputs, so sessions replay
// deterministically in tests.
package governor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/ppiankov/overseer/internal/approval"
	"github.com/ppiankov/overseer/internal/classify"
	"github.com/ppiankov/overseer/internal/loopdetect"
	"github.com/ppiankov/overseer/internal/model"
)

// SafetyHalt signals that the doom-loop detector fired. It must propagate
// to the planner as an explicit stop, never be swallowed; the host surfaces
// Reason verbatim.
type SafetyHalt struct {
	Reason  string
	Verdict model.LoopDetectionResult
}

func (e *SafetyHalt) Error() string {
	return fmt.Sprintf("safety halt: %s", e.Reason)
}

// Config holds governor thresholds.
type Config struct {
	// ApprovalThreshold is the risk level at or above which an action
	// needs a human decision. Default: high.
	ApprovalThreshold model.RiskLevel `yaml:"approval_threshold"`
	// DenyCatastrophic hard-blocks unrecoverable shell commands (recursive
	// delete, disk overwrite) instead of routing them to the approval
	// channel.
	DenyCatastrophic bool `yaml:"deny_catastrophic"`
	// Detector thresholds for the post-cycle verdict.
	Detector loopdetect.Config `yaml:"detector"`
}

// DefaultConfig returns the stock governor thresholds.
func DefaultConfig() Config {
	return Config{
		ApprovalThreshold: model.RiskHigh,
		DenyCatastrophic:  true,
		Detector:          loopdetect.DefaultConfig(),
	}
}

// Governor gates actions and issues post-cycle verdicts.
type Governor struct {
	cfg       Config
	approvals *approval.Store
}

// New creates a Governor. The approval store may be nil, in which case
// require_approval decisions are returned but never awaited.
func New(cfg Config, approvals *approval.Store) *Governor {
	if cfg.ApprovalThreshold == "" {
		cfg.ApprovalThreshold = model.RiskHigh
	}
	return &Governor{cfg: cfg, approvals: approvals}
}

// DetectorConfig returns the effective loop-detector thresholds, letting
// callers size their history window to match the detector's.
func (g *Governor) DetectorConfig() loopdetect.Config {
	return g.cfg.Detector.WithDefaults()
}

// GateResult is the outcome of a pre-action gate check.
type GateResult struct {
	Decision       model.Decision                   `json:"decision"`
	Classification *model.DestructiveClassification `json:"classification,omitempty"`
	Reason         string                           `json:"reason"`
	ApprovalKey    string                           `json:"approval_key,omitempty"`
}

// GateAction classifies a tool invocation and decides whether it may run
// unattended. Unclassified (read-only/unknown) actions are always allowed.
func (g *Governor) GateAction(tool string, input map[string]any) GateResult {
	c := classify.Classify(tool, input)
	if c == nil {
		return GateResult{Decision: model.Allow, Reason: "not classified as destructive"}
	}

	if g.cfg.DenyCatastrophic && classify.Catastrophic(tool, input) {
		return GateResult{
			Decision:       model.Deny,
			Classification: c,
			Reason:         fmt.Sprintf("unrecoverable %s: %s", c.Category, c.Description),
		}
	}

	if model.RiskRank[c.RiskLevel] >= model.RiskRank[g.cfg.ApprovalThreshold] {
		key := approvalKey(tool, c)
		result := GateResult{
			Decision:       model.RequireApproval,
			Classification: c,
			Reason:         fmt.Sprintf("%s risk %s requires human approval", c.RiskLevel, c.Category),
			ApprovalKey:    key,
		}
		if g.approvals != nil {
			if err := g.approvals.Submit(key, c.Description, c.RiskLevel, c.Files); err != nil {
				result.Reason = fmt.Sprintf("%s (approval submit failed: %v)", result.Reason, err)
			}
		}
		return result
	}

	return GateResult{
		Decision:       model.Allow,
		Classification: c,
		Reason:         fmt.Sprintf("%s risk below approval threshold", c.RiskLevel),
	}
}

// AwaitApproval blocks on the human-approval channel until the keyed
// request is resolved or ctx is cancelled. Returns true only for an
// unexpired approval; one-time approvals are consumed.
func (g *Governor) AwaitApproval(ctx context.Context, key string) (bool, error) {
	if g.approvals == nil {
		return false, fmt.Errorf("governor: no approval store configured")
	}
	status, err := g.approvals.WaitResolved(ctx, key)
	if err != nil {
		return false, err
	}
	if status != approval.StatusApproved {
		return false, nil
	}
	if err := g.approvals.Consume(key); err != nil {
		// Already consumed elsewhere; treat as spent.
		return false, nil
	}
	return true, nil
}

// Verdict runs loop detection over a history snapshot. A detected loop is
// returned both as the result and as a *SafetyHalt error so callers cannot
// accidentally ignore it.
func (g *Governor) Verdict(ops []model.Operation, now time.Time) (model.LoopDetectionResult, error) {
	r := loopdetect.Detect(ops, now, g.cfg.Detector)
	if !r.Detected {
		return r, nil
	}
	return r, &SafetyHalt{
		Reason:  fmt.Sprintf("doom loop detected (%s, confidence %.2f): %s", r.LoopType, r.Confidence, r.Details),
		Verdict: r,
	}
}

var keySanitize = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// approvalKey derives a stable store key from the classification so the
// same blocked action maps to the same pending request across retries.
func approvalKey(tool string, c *model.DestructiveClassification) string {
	h := sha256.Sum256([]byte(c.Description))
	short := hex.EncodeToString(h[:4])
	return keySanitize.ReplaceAllString(fmt.Sprintf("%s-%s-%s", tool, c.Category, short), "-")
}
