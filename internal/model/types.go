package model

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// RiskLevel classifies how dangerous an action is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskRank maps risk levels to comparable integers for monotonic escalation.
var RiskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Decision is the governor's pre-action gate outcome.
type Decision string

const (
	Allow           Decision = "allow"
	Deny            Decision = "deny"
	RequireApproval Decision = "require_approval"
)

// Operation is one entry in the append-only operation history.
// Immutable once appended.
type Operation struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Tool      string         `json:"tool"`
	Input     map[string]any `json:"input"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Fingerprint returns a stable tool+input identity for repeat detection.
// Input keys are sorted so two semantically identical operations always
// produce the same fingerprint regardless of map iteration order.
func (op Operation) Fingerprint() string {
	if len(op.Input) == 0 {
		return op.Tool
	}
	keys := make([]string, 0, len(op.Input))
	for k := range op.Input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(op.Tool)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		v, err := json.Marshal(op.Input[k])
		if err != nil {
			b.WriteString("?")
			continue
		}
		b.Write(v)
	}
	return b.String()
}

// DestructiveCategory names what kind of irreversible change an action makes.
type DestructiveCategory string

const (
	CategoryFileDeletion  DestructiveCategory = "file_deletion"
	CategoryFileOverwrite DestructiveCategory = "file_overwrite"
	CategoryVCSWrite      DestructiveCategory = "vcs_write"
	CategorySystemChange  DestructiveCategory = "system_change"
)

// DestructiveClassification describes a destructive tool invocation.
// A nil classification means the action is read-only or unknown (low risk).
type DestructiveClassification struct {
	Category    DestructiveCategory `json:"category"`
	Reversible  bool                `json:"reversible"`
	RiskLevel   RiskLevel           `json:"risk_level"`
	Files       []string            `json:"files,omitempty"`
	Description string              `json:"description"`
}

// LoopType names the doom-loop pattern that matched.
type LoopType string

const (
	LoopExactRepeat      LoopType = "exact_repeat"
	LoopSimilarError     LoopType = "similar_error"
	LoopStateOscillation LoopType = "state_oscillation"
)

// LoopDetectionResult is the detector's verdict over one history window.
// Reason is set only when detection was skipped (e.g. insufficient history).
type LoopDetectionResult struct {
	Detected           bool     `json:"detected"`
	LoopType           LoopType `json:"loop_type,omitempty"`
	Confidence         float64  `json:"confidence"`
	MatchingOperations int      `json:"matching_operations,omitempty"`
	Details            string   `json:"details,omitempty"`
	Reason             string   `json:"reason,omitempty"`
}
