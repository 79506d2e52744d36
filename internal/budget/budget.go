// Package budget tracks per-session resource consumption against
// configured limits. Consumption is monotonic: charges accumulate and are
// never refunded mid-session.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// Budget defines per-session resource limits.
// Zero values mean unlimited (no enforcement for that dimension).
type Budget struct {
	MaxTokens          int64   `yaml:"max_tokens"`
	MaxCostUSD         float64 `yaml:"max_cost_usd"`
	MaxDurationMinutes int     `yaml:"max_duration_minutes"`
	MaxFilesChanged    int     `yaml:"max_files_changed"`
	MaxActions         int     `yaml:"max_actions"`
}

// HasLimits returns true if any limit is configured (non-zero).
func (b Budget) HasLimits() bool {
	return b.MaxTokens > 0 || b.MaxCostUSD > 0 || b.MaxDurationMinutes > 0 ||
		b.MaxFilesChanged > 0 || b.MaxActions > 0
}

// Usage is a point-in-time consumption snapshot.
type Usage struct {
	Tokens       int64         `json:"tokens"`
	CostUSD      float64       `json:"cost_usd"`
	Duration     time.Duration `json:"duration"`
	FilesChanged int           `json:"files_changed"`
	Actions      int           `json:"actions"`
}

// CheckResult is the outcome of a budget check.
type CheckResult struct {
	Exceeded  bool
	Dimension string // "tokens", "cost", "duration", "files", "actions"
	Reason    string
}

// Check compares usage against limits. Dimensions are checked in a fixed
// order — tokens, cost, duration, files, actions — and the first exceeded
// dimension wins.
func Check(usage Usage, b Budget) CheckResult {
	if b.MaxTokens > 0 && usage.Tokens >= b.MaxTokens {
		return exceeded("tokens", fmt.Sprintf("budget exceeded: %d tokens >= %d max_tokens", usage.Tokens, b.MaxTokens))
	}
	if b.MaxCostUSD > 0 && usage.CostUSD >= b.MaxCostUSD {
		return exceeded("cost", fmt.Sprintf("budget exceeded: $%.4f >= $%.4f max_cost_usd", usage.CostUSD, b.MaxCostUSD))
	}
	if b.MaxDurationMinutes > 0 && usage.Duration >= time.Duration(b.MaxDurationMinutes)*time.Minute {
		return exceeded("duration", fmt.Sprintf("budget exceeded: %s duration >= %dm max_duration", usage.Duration.Round(time.Second), b.MaxDurationMinutes))
	}
	if b.MaxFilesChanged > 0 && usage.FilesChanged >= b.MaxFilesChanged {
		return exceeded("files", fmt.Sprintf("budget exceeded: %d files changed >= %d max_files_changed", usage.FilesChanged, b.MaxFilesChanged))
	}
	if b.MaxActions > 0 && usage.Actions >= b.MaxActions {
		return exceeded("actions", fmt.Sprintf("budget exceeded: %d actions >= %d max_actions", usage.Actions, b.MaxActions))
	}
	return CheckResult{}
}

func exceeded(dim, reason string) CheckResult {
	return CheckResult{Exceeded: true, Dimension: dim, Reason: reason}
}

// Tracker accumulates usage for one session.
type Tracker struct {
	mu        sync.Mutex
	budget    Budget
	startedAt time.Time

	tokens    int64
	costUSD   float64
	files     map[string]bool
	seedFiles int
	actions   int
}

// NewTracker creates a Tracker for the given budget, starting the duration
// clock now.
func NewTracker(b Budget) *Tracker {
	return &Tracker{
		budget:    b,
		startedAt: time.Now().UTC(),
		files:     make(map[string]bool),
	}
}

// ResumeTracker reconstructs a Tracker from a persisted usage snapshot.
// Individual file names are not persisted, so the restored file count is
// carried as a base offset; files already counted in a previous run may
// be counted again after resume.
func ResumeTracker(b Budget, u Usage) *Tracker {
	return &Tracker{
		budget:    b,
		startedAt: time.Now().UTC().Add(-u.Duration),
		tokens:    u.Tokens,
		costUSD:   u.CostUSD,
		files:     make(map[string]bool),
		seedFiles: u.FilesChanged,
		actions:   u.Actions,
	}
}

// ChargeTokens adds token consumption.
func (t *Tracker) ChargeTokens(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens += n
}

// ChargeCost adds dollar cost.
func (t *Tracker) ChargeCost(usd float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.costUSD += usd
}

// ChargeAction counts one executed action, recording any files it touched.
// A file counts once per session no matter how often it changes.
func (t *Tracker) ChargeAction(files ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions++
	for _, f := range files {
		if f != "" {
			t.files[f] = true
		}
	}
}

// Snapshot returns current usage.
func (t *Tracker) Snapshot() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Usage{
		Tokens:       t.tokens,
		CostUSD:      t.costUSD,
		Duration:     time.Since(t.startedAt),
		FilesChanged: t.seedFiles + len(t.files),
		Actions:      t.actions,
	}
}

// Exhausted checks current usage against the tracker's budget.
func (t *Tracker) Exhausted() CheckResult {
	return Check(t.Snapshot(), t.budget)
}
