// Package loopdetect spots doom loops in a windowed slice of the operation
// history: the agent repeating the same action, hitting the same error, or
// oscillating between two states without progress. Detection is a pure
// function over the window — callers decide what to do with a verdict.
package loopdetect

import (
	"fmt"
	"time"

	"github.com/ppiankov/overseer/internal/model"
)

// Config holds detector thresholds. Zero values are replaced by defaults.
type Config struct {
	WindowAge            time.Duration `yaml:"window_age"`
	WindowCount          int           `yaml:"window_count"`
	MinSamples           int           `yaml:"min_samples"`
	RepeatThreshold      int           `yaml:"repeat_threshold"`
	ErrorRepeatThreshold int           `yaml:"error_repeat_threshold"`
}

// DefaultConfig returns the stock detector thresholds.
func DefaultConfig() Config {
	return Config{
		WindowAge:            60 * time.Second,
		WindowCount:          10,
		MinSamples:           3,
		RepeatThreshold:      3,
		ErrorRepeatThreshold: 3,
	}
}

// WithDefaults replaces zero values with the stock thresholds.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.WindowAge <= 0 {
		c.WindowAge = d.WindowAge
	}
	if c.WindowCount <= 0 {
		c.WindowCount = d.WindowCount
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.RepeatThreshold <= 0 {
		c.RepeatThreshold = d.RepeatThreshold
	}
	if c.ErrorRepeatThreshold <= 0 {
		c.ErrorRepeatThreshold = d.ErrorRepeatThreshold
	}
	return c
}

// Detect evaluates the given window of operations. Checks run in priority
// order and the first match wins: insufficient history, exact_repeat,
// similar_error, state_oscillation. The caller is responsible for window
// trimming (history.Log.Window); Detect additionally drops anything older
// than WindowAge relative to now so stale entries can never contribute.
func Detect(ops []model.Operation, now time.Time, cfg Config) model.LoopDetectionResult {
	cfg = cfg.WithDefaults()

	ops = inWindow(ops, now, cfg)

	if len(ops) < cfg.MinSamples {
		return model.LoopDetectionResult{
			Detected: false,
			Reason:   "Insufficient history",
		}
	}

	if r, ok := detectExactRepeat(ops, cfg); ok {
		return r
	}
	if r, ok := detectSimilarError(ops, cfg); ok {
		return r
	}
	if r, ok := detectOscillation(ops, cfg); ok {
		return r
	}

	return model.LoopDetectionResult{Detected: false}
}

// inWindow enforces both window dimensions on the input slice.
func inWindow(ops []model.Operation, now time.Time, cfg Config) []model.Operation {
	cutoff := now.Add(-cfg.WindowAge)
	start := 0
	for start < len(ops) && ops[start].Timestamp.Before(cutoff) {
		start++
	}
	ops = ops[start:]
	if len(ops) > cfg.WindowCount {
		ops = ops[len(ops)-cfg.WindowCount:]
	}
	return ops
}

// detectExactRepeat counts the longest run of consecutive identical
// fingerprints. Interleaved repeats (A,x,A,y,A) are not a tight retry loop
// and must stay visible to the oscillation check instead.
func detectExactRepeat(ops []model.Operation, cfg Config) (model.LoopDetectionResult, bool) {
	best, run := 0, 0
	var bestFP, prev string
	for _, op := range ops {
		fp := op.Fingerprint()
		if fp == prev {
			run++
		} else {
			run = 1
			prev = fp
		}
		if run > best {
			best = run
			bestFP = fp
		}
	}
	if best < cfg.RepeatThreshold {
		return model.LoopDetectionResult{}, false
	}
	return model.LoopDetectionResult{
		Detected:           true,
		LoopType:           model.LoopExactRepeat,
		Confidence:         confidence(best, cfg.RepeatThreshold),
		MatchingOperations: best,
		Details:            fmt.Sprintf("%d consecutive identical operations: %s", best, bestFP),
	}, true
}

func detectSimilarError(ops []model.Operation, cfg Config) (model.LoopDetectionResult, bool) {
	counts := make(map[string]int)
	best := 0
	var bestSig string
	for _, op := range ops {
		if op.Error == "" {
			continue
		}
		sig := NormalizeError(op.Error)
		counts[sig]++
		if counts[sig] > best {
			best = counts[sig]
			bestSig = sig
		}
	}
	if best < cfg.ErrorRepeatThreshold {
		return model.LoopDetectionResult{}, false
	}
	return model.LoopDetectionResult{
		Detected:           true,
		LoopType:           model.LoopSimilarError,
		Confidence:         confidence(best, cfg.ErrorRepeatThreshold),
		MatchingOperations: best,
		Details:            fmt.Sprintf("%d operations with error signature %q", best, bestSig),
	}, true
}

// detectOscillation looks for a strict A,B,A,B,... alternation of operation
// fingerprints with A != B, spanning at least 2×RepeatThreshold entries at
// the tail of the window.
func detectOscillation(ops []model.Operation, cfg Config) (model.LoopDetectionResult, bool) {
	need := 2 * cfg.RepeatThreshold
	if len(ops) < need {
		return model.LoopDetectionResult{}, false
	}

	tail := ops[len(ops)-need:]
	a := tail[0].Fingerprint()
	b := tail[1].Fingerprint()
	if a == b {
		return model.LoopDetectionResult{}, false
	}
	for i, op := range tail {
		want := a
		if i%2 == 1 {
			want = b
		}
		if op.Fingerprint() != want {
			return model.LoopDetectionResult{}, false
		}
	}

	return model.LoopDetectionResult{
		Detected:           true,
		LoopType:           model.LoopStateOscillation,
		Confidence:         confidence(need, need),
		MatchingOperations: need,
		Details:            fmt.Sprintf("alternating pattern over %d operations", need),
	}, true
}

// confidence grows with the number of matching operations past the
// threshold and saturates below 1.0.
func confidence(matches, threshold int) float64 {
	c := 0.6 + 0.1*float64(matches-threshold)
	if c > 0.95 {
		return 0.95
	}
	return c
}
