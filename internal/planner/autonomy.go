package planner

import "strings"

// Autonomy is the configured tier controlling how much unsupervised
// iteration the agent may perform before requiring a human checkpoint.
type Autonomy string

const (
	// AutonomyTimid stops after a handful of iterations no matter what.
	AutonomyTimid Autonomy = "timid"
	// AutonomyCautious allows short runs.
	AutonomyCautious Autonomy = "cautious"
	// AutonomyBalanced is the default tier.
	AutonomyBalanced Autonomy = "balanced"
	// AutonomyBold allows long runs.
	AutonomyBold Autonomy = "bold"
	// AutonomyCrazy iterates without a ceiling, bounded only by failure
	// and budget checks.
	AutonomyCrazy Autonomy = "crazy"
)

// IterationCeiling returns the tier's unsupervised-iteration limit.
// Zero means unlimited.
func (a Autonomy) IterationCeiling() int {
	switch a {
	case AutonomyTimid:
		return 3
	case AutonomyCautious:
		return 10
	case AutonomyBalanced, "":
		return 25
	case AutonomyBold:
		return 50
	case AutonomyCrazy:
		return 0
	default:
		return 25
	}
}

// ParseAutonomy normalizes a configured tier name, falling back to
// balanced for anything unrecognized.
func ParseAutonomy(s string) Autonomy {
	switch Autonomy(strings.ToLower(strings.TrimSpace(s))) {
	case AutonomyTimid:
		return AutonomyTimid
	case AutonomyCautious:
		return AutonomyCautious
	case AutonomyBalanced:
		return AutonomyBalanced
	case AutonomyBold:
		return AutonomyBold
	case AutonomyCrazy:
		return AutonomyCrazy
	default:
		return AutonomyBalanced
	}
}
