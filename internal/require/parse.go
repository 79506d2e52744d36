package require

import (
	"regexp"
	"strings"
)

var (
	bulletPrefix = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	modalWord    = regexp.MustCompile(`(?i)\b(must|shall|required|should|could|may)\b`)
	mayWord      = regexp.MustCompile(`(?i)\bmay\b`)
)

// splitStatements breaks task text into statement-like units: one per
// line (bullets and numbering stripped), and within a line one per modal
// clause when several are chained ("must X and should Y").
func splitStatements(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = bulletPrefix.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, splitModalClauses(line)...)
	}
	return out
}

// splitModalClauses splits a sentence containing two or more modal verbs
// into one clause per modal. Text before the first modal stays attached
// to the first clause. A sentence with fewer than two modals is one unit.
func splitModalClauses(line string) []string {
	locs := modalWord.FindAllStringIndex(line, -1)
	if len(locs) < 2 {
		return []string{line}
	}

	var clauses []string
	for i, loc := range locs {
		start := 0
		if i > 0 {
			start = loc[0]
		}
		end := len(line)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		clause := strings.TrimSpace(line[start:end])
		clause = strings.TrimRight(clause, ",; ")
		clause = strings.TrimSuffix(clause, " and")
		clause = strings.TrimSuffix(clause, " or")
		if clause != "" {
			clauses = append(clauses, clause)
		}
	}
	return clauses
}

// priorityFor maps modal strength to priority. An unadorned statement is
// work someone bothered to write down: it defaults to high.
func priorityFor(stmt string) Priority {
	lower := strings.ToLower(stmt)
	switch {
	case strings.Contains(lower, "must") || strings.Contains(lower, "shall") || strings.Contains(lower, "required"):
		return PriorityHigh
	case strings.Contains(lower, "should"):
		return PriorityMedium
	case strings.Contains(lower, "could") || strings.Contains(lower, "optional") || mayWord.MatchString(stmt):
		return PriorityLow
	default:
		return PriorityHigh
	}
}
