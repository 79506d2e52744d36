package sandbox

import (
	"fmt"
	"regexp"
)

// Precheck is the static source-text scan that decides backend escalation.
// It is a coarse allow-list heuristic, not a security boundary: code that
// passes it is not "safe", it just gets a cheaper backend. The size and
// function-count constants are tunable heuristics.
type Precheck struct {
	EscalateSizeBytes int `yaml:"escalate_size_bytes"`
	EscalateFuncDefs  int `yaml:"escalate_func_defs"`
}

// DefaultPrecheck returns the stock escalation heuristics.
func DefaultPrecheck() Precheck {
	return Precheck{
		EscalateSizeBytes: 10_000,
		EscalateFuncDefs:  10,
	}
}

func (p Precheck) withDefaults() Precheck {
	d := DefaultPrecheck()
	if p.EscalateSizeBytes <= 0 {
		p.EscalateSizeBytes = d.EscalateSizeBytes
	}
	if p.EscalateFuncDefs <= 0 {
		p.EscalateFuncDefs = d.EscalateFuncDefs
	}
	return p
}

// Disallowed construct patterns: dynamic module loading, environment and
// process access, raw network use.
var disallowedConstructs = []struct {
	name string
	re   *regexp.Regexp
}{
	{"dynamic import", regexp.MustCompile(`__import__\s*\(|\bimportlib\b|\brequire\s*\(|\bimport\s*\(`)},
	{"environment access", regexp.MustCompile(`\bos\.environ\b|\bprocess\.env\b|\bgetenv\s*\(`)},
	{"process control", regexp.MustCompile(`\bsubprocess\b|\bos\.system\b|\bchild_process\b|\bos\.exec\w*\b|\bexecSync\b`)},
	{"raw network", regexp.MustCompile(`\bsocket\s*\.|import\s+socket\b|\bhttp\.client\b|\burllib\b|\bfetch\s*\(|\bnet\.Dial\b|\brequire\s*\(\s*['"]net['"]`)},
}

var funcDefPattern = regexp.MustCompile(`(?m)^\s*(def\s+\w+|function\s+\w*|func\s+\w+|\w+\s*=\s*lambda\b|const\s+\w+\s*=\s*(async\s*)?\()`)

// Inspect returns the escalation reasons for a piece of source text, or
// nil when the cheap backend may keep it.
func (p Precheck) Inspect(code string) []string {
	p = p.withDefaults()

	var reasons []string
	for _, c := range disallowedConstructs {
		if c.re.MatchString(code) {
			reasons = append(reasons, c.name)
		}
	}
	if len(code) > p.EscalateSizeBytes {
		reasons = append(reasons, fmt.Sprintf("source exceeds %d bytes", p.EscalateSizeBytes))
	}
	if n := len(funcDefPattern.FindAllStringIndex(code, -1)); n > p.EscalateFuncDefs {
		reasons = append(reasons, fmt.Sprintf("%d function definitions exceed %d", n, p.EscalateFuncDefs))
	}
	return reasons
}
