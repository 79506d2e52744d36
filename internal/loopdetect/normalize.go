package loopdetect

import (
	"regexp"
	"strings"
)

// Variable substrings stripped before comparing error messages: numbers,
// long hex runs (hashes, addresses), quoted literals, absolute paths.
var (
	// No trailing boundary: "100ms" and "2500ms" must collapse to "<n>ms".
	reNumber = regexp.MustCompile(`\b\d+`)
	reHex    = regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`)
	reQuoted = regexp.MustCompile(`"[^"]*"|'[^']*'|` + "`[^`]*`")
	rePath   = regexp.MustCompile(`(/[\w.\-]+)+`)
	reSpace  = regexp.MustCompile(`\s+`)
)

// NormalizeError reduces an error message to a stable signature so that
// "line 42: foo.py not found" and "line 97: bar.py not found" compare equal.
func NormalizeError(msg string) string {
	s := strings.ToLower(msg)
	s = reQuoted.ReplaceAllString(s, "<str>")
	s = rePath.ReplaceAllString(s, "<path>")
	s = reHex.ReplaceAllString(s, "<hex>")
	s = reNumber.ReplaceAllString(s, "<n>")
	s = reSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
