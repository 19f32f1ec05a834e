package validate

import (
	"regexp"
	"strings"
	"unicode"
)

// Terminal escape sequences stripped from captured output before it crosses
// the trust boundary. CSI and OSC cover the practical cases (colors, cursor
// movement, window titles); a trailing bare ESC pair catches the rest.
var (
	csiSeq     = regexp.MustCompile(`\x1b\[[0-9;:?]*[ -/]*[@-~]`)
	oscSeq     = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	escapePair = regexp.MustCompile(`\x1b[@-_]`)
)

// SanitizeOutput strips terminal control sequences and non-printable bytes
// from child-process output. Newlines and tabs survive; everything else
// outside the printable set is dropped. The function is idempotent: its
// output contains nothing it would strip on a second pass.
func SanitizeOutput(s string) string {
	if s == "" {
		return s
	}
	s = csiSeq.ReplaceAllString(s, "")
	s = oscSeq.ReplaceAllString(s, "")
	s = escapePair.ReplaceAllString(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r == unicode.ReplacementChar:
			// invalid UTF-8 byte; drop
		case unicode.IsPrint(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SanitizeLines applies SanitizeOutput to each line independently.
func SanitizeLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = SanitizeOutput(l)
	}
	return out
}
