package pipeline

import "github.com/blockforge/compiler/internal/rule"

// passConvertToAscii rewrites each adblock rule's hostname (and `*.dom`
// wildcard forms) to punycode; every other line passes through unchanged.
// Idempotent because rule.ConvertPatternToASCII is itself idempotent on
// already-ASCII patterns.
func passConvertToAscii(lines []string, _ Options) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		r := rule.Parse(line)
		if r.Kind != rule.Adblock || r.AdblockR == nil {
			out[i] = line
			continue
		}
		ascii := rule.ConvertPatternToASCII(r.AdblockR.Pattern)
		if ascii == r.AdblockR.Pattern {
			out[i] = line
			continue
		}
		converted := *r.AdblockR
		converted.Pattern = ascii
		out[i] = converted.String()
	}
	return out
}
