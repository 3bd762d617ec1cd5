package pipeline

import (
	"net"
	"strings"

	"github.com/blockforge/compiler/internal/rule"
)

// dangerouslyBroadPatterns is the fixed policy table of patterns considered
// unsafe to ship regardless of options: they would block (or allow) nearly
// all traffic.
var dangerouslyBroadPatterns = map[string]bool{
	"*":    true,
	"/":    true,
	"||*":  true,
	"||*^": true,
}

// passValidate drops rules that are unparseable, IP-literal-only (unless
// ValidateAllowIP), or dangerously broad. Lines that do not parse as
// adblock rules (comments, hosts entries, blanks, directives) pass through
// unchanged.
func passValidate(lines []string, opts Options) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		r := rule.Parse(line)
		if r.Kind != rule.Adblock || r.AdblockR == nil {
			out = append(out, line)
			continue
		}
		if !validAdblockRule(r.AdblockR, opts.ValidateAllowIP) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func validAdblockRule(ar *rule.AdblockRule, allowIP bool) bool {
	pattern := strings.TrimSpace(ar.Pattern)
	if pattern == "" {
		return false
	}
	if dangerouslyBroadPatterns[pattern] {
		return false
	}
	if !allowIP && isIPLiteralPattern(pattern) {
		return false
	}
	return true
}

func isIPLiteralPattern(pattern string) bool {
	host := pattern
	host = strings.TrimPrefix(host, "||")
	host = strings.TrimSuffix(host, "^")
	return net.ParseIP(host) != nil
}
