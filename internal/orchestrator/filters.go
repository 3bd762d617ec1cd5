package orchestrator

import (
	"os"
	"strings"

	"github.com/blockforge/compiler/internal/match"
)

// loadPatternSources reads each file path's lines as patterns in addition
// to the literal patterns already supplied; a missing or unreadable file
// is skipped (best-effort, matching §7's "local recovery" policy for
// non-root-source concerns).
func loadPatternSources(literal []string, sourcePaths []string) ([]*match.Pattern, error) {
	all := append([]string{}, literal...)
	for _, p := range sourcePaths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		all = append(all, strings.Split(string(b), "\n")...)
	}
	return match.ParseLines(all)
}

// applyIncludeExclude drops any rule matched by an exclusion pattern, then
// (if inclusions is non-empty) also drops any rule not matched by any
// inclusion (§4.5 step 5c).
func applyIncludeExclude(lines []string, inclusions, exclusions []*match.Pattern) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if match.AnyMatches(exclusions, line) {
			continue
		}
		if len(inclusions) > 0 && !match.AnyMatches(inclusions, line) {
			continue
		}
		out = append(out, line)
	}
	return out
}
