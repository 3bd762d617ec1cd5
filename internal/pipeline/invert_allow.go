package pipeline

import "github.com/blockforge/compiler/internal/rule"

// passInvertAllow replaces every blocking adblock rule with its allowing
// ("@@") form; whitelist rules and non-adblock lines pass through unchanged.
func passInvertAllow(lines []string, _ Options) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		r := rule.Parse(line)
		if r.Kind != rule.Adblock || r.AdblockR == nil || !r.AdblockR.IsBlocking() {
			out[i] = line
			continue
		}
		out[i] = r.AdblockR.AsWhitelist().String()
	}
	return out
}
