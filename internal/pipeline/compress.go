package pipeline

import "github.com/blockforge/compiler/internal/rule"

// passCompress converts EtcHosts rules to adblock form `||<host>^` (one per
// hostname); every other line passes through unchanged.
func passCompress(lines []string, _ Options) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		r := rule.Parse(line)
		if r.Kind != rule.EtcHosts || r.HostsR == nil {
			out = append(out, line)
			continue
		}
		for _, ar := range r.HostsR.ToAdblockRules() {
			out = append(out, ar.String())
		}
	}
	return out
}
