package pipeline

import "github.com/blockforge/compiler/internal/rule"

// passRemoveEmptyLines drops Blank lines.
func passRemoveEmptyLines(lines []string, _ Options) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if rule.Parse(line).Kind == rule.Blank {
			continue
		}
		out = append(out, line)
	}
	return out
}
