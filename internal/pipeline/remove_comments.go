package pipeline

import "github.com/blockforge/compiler/internal/rule"

// passRemoveComments drops Comment lines.
func passRemoveComments(lines []string, _ Options) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if rule.Parse(line).Kind == rule.Comment {
			continue
		}
		out = append(out, line)
	}
	return out
}
