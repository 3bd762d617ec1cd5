package pipeline

import "strings"

// passTrimLines strips leading/trailing whitespace from every line.
func passTrimLines(lines []string, _ Options) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = strings.TrimSpace(line)
	}
	return out
}
