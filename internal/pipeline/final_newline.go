package pipeline

// passInsertFinalNewLine ensures the line list ends with exactly one blank
// entry (which, when joined with "\n", renders as a single trailing
// newline): collapses any run of trailing blank lines to one, or appends
// one if there were none.
func passInsertFinalNewLine(lines []string, _ Options) []string {
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	out := make([]string, end, end+1)
	copy(out, lines[:end])
	return append(out, "")
}
