package pipeline

import "github.com/blockforge/compiler/internal/rule"

// passRemoveModifiers strips a configured deny-list of options from adblock
// rule option lists. A rule that loses all its options remains as its
// pattern-only form (RemoveModifier already preserves this).
func passRemoveModifiers(lines []string, opts Options) []string {
	if len(opts.RemoveModifiersDenyList) == 0 {
		return lines
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		r := rule.Parse(line)
		if r.Kind != rule.Adblock || r.AdblockR == nil || len(r.AdblockR.Options) == 0 {
			out[i] = line
			continue
		}
		ar := *r.AdblockR
		ar.Options = append([]rule.Option(nil), r.AdblockR.Options...)
		changed := false
		for _, name := range opts.RemoveModifiersDenyList {
			if ar.RemoveModifier(name) {
				changed = true
			}
		}
		if !changed {
			out[i] = line
			continue
		}
		out[i] = ar.String()
	}
	return out
}
