package rule

import "strings"

// Option is a single adblock modifier: a bare name, or name=value.
type Option struct {
	Name     string
	Value    string
	HasValue bool
}

func (o Option) String() string {
	if o.HasValue {
		return o.Name + "=" + o.Value
	}
	return o.Name
}

// AdblockRule is the decoded form of everything that isn't a comment, hosts
// rule, directive, or blank line: `[@@]<pattern>[$<options>]`.
type AdblockRule struct {
	Whitelist bool
	Pattern   string
	Options   []Option
}

func parseAdblock(line string) *AdblockRule {
	body := strings.TrimSpace(line)
	ar := &AdblockRule{}
	if strings.HasPrefix(body, "@@") {
		ar.Whitelist = true
		body = body[2:]
	}
	pattern, optStr, hasOpts := splitOptions(body)
	ar.Pattern = pattern
	if hasOpts {
		ar.Options = parseOptionList(optStr)
	}
	return ar
}

// splitOptions finds the first unescaped '$' scanning right-to-left and
// splits pattern from the option-list tail; a backslash escapes the dollar.
func splitOptions(body string) (pattern, opts string, found bool) {
	for i := len(body) - 1; i >= 0; i-- {
		if body[i] != '$' {
			continue
		}
		backslashes := 0
		for j := i - 1; j >= 0 && body[j] == '\\'; j-- {
			backslashes++
		}
		if backslashes%2 == 1 {
			continue // escaped, keep scanning left
		}
		return body[:i], body[i+1:], true
	}
	return body, "", false
}

func parseOptionList(s string) []Option {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	opts := make([]Option, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if eq := strings.IndexByte(p, '='); eq >= 0 {
			opts = append(opts, Option{Name: p[:eq], Value: p[eq+1:], HasValue: true})
		} else {
			opts = append(opts, Option{Name: p})
		}
	}
	return opts
}

// Rebuild recomputes the rule's raw text from its decoded fields and
// re-synchronizes the owning Rule.Raw. The AdblockRule mutators do not call
// it; a caller that edits AdblockR calls Rebuild afterwards, which is how
// edited rules stay self-consistent without breaking the round-trip
// invariant for *unedited* rules (those never call Rebuild).
func (r *Rule) Rebuild() {
	if r.AdblockR == nil {
		return
	}
	r.Raw = r.AdblockR.String()
}

func (ar *AdblockRule) String() string {
	var b strings.Builder
	if ar.Whitelist {
		b.WriteString("@@")
	}
	b.WriteString(ar.Pattern)
	if len(ar.Options) > 0 {
		b.WriteByte('$')
		for i, o := range ar.Options {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(o.String())
		}
	}
	return b.String()
}

// FindModifier returns the option named name, if present.
func (ar *AdblockRule) FindModifier(name string) (Option, bool) {
	for _, o := range ar.Options {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// RemoveModifier drops every option named name, returning whether any was
// removed. The pattern-only form remains when the option list becomes
// empty, per the Validate/RemoveModifiers pass contract.
func (ar *AdblockRule) RemoveModifier(name string) bool {
	out := ar.Options[:0:0]
	removed := false
	for _, o := range ar.Options {
		if o.Name == name {
			removed = true
			continue
		}
		out = append(out, o)
	}
	ar.Options = out
	return removed
}

// AddModifier appends name (optionally name=value) unless already present.
func (ar *AdblockRule) AddModifier(name, value string) {
	if _, ok := ar.FindModifier(name); ok {
		return
	}
	if value == "" {
		ar.Options = append(ar.Options, Option{Name: name})
	} else {
		ar.Options = append(ar.Options, Option{Name: name, Value: value, HasValue: true})
	}
}

// IsBlocking reports whether the rule blocks (as opposed to a whitelist
// exception rule).
func (ar *AdblockRule) IsBlocking() bool { return !ar.Whitelist }

// AsWhitelist returns the allowing ("@@") form of a blocking rule.
func (ar *AdblockRule) AsWhitelist() *AdblockRule {
	cp := *ar
	cp.Whitelist = true
	cp.Options = append([]Option(nil), ar.Options...)
	return &cp
}
