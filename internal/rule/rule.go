// Package rule models a single textual line of a filter list: the
// comment/hosts/adblock/directive/blank classification from the data model,
// with a lossless round trip back to the original text.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package rule

import "strings"

// Kind classifies a parsed line.
type Kind int

const (
	Blank Kind = iota
	Comment
	EtcHosts
	Adblock
	Directive
)

func (k Kind) String() string {
	switch k {
	case Blank:
		return "Blank"
	case Comment:
		return "Comment"
	case EtcHosts:
		return "EtcHosts"
	case Adblock:
		return "Adblock"
	case Directive:
		return "Directive"
	default:
		return "Unknown"
	}
}

// Rule is a single parsed line. Raw always holds the authoritative text;
// the Kind-specific fields below are a decoded *view* onto it, populated at
// parse time and re-synced into Raw only when the caller invokes Rebuild.
// String() never recomputes from the decoded view on its own, which is what
// makes parse(s).String() == s hold for every syntactically valid s.
type Rule struct {
	Raw       string
	Kind      Kind
	AdblockR  *AdblockRule
	HostsR    *HostsRule
	Directive *DirectiveLine
}

func (r Rule) String() string { return r.Raw }

// Parse classifies and, where decomposable, decodes line into a Rule.
func Parse(line string) Rule {
	if strings.TrimSpace(line) == "" {
		return Rule{Raw: line, Kind: Blank}
	}
	trimmed := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(trimmed, "!#") {
		if d, ok := parseDirective(line); ok {
			return Rule{Raw: line, Kind: Directive, Directive: d}
		}
	}
	if isCommentLine(trimmed) {
		return Rule{Raw: line, Kind: Comment}
	}
	if h, ok := parseHosts(line); ok {
		return Rule{Raw: line, Kind: EtcHosts, HostsR: h}
	}
	return Rule{Raw: line, Kind: Adblock, AdblockR: parseAdblock(line)}
}

func isCommentLine(trimmed string) bool {
	if strings.HasPrefix(trimmed, "!") {
		return true
	}
	if trimmed == "#" {
		return true
	}
	if strings.HasPrefix(trimmed, "####") {
		return true
	}
	if strings.HasPrefix(trimmed, "#") {
		rest := trimmed[1:]
		return rest == "" || rest[0] == ' ' || rest[0] == '\t'
	}
	return false
}
