// Package pipeline implements the transformation pipeline (component H):
// an ordered, composable set of rule-level passes with a fixed canonical
// composition order, independent of the order a caller names them in.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package pipeline

import "fmt"

// TransformID names one of the eleven canonical passes (§4.3; ten run in
// the fixed pipeline order below, ValidateAllowIp is a variant flag on
// Validate rather than a pass of its own).
type TransformID string

const (
	ConvertToAscii     TransformID = "ConvertToAscii"
	RemoveComments     TransformID = "RemoveComments"
	Compress           TransformID = "Compress"
	RemoveModifiers    TransformID = "RemoveModifiers"
	Validate           TransformID = "Validate"
	ValidateAllowIP    TransformID = "ValidateAllowIp"
	Deduplicate        TransformID = "Deduplicate"
	InvertAllow        TransformID = "InvertAllow"
	RemoveEmptyLines   TransformID = "RemoveEmptyLines"
	TrimLines          TransformID = "TrimLines"
	InsertFinalNewLine TransformID = "InsertFinalNewLine"
)

// canonicalOrder is the fixed sequence passes run in, regardless of the
// order the caller listed them (§4.3). ValidateAllowIp is not a separate
// slot: it modifies Validate's behavior (see validate.go) and occupies
// Validate's position if either is enabled.
var canonicalOrder = []TransformID{
	ConvertToAscii,
	RemoveComments,
	Compress,
	RemoveModifiers,
	Validate,
	Deduplicate,
	InvertAllow,
	RemoveEmptyLines,
	TrimLines,
	InsertFinalNewLine,
}

// Options configures passes that need more than a rule list to run.
type Options struct {
	// RemoveModifiersDenyList names the options RemoveModifiers strips.
	RemoveModifiersDenyList []string
	// ValidateAllowIP relaxes Validate to keep IP-literal hostnames.
	ValidateAllowIP bool
	// Diagnostics receives one message per pass that failed and was
	// skipped (§7: a transformation failure is a diagnostic, not fatal).
	Diagnostics *[]string
}

// passFunc is a pipeline stage: deterministic, order-preserving, and
// (per the composition contract) idempotent.
type passFunc func(lines []string, opts Options) []string

var registry = map[TransformID]passFunc{
	ConvertToAscii:     passConvertToAscii,
	RemoveComments:     passRemoveComments,
	Compress:           passCompress,
	RemoveModifiers:    passRemoveModifiers,
	Validate:           passValidate,
	Deduplicate:        passDeduplicate,
	InvertAllow:        passInvertAllow,
	RemoveEmptyLines:   passRemoveEmptyLines,
	TrimLines:          passTrimLines,
	InsertFinalNewLine: passInsertFinalNewLine,
}

// Run applies the enabled transforms to lines in canonical order. enabled
// is treated as a set: duplicates and the caller's ordering are both
// ignored, satisfying the "set of enabled passes, not an ordered list"
// contract. ValidateAllowIp enables Validate with its IP-allowing variant.
func Run(lines []string, enabled []TransformID, opts Options) []string {
	set := make(map[TransformID]bool, len(enabled))
	for _, id := range enabled {
		if id == ValidateAllowIP {
			set[Validate] = true
			opts.ValidateAllowIP = true
			continue
		}
		set[id] = true
	}

	out := lines
	for _, id := range canonicalOrder {
		if !set[id] {
			continue
		}
		out = runPass(id, out, opts)
	}
	return out
}

func runPass(id TransformID, lines []string, opts Options) (result []string) {
	result = lines
	defer func() {
		if r := recover(); r != nil {
			if opts.Diagnostics != nil {
				*opts.Diagnostics = append(*opts.Diagnostics, fmt.Sprintf("transformation %s panicked: %v", id, r))
			}
			result = lines
		}
	}()
	fn, ok := registry[id]
	if !ok {
		if opts.Diagnostics != nil {
			*opts.Diagnostics = append(*opts.Diagnostics, fmt.Sprintf("unknown transformation %s", id))
		}
		return lines
	}
	return fn(lines, opts)
}

// Valid reports whether id is one of the eleven named transforms.
func Valid(id TransformID) bool {
	if id == ValidateAllowIP {
		return true
	}
	_, ok := registry[id]
	return ok
}
