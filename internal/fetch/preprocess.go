package fetch

import (
	"context"
	"fmt"

	"github.com/blockforge/compiler/internal/cond"
	"github.com/blockforge/compiler/internal/errtax"
	"github.com/blockforge/compiler/internal/rule"
)

// blockState tracks one open `!#if` block: whether its branch is currently
// active, and whether an `!#else` has already been seen for it.
type blockState struct {
	active    bool // keep-state for the branch currently being read
	sawElse   bool
	everTaken bool // whether the if- or else-branch taken so far was true
}

// preprocess walks lines, evaluating `!#if/!#else/!#endif` and expanding
// `!#include`, returning the flattened, directive-free result.
func (d *Downloader) preprocess(ctx context.Context, source string, lines []string, opts Options, res *Result, anc *ancestors, depth int) ([]string, error) {
	var out []string
	var stack []blockState

	keep := func() bool {
		for _, b := range stack {
			if !b.active {
				return false
			}
		}
		return true
	}

	for _, line := range lines {
		select {
		case <-ctx.Done():
			return nil, errtax.New(errtax.Cancelled, "fetch.preprocess", ctx.Err())
		default:
		}

		parsed := rule.Parse(line)
		if parsed.Kind != rule.Directive || parsed.Directive == nil {
			if keep() {
				out = append(out, line)
			}
			continue
		}
		dl := parsed.Directive

		switch dl.Kind {
		case rule.DirIf:
			active := keep() && cond.Eval(dl.Expr, opts.Platform)
			stack = append(stack, blockState{active: active, everTaken: active})
		case rule.DirElse:
			if len(stack) == 0 {
				return nil, errtax.New(errtax.DirectiveSyntax, "fetch.preprocess", fmt.Errorf("%q: !#else without matching !#if", source))
			}
			top := &stack[len(stack)-1]
			if top.sawElse {
				return nil, errtax.New(errtax.DirectiveSyntax, "fetch.preprocess", fmt.Errorf("%q: duplicate !#else in the same block", source))
			}
			top.sawElse = true
			parentKeep := true
			for _, b := range stack[:len(stack)-1] {
				if !b.active {
					parentKeep = false
					break
				}
			}
			top.active = parentKeep && !top.everTaken
			if top.active {
				top.everTaken = true
			}
		case rule.DirEndIf:
			if len(stack) == 0 {
				return nil, errtax.New(errtax.DirectiveSyntax, "fetch.preprocess", fmt.Errorf("%q: !#endif without matching !#if", source))
			}
			stack = stack[:len(stack)-1]
		case rule.DirInclude:
			if !keep() {
				continue
			}
			target := resolveInclude(source, dl.Target)
			sub := &Result{}
			err := d.downloadInto(ctx, target, opts, sub, anc, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, sub.Lines...)
			res.Diagnostics = append(res.Diagnostics, sub.Diagnostics...)
		}
	}

	if len(stack) != 0 {
		return nil, errtax.New(errtax.DirectiveSyntax, "fetch.preprocess", fmt.Errorf("%q: %d unclosed !#if block(s)", source, len(stack)))
	}
	return out, nil
}
