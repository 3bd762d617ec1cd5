package cond_test

import (
	"strings"
	"testing"

	"github.com/blockforge/compiler/internal/cond"
)

func TestEmptyExprIsTrue(t *testing.T) {
	if !cond.Eval("", "windows") {
		t.Error("expected empty expr to be true")
	}
	if !cond.Eval("   ", "windows") {
		t.Error("expected whitespace expr to be true")
	}
}

func TestKnownPlatformMatch(t *testing.T) {
	if !cond.Eval("windows", "windows") {
		t.Error("expected match")
	}
	if cond.Eval("windows", "mac") {
		t.Error("expected no match for different platform")
	}
}

func TestUnknownIdentifierIsFalse(t *testing.T) {
	if cond.Eval("not_a_real_platform", "windows") {
		t.Error("unknown identifier should evaluate false")
	}
}

func TestLogicalOperators(t *testing.T) {
	if !cond.Eval("windows || mac", "mac") {
		t.Error("expected || to short-circuit true")
	}
	if cond.Eval("windows && mac", "windows") {
		t.Error("expected && to require both sides")
	}
	if !cond.Eval("!mac", "windows") {
		t.Error("expected negation to flip result")
	}
	if !cond.Eval("(windows || mac) && !ext_safari", "mac") {
		t.Error("expected grouped expression to evaluate true")
	}
}

func TestCaseInsensitivePlatform(t *testing.T) {
	if !cond.Eval("WINDOWS", "windows") {
		t.Error("platform identifiers should be case-insensitive")
	}
}

func TestMalformedExpressionIsFalse(t *testing.T) {
	cases := []string{"&&", "(windows", "windows)", "windows &&", "!!", "@@@"}
	for _, c := range cases {
		if cond.Eval(c, "windows") {
			t.Errorf("expected malformed expr %q to evaluate false", c)
		}
	}
}

func TestDeeplyNestedNotStaysBounded(t *testing.T) {
	expr := strings.Repeat("!", cond.MaxDepth+50) + "windows"
	if cond.Eval(expr, "windows") {
		t.Error("expected expression exceeding MaxDepth to evaluate false")
	}
	// well under the bound should still evaluate, with correct parity.
	shallow := strings.Repeat("!", 4) + "windows"
	if !cond.Eval(shallow, "windows") {
		t.Error("expected even number of negations under the bound to evaluate true")
	}
}
