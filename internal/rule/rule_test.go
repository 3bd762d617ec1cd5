package rule_test

import (
	"testing"

	"github.com/blockforge/compiler/internal/rule"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		line string
		want rule.Kind
	}{
		{"", rule.Blank},
		{"   ", rule.Blank},
		{"! a comment", rule.Comment},
		{"# a comment", rule.Comment},
		{"#", rule.Comment},
		{"#### Section", rule.Comment},
		{"0.0.0.0 ads.example", rule.EtcHosts},
		{"127.0.0.1 localhost ads.example", rule.EtcHosts},
		{"localhost ads.example", rule.EtcHosts},
		{"!#if windows", rule.Directive},
		{"!#else", rule.Directive},
		{"!#endif", rule.Directive},
		{"!#include sub.txt", rule.Directive},
		{"||ads.example^", rule.Adblock},
		{"@@||ads.example^$document", rule.Adblock},
	}
	for _, c := range cases {
		got := rule.Parse(c.line)
		if got.Kind != c.want {
			t.Errorf("Parse(%q).Kind = %v, want %v", c.line, got.Kind, c.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	lines := []string{
		"||ads.example^",
		"@@||ads.example^$document",
		"||ads.example^$script,domain=foo.com",
		"  ! comment with leading space",
		"0.0.0.0 ads.example ads2.example  # inline",
		"!#if (windows || mac) && !ext_safari",
	}
	for _, l := range lines {
		got := rule.Parse(l).String()
		if got != l {
			t.Errorf("round trip failed: Parse(%q).String() = %q", l, got)
		}
	}
}

func TestAdblockOptionParsing(t *testing.T) {
	r := rule.Parse("||ads.example^$script,domain=foo.com|bar.com,~third-party")
	ar := r.AdblockR
	if ar == nil {
		t.Fatal("expected AdblockR to be populated")
	}
	if ar.Pattern != "||ads.example^" {
		t.Errorf("pattern = %q", ar.Pattern)
	}
	if len(ar.Options) != 3 {
		t.Fatalf("options = %+v", ar.Options)
	}
	if ar.Options[1].Name != "domain" || ar.Options[1].Value != "foo.com|bar.com" || !ar.Options[1].HasValue {
		t.Errorf("domain option = %+v", ar.Options[1])
	}
}

func TestEscapedDollarNotOptionStart(t *testing.T) {
	r := rule.Parse(`||ads.example/path\$notoptions^`)
	if r.AdblockR.Options != nil {
		t.Errorf("expected no options parsed when $ is escaped, got %+v", r.AdblockR.Options)
	}
}

func TestRemoveModifierKeepsPatternOnlyForm(t *testing.T) {
	r := rule.Parse("||ads.example^$important")
	removed := r.AdblockR.RemoveModifier("important")
	if !removed {
		t.Fatal("expected RemoveModifier to report removal")
	}
	r.Rebuild()
	if r.String() != "||ads.example^" {
		t.Errorf("got %q", r.String())
	}
}

func TestAddModifierIdempotent(t *testing.T) {
	ar := rule.Parse("||ads.example^").AdblockR
	ar.AddModifier("important", "")
	ar.AddModifier("important", "")
	if len(ar.Options) != 1 {
		t.Errorf("AddModifier should be idempotent for existing names, got %+v", ar.Options)
	}
}

func TestConvertPatternToASCIIIdempotent(t *testing.T) {
	p := "||*.ком^"
	once := rule.ConvertPatternToASCII(p)
	twice := rule.ConvertPatternToASCII(once)
	if once != twice {
		t.Errorf("ConvertPatternToASCII not idempotent: %q vs %q", once, twice)
	}
	if once != "||*.xn--j1aef^" {
		t.Errorf("got %q", once)
	}
}

func TestHostsToAdblock(t *testing.T) {
	r := rule.Parse("0.0.0.0 ads.example ad.test")
	if r.HostsR == nil {
		t.Fatal("expected HostsR")
	}
	adb := r.HostsR.ToAdblockRules()
	if len(adb) != 2 || adb[0].String() != "||ads.example^" || adb[1].String() != "||ad.test^" {
		t.Errorf("got %+v", adb)
	}
}
