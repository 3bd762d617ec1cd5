package match_test

import (
	"testing"

	"github.com/blockforge/compiler/internal/match"
)

func TestPlainSubstring(t *testing.T) {
	p, err := match.Parse("ads.example")
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != match.Plain {
		t.Fatalf("expected Plain, got %v", p.Kind)
	}
	if !p.Matches("||ads.example^") {
		t.Error("expected match")
	}
	if p.Matches("ADS.EXAMPLE") {
		t.Error("plain substring must be case-sensitive")
	}
}

func TestWildcard(t *testing.T) {
	p, err := match.Parse("||*.EXAMPLE^")
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != match.Wildcard {
		t.Fatalf("expected Wildcard, got %v", p.Kind)
	}
	if !p.Matches("||ads.example^") {
		t.Error("expected case-insensitive wildcard match")
	}
	if p.Matches("||ads.example^extra") {
		t.Error("wildcard match must be full-string")
	}
}

func TestRegex(t *testing.T) {
	p, err := match.Parse("/^\\|\\|ads\\./i")
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != match.Regex {
		t.Fatalf("expected Regex, got %v", p.Kind)
	}
	if !p.Matches("||ADS.example^") {
		t.Error("expected regex match with i flag")
	}
}

func TestParseLinesSkipsCommentsAndBlanks(t *testing.T) {
	ps, err := match.ParseLines([]string{"", "# comment", "! comment", "ads.example"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(ps))
	}
}
