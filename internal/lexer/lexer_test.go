package lexer

import (
	"testing"

	"github.com/sxnnyside/obfusku/internal/symbols"
	"github.com/sxnnyside/obfusku/internal/token"
)

func TestTokenizeSimpleProgram(t *testing.T) {
	toks, err := New("⟁x=5\n⚡[x]\n❧").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []token.Kind{
		token.KindSymbol, token.KindIdentifier, token.KindEquals, token.KindInteger,
		token.KindSymbol, token.KindSymbol, token.KindIdentifier, token.KindSymbol,
		token.KindSymbol,
		token.KindEOF,
	}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(want), toks)
	}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Errorf("token %d: got kind %v, want %v (%+v)", i, toks[i].Kind, k, toks[i])
		}
	}
	if toks[3].Int != 5 {
		t.Errorf("expected integer literal 5, got %d", toks[3].Int)
	}
}

func TestTokenizeNegativeNumberBindsMinus(t *testing.T) {
	toks, err := New("-5").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toks[0].Kind != token.KindInteger || toks[0].Int != -5 {
		t.Fatalf("expected a single negative integer token, got %+v", toks[0])
	}
}

func TestTokenizeRealWithExponent(t *testing.T) {
	toks, err := New("1.5e2").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toks[0].Kind != token.KindReal || toks[0].Real != 150 {
		t.Fatalf("expected real 150, got %+v", toks[0])
	}
}

func TestTokenizeBooleanKeywords(t *testing.T) {
	toks, err := New("true false").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !toks[0].Bool || toks[1].Bool {
		t.Fatalf("expected true then false, got %+v", toks[:2])
	}
}

func TestTokenizeStringEscapes(t *testing.T) {
	toks, err := New(`"a\nb\t\"c\""`).Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toks[0].Str != "a\nb\t\"c\"" {
		t.Fatalf("unexpected decoded string: %q", toks[0].Str)
	}
}

func TestTokenizeUnterminatedString(t *testing.T) {
	_, err := New(`"abc`).Tokenize()
	if err == nil {
		t.Fatal("expected unterminated-string error")
	}
}

func TestTokenizeLineComment(t *testing.T) {
	toks, err := New("// hello\n❧").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toks[0].Meaning != symbols.EndProgram {
		t.Fatalf("expected comment to be skipped, got %+v", toks[0])
	}
}

func TestTokenizeNestedBlockComment(t *testing.T) {
	toks, err := New("⌈ outer ⌈ inner ⌉ still outer ⌉❧").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toks[0].Meaning != symbols.EndProgram {
		t.Fatalf("expected nested block comment to be fully skipped, got %+v", toks[0])
	}
}

// A glyph whose registered form extends another registered glyph must
// tokenize as the longer form, never as the short prefix plus leftovers.
func TestTokenizeGreedyLongestMatch(t *testing.T) {
	toks, err := New("⚙︎[1]→x⁂❧").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toks[0].Meaning != symbols.Assign {
		t.Fatalf("expected assign glyph, got %+v", toks[0])
	}
	if toks[0].Lexeme != "⚙︎" {
		t.Fatalf("expected the variation-selector form to be consumed whole, got %q", toks[0].Lexeme)
	}
	if toks[1].Meaning != symbols.LeftBracket {
		t.Fatalf("expected left bracket after assign, got %+v", toks[1])
	}
}

func TestTokenizeBareAssignGlyph(t *testing.T) {
	toks, err := New("⚙[1]→x⁂❧").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toks[0].Meaning != symbols.Assign || toks[0].Lexeme != "⚙" {
		t.Fatalf("expected bare assign glyph, got %+v", toks[0])
	}
}

func TestTokenizeUnknownGlyph(t *testing.T) {
	_, err := New("€").Tokenize()
	if err == nil {
		t.Fatal("expected unknown-symbol error")
	}
}
