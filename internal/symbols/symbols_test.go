package symbols

import "testing"

func TestLookupResolvesDistinctGlyphs(t *testing.T) {
	cases := []struct {
		glyph string
		want  Meaning
	}{
		{"⌗", Modulo},
		{"⌘", TypeString},
		{"⊕", Increment},
		{"⊻", Xor},
		{"↺", Continue},
	}
	for _, c := range cases {
		sym, ok := Lookup(c.glyph)
		if !ok {
			t.Fatalf("glyph %q not registered", c.glyph)
		}
		if sym.Meaning != c.want {
			t.Errorf("glyph %q: got meaning %v, want %v", c.glyph, sym.Meaning, c.want)
		}
	}
}

func TestNoGlyphCollision(t *testing.T) {
	seen := make(map[string]Meaning)
	for _, s := range std.order {
		if prev, ok := seen[s.Glyph]; ok && prev != s.Meaning {
			t.Fatalf("glyph %q bound to both %v and %v", s.Glyph, prev, s.Meaning)
		}
		seen[s.Glyph] = s.Meaning
	}
}

func TestMaxGlyphLength(t *testing.T) {
	if MaxGlyphLength() < 1 {
		t.Fatalf("expected positive max glyph length, got %d", MaxGlyphLength())
	}
}

func TestInCategoryOperator(t *testing.T) {
	ops := InCategory(CategoryOperator)
	if len(ops) == 0 {
		t.Fatal("expected at least one operator symbol")
	}
}
