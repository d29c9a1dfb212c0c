package sourcemap

import "testing"

func TestOffsetToPos(t *testing.T) {
	m := New("⟁x=5\n⚡[x]\n❧")
	if m.LineCount() != 3 {
		t.Fatalf("expected 3 lines, got %d", m.LineCount())
	}
	pos := m.OffsetToPos(0)
	if pos.Line != 1 || pos.Column != 1 {
		t.Errorf("offset 0: got %+v", pos)
	}
}

func TestGetLine(t *testing.T) {
	m := New("line one\nline two\nline three")
	for i, want := range []string{"line one", "line two", "line three"} {
		got, ok := m.GetLine(i + 1)
		if !ok || got != want {
			t.Errorf("line %d: got %q (ok=%v), want %q", i+1, got, ok, want)
		}
	}
	if _, ok := m.GetLine(4); ok {
		t.Error("expected line 4 to be out of range")
	}
}
