// Package sourcemap maps byte offsets in source text to line/column
// positions for diagnostics, and formats caret-pointer error displays.
package sourcemap

import (
	"fmt"
	"sort"
	"strings"
)

// Pos is a position in source code.
type Pos struct {
	Line   int // 1-based
	Column int // 1-based, counted in code points
	Offset int // byte offset from start
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span is a start/end pair of positions.
type Span struct {
	Start Pos
	End   Pos
}

// FromPos builds a zero-width Span at pos.
func FromPos(pos Pos) Span {
	return Span{Start: pos, End: pos}
}

// Map tracks line-start byte offsets for fast offset->position lookups.
type Map struct {
	source     string
	lineStarts []int
}

// New builds a Map over source.
func New(source string) *Map {
	lineStarts := []int{0}
	for i, c := range source {
		if c == '\n' {
			lineStarts = append(lineStarts, i+1)
		}
	}
	return &Map{source: source, lineStarts: lineStarts}
}

// OffsetToPos converts a byte offset into a Pos. Column counts code
// points from the start of the line, not bytes.
func (m *Map) OffsetToPos(offset int) Pos {
	line := sort.SearchInts(m.lineStarts, offset+1) - 1
	if line < 0 {
		line = 0
	}
	lineStart := 0
	if line < len(m.lineStarts) {
		lineStart = m.lineStarts[line]
	}
	column := 1
	if offset > lineStart {
		column = len([]rune(m.source[lineStart:offset])) + 1
	}
	return Pos{Line: line + 1, Column: column, Offset: offset}
}

// GetLine returns the 1-based line's text, trimmed of its trailing
// newline, or false if line is out of range.
func (m *Map) GetLine(line int) (string, bool) {
	if line <= 0 || line > len(m.lineStarts) {
		return "", false
	}
	start := m.lineStarts[line-1]
	end := len(m.source)
	if line < len(m.lineStarts) {
		end = m.lineStarts[line]
	}
	text := strings.TrimRight(m.source[start:end], "\r\n")
	return text, true
}

// LineCount returns the total number of lines tracked.
func (m *Map) LineCount() int {
	return len(m.lineStarts)
}

// FormatError renders a human-readable, caret-pointed error at pos.
func (m *Map) FormatError(pos Pos, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔮 Error at line %d, column %d:\n", pos.Line, pos.Column)
	fmt.Fprintf(&b, "   %s\n", message)
	if line, ok := m.GetLine(pos.Line); ok {
		fmt.Fprintf(&b, "   │ %s\n", line)
		col := pos.Column - 1
		if col < 0 {
			col = 0
		}
		fmt.Fprintf(&b, "   │ %s^\n", strings.Repeat(" ", col))
	}
	return b.String()
}
