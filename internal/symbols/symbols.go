// Package symbols is the canonical glyph registry: the fixed, process-wide
// mapping from Unicode glyphs to their semantic role in Obfusku source.
package symbols

import "unicode/utf8"

// Category groups symbols by the kind of role they play during lexing and
// compilation.
type Category uint8

const (
	CategoryTypeDeclaration Category = iota
	CategoryOperator
	CategoryControlFlow
	CategoryInputOutput
	CategorySpecialValue
	CategoryModifier
	CategoryDelimiter
	CategoryComparison
	CategoryLogical
)

// Meaning is the closed set of semantic roles a glyph can be bound to.
// A glyph resolves to exactly one Meaning; the compiler dispatches on
// Meaning, never on the glyph text itself.
type Meaning uint8

const (
	// Type declarations
	TypeInteger Meaning = iota
	TypeReal
	TypeString
	TypeBoolean
	TypeRune
	TypeArray
	TypeMap

	// Special values
	MeaningNull
	MeaningTrue
	MeaningFalse

	// Arithmetic
	Add
	Subtract
	Multiply
	Divide
	Modulo
	Power
	Negate

	// Comparison
	Equal
	NotEqual
	LessThan
	GreaterThan
	LessOrEqual
	GreaterOrEqual

	// Logical
	And
	Or
	Not
	Xor

	// Assignment / evaluation
	Assign
	Arrow
	Bind

	// I/O
	Input
	Output
	Print
	Debug

	// Control flow
	LoopStart
	LoopEnd
	IfStart
	Else
	IfEnd
	Break
	Continue
	EndProgram
	FunctionStart
	FunctionEnd
	Return
	Call

	// Pattern matching
	MatchStart
	MatchArm
	MatchEnd
	Wildcard

	// Modules
	Import
	Export
	ModuleAccess

	// Exceptions
	TryStart
	CatchBlock
	FinallyBlock
	Throw

	// Maps
	MapArrow
	MapSeparator

	// Stack ops
	Push
	Pop
	Dup
	Swap
	Rotate

	// Special ops
	Accumulator
	Increment
	Decrement

	// Delimiters
	LeftBracket
	RightBracket
	LeftParen
	RightParen
	LeftBrace
	RightBrace
	Separator
	Terminator

	// Meta
	BlockCommentStart
	BlockCommentEnd
)

// Symbol is one glyph -> meaning binding.
type Symbol struct {
	Glyph       string
	Meaning     Meaning
	Category    Category
	Description string
}

// Table is the immutable, process-wide symbol registry.
type Table struct {
	byGlyph     map[string]Symbol
	order       []Symbol
	maxGlyphLen int // in code points
}

var std = buildStandardTable()

// Lookup resolves glyph to its Symbol in the standard registry.
func Lookup(glyph string) (Symbol, bool) {
	s, ok := std.byGlyph[glyph]
	return s, ok
}

// MaxGlyphLength returns the longest registered glyph, in code points,
// which bounds lexer lookahead.
func MaxGlyphLength() int {
	return std.maxGlyphLen
}

// InCategory returns every symbol registered under cat, in registration
// order (stable across calls but not semantically significant).
func InCategory(cat Category) []Symbol {
	out := make([]Symbol, 0)
	for _, s := range std.order {
		if s.Category == cat {
			out = append(out, s)
		}
	}
	return out
}

func (t *Table) register(glyph string, m Meaning, cat Category, desc string) {
	n := utf8.RuneCountInString(glyph)
	if n > t.maxGlyphLen {
		t.maxGlyphLen = n
	}
	sym := Symbol{Glyph: glyph, Meaning: m, Category: cat, Description: desc}
	t.byGlyph[glyph] = sym
	t.order = append(t.order, sym)
}

func buildStandardTable() *Table {
	t := &Table{byGlyph: make(map[string]Symbol), maxGlyphLen: 1}

	reg := t.register

	// Type declarations
	reg("⟁", TypeInteger, CategoryTypeDeclaration, "integer type")
	reg("⧆", TypeReal, CategoryTypeDeclaration, "real type")
	reg("⌘", TypeString, CategoryTypeDeclaration, "string type")
	reg("☍", TypeBoolean, CategoryTypeDeclaration, "boolean type")
	reg("ᚱ", TypeRune, CategoryTypeDeclaration, "rune type")
	reg("⌬", TypeArray, CategoryTypeDeclaration, "array type")
	reg("⌖", TypeMap, CategoryTypeDeclaration, "map type")

	// Special values
	reg("∅", MeaningNull, CategorySpecialValue, "null")
	reg("◉", MeaningTrue, CategorySpecialValue, "true")
	reg("◎", MeaningFalse, CategorySpecialValue, "false")

	// Arithmetic. The subtraction and assign glyphs exist in bare and
	// variation-selector-suffixed forms depending on the editor that
	// produced the source; both spellings are registered, and the lexer's
	// longest-match rule keeps the suffixed form from splitting.
	reg("✚", Add, CategoryOperator, "addition")
	reg("☠︎", Subtract, CategoryOperator, "subtraction")
	reg("☠", Subtract, CategoryOperator, "subtraction")
	reg("✱", Multiply, CategoryOperator, "multiplication")
	reg("÷", Divide, CategoryOperator, "division")
	reg("⌗", Modulo, CategoryOperator, "modulo")
	reg("⬆", Power, CategoryOperator, "power")

	// Comparison
	reg("⩵", Equal, CategoryComparison, "equal")
	reg("≠", NotEqual, CategoryComparison, "not equal")
	reg("◁", LessThan, CategoryComparison, "less than")
	reg("▷", GreaterThan, CategoryComparison, "greater than")
	reg("⩽", LessOrEqual, CategoryComparison, "less or equal")
	reg("⩾", GreaterOrEqual, CategoryComparison, "greater or equal")

	// Logical
	reg("∧", And, CategoryLogical, "logical and")
	reg("∨", Or, CategoryLogical, "logical or")
	reg("¬", Not, CategoryLogical, "logical not")
	reg("⊻", Xor, CategoryLogical, "logical xor")

	// Assignment / evaluation
	reg("⚙︎", Assign, CategoryOperator, "assign")
	reg("⚙", Assign, CategoryOperator, "assign")
	reg("→", Arrow, CategoryOperator, "assignment target arrow")
	reg("≔", Bind, CategoryOperator, "bind")

	// I/O
	reg("⚓", Input, CategoryInputOutput, "input")
	reg("⚡", Output, CategoryInputOutput, "print expression")
	reg("✤", Print, CategoryInputOutput, "print literal")
	reg("⌥", Debug, CategoryInputOutput, "debug output")

	// Control flow
	reg("⊂", LoopStart, CategoryControlFlow, "loop start")
	reg("⊃", LoopEnd, CategoryControlFlow, "loop end")
	reg("⟨", IfStart, CategoryControlFlow, "if start")
	reg("⟩", Else, CategoryControlFlow, "else")
	reg("⟫", IfEnd, CategoryControlFlow, "if end")
	reg("⊗", Break, CategoryControlFlow, "break")
	reg("↺", Continue, CategoryControlFlow, "continue")
	reg("❧", EndProgram, CategoryControlFlow, "end program")
	reg("λ", FunctionStart, CategoryControlFlow, "function start")
	reg("Λ", FunctionEnd, CategoryControlFlow, "function end")
	reg("⤶", Return, CategoryControlFlow, "return")
	reg("⤷", Call, CategoryControlFlow, "call")

	// Pattern matching
	reg("⟡", MatchStart, CategoryControlFlow, "match start")
	reg("⟢", MatchArm, CategoryControlFlow, "match arm")
	reg("⟣", MatchEnd, CategoryControlFlow, "match/try end")
	reg("◇", Wildcard, CategoryControlFlow, "wildcard pattern")

	// Modules
	reg("⟲", Import, CategoryControlFlow, "import")
	reg("⟳", Export, CategoryControlFlow, "export")
	reg("⊷", ModuleAccess, CategoryOperator, "module member access")

	// Exceptions
	reg("☄", TryStart, CategoryControlFlow, "try start")
	reg("☊", CatchBlock, CategoryControlFlow, "catch block")
	reg("☋", FinallyBlock, CategoryControlFlow, "finally block")
	reg("⚠", Throw, CategoryControlFlow, "throw")

	// Maps
	reg("⇒", MapArrow, CategoryOperator, "map key/value separator")
	reg("⋄", MapSeparator, CategoryDelimiter, "map entry separator")
	reg("{", LeftBrace, CategoryDelimiter, "left brace")
	reg("}", RightBrace, CategoryDelimiter, "right brace")

	// Stack ops
	reg("⇑", Push, CategoryOperator, "push")
	reg("⇓", Pop, CategoryOperator, "pop")
	reg("⇕", Dup, CategoryOperator, "duplicate")
	reg("⇆", Swap, CategoryOperator, "swap")
	reg("↻", Rotate, CategoryOperator, "rotate")

	// Special ops
	reg("✹", Accumulator, CategoryOperator, "accumulator")
	reg("⊕", Increment, CategoryOperator, "increment")
	reg("⊖", Decrement, CategoryOperator, "decrement")

	// Delimiters
	reg("[", LeftBracket, CategoryDelimiter, "left bracket")
	reg("]", RightBracket, CategoryDelimiter, "right bracket")
	reg("(", LeftParen, CategoryDelimiter, "left paren")
	reg(")", RightParen, CategoryDelimiter, "right paren")
	reg(",", Separator, CategoryDelimiter, "separator")
	reg("⁂", Terminator, CategoryDelimiter, "statement terminator")

	// Comments (block comment markers participate in lexer lookahead too)
	reg("⌈", BlockCommentStart, CategoryModifier, "block comment start")
	reg("⌉", BlockCommentEnd, CategoryModifier, "block comment end")

	return t
}
