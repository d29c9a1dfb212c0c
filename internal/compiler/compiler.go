// Package compiler implements Obfusku's single-pass recursive-descent
// compiler: it walks a token stream once and emits bytecode directly into
// a Chunk, resolving closure captures and patching jumps as it goes.
package compiler

import (
	"fmt"

	"github.com/sxnnyside/obfusku/internal/bytecode"
	"github.com/sxnnyside/obfusku/internal/sourcemap"
	"github.com/sxnnyside/obfusku/internal/symbols"
	"github.com/sxnnyside/obfusku/internal/token"
)

// Error is a compile-time error carrying its source position.
type Error struct {
	Message string
	Pos     sourcemap.Pos
}

func (e *Error) Error() string {
	return fmt.Sprintf("compile error at %s: %s", e.Pos, e.Message)
}

func errf(pos sourcemap.Pos, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Pos: pos}
}

// funcScope tracks one function body's compile-time bookkeeping: its
// declared locals (for shadow/capture resolution) and its capture list,
// built up as the body is compiled.
type funcScope struct {
	name         string
	locals       map[string]bool
	captureOrder []string
	captureIndex map[string]int
}

func newFuncScope(name string) *funcScope {
	return &funcScope{name: name, locals: make(map[string]bool), captureIndex: make(map[string]int)}
}

// loopScope tracks one active loop's start offset and the forward jump
// sites emitted by break statements inside it, patched once the loop ends.
type loopScope struct {
	startOffset int
	breakSites  []int
}

// Compiler drives a single left-to-right pass over a token stream,
// emitting bytecode into a Chunk.
type Compiler struct {
	toks  []token.Token
	pos   int
	chunk *bytecode.Chunk

	funcs     []*funcScope
	loops     []*loopScope
	funcIndex map[string]uint16

	sawEndProgram bool
}

// Compile compiles toks (as produced by the lexer, ending in an EOF token)
// into a Chunk, or returns the first compile error encountered.
func Compile(toks []token.Token, chunkName string) (*bytecode.Chunk, error) {
	c := &Compiler{
		toks:      toks,
		chunk:     bytecode.NewChunk(chunkName),
		funcIndex: make(map[string]uint16),
	}
	for !c.atEOF() {
		if err := c.compileStatement(); err != nil {
			return nil, err
		}
		c.skipTerminators()
	}
	if !c.sawEndProgram {
		return nil, errf(c.cur().Pos, "program is missing its end-of-program terminator")
	}
	return c.chunk, nil
}

// --- token stream helpers ---

func (c *Compiler) cur() token.Token { return c.toks[c.pos] }

func (c *Compiler) atEOF() bool { return c.cur().Kind == token.KindEOF }

func (c *Compiler) advance() token.Token {
	t := c.toks[c.pos]
	if t.Kind != token.KindEOF {
		c.pos++
	}
	return t
}

func (c *Compiler) is(m symbols.Meaning) bool { return c.cur().Is(m) }

// skipTerminators consumes any run of statement-terminator glyphs. The
// surface grammar marks most statements with a trailing terminator but
// treats it as a separator rather than something any one construct's
// own grammar consumes.
func (c *Compiler) skipTerminators() {
	for c.is(symbols.Terminator) {
		c.advance()
	}
}

func (c *Compiler) isKind(k token.Kind) bool { return c.cur().Kind == k }

func (c *Compiler) expectKind(k token.Kind) (token.Token, error) {
	if !c.isKind(k) {
		return token.Token{}, errf(c.cur().Pos, "expected %s, found %s %q", k, c.cur().Kind, c.cur().Lexeme)
	}
	return c.advance(), nil
}

func (c *Compiler) expectSymbol(m symbols.Meaning) error {
	if !c.is(m) {
		return errf(c.cur().Pos, "expected symbol %q, found %s %q", m, c.cur().Kind, c.cur().Lexeme)
	}
	c.advance()
	return nil
}

// --- chunk emission helpers ---

func (c *Compiler) line() int { return c.cur().Pos.Line }

func (c *Compiler) emitOp(op bytecode.OpCode, line int) int { return c.chunk.WriteOp(op, line) }

func (c *Compiler) emitU16(v uint16, line int) { c.chunk.WriteU16(v, line) }

func (c *Compiler) emitByte(b byte, line int) { c.chunk.WriteByte(b, line) }

func patchU16(chunk *bytecode.Chunk, offset int, v uint16) {
	chunk.Code[offset] = byte(v)
	chunk.Code[offset+1] = byte(v >> 8)
}

// emitJumpPlaceholder writes op followed by a zero placeholder operand,
// returning the offset of op's own byte for later patchJump/patchLoop.
func (c *Compiler) emitJumpPlaceholder(op bytecode.OpCode, line int) int {
	pos := c.emitOp(op, line)
	c.emitU16(0, line)
	return pos
}

// patchJump patches a forward jump emitted at pos to land at the current
// end of code.
func (c *Compiler) patchJump(pos int) {
	c.patchJumpTo(pos, len(c.chunk.Code))
}

// patchJumpTo patches a forward jump emitted at pos to land at target.
func (c *Compiler) patchJumpTo(pos, target int) {
	operandEnd := pos + 3
	patchU16(c.chunk, pos+1, uint16(target-operandEnd))
}

// emitLoopBack emits a backward Loop instruction targeting startOffset.
func (c *Compiler) emitLoopBack(startOffset int, line int) {
	pos := c.emitOp(bytecode.OpLoop, line)
	c.emitU16(0, line)
	operandEnd := pos + 3
	patchU16(c.chunk, pos+1, uint16(operandEnd-startOffset))
}

func valueTypeForMeaning(m symbols.Meaning) (bytecode.ValueType, bool) {
	switch m {
	case symbols.TypeInteger:
		return bytecode.TInteger, true
	case symbols.TypeReal:
		return bytecode.TReal, true
	case symbols.TypeString:
		return bytecode.TString, true
	case symbols.TypeBoolean:
		return bytecode.TBoolean, true
	case symbols.TypeRune:
		return bytecode.TRune, true
	case symbols.TypeArray:
		return bytecode.TArray, true
	case symbols.TypeMap:
		return bytecode.TMap, true
	}
	return 0, false
}

func (c *Compiler) emitDefaultFor(vt bytecode.ValueType, line int) {
	switch vt {
	case bytecode.TInteger:
		c.emitConst(bytecode.IntVal(0), line)
	case bytecode.TReal:
		c.emitConst(bytecode.RealVal(0), line)
	case bytecode.TString:
		c.emitConst(bytecode.StringVal(""), line)
	case bytecode.TRune:
		c.emitConst(bytecode.RuneVal(0), line)
	case bytecode.TBoolean:
		c.emitOp(bytecode.OpFalse, line)
	default:
		c.emitOp(bytecode.OpNull, line)
	}
}

func (c *Compiler) emitConst(v bytecode.Value, line int) {
	idx := c.chunk.AddConstant(v)
	c.emitOp(bytecode.OpConst, line)
	c.emitU16(idx, line)
}

// --- scope bookkeeping ---

func (c *Compiler) inFunction() bool { return len(c.funcs) > 0 }

func (c *Compiler) curFunc() *funcScope { return c.funcs[len(c.funcs)-1] }

func (c *Compiler) declareLocal(name string) {
	if c.inFunction() {
		c.curFunc().locals[name] = true
	}
}

func (c *Compiler) isShadowedLocal(name string) bool {
	if !c.inFunction() {
		return false
	}
	f := c.curFunc()
	if f.locals[name] {
		return true
	}
	_, captured := f.captureIndex[name]
	return captured
}

// emitVariableLoad implements the closure capture resolution order:
// local of the innermost function, already-captured, local of an outer
// function (captured fresh here), else global.
func (c *Compiler) emitVariableLoad(name string, line int) {
	nameIdx := c.chunk.InternString(name)

	if !c.inFunction() {
		c.emitOp(bytecode.OpLoadVar, line)
		c.emitU16(nameIdx, line)
		return
	}
	cur := c.curFunc()
	if cur.locals[name] {
		c.emitOp(bytecode.OpLoadVar, line)
		c.emitU16(nameIdx, line)
		return
	}
	if idx, ok := cur.captureIndex[name]; ok {
		c.emitOp(bytecode.OpLoadCapture, line)
		c.emitU16(uint16(idx), line)
		return
	}
	for i := len(c.funcs) - 2; i >= 0; i-- {
		if c.funcs[i].locals[name] {
			idx := len(cur.captureOrder)
			cur.captureOrder = append(cur.captureOrder, name)
			cur.captureIndex[name] = idx
			c.emitOp(bytecode.OpLoadCapture, line)
			c.emitU16(uint16(idx), line)
			return
		}
	}
	c.emitOp(bytecode.OpLoadVar, line)
	c.emitU16(nameIdx, line)
}

// --- statements ---

func (c *Compiler) compileStatement() error {
	tok := c.cur()

	if tok.Kind == token.KindSymbol {
		if vt, ok := valueTypeForMeaning(tok.Meaning); ok {
			switch tok.Meaning {
			case symbols.TypeArray:
				return c.compileArrayDecl()
			case symbols.TypeMap:
				return c.compileMapDecl()
			default:
				return c.compileTypeDecl(vt)
			}
		}
		switch tok.Meaning {
		case symbols.Assign:
			return c.compileAssignStatement()
		case symbols.Output:
			return c.compileOutputStatement()
		case symbols.Print:
			return c.compilePrintLitStatement()
		case symbols.Input:
			return c.compileInputStatement()
		case symbols.LoopStart:
			return c.compileWhileLoop()
		case symbols.IfStart:
			return c.compileIfStatement()
		case symbols.Break:
			return c.compileBreak()
		case symbols.Continue:
			return c.compileContinue()
		case symbols.Accumulator:
			return c.compileAccumulatorStatement()
		case symbols.FunctionStart:
			return c.compileFunctionDef()
		case symbols.Return:
			return c.compileReturnStatement()
		case symbols.MatchStart:
			return c.compileMatchStatement()
		case symbols.TryStart:
			return c.compileTryStatement()
		case symbols.Throw:
			return c.compileThrowStatement()
		case symbols.Import:
			return c.compileImportStatement()
		case symbols.Push:
			return c.compilePushStatement()
		case symbols.Pop:
			c.advance()
			c.emitOp(bytecode.OpPop, tok.Pos.Line)
			return nil
		case symbols.Dup:
			c.advance()
			c.emitOp(bytecode.OpDup, tok.Pos.Line)
			return nil
		case symbols.Swap:
			c.advance()
			c.emitOp(bytecode.OpSwap, tok.Pos.Line)
			return nil
		case symbols.Rotate:
			c.advance()
			c.emitOp(bytecode.OpRot, tok.Pos.Line)
			return nil
		case symbols.Debug:
			return c.compileDebugStatement()
		case symbols.EndProgram:
			c.advance()
			c.emitOp(bytecode.OpHalt, tok.Pos.Line)
			c.sawEndProgram = true
			return nil
		}
		return errf(tok.Pos, "unexpected symbol %q at start of statement", tok.Lexeme)
	}

	if tok.Kind == token.KindIdentifier {
		return c.compileSimpleAssign()
	}

	return errf(tok.Pos, "unexpected token %s %q at start of statement", tok.Kind, tok.Lexeme)
}

// compileBlock compiles statements until the current token is a symbol
// whose meaning is one of terminators (not consumed), or EOF.
func (c *Compiler) compileBlock(terminators ...symbols.Meaning) error {
	for !c.atEOF() {
		c.skipTerminators()
		if c.cur().Kind == token.KindSymbol {
			for _, t := range terminators {
				if c.cur().Meaning == t {
					return nil
				}
			}
		}
		if err := c.compileStatement(); err != nil {
			return err
		}
		c.skipTerminators()
	}
	return nil
}

func (c *Compiler) compileTypeDecl(vt bytecode.ValueType) error {
	line := c.line()
	c.advance() // type glyph
	nameTok, err := c.expectKind(token.KindIdentifier)
	if err != nil {
		return err
	}
	if c.isKind(token.KindEquals) {
		c.advance()
		if err := c.compileExpression(); err != nil {
			return err
		}
	} else {
		c.emitDefaultFor(vt, line)
	}
	nameIdx := c.chunk.InternString(nameTok.Lexeme)
	c.declareLocal(nameTok.Lexeme)
	c.emitOp(bytecode.OpDeclareVar, line)
	c.emitU16(nameIdx, line)
	c.emitByte(byte(vt), line)
	return nil
}

func (c *Compiler) compileArrayDecl() error {
	line := c.line()
	c.advance() // ⌬
	nameTok, err := c.expectKind(token.KindIdentifier)
	if err != nil {
		return err
	}
	if _, err := c.expectKind(token.KindEquals); err != nil {
		return err
	}
	if err := c.expectSymbol(symbols.LeftBracket); err != nil {
		return err
	}
	count := 0
	for !c.is(symbols.RightBracket) {
		if err := c.compileExpression(); err != nil {
			return err
		}
		count++
		if c.is(symbols.Separator) {
			c.advance()
			continue
		}
		break
	}
	if err := c.expectSymbol(symbols.RightBracket); err != nil {
		return err
	}
	nameIdx := c.chunk.InternString(nameTok.Lexeme)
	c.declareLocal(nameTok.Lexeme)
	c.emitOp(bytecode.OpMakeArray, line)
	c.emitU16(uint16(count), line)
	c.emitOp(bytecode.OpDeclareVar, line)
	c.emitU16(nameIdx, line)
	c.emitByte(byte(bytecode.TArray), line)
	return nil
}

func (c *Compiler) compileMapDecl() error {
	line := c.line()
	c.advance() // ⌖
	nameTok, err := c.expectKind(token.KindIdentifier)
	if err != nil {
		return err
	}
	if _, err := c.expectKind(token.KindEquals); err != nil {
		return err
	}
	if err := c.expectSymbol(symbols.LeftBrace); err != nil {
		return err
	}
	count := 0
	for !c.is(symbols.RightBrace) {
		if err := c.compileExpression(); err != nil {
			return err
		}
		if err := c.expectSymbol(symbols.MapArrow); err != nil {
			return err
		}
		if err := c.compileExpression(); err != nil {
			return err
		}
		count++
		if c.is(symbols.MapSeparator) || c.is(symbols.Separator) {
			c.advance()
			continue
		}
		break
	}
	if err := c.expectSymbol(symbols.RightBrace); err != nil {
		return err
	}
	nameIdx := c.chunk.InternString(nameTok.Lexeme)
	c.declareLocal(nameTok.Lexeme)
	c.emitOp(bytecode.OpMakeMap, line)
	c.emitU16(uint16(count), line)
	c.emitOp(bytecode.OpDeclareVar, line)
	c.emitU16(nameIdx, line)
	c.emitByte(byte(bytecode.TMap), line)
	return nil
}

func (c *Compiler) compileAssignStatement() error {
	line := c.line()
	c.advance() // ⚙︎
	if err := c.expectSymbol(symbols.LeftBracket); err != nil {
		return err
	}
	if err := c.compileExpression(); err != nil {
		return err
	}
	if err := c.expectSymbol(symbols.RightBracket); err != nil {
		return err
	}
	if err := c.expectSymbol(symbols.Arrow); err != nil {
		return err
	}
	if c.is(symbols.Accumulator) {
		c.advance()
		c.emitOp(bytecode.OpStoreAcc, line)
		return nil
	}
	if c.cur().Kind == token.KindSymbol {
		if _, ok := valueTypeForMeaning(c.cur().Meaning); ok {
			c.advance() // discard type-prefix hint, target is already declared
		}
	}
	nameTok, err := c.expectKind(token.KindIdentifier)
	if err != nil {
		return err
	}
	nameIdx := c.chunk.InternString(nameTok.Lexeme)
	c.emitOp(bytecode.OpStoreVar, line)
	c.emitU16(nameIdx, line)
	return nil
}

func (c *Compiler) compileSimpleAssign() error {
	line := c.line()
	nameTok, _ := c.expectKind(token.KindIdentifier)
	if _, err := c.expectKind(token.KindEquals); err != nil {
		return err
	}
	if err := c.compileExpression(); err != nil {
		return err
	}
	nameIdx := c.chunk.InternString(nameTok.Lexeme)
	c.emitOp(bytecode.OpStoreVar, line)
	c.emitU16(nameIdx, line)
	return nil
}

func (c *Compiler) compileOutputStatement() error {
	line := c.line()
	c.advance() // ⚡
	if err := c.expectSymbol(symbols.LeftBracket); err != nil {
		return err
	}
	if err := c.compileExpression(); err != nil {
		return err
	}
	if err := c.expectSymbol(symbols.RightBracket); err != nil {
		return err
	}
	c.emitOp(bytecode.OpPrint, line)
	return nil
}

func (c *Compiler) compilePrintLitStatement() error {
	line := c.line()
	c.advance() // ✤
	bracketed := c.is(symbols.LeftBracket)
	if bracketed {
		c.advance()
	}
	strTok, err := c.expectKind(token.KindString)
	if err != nil {
		return err
	}
	if bracketed {
		if err := c.expectSymbol(symbols.RightBracket); err != nil {
			return err
		}
	}
	idx := c.chunk.InternString(strTok.Str)
	c.emitOp(bytecode.OpPrintLit, line)
	c.emitU16(idx, line)
	return nil
}

func (c *Compiler) compileInputStatement() error {
	line := c.line()
	c.advance() // ⚓
	typeTok := c.cur()
	vt, ok := valueTypeForMeaning(typeTok.Meaning)
	if typeTok.Kind != token.KindSymbol || !ok {
		return errf(typeTok.Pos, "expected a type declarator after input symbol")
	}
	c.advance()
	nameTok, err := c.expectKind(token.KindIdentifier)
	if err != nil {
		return err
	}
	nameIdx := c.chunk.InternString(nameTok.Lexeme)
	c.declareLocal(nameTok.Lexeme)
	c.emitOp(bytecode.OpNull, line)
	c.emitOp(bytecode.OpDeclareVar, line)
	c.emitU16(nameIdx, line)
	c.emitByte(byte(vt), line)
	c.emitOp(bytecode.OpInput, line)
	c.emitU16(nameIdx, line)
	c.emitByte(byte(vt), line)
	return nil
}

func (c *Compiler) compileWhileLoop() error {
	line := c.line()
	c.advance() // ⊂
	if err := c.expectSymbol(symbols.LeftBracket); err != nil {
		return err
	}
	startOffset := len(c.chunk.Code)
	if err := c.compileExpression(); err != nil {
		return err
	}
	if err := c.expectSymbol(symbols.RightBracket); err != nil {
		return err
	}
	exitJump := c.emitJumpPlaceholder(bytecode.OpJumpIfFalse, line)

	c.loops = append(c.loops, &loopScope{startOffset: startOffset})
	if err := c.compileBlock(symbols.LoopEnd); err != nil {
		return err
	}
	loop := c.loops[len(c.loops)-1]
	c.loops = c.loops[:len(c.loops)-1]

	if err := c.expectSymbol(symbols.LoopEnd); err != nil {
		return err
	}
	c.emitLoopBack(startOffset, c.line())
	c.patchJump(exitJump)
	for _, site := range loop.breakSites {
		c.patchJump(site)
	}
	return nil
}

func (c *Compiler) compileIfStatement() error {
	line := c.line()
	c.advance() // ⟨
	if err := c.compileExpression(); err != nil {
		return err
	}
	if err := c.expectSymbol(symbols.RightBracket); err != nil {
		return err
	}
	thenJump := c.emitJumpPlaceholder(bytecode.OpJumpIfFalse, line)

	if err := c.compileBlock(symbols.Else, symbols.IfEnd); err != nil {
		return err
	}

	if c.is(symbols.Else) {
		c.advance()
		endJump := c.emitJumpPlaceholder(bytecode.OpJump, c.line())
		c.patchJump(thenJump)
		if err := c.compileBlock(symbols.IfEnd); err != nil {
			return err
		}
		c.patchJump(endJump)
	} else {
		c.patchJump(thenJump)
	}

	return c.expectSymbol(symbols.IfEnd)
}

func (c *Compiler) compileBreak() error {
	if len(c.loops) == 0 {
		return errf(c.cur().Pos, "break used outside a loop")
	}
	line := c.line()
	c.advance()
	loop := c.loops[len(c.loops)-1]
	site := c.emitJumpPlaceholder(bytecode.OpJump, line)
	loop.breakSites = append(loop.breakSites, site)
	return nil
}

func (c *Compiler) compileContinue() error {
	if len(c.loops) == 0 {
		return errf(c.cur().Pos, "continue used outside a loop")
	}
	line := c.line()
	c.advance()
	loop := c.loops[len(c.loops)-1]
	c.emitLoopBack(loop.startOffset, line)
	return nil
}

func (c *Compiler) compileAccumulatorStatement() error {
	line := c.line()
	c.advance() // ✹
	switch {
	case c.isKind(token.KindEquals):
		c.advance()
		if err := c.compileExpression(); err != nil {
			return err
		}
		c.emitOp(bytecode.OpStoreAcc, line)
	case c.is(symbols.Increment):
		c.advance()
		c.emitOp(bytecode.OpIncAcc, line)
	case c.is(symbols.Decrement):
		c.advance()
		c.emitOp(bytecode.OpDecAcc, line)
	default:
		// A bare accumulator statement has no effect; tolerated like any
		// other discarded expression statement.
	}
	return nil
}

func (c *Compiler) compileFunctionDef() error {
	line := c.line()
	c.advance() // λ
	nameTok, err := c.expectKind(token.KindIdentifier)
	if err != nil {
		return err
	}
	if err := c.expectSymbol(symbols.LeftBracket); err != nil {
		return err
	}

	var params []bytecode.Param
	for !c.is(symbols.RightBracket) {
		typeTok := c.cur()
		vt, ok := valueTypeForMeaning(typeTok.Meaning)
		if typeTok.Kind != token.KindSymbol || !ok {
			return errf(typeTok.Pos, "expected a parameter type declarator")
		}
		c.advance()
		pnameTok, err := c.expectKind(token.KindIdentifier)
		if err != nil {
			return err
		}
		params = append(params, bytecode.Param{Name: pnameTok.Lexeme, Type: vt})
		if c.is(symbols.Separator) {
			c.advance()
			continue
		}
		break
	}
	if err := c.expectSymbol(symbols.RightBracket); err != nil {
		return err
	}

	if _, exists := c.funcIndex[nameTok.Lexeme]; exists {
		return errf(nameTok.Pos, "duplicate function %q", nameTok.Lexeme)
	}
	funcIdx := c.chunk.AddFunction(bytecode.FunctionInfo{Name: nameTok.Lexeme, Arity: uint8(len(params)), Params: params})
	c.funcIndex[nameTok.Lexeme] = funcIdx

	scope := newFuncScope(nameTok.Lexeme)
	for _, p := range params {
		scope.locals[p.Name] = true
	}
	c.funcs = append(c.funcs, scope)

	// The body is emitted inline; straight-line execution must never fall
	// into it, so it lives inside a jump-skipped region.
	skipBody := c.emitJumpPlaceholder(bytecode.OpJump, line)
	bodyStart := len(c.chunk.Code)
	if err := c.compileBlock(symbols.FunctionEnd); err != nil {
		return err
	}
	c.emitOp(bytecode.OpNull, line)
	c.emitOp(bytecode.OpReturn, line)
	bodyLen := len(c.chunk.Code) - bodyStart

	c.funcs = c.funcs[:len(c.funcs)-1]

	c.chunk.Functions[funcIdx].Start = bodyStart
	c.chunk.Functions[funcIdx].Length = bodyLen
	c.chunk.Functions[funcIdx].CaptureNames = scope.captureOrder
	c.patchJump(skipBody)

	return c.expectSymbol(symbols.FunctionEnd)
}

func (c *Compiler) compileReturnStatement() error {
	if !c.inFunction() {
		return errf(c.cur().Pos, "return used outside a function")
	}
	line := c.line()
	c.advance() // ⤶
	if c.is(symbols.LeftBracket) {
		c.advance()
		if err := c.compileExpression(); err != nil {
			return err
		}
		if err := c.expectSymbol(symbols.RightBracket); err != nil {
			return err
		}
	} else {
		c.emitOp(bytecode.OpNull, line)
	}
	c.emitOp(bytecode.OpReturn, line)
	return nil
}

func (c *Compiler) compileMatchStatement() error {
	c.advance() // ⟡
	if err := c.expectSymbol(symbols.LeftBracket); err != nil {
		return err
	}
	if err := c.compileExpression(); err != nil {
		return err
	}
	if err := c.expectSymbol(symbols.RightBracket); err != nil {
		return err
	}

	// Arms are tested in source order, first match wins. Every path pops
	// the scrutinee exactly once: a matched arm pops it before its body,
	// the no-match fall-through pops it after the last arm.
	var endJumps []int
	for c.is(symbols.MatchArm) {
		c.advance()
		if err := c.expectSymbol(symbols.LeftBracket); err != nil {
			return err
		}
		if c.is(symbols.Wildcard) {
			c.advance()
			c.emitOp(bytecode.OpPop, c.line())
			if err := c.expectSymbol(symbols.RightBracket); err != nil {
				return err
			}
			if err := c.compileBlock(symbols.MatchArm, symbols.MatchEnd); err != nil {
				return err
			}
			endJumps = append(endJumps, c.emitJumpPlaceholder(bytecode.OpJump, c.line()))
			continue
		}
		c.emitOp(bytecode.OpDup, c.line())
		if err := c.compileExpression(); err != nil {
			return err
		}
		if err := c.expectSymbol(symbols.RightBracket); err != nil {
			return err
		}
		c.emitOp(bytecode.OpEq, c.line())
		noMatch := c.emitJumpPlaceholder(bytecode.OpJumpIfFalse, c.line())
		c.emitOp(bytecode.OpPop, c.line())
		if err := c.compileBlock(symbols.MatchArm, symbols.MatchEnd); err != nil {
			return err
		}
		endJumps = append(endJumps, c.emitJumpPlaceholder(bytecode.OpJump, c.line()))
		c.patchJump(noMatch)
	}

	c.emitOp(bytecode.OpPop, c.line())
	for _, j := range endJumps {
		c.patchJump(j)
	}
	return c.expectSymbol(symbols.MatchEnd)
}

func (c *Compiler) compileTryStatement() error {
	line := c.line()
	c.advance() // ☄

	tryBegin := c.emitJumpPlaceholder(bytecode.OpTryBegin, line)
	tryStart := tryBegin + 3

	if err := c.compileBlock(symbols.CatchBlock, symbols.FinallyBlock, symbols.MatchEnd); err != nil {
		return err
	}
	c.emitOp(bytecode.OpTryEnd, c.line())
	pastHandler := c.emitJumpPlaceholder(bytecode.OpJump, c.line())

	handlerStart := len(c.chunk.Code)
	patchU16(c.chunk, tryBegin+1, uint16(handlerStart-tryStart))

	if c.is(symbols.CatchBlock) {
		c.advance()
		if err := c.expectSymbol(symbols.LeftBracket); err != nil {
			return err
		}
		nameTok, err := c.expectKind(token.KindIdentifier)
		if err != nil {
			return err
		}
		if err := c.expectSymbol(symbols.RightBracket); err != nil {
			return err
		}
		nameIdx := c.chunk.InternString(nameTok.Lexeme)
		c.declareLocal(nameTok.Lexeme)
		c.emitOp(bytecode.OpCatch, c.line())
		c.emitU16(nameIdx, c.line())
		if err := c.compileBlock(symbols.FinallyBlock, symbols.MatchEnd); err != nil {
			return err
		}
	}

	finallyStart := -1
	if c.is(symbols.FinallyBlock) {
		c.advance()
		finallyStart = len(c.chunk.Code)
		c.emitOp(bytecode.OpFinally, c.line())
		if err := c.compileBlock(symbols.MatchEnd); err != nil {
			return err
		}
	}

	// The finally block runs on both paths: the exceptional path falls
	// through from the catch body, and the normal path's jump lands on the
	// Finally marker instead of skipping to the end.
	if finallyStart >= 0 {
		c.patchJumpTo(pastHandler, finallyStart)
	} else {
		c.patchJump(pastHandler)
	}
	return c.expectSymbol(symbols.MatchEnd)
}

func (c *Compiler) compileThrowStatement() error {
	line := c.line()
	c.advance() // ⚠
	if err := c.expectSymbol(symbols.LeftBracket); err != nil {
		return err
	}
	if err := c.compileExpression(); err != nil {
		return err
	}
	if err := c.expectSymbol(symbols.RightBracket); err != nil {
		return err
	}
	c.emitOp(bytecode.OpThrow, line)
	return nil
}

func (c *Compiler) compileImportStatement() error {
	line := c.line()
	c.advance() // ⟲
	nameTok, err := c.expectKind(token.KindString)
	if err != nil {
		return err
	}
	idx := c.chunk.InternString(nameTok.Str)
	c.emitOp(bytecode.OpImport, line)
	c.emitU16(idx, line)
	return nil
}

// compileDebugStatement emits "⌥[expr]": the value is traced to standard
// error and then discarded.
func (c *Compiler) compileDebugStatement() error {
	line := c.line()
	c.advance() // ⌥
	if err := c.expectSymbol(symbols.LeftBracket); err != nil {
		return err
	}
	if err := c.compileExpression(); err != nil {
		return err
	}
	if err := c.expectSymbol(symbols.RightBracket); err != nil {
		return err
	}
	c.emitOp(bytecode.OpDebug, line)
	c.emitOp(bytecode.OpPop, line)
	return nil
}

func (c *Compiler) compilePushStatement() error {
	c.advance() // ⇑
	if err := c.expectSymbol(symbols.LeftBracket); err != nil {
		return err
	}
	if err := c.compileExpression(); err != nil {
		return err
	}
	return c.expectSymbol(symbols.RightBracket)
}

// --- expressions (precedence climbing, lowest to highest) ---

func (c *Compiler) compileExpression() error { return c.compileOr() }

func (c *Compiler) compileOr() error {
	if err := c.compileAnd(); err != nil {
		return err
	}
	for c.is(symbols.Or) || c.is(symbols.Xor) {
		op := c.cur().Meaning
		line := c.line()
		c.advance()
		if err := c.compileAnd(); err != nil {
			return err
		}
		if op == symbols.Or {
			c.emitOp(bytecode.OpOr, line)
		} else {
			c.emitOp(bytecode.OpXor, line)
		}
	}
	return nil
}

func (c *Compiler) compileAnd() error {
	if err := c.compileEquality(); err != nil {
		return err
	}
	for c.is(symbols.And) {
		line := c.line()
		c.advance()
		if err := c.compileEquality(); err != nil {
			return err
		}
		c.emitOp(bytecode.OpAnd, line)
	}
	return nil
}

func (c *Compiler) compileEquality() error {
	if err := c.compileComparison(); err != nil {
		return err
	}
	for c.is(symbols.Equal) || c.is(symbols.NotEqual) {
		op := c.cur().Meaning
		line := c.line()
		c.advance()
		if err := c.compileComparison(); err != nil {
			return err
		}
		if op == symbols.Equal {
			c.emitOp(bytecode.OpEq, line)
		} else {
			c.emitOp(bytecode.OpNe, line)
		}
	}
	return nil
}

func (c *Compiler) compileComparison() error {
	if err := c.compileAdditive(); err != nil {
		return err
	}
	for c.is(symbols.LessThan) || c.is(symbols.GreaterThan) || c.is(symbols.LessOrEqual) || c.is(symbols.GreaterOrEqual) {
		op := c.cur().Meaning
		line := c.line()
		c.advance()
		if err := c.compileAdditive(); err != nil {
			return err
		}
		switch op {
		case symbols.LessThan:
			c.emitOp(bytecode.OpLt, line)
		case symbols.GreaterThan:
			c.emitOp(bytecode.OpGt, line)
		case symbols.LessOrEqual:
			c.emitOp(bytecode.OpLe, line)
		case symbols.GreaterOrEqual:
			c.emitOp(bytecode.OpGe, line)
		}
	}
	return nil
}

func (c *Compiler) compileAdditive() error {
	if err := c.compileMultiplicative(); err != nil {
		return err
	}
	for c.is(symbols.Add) || c.is(symbols.Subtract) {
		op := c.cur().Meaning
		line := c.line()
		c.advance()
		if err := c.compileMultiplicative(); err != nil {
			return err
		}
		if op == symbols.Add {
			c.emitOp(bytecode.OpAdd, line)
		} else {
			c.emitOp(bytecode.OpSub, line)
		}
	}
	return nil
}

func (c *Compiler) compileMultiplicative() error {
	if err := c.compileUnary(); err != nil {
		return err
	}
	for c.is(symbols.Multiply) || c.is(symbols.Divide) || c.is(symbols.Modulo) || c.is(symbols.Power) {
		op := c.cur().Meaning
		line := c.line()
		c.advance()
		if err := c.compileUnary(); err != nil {
			return err
		}
		switch op {
		case symbols.Multiply:
			c.emitOp(bytecode.OpMul, line)
		case symbols.Divide:
			c.emitOp(bytecode.OpDiv, line)
		case symbols.Modulo:
			c.emitOp(bytecode.OpMod, line)
		case symbols.Power:
			c.emitOp(bytecode.OpPow, line)
		}
	}
	return nil
}

func (c *Compiler) compileUnary() error {
	if c.is(symbols.Not) {
		line := c.line()
		c.advance()
		if err := c.compileUnary(); err != nil {
			return err
		}
		c.emitOp(bytecode.OpNot, line)
		return nil
	}
	if c.is(symbols.Subtract) {
		line := c.line()
		c.advance()
		if err := c.compileUnary(); err != nil {
			return err
		}
		c.emitOp(bytecode.OpNeg, line)
		return nil
	}
	return c.compilePrimary()
}

func (c *Compiler) compilePrimary() error {
	tok := c.cur()
	line := tok.Pos.Line

	switch tok.Kind {
	case token.KindInteger:
		c.advance()
		c.emitConst(bytecode.IntVal(tok.Int), line)
		return nil
	case token.KindReal:
		c.advance()
		c.emitConst(bytecode.RealVal(tok.Real), line)
		return nil
	case token.KindString:
		c.advance()
		c.emitConst(bytecode.StringVal(tok.Str), line)
		return nil
	case token.KindBoolean:
		c.advance()
		if tok.Bool {
			c.emitOp(bytecode.OpTrue, line)
		} else {
			c.emitOp(bytecode.OpFalse, line)
		}
		return nil
	case token.KindIdentifier:
		c.advance()
		return c.compileIdentifierPrimary(tok.Lexeme, line)
	}

	if tok.Kind == token.KindSymbol {
		switch tok.Meaning {
		case symbols.MeaningNull:
			c.advance()
			c.emitOp(bytecode.OpNull, line)
			return nil
		case symbols.MeaningTrue:
			c.advance()
			c.emitOp(bytecode.OpTrue, line)
			return nil
		case symbols.MeaningFalse:
			c.advance()
			c.emitOp(bytecode.OpFalse, line)
			return nil
		case symbols.Accumulator:
			c.advance()
			c.emitOp(bytecode.OpLoadAcc, line)
			return nil
		case symbols.Call:
			c.advance()
			nameTok, err := c.expectKind(token.KindIdentifier)
			if err != nil {
				return err
			}
			return c.compileCallTarget(nameTok.Lexeme, line)
		case symbols.LeftParen:
			c.advance()
			if err := c.compileExpression(); err != nil {
				return err
			}
			return c.expectSymbol(symbols.RightParen)
		}
		if _, ok := valueTypeForMeaning(tok.Meaning); ok {
			c.advance()
			nameTok, err := c.expectKind(token.KindIdentifier)
			if err != nil {
				return err
			}
			return c.compileIdentifierPrimary(nameTok.Lexeme, line)
		}
	}

	return errf(tok.Pos, "unexpected token %s %q in expression", tok.Kind, tok.Lexeme)
}

// compileIdentifierPrimary resolves a bare identifier used as an
// expression value: a local/captured/global variable load, or — if the
// name is a known function and not shadowed — a function-value reference
// (LoadFunc, or a closure-construction sequence when the function has
// captures).
func (c *Compiler) compileIdentifierPrimary(name string, line int) error {
	if !c.isShadowedLocal(name) {
		if idx, ok := c.funcIndex[name]; ok {
			fi := c.chunk.Functions[idx]
			if len(fi.CaptureNames) == 0 {
				c.emitOp(bytecode.OpLoadFunc, line)
				c.emitU16(idx, line)
				return nil
			}
			for _, capName := range fi.CaptureNames {
				c.emitVariableLoad(capName, line)
			}
			c.emitOp(bytecode.OpMakeClosure, line)
			c.emitU16(idx, line)
			c.emitByte(byte(len(fi.CaptureNames)), line)
			return nil
		}
	}
	c.emitVariableLoad(name, line)
	return nil
}

// compileCallTarget compiles a direct function call by name, choosing
// Call (known function, emitted statically) or CallClosure (the name
// resolves to a variable holding a Function/Closure value).
func (c *Compiler) compileCallTarget(name string, line int) error {
	funcIdx, direct := c.funcIndex[name]
	if c.isShadowedLocal(name) {
		direct = false
	}
	// A capture-carrying function can only run with its captures attached,
	// so a direct call by name still goes through closure construction.
	if direct && len(c.chunk.Functions[funcIdx].CaptureNames) > 0 {
		direct = false
	}

	argc, err := c.compileArgList()
	if err != nil {
		return err
	}

	if direct {
		c.emitOp(bytecode.OpCall, line)
		c.emitU16(funcIdx, line)
		c.emitByte(byte(argc), line)
	} else {
		// CallClosure pops its callee off the top of the stack, so the
		// callee load is emitted after the argument list.
		if err := c.compileIdentifierPrimary(name, line); err != nil {
			return err
		}
		c.emitOp(bytecode.OpCallClosure, line)
		c.emitByte(byte(argc), line)
	}
	return nil
}

// compileArgList consumes "[" expr (, expr)* "]", emitting each expr in
// order, and returns the argument count.
func (c *Compiler) compileArgList() (int, error) {
	if err := c.expectSymbol(symbols.LeftBracket); err != nil {
		return 0, err
	}
	count := 0
	for !c.is(symbols.RightBracket) {
		if err := c.compileExpression(); err != nil {
			return 0, err
		}
		count++
		if c.is(symbols.Separator) {
			c.advance()
			continue
		}
		break
	}
	if err := c.expectSymbol(symbols.RightBracket); err != nil {
		return 0, err
	}
	return count, nil
}
