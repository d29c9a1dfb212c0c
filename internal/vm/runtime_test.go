package vm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sxnnyside/obfusku/internal/bytecode"
)

type memOut struct{ sb strings.Builder }

func (m *memOut) WriteString(s string) (int, error) { return m.sb.WriteString(s) }

type memIn struct{ lines []string }

func (m *memIn) ReadLine() (string, error) {
	if len(m.lines) == 0 {
		return "", nil
	}
	line := m.lines[0]
	m.lines = m.lines[1:]
	return line, nil
}

func newTestChunk() *bytecode.Chunk { return bytecode.NewChunk("test") }

func runChunk(t *testing.T, c *bytecode.Chunk) (*memOut, *Interpreter) {
	t.Helper()
	out := &memOut{}
	ctx := NewContext([]*bytecode.Chunk{c}, out, &memIn{})
	in := NewInterpreter(ctx)
	require.NoError(t, in.Run(0))
	return out, in
}

// Declaring a variable and printing it.
func TestLiteralDeclareAndPrint(t *testing.T) {
	c := newTestChunk()
	xIdx := c.InternString("x")
	five := c.AddConstant(bytecode.IntVal(5))

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(five, 1)
	c.WriteOp(bytecode.OpDeclareVar, 1)
	c.WriteU16(xIdx, 1)
	c.WriteByte(byte(bytecode.TInteger), 1)

	c.WriteOp(bytecode.OpLoadVar, 2)
	c.WriteU16(xIdx, 2)
	c.WriteOp(bytecode.OpPrint, 2)

	c.WriteOp(bytecode.OpHalt, 3)

	out, _ := runChunk(t, c)
	assert.Equal(t, "5\n", out.sb.String())
}

// Arithmetic respects precedence: 2 + 3*4 == 14.
func TestArithmeticPrecedence(t *testing.T) {
	c := newTestChunk()
	two := c.AddConstant(bytecode.IntVal(2))
	three := c.AddConstant(bytecode.IntVal(3))
	four := c.AddConstant(bytecode.IntVal(4))

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(two, 1)
	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(three, 1)
	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(four, 1)
	c.WriteOp(bytecode.OpMul, 1) // 3*4 -> 12
	c.WriteOp(bytecode.OpAdd, 1) // 2+12 -> 14
	c.WriteOp(bytecode.OpPrint, 1)
	c.WriteOp(bytecode.OpHalt, 1)

	out, _ := runChunk(t, c)
	assert.Equal(t, "14\n", out.sb.String())
}

// A while loop with an incrementing counter prints 0, 1, 2.
func TestLoopPrintsZeroToTwo(t *testing.T) {
	c := newTestChunk()
	iIdx := c.InternString("i")
	zero := c.AddConstant(bytecode.IntVal(0))
	three := c.AddConstant(bytecode.IntVal(3))
	one := c.AddConstant(bytecode.IntVal(1))

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(zero, 1)
	c.WriteOp(bytecode.OpDeclareVar, 1)
	c.WriteU16(iIdx, 1)
	c.WriteByte(byte(bytecode.TInteger), 1)

	loopStart := len(c.Code)
	c.WriteOp(bytecode.OpLoadVar, 2)
	c.WriteU16(iIdx, 2)
	c.WriteOp(bytecode.OpConst, 2)
	c.WriteU16(three, 2)
	c.WriteOp(bytecode.OpLt, 2)

	jumpIfFalsePos := c.WriteOp(bytecode.OpJumpIfFalse, 2)
	c.WriteU16(0, 2) // patched below
	exitOperandEnd := jumpIfFalsePos + 3

	c.WriteOp(bytecode.OpLoadVar, 3)
	c.WriteU16(iIdx, 3)
	c.WriteOp(bytecode.OpPrint, 3)

	c.WriteOp(bytecode.OpLoadVar, 4)
	c.WriteU16(iIdx, 4)
	c.WriteOp(bytecode.OpConst, 4)
	c.WriteU16(one, 4)
	c.WriteOp(bytecode.OpAdd, 4)
	c.WriteOp(bytecode.OpStoreVar, 4)
	c.WriteU16(iIdx, 4)

	loopPos := c.WriteOp(bytecode.OpLoop, 4)
	c.WriteU16(0, 4) // patched below
	loopOperandEnd := loopPos + 3

	exitTarget := len(c.Code)
	c.WriteOp(bytecode.OpHalt, 5)

	patchU16(c, jumpIfFalsePos+1, uint16(exitTarget-exitOperandEnd))
	patchU16(c, loopPos+1, uint16(loopOperandEnd-loopStart))

	out, _ := runChunk(t, c)
	assert.Equal(t, "0\n1\n2\n", out.sb.String())
}

func patchU16(c *bytecode.Chunk, offset int, v uint16) {
	c.Code[offset] = byte(v)
	c.Code[offset+1] = byte(v >> 8)
}

// Function definition and call: add(2,3) == 5.
func TestFunctionCall(t *testing.T) {
	c := newTestChunk()
	aIdx := c.InternString("a")
	bIdx := c.InternString("b")
	two := c.AddConstant(bytecode.IntVal(2))
	three := c.AddConstant(bytecode.IntVal(3))

	addFuncIdx := c.AddFunction(bytecode.FunctionInfo{
		Name:  "add",
		Arity: 2,
		Params: []bytecode.Param{
			{Name: "a", Type: bytecode.TInteger},
			{Name: "b", Type: bytecode.TInteger},
		},
	})

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(two, 1)
	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(three, 1)
	c.WriteOp(bytecode.OpCall, 1)
	c.WriteU16(addFuncIdx, 1)
	c.WriteByte(2, 1)
	c.WriteOp(bytecode.OpPrint, 1)
	c.WriteOp(bytecode.OpHalt, 1)

	bodyStart := len(c.Code)
	c.WriteOp(bytecode.OpLoadVar, 2)
	c.WriteU16(aIdx, 2)
	c.WriteOp(bytecode.OpLoadVar, 2)
	c.WriteU16(bIdx, 2)
	c.WriteOp(bytecode.OpAdd, 2)
	c.WriteOp(bytecode.OpReturn, 2)
	bodyLen := len(c.Code) - bodyStart

	c.Functions[addFuncIdx].Start = bodyStart
	c.Functions[addFuncIdx].Length = bodyLen

	out, _ := runChunk(t, c)
	assert.Equal(t, "5\n", out.sb.String())
}

// Closure capture: make(7) returns a closure over n, calling it prints 7.
func TestClosureCapture(t *testing.T) {
	c := newTestChunk()
	nIdx := c.InternString("n")
	fIdx := c.InternString("f")
	seven := c.AddConstant(bytecode.IntVal(7))

	innerFuncIdx := c.AddFunction(bytecode.FunctionInfo{Name: "inner", CaptureNames: []string{"n"}})
	makeFuncIdx := c.AddFunction(bytecode.FunctionInfo{
		Name:  "make",
		Arity: 1,
		Params: []bytecode.Param{{Name: "n", Type: bytecode.TInteger}},
	})

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(seven, 1)
	c.WriteOp(bytecode.OpCall, 1)
	c.WriteU16(makeFuncIdx, 1)
	c.WriteByte(1, 1)
	c.WriteOp(bytecode.OpDeclareVar, 1)
	c.WriteU16(fIdx, 1)
	c.WriteByte(byte(bytecode.TClosure), 1)

	c.WriteOp(bytecode.OpLoadVar, 2)
	c.WriteU16(fIdx, 2)
	c.WriteOp(bytecode.OpCallClosure, 2)
	c.WriteByte(0, 2)
	c.WriteOp(bytecode.OpPrint, 2)
	c.WriteOp(bytecode.OpHalt, 2)

	innerStart := len(c.Code)
	c.WriteOp(bytecode.OpLoadCapture, 3)
	c.WriteU16(0, 3)
	c.WriteOp(bytecode.OpReturn, 3)
	innerLen := len(c.Code) - innerStart
	c.Functions[innerFuncIdx].Start = innerStart
	c.Functions[innerFuncIdx].Length = innerLen

	makeStart := len(c.Code)
	c.WriteOp(bytecode.OpLoadVar, 4)
	c.WriteU16(nIdx, 4)
	c.WriteOp(bytecode.OpMakeClosure, 4)
	c.WriteU16(innerFuncIdx, 4)
	c.WriteByte(1, 4)
	c.WriteOp(bytecode.OpReturn, 4)
	makeLen := len(c.Code) - makeStart
	c.Functions[makeFuncIdx].Start = makeStart
	c.Functions[makeFuncIdx].Length = makeLen

	out, _ := runChunk(t, c)
	assert.Equal(t, "7\n", out.sb.String())
}

// A throw inside a try block is caught and printed.
func TestTryThrowCatch(t *testing.T) {
	c := newTestChunk()
	eIdx := c.InternString("e")
	boom := c.AddConstant(bytecode.StringVal("boom"))

	tryBeginPos := c.WriteOp(bytecode.OpTryBegin, 1)
	c.WriteU16(0, 1) // patched below
	tryOperandEnd := tryBeginPos + 3

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(boom, 1)
	c.WriteOp(bytecode.OpThrow, 1)
	c.WriteOp(bytecode.OpTryEnd, 1)

	jumpPastPos := c.WriteOp(bytecode.OpJump, 1)
	c.WriteU16(0, 1) // patched below
	jumpPastOperandEnd := jumpPastPos + 3

	handlerStart := len(c.Code)
	c.WriteOp(bytecode.OpCatch, 2)
	c.WriteU16(eIdx, 2)
	c.WriteOp(bytecode.OpLoadVar, 2)
	c.WriteU16(eIdx, 2)
	c.WriteOp(bytecode.OpPrint, 2)
	handlerEnd := len(c.Code)

	c.WriteOp(bytecode.OpHalt, 3)

	patchU16(c, tryBeginPos+1, uint16(handlerStart-tryOperandEnd))
	patchU16(c, jumpPastPos+1, uint16(handlerEnd-jumpPastOperandEnd))

	out, in := runChunk(t, c)
	assert.Equal(t, "boom\n", out.sb.String())
	assert.Equal(t, 0, in.Stack().Len())
}

// Map construction preserves insertion order through MapKeys.
func TestMapInsertionOrder(t *testing.T) {
	c := newTestChunk()
	a := c.AddConstant(bytecode.StringVal("a"))
	b := c.AddConstant(bytecode.StringVal("b"))
	one := c.AddConstant(bytecode.IntVal(1))
	two := c.AddConstant(bytecode.IntVal(2))

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(a, 1)
	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(one, 1)
	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(b, 1)
	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(two, 1)
	c.WriteOp(bytecode.OpMakeMap, 1)
	c.WriteU16(2, 1)
	c.WriteOp(bytecode.OpMapKeys, 1)
	c.WriteOp(bytecode.OpHalt, 1)

	_, in := runChunk(t, c)
	top, err := in.Stack().Peek()
	require.NoError(t, err)
	require.Equal(t, bytecode.TArray, top.Type)
	keys := top.AsArray()
	require.Len(t, keys, 2)
	assert.Equal(t, "a", keys[0].AsString())
	assert.Equal(t, "b", keys[1].AsString())
}

// CallClosure pops its callee off the top, so arguments sit under it:
// calling a one-argument closure binds the argument, not the callee.
func TestCallClosureWithArguments(t *testing.T) {
	c := newTestChunk()
	mIdx := c.InternString("m")
	fIdx := c.InternString("f")
	seven := c.AddConstant(bytecode.IntVal(7))
	five := c.AddConstant(bytecode.IntVal(5))

	innerFuncIdx := c.AddFunction(bytecode.FunctionInfo{
		Name:         "inner",
		Arity:        1,
		Params:       []bytecode.Param{{Name: "m", Type: bytecode.TInteger}},
		CaptureNames: []string{"n"},
	})

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(seven, 1)
	c.WriteOp(bytecode.OpMakeClosure, 1)
	c.WriteU16(innerFuncIdx, 1)
	c.WriteByte(1, 1)
	c.WriteOp(bytecode.OpDeclareVar, 1)
	c.WriteU16(fIdx, 1)
	c.WriteByte(byte(bytecode.TClosure), 1)

	c.WriteOp(bytecode.OpConst, 2)
	c.WriteU16(five, 2)
	c.WriteOp(bytecode.OpLoadVar, 2)
	c.WriteU16(fIdx, 2)
	c.WriteOp(bytecode.OpCallClosure, 2)
	c.WriteByte(1, 2)
	c.WriteOp(bytecode.OpPrint, 2)
	c.WriteOp(bytecode.OpHalt, 2)

	innerStart := len(c.Code)
	c.WriteOp(bytecode.OpLoadCapture, 3)
	c.WriteU16(0, 3)
	c.WriteOp(bytecode.OpLoadVar, 3)
	c.WriteU16(mIdx, 3)
	c.WriteOp(bytecode.OpAdd, 3)
	c.WriteOp(bytecode.OpReturn, 3)
	c.Functions[innerFuncIdx].Start = innerStart
	c.Functions[innerFuncIdx].Length = len(c.Code) - innerStart

	out, in := runChunk(t, c)
	assert.Equal(t, "12\n", out.sb.String())
	assert.Equal(t, 0, in.Stack().Len())
}

// A captured local is snapshotted by value at MakeClosure time;
// later mutation of the outer local does not change what the closure sees.
func TestCaptureIsByValueSnapshot(t *testing.T) {
	c := newTestChunk()
	nIdx := c.InternString("n")
	cIdx := c.InternString("c")
	ten := c.AddConstant(bytecode.IntVal(10))
	twenty := c.AddConstant(bytecode.IntVal(20))

	dummyFuncIdx := c.AddFunction(bytecode.FunctionInfo{Name: "dummy", CaptureNames: []string{"n"}})

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(ten, 1)
	c.WriteOp(bytecode.OpDeclareVar, 1)
	c.WriteU16(nIdx, 1)
	c.WriteByte(byte(bytecode.TInteger), 1)

	c.WriteOp(bytecode.OpLoadVar, 2)
	c.WriteU16(nIdx, 2)
	c.WriteOp(bytecode.OpMakeClosure, 2)
	c.WriteU16(dummyFuncIdx, 2)
	c.WriteByte(1, 2)
	c.WriteOp(bytecode.OpDeclareVar, 2)
	c.WriteU16(cIdx, 2)
	c.WriteByte(byte(bytecode.TClosure), 2)

	c.WriteOp(bytecode.OpConst, 3)
	c.WriteU16(twenty, 3)
	c.WriteOp(bytecode.OpStoreVar, 3)
	c.WriteU16(nIdx, 3)

	c.WriteOp(bytecode.OpHalt, 4)

	_, in := runChunk(t, c)
	frame := in.ctx.CurrentFrame()
	require.NotNil(t, frame)

	nVar, ok := frame.Locals.Get("n")
	require.True(t, ok)
	assert.Equal(t, int64(20), nVar.Value.AsInt())

	cVar, ok := frame.Locals.Get("c")
	require.True(t, ok)
	assert.Equal(t, int64(10), cVar.Value.AsClosure().Captures[0].AsInt())
}

// A name declared in a function's local scope is not visible
// to its caller after Return.
func TestScopeEncapsulationAfterReturn(t *testing.T) {
	c := newTestChunk()
	localIdx := c.InternString("local")
	five := c.AddConstant(bytecode.IntVal(5))

	fnIdx := c.AddFunction(bytecode.FunctionInfo{Name: "f"})

	c.WriteOp(bytecode.OpCall, 1)
	c.WriteU16(fnIdx, 1)
	c.WriteByte(0, 1)
	c.WriteOp(bytecode.OpPop, 1)
	c.WriteOp(bytecode.OpHalt, 1)

	bodyStart := len(c.Code)
	c.WriteOp(bytecode.OpConst, 2)
	c.WriteU16(five, 2)
	c.WriteOp(bytecode.OpDeclareVar, 2)
	c.WriteU16(localIdx, 2)
	c.WriteByte(byte(bytecode.TInteger), 2)
	c.WriteOp(bytecode.OpNull, 2)
	c.WriteOp(bytecode.OpReturn, 2)
	bodyLen := len(c.Code) - bodyStart
	c.Functions[fnIdx].Start = bodyStart
	c.Functions[fnIdx].Length = bodyLen

	_, in := runChunk(t, c)
	frame := in.ctx.CurrentFrame()
	require.NotNil(t, frame)
	_, ok := frame.Locals.Get("local")
	assert.False(t, ok)
	assert.Equal(t, 0, in.Stack().Len())
}

func TestDivisionByZeroIsFatal(t *testing.T) {
	c := newTestChunk()
	ten := c.AddConstant(bytecode.IntVal(10))
	zero := c.AddConstant(bytecode.IntVal(0))

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(ten, 1)
	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(zero, 1)
	c.WriteOp(bytecode.OpDiv, 1)
	c.WriteOp(bytecode.OpHalt, 1)

	out := &memOut{}
	ctx := NewContext([]*bytecode.Chunk{c}, out, &memIn{})
	in := NewInterpreter(ctx)
	err := in.Run(0)
	require.Error(t, err)
	rtErr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrDivisionByZero, rtErr.Kind)
}

func TestInputParsesDeclaredType(t *testing.T) {
	c := newTestChunk()
	nIdx := c.InternString("n")

	c.WriteOp(bytecode.OpNull, 1)
	c.WriteOp(bytecode.OpDeclareVar, 1)
	c.WriteU16(nIdx, 1)
	c.WriteByte(byte(bytecode.TInteger), 1)
	c.WriteOp(bytecode.OpInput, 1)
	c.WriteU16(nIdx, 1)
	c.WriteByte(byte(bytecode.TInteger), 1)
	c.WriteOp(bytecode.OpLoadVar, 2)
	c.WriteU16(nIdx, 2)
	c.WriteOp(bytecode.OpPrint, 2)
	c.WriteOp(bytecode.OpHalt, 3)

	out := &memOut{}
	ctx := NewContext([]*bytecode.Chunk{c}, out, &memIn{lines: []string{"42"}})
	in := NewInterpreter(ctx)
	require.NoError(t, in.Run(0))
	assert.Equal(t, "⚓ 42\n", out.sb.String())
}

func TestInputRejectsUnparsableInteger(t *testing.T) {
	c := newTestChunk()
	nIdx := c.InternString("n")

	c.WriteOp(bytecode.OpNull, 1)
	c.WriteOp(bytecode.OpDeclareVar, 1)
	c.WriteU16(nIdx, 1)
	c.WriteByte(byte(bytecode.TInteger), 1)
	c.WriteOp(bytecode.OpInput, 1)
	c.WriteU16(nIdx, 1)
	c.WriteByte(byte(bytecode.TInteger), 1)
	c.WriteOp(bytecode.OpHalt, 2)

	ctx := NewContext([]*bytecode.Chunk{c}, &memOut{}, &memIn{lines: []string{"not a number"}})
	err := NewInterpreter(ctx).Run(0)
	require.Error(t, err)
	rtErr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidInput, rtErr.Kind)
}

func TestInterpolateSubstitutesByPosition(t *testing.T) {
	c := newTestChunk()
	tmplIdx := c.InternString("{0} and {1}")
	a := c.AddConstant(bytecode.StringVal("salt"))
	b := c.AddConstant(bytecode.IntVal(7))

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(a, 1)
	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(b, 1)
	c.WriteOp(bytecode.OpInterpolate, 1)
	c.WriteU16(tmplIdx, 1)
	c.WriteByte(2, 1)
	c.WriteOp(bytecode.OpPrint, 1)
	c.WriteOp(bytecode.OpHalt, 1)

	out, _ := runChunk(t, c)
	assert.Equal(t, "salt and 7\n", out.sb.String())
}

func TestConvertRealToIntegerTruncatesTowardZero(t *testing.T) {
	c := newTestChunk()
	v := c.AddConstant(bytecode.RealVal(-2.9))

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(v, 1)
	c.WriteOp(bytecode.OpConvert, 1)
	c.WriteByte(byte(bytecode.TInteger), 1)
	c.WriteOp(bytecode.OpPrint, 1)
	c.WriteOp(bytecode.OpHalt, 1)

	out, _ := runChunk(t, c)
	assert.Equal(t, "-2\n", out.sb.String())
}

func TestNegativeArrayIndexWrapsAround(t *testing.T) {
	c := newTestChunk()
	one := c.AddConstant(bytecode.IntVal(10))
	two := c.AddConstant(bytecode.IntVal(20))
	negOne := c.AddConstant(bytecode.IntVal(-1))

	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(one, 1)
	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(two, 1)
	c.WriteOp(bytecode.OpMakeArray, 1)
	c.WriteU16(2, 1)
	c.WriteOp(bytecode.OpConst, 1)
	c.WriteU16(negOne, 1)
	c.WriteOp(bytecode.OpArrayGet, 1)
	c.WriteOp(bytecode.OpPrint, 1)
	c.WriteOp(bytecode.OpHalt, 1)

	out, _ := runChunk(t, c)
	assert.Equal(t, "20\n", out.sb.String())
}

func TestUnknownOpcodeIsRejected(t *testing.T) {
	c := newTestChunk()
	c.WriteByte(0x99, 1) // never a defined opcode

	out := &memOut{}
	ctx := NewContext([]*bytecode.Chunk{c}, out, &memIn{})
	in := NewInterpreter(ctx)
	err := in.Run(0)
	require.Error(t, err)
	rtErr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrUnknownOpcode, rtErr.Kind)
}
