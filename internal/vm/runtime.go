package vm

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/sxnnyside/obfusku/internal/bytecode"
)

// Interpreter is the single-threaded fetch-decode-execute loop over one
// Context. It never revisits source text; it only ever sees bytecode.
type Interpreter struct {
	ctx   *Context
	stack *Stack
	Debug bool
}

// NewInterpreter builds an Interpreter over ctx with a fresh operand
// stack.
func NewInterpreter(ctx *Context) *Interpreter {
	return &Interpreter{ctx: ctx, stack: NewStack(0)}
}

// Stack exposes the operand stack, mostly for tests asserting the
// empty-stack-at-halt discipline.
func (in *Interpreter) Stack() *Stack { return in.stack }

// Run executes entryChunk from offset 0 until Halt, an unhandled
// exception, or a fatal RuntimeError.
func (in *Interpreter) Run(entryChunk int) error {
	// The top-level frame's declarations are globals, not locals scoped to
	// a throwaway frame: giving it ctx.Global directly as its Locals means
	// function bodies resolve top-level names through the same "locals,
	// then globals" walk as every other frame.
	frame := &CallFrame{ChunkIndex: entryChunk, Name: "script", Locals: in.ctx.Global}
	if err := in.ctx.PushFrame(frame); err != nil {
		return err
	}

	for {
		if in.ctx.Halted {
			return nil
		}
		f := in.ctx.CurrentFrame()
		if f == nil {
			return &RuntimeError{Kind: ErrInvalidBytecode, Detail: "no active frame"}
		}
		chunk := in.ctx.GetChunk(f.ChunkIndex)
		if chunk == nil {
			return &RuntimeError{Kind: ErrInvalidBytecode, Detail: "invalid chunk index"}
		}
		if f.IP >= len(chunk.Code) {
			if _, err := in.ctx.PopFrame(); err != nil {
				return err
			}
			if in.ctx.CurrentFrame() == nil {
				return &RuntimeError{Kind: ErrInvalidBytecode, Detail: "frame stack exhausted without Halt"}
			}
			continue
		}

		opByte := chunk.Code[f.IP]
		ip := f.IP
		f.IP++
		op, ok := bytecode.ValidOpCode(opByte)
		if !ok {
			return &RuntimeError{Kind: ErrUnknownOpcode, Detail: fmt.Sprintf("0x%02X", opByte)}
		}

		if in.Debug {
			fmt.Fprintf(os.Stderr, "%04d %-14s stack=%d\n", ip, op.Name(), in.stack.Len())
		}

		if err := in.execute(op, f, chunk); err != nil {
			return err
		}
	}
}

func (in *Interpreter) readByte(f *CallFrame, chunk *bytecode.Chunk) (byte, error) {
	if f.IP >= len(chunk.Code) {
		return 0, &RuntimeError{Kind: ErrInvalidBytecode, Detail: "operand read past end of code"}
	}
	b := chunk.Code[f.IP]
	f.IP++
	return b, nil
}

func (in *Interpreter) readU16(f *CallFrame, chunk *bytecode.Chunk) (uint16, error) {
	lo, err := in.readByte(f, chunk)
	if err != nil {
		return 0, err
	}
	hi, err := in.readByte(f, chunk)
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

func (in *Interpreter) stringAt(chunk *bytecode.Chunk, idx uint16) (string, error) {
	if int(idx) >= len(chunk.Strings) {
		return "", &RuntimeError{Kind: ErrInvalidBytecode, Detail: "string index out of range"}
	}
	return chunk.Strings[idx], nil
}

func (in *Interpreter) execute(op bytecode.OpCode, f *CallFrame, chunk *bytecode.Chunk) error {
	switch op {

	// Stack
	case bytecode.OpConst:
		idx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		if int(idx) >= len(chunk.Constants) {
			return &RuntimeError{Kind: ErrInvalidBytecode, Detail: "constant index out of range"}
		}
		return in.stack.Push(chunk.Constants[idx])
	case bytecode.OpNull:
		return in.stack.Push(bytecode.Null())
	case bytecode.OpTrue:
		return in.stack.Push(bytecode.BoolVal(true))
	case bytecode.OpFalse:
		return in.stack.Push(bytecode.BoolVal(false))
	case bytecode.OpPop:
		_, err := in.stack.Pop()
		return err
	case bytecode.OpDup:
		return in.stack.Dup()
	case bytecode.OpSwap:
		return in.stack.Swap()
	case bytecode.OpRot:
		return in.stack.Rotate()

	// Variables
	case bytecode.OpDeclareVar:
		nameIdx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		typeByte, err := in.readByte(f, chunk)
		if err != nil {
			return err
		}
		varType, ok := bytecode.ValidValueType(typeByte)
		if !ok {
			return &RuntimeError{Kind: ErrInvalidBytecode, Detail: "unknown value type byte"}
		}
		name, err := in.stringAt(chunk, nameIdx)
		if err != nil {
			return err
		}
		value, err := in.stack.Pop()
		if err != nil {
			return err
		}
		optional := value.Type == bytecode.TNull
		return in.ctx.DeclareVariable(name, value, varType, optional)
	case bytecode.OpLoadVar:
		nameIdx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		name, err := in.stringAt(chunk, nameIdx)
		if err != nil {
			return err
		}
		v, err := in.ctx.GetVariable(name)
		if err != nil {
			return err
		}
		return in.stack.Push(v)
	case bytecode.OpStoreVar:
		nameIdx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		name, err := in.stringAt(chunk, nameIdx)
		if err != nil {
			return err
		}
		value, err := in.stack.Pop()
		if err != nil {
			return err
		}
		return in.ctx.SetVariable(name, value)
	case bytecode.OpLoadGlobal:
		nameIdx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		name, err := in.stringAt(chunk, nameIdx)
		if err != nil {
			return err
		}
		v, err := in.ctx.GetGlobal(name)
		if err != nil {
			return err
		}
		return in.stack.Push(v)
	case bytecode.OpStoreGlobal:
		nameIdx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		name, err := in.stringAt(chunk, nameIdx)
		if err != nil {
			return err
		}
		value, err := in.stack.Pop()
		if err != nil {
			return err
		}
		return in.ctx.SetGlobal(name, value)

	// Arithmetic
	case bytecode.OpAdd:
		return in.binaryArith(add)
	case bytecode.OpSub:
		return in.binaryArith(subtract)
	case bytecode.OpMul:
		return in.binaryArith(multiply)
	case bytecode.OpDiv:
		return in.binaryArith(divide)
	case bytecode.OpMod:
		return in.binaryArith(modulo)
	case bytecode.OpPow:
		return in.binaryArith(power)
	case bytecode.OpNeg:
		a, err := in.stack.Pop()
		if err != nil {
			return err
		}
		v, err := negate(a)
		if err != nil {
			return err
		}
		return in.stack.Push(v)
	case bytecode.OpInc:
		return in.incDec(1)
	case bytecode.OpDec:
		return in.incDec(-1)

	// Comparison
	case bytecode.OpEq:
		b, a, err := in.pop2()
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.BoolVal(a.Equals(b)))
	case bytecode.OpNe:
		b, a, err := in.pop2()
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.BoolVal(!a.Equals(b)))
	case bytecode.OpLt:
		b, a, err := in.pop2()
		if err != nil {
			return err
		}
		r, err := compareLess(a, b)
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.BoolVal(r))
	case bytecode.OpGt:
		b, a, err := in.pop2()
		if err != nil {
			return err
		}
		r, err := compareLess(b, a)
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.BoolVal(r))
	case bytecode.OpLe:
		b, a, err := in.pop2()
		if err != nil {
			return err
		}
		r, err := compareLess(b, a)
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.BoolVal(!r))
	case bytecode.OpGe:
		b, a, err := in.pop2()
		if err != nil {
			return err
		}
		r, err := compareLess(a, b)
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.BoolVal(!r))

	// Logical
	case bytecode.OpAnd:
		b, a, err := in.pop2()
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.BoolVal(a.IsTruthy() && b.IsTruthy()))
	case bytecode.OpOr:
		b, a, err := in.pop2()
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.BoolVal(a.IsTruthy() || b.IsTruthy()))
	case bytecode.OpNot:
		a, err := in.stack.Pop()
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.BoolVal(!a.IsTruthy()))
	case bytecode.OpXor:
		b, a, err := in.pop2()
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.BoolVal(a.IsTruthy() != b.IsTruthy()))

	// Control flow
	case bytecode.OpJump:
		off, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		f.IP += int(off)
		return nil
	case bytecode.OpJumpIfFalse:
		off, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		cond, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if !cond.IsTruthy() {
			f.IP += int(off)
		}
		return nil
	case bytecode.OpJumpIfTrue:
		off, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		cond, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if cond.IsTruthy() {
			f.IP += int(off)
		}
		return nil
	case bytecode.OpLoop:
		off, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		f.IP -= int(off)
		return nil
	case bytecode.OpBreak:
		// Format-reserved: the compiler lowers break/continue to patched
		// Jump/Loop instructions, so these only appear in hand-assembled
		// chunks. The actual control transfer is the jump that follows.
		if !in.ctx.InLoop() {
			return &RuntimeError{Kind: ErrBreakOutsideLoop}
		}
		return nil
	case bytecode.OpContinue:
		if !in.ctx.InLoop() {
			return &RuntimeError{Kind: ErrContinueOutsideLoop}
		}
		return nil

	// Functions
	case bytecode.OpCall:
		funcIdx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		arity, err := in.readByte(f, chunk)
		if err != nil {
			return err
		}
		if int(funcIdx) >= len(chunk.Functions) {
			return &RuntimeError{Kind: ErrInvalidBytecode, Detail: "function index out of range"}
		}
		return in.call(chunk.Functions[funcIdx], f.ChunkIndex, int(arity), nil)
	case bytecode.OpReturn:
		result, err := in.stack.Pop()
		if err != nil {
			result = bytecode.Null()
		}
		if _, err := in.ctx.PopFrame(); err != nil {
			return err
		}
		return in.stack.Push(result)
	case bytecode.OpLoadFunc:
		idx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.FunctionVal(int(idx)))
	case bytecode.OpCallClosure:
		arity, err := in.readByte(f, chunk)
		if err != nil {
			return err
		}
		callee, err := in.stack.Pop()
		if err != nil {
			return err
		}
		switch callee.Type {
		case bytecode.TClosure:
			c := callee.AsClosure()
			if c.FuncIndex >= len(chunk.Functions) {
				return &RuntimeError{Kind: ErrInvalidBytecode, Detail: "closure function index out of range"}
			}
			return in.call(chunk.Functions[c.FuncIndex], f.ChunkIndex, int(arity), c)
		case bytecode.TFunction:
			idx := callee.AsIndex()
			if idx >= len(chunk.Functions) {
				return &RuntimeError{Kind: ErrInvalidBytecode, Detail: "function index out of range"}
			}
			return in.call(chunk.Functions[idx], f.ChunkIndex, int(arity), nil)
		default:
			return typeMismatch("closure or function", callee.Type.String())
		}

	// Arrays
	case bytecode.OpMakeArray:
		count, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		elems, err := in.stack.PopN(int(count))
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.ArrayVal(elems))
	case bytecode.OpArrayGet:
		index, err := in.stack.Pop()
		if err != nil {
			return err
		}
		arr, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if arr.Type != bytecode.TArray || index.Type != bytecode.TInteger {
			return typeMismatch("array and integer index", arr.Type.String()+" and "+index.Type.String())
		}
		elems := arr.AsArray()
		i, err := resolveIndex(index.AsInt(), len(elems))
		if err != nil {
			return err
		}
		return in.stack.Push(elems[i])
	case bytecode.OpArraySet:
		value, err := in.stack.Pop()
		if err != nil {
			return err
		}
		index, err := in.stack.Pop()
		if err != nil {
			return err
		}
		arr, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if arr.Type != bytecode.TArray || index.Type != bytecode.TInteger {
			return typeMismatch("array and integer index", arr.Type.String()+" and "+index.Type.String())
		}
		elems := append([]bytecode.Value(nil), arr.AsArray()...)
		i, err := resolveIndex(index.AsInt(), len(elems))
		if err != nil {
			return err
		}
		elems[i] = value
		return in.stack.Push(bytecode.ArrayVal(elems))
	case bytecode.OpArrayLen:
		v, err := in.stack.Pop()
		if err != nil {
			return err
		}
		switch v.Type {
		case bytecode.TArray:
			return in.stack.Push(bytecode.IntVal(int64(len(v.AsArray()))))
		case bytecode.TString:
			return in.stack.Push(bytecode.IntVal(int64(len([]rune(v.AsString())))))
		default:
			return typeMismatch("array or string", v.Type.String())
		}
	case bytecode.OpArrayPush:
		value, err := in.stack.Pop()
		if err != nil {
			return err
		}
		arr, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if arr.Type != bytecode.TArray {
			return typeMismatch("array", arr.Type.String())
		}
		elems := append(append([]bytecode.Value(nil), arr.AsArray()...), value)
		return in.stack.Push(bytecode.ArrayVal(elems))

	// Maps
	case bytecode.OpMakeMap:
		count, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		// Pairs were pushed key0, value0, key1, value1, ... in source
		// order; PopN already restores that order (oldest-pushed-first).
		pairs, err := in.stack.PopN(int(count) * 2)
		if err != nil {
			return err
		}
		m := bytecode.NewMapValue(int(count))
		for i := 0; i < len(pairs); i += 2 {
			m.Set(pairs[i], pairs[i+1])
		}
		return in.stack.Push(bytecode.MapVal(m))
	case bytecode.OpMapGet:
		key, err := in.stack.Pop()
		if err != nil {
			return err
		}
		mv, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if mv.Type != bytecode.TMap {
			return typeMismatch("map", mv.Type.String())
		}
		v, _ := mv.AsMap().Get(key)
		return in.stack.Push(v)
	case bytecode.OpMapSet:
		value, err := in.stack.Pop()
		if err != nil {
			return err
		}
		key, err := in.stack.Pop()
		if err != nil {
			return err
		}
		mv, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if mv.Type != bytecode.TMap {
			return typeMismatch("map", mv.Type.String())
		}
		mv.AsMap().Set(key, value)
		return in.stack.Push(mv)
	case bytecode.OpMapHas:
		key, err := in.stack.Pop()
		if err != nil {
			return err
		}
		mv, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if mv.Type != bytecode.TMap {
			return typeMismatch("map", mv.Type.String())
		}
		return in.stack.Push(bytecode.BoolVal(mv.AsMap().Has(key)))
	case bytecode.OpMapRemove:
		key, err := in.stack.Pop()
		if err != nil {
			return err
		}
		mv, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if mv.Type != bytecode.TMap {
			return typeMismatch("map", mv.Type.String())
		}
		mv.AsMap().Remove(key)
		return in.stack.Push(mv)
	case bytecode.OpMapKeys:
		mv, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if mv.Type != bytecode.TMap {
			return typeMismatch("map", mv.Type.String())
		}
		return in.stack.Push(bytecode.ArrayVal(mv.AsMap().Keys()))
	case bytecode.OpMapValues:
		mv, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if mv.Type != bytecode.TMap {
			return typeMismatch("map", mv.Type.String())
		}
		return in.stack.Push(bytecode.ArrayVal(mv.AsMap().Values()))

	// Closures
	case bytecode.OpMakeClosure:
		funcIdx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		captureCount, err := in.readByte(f, chunk)
		if err != nil {
			return err
		}
		captures, err := in.stack.PopN(int(captureCount))
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.ClosureVal(&bytecode.Closure{FuncIndex: int(funcIdx), Captures: captures}))
	case bytecode.OpLoadCapture:
		idx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		if f.Closure == nil {
			return typeMismatch("closure context", "no closure in frame")
		}
		if int(idx) >= len(f.Closure.Captures) {
			return &RuntimeError{Kind: ErrInvalidBytecode, Detail: "capture index out of range"}
		}
		return in.stack.Push(f.Closure.Captures[idx])
	case bytecode.OpStoreCapture:
		idx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		value, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if f.Closure == nil {
			return typeMismatch("closure context", "no closure in frame")
		}
		if int(idx) >= len(f.Closure.Captures) {
			return &RuntimeError{Kind: ErrInvalidBytecode, Detail: "capture index out of range"}
		}
		f.Closure.Captures[idx] = value
		return nil

	// Match
	case bytecode.OpMatchBegin:
		_, err := in.readByte(f, chunk)
		return err
	case bytecode.OpMatchArm:
		off, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		pattern, err := in.stack.Pop()
		if err != nil {
			return err
		}
		value, err := in.stack.Peek()
		if err != nil {
			return err
		}
		if !value.Equals(pattern) {
			f.IP += int(off)
		}
		return nil
	case bytecode.OpMatchEnd:
		_, err := in.stack.Pop()
		return err
	case bytecode.OpMatchWildcard:
		return nil
	case bytecode.OpMatchBind:
		nameIdx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		name, err := in.stringAt(chunk, nameIdx)
		if err != nil {
			return err
		}
		value, err := in.stack.Peek()
		if err != nil {
			return err
		}
		return in.ctx.DeclareVariable(name, value, bytecode.TNull, true)

	// Modules. The loader contract lives in internal/modules; at the
	// opcode layer Import and Export skip their operands, and LoadModule
	// skips its operands and pushes Null.
	case bytecode.OpImport:
		_, err := in.readU16(f, chunk)
		return err
	case bytecode.OpExport:
		_, err := in.readU16(f, chunk)
		return err
	case bytecode.OpLoadModule:
		if _, err := in.readU16(f, chunk); err != nil {
			return err
		}
		if _, err := in.readU16(f, chunk); err != nil {
			return err
		}
		return in.stack.Push(bytecode.Null())

	// Exceptions
	case bytecode.OpTryBegin:
		off, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		in.ctx.PushHandler(&ExceptionHandler{
			HandlerIP:  f.IP + int(off),
			StackDepth: in.stack.Len(),
			FrameDepth: len(in.ctx.Frames),
			ChunkIndex: f.ChunkIndex,
		})
		return nil
	case bytecode.OpTryEnd:
		in.ctx.PopHandler()
		return nil
	case bytecode.OpThrow:
		exception, err := in.stack.Pop()
		if err != nil {
			return err
		}
		handler := in.ctx.PopHandler()
		if handler == nil {
			return &RuntimeError{Kind: ErrUnhandledException, Detail: exception.Display()}
		}
		in.stack.Truncate(handler.StackDepth)
		for len(in.ctx.Frames) > handler.FrameDepth {
			if _, err := in.ctx.PopFrame(); err != nil {
				return err
			}
		}
		in.ctx.CurrentException = exception
		if cf := in.ctx.CurrentFrame(); cf != nil {
			cf.IP = handler.HandlerIP
		}
		return nil
	case bytecode.OpCatch:
		nameIdx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		name, err := in.stringAt(chunk, nameIdx)
		if err != nil {
			return err
		}
		exception := in.ctx.CurrentException
		in.ctx.CurrentException = bytecode.Null()
		return in.ctx.DeclareVariable(name, exception, bytecode.TNull, true)
	case bytecode.OpFinally:
		return nil

	// I/O
	case bytecode.OpPrint:
		v, err := in.stack.Pop()
		if err != nil {
			return err
		}
		_, err = in.ctx.Stdout.WriteString(v.Display() + "\n")
		return ioErr(err)
	case bytecode.OpPrintLit:
		idx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		s, err := in.stringAt(chunk, idx)
		if err != nil {
			return err
		}
		_, err = in.ctx.Stdout.WriteString(s + "\n")
		return ioErr(err)
	case bytecode.OpInput:
		nameIdx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		typeByte, err := in.readByte(f, chunk)
		if err != nil {
			return err
		}
		varType, ok := bytecode.ValidValueType(typeByte)
		if !ok {
			return &RuntimeError{Kind: ErrInvalidBytecode, Detail: "unknown value type byte"}
		}
		name, err := in.stringAt(chunk, nameIdx)
		if err != nil {
			return err
		}
		if _, err := in.ctx.Stdout.WriteString("⚓ "); err != nil {
			return ioErr(err)
		}
		line, err := in.ctx.Stdin.ReadLine()
		if err != nil {
			return ioErr(err)
		}
		value, err := parseInput(strings.TrimSpace(line), varType)
		if err != nil {
			return err
		}
		return in.ctx.SetVariable(name, value)
	case bytecode.OpDebug:
		v, err := in.stack.Peek()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "⌥ DEBUG: %s\n", v.Display())
		return nil

	// Special
	case bytecode.OpLoadAcc:
		return in.stack.Push(bytecode.IntVal(in.ctx.Accumulator))
	case bytecode.OpStoreAcc:
		v, err := in.stack.Pop()
		if err != nil {
			return err
		}
		if v.Type != bytecode.TInteger {
			return typeMismatch("integer", v.Type.String())
		}
		in.ctx.Accumulator = v.AsInt()
		return nil
	case bytecode.OpIncAcc:
		in.ctx.Accumulator++
		return nil
	case bytecode.OpDecAcc:
		in.ctx.Accumulator--
		return nil
	case bytecode.OpConcat:
		b, a, err := in.pop2()
		if err != nil {
			return err
		}
		return in.stack.Push(bytecode.StringVal(a.Display() + b.Display()))
	case bytecode.OpConvert:
		typeByte, err := in.readByte(f, chunk)
		if err != nil {
			return err
		}
		target, ok := bytecode.ValidValueType(typeByte)
		if !ok {
			return &RuntimeError{Kind: ErrInvalidBytecode, Detail: "unknown value type byte"}
		}
		v, err := in.stack.Pop()
		if err != nil {
			return err
		}
		converted, err := convertValue(v, target)
		if err != nil {
			return err
		}
		return in.stack.Push(converted)
	case bytecode.OpInterpolate:
		strIdx, err := in.readU16(f, chunk)
		if err != nil {
			return err
		}
		varCount, err := in.readByte(f, chunk)
		if err != nil {
			return err
		}
		template, err := in.stringAt(chunk, strIdx)
		if err != nil {
			return err
		}
		values, err := in.stack.PopN(int(varCount))
		if err != nil {
			return err
		}
		result := template
		for i, v := range values {
			result = strings.ReplaceAll(result, fmt.Sprintf("{%d}", i), v.Display())
		}
		return in.stack.Push(bytecode.StringVal(result))
	case bytecode.OpNop:
		return nil
	case bytecode.OpHalt:
		in.ctx.Halted = true
		return nil
	}

	return &RuntimeError{Kind: ErrUnknownOpcode, Detail: op.Name()}
}

func ioErr(err error) error {
	if err == nil {
		return nil
	}
	return &RuntimeError{Kind: ErrIOError, Detail: err.Error()}
}

func (in *Interpreter) pop2() (b, a bytecode.Value, err error) {
	b, err = in.stack.Pop()
	if err != nil {
		return
	}
	a, err = in.stack.Pop()
	return
}

func (in *Interpreter) binaryArith(fn func(a, b bytecode.Value) (bytecode.Value, error)) error {
	b, a, err := in.pop2()
	if err != nil {
		return err
	}
	v, err := fn(a, b)
	if err != nil {
		return err
	}
	return in.stack.Push(v)
}

func (in *Interpreter) incDec(delta int64) error {
	a, err := in.stack.Pop()
	if err != nil {
		return err
	}
	switch a.Type {
	case bytecode.TInteger:
		r, ok := checkedAddI64(a.AsInt(), delta)
		if !ok {
			return &RuntimeError{Kind: ErrArithmeticOverflow}
		}
		return in.stack.Push(bytecode.IntVal(r))
	case bytecode.TReal:
		return in.stack.Push(bytecode.RealVal(a.AsReal() + float64(delta)))
	default:
		return typeMismatch("numeric", a.Type.String())
	}
}

func (in *Interpreter) call(fn bytecode.FunctionInfo, chunkIndex, arity int, closure *bytecode.Closure) error {
	args, err := in.stack.PopN(arity)
	if err != nil {
		return err
	}
	var frame *CallFrame
	if closure != nil {
		frame = NewCallFrameWithClosure(chunkIndex, in.stack.Len(), fn.Name, closure)
	} else {
		frame = NewCallFrame(chunkIndex, in.stack.Len(), fn.Name)
	}
	if err := in.ctx.PushFrame(frame); err != nil {
		return err
	}
	for i, p := range fn.Params {
		v := bytecode.Null()
		if i < len(args) {
			v = args[i]
		}
		if err := in.ctx.DeclareVariable(p.Name, v, p.Type, false); err != nil {
			return err
		}
	}
	frame.IP = fn.Start
	return nil
}

func resolveIndex(idx int64, length int) (int, error) {
	if idx < 0 {
		idx += int64(length)
	}
	if idx < 0 || idx >= int64(length) {
		return 0, &RuntimeError{Kind: ErrIndexOutOfBounds, Detail: fmt.Sprintf("index %d, length %d", idx, length)}
	}
	return int(idx), nil
}

func checkedAddI64(a, b int64) (int64, bool) {
	r := a + b
	if (b > 0 && r < a) || (b < 0 && r > a) {
		return 0, false
	}
	return r, true
}

func checkedSubI64(a, b int64) (int64, bool) {
	r := a - b
	if (b < 0 && r < a) || (b > 0 && r > a) {
		return 0, false
	}
	return r, true
}

func checkedMulI64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/b != a {
		return 0, false
	}
	return r, true
}

func add(a, b bytecode.Value) (bytecode.Value, error) {
	switch {
	case a.Type == bytecode.TInteger && b.Type == bytecode.TInteger:
		r, ok := checkedAddI64(a.AsInt(), b.AsInt())
		if !ok {
			return bytecode.Value{}, &RuntimeError{Kind: ErrArithmeticOverflow}
		}
		return bytecode.IntVal(r), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TReal:
		return bytecode.RealVal(a.AsReal() + b.AsReal()), nil
	case a.Type == bytecode.TInteger && b.Type == bytecode.TReal:
		return bytecode.RealVal(float64(a.AsInt()) + b.AsReal()), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TInteger:
		return bytecode.RealVal(a.AsReal() + float64(b.AsInt())), nil
	case a.Type == bytecode.TString && b.Type == bytecode.TString:
		return bytecode.StringVal(a.AsString() + b.AsString()), nil
	default:
		return bytecode.Value{}, typeMismatch("compatible types", a.Type.String()+" and "+b.Type.String())
	}
}

func subtract(a, b bytecode.Value) (bytecode.Value, error) {
	switch {
	case a.Type == bytecode.TInteger && b.Type == bytecode.TInteger:
		r, ok := checkedSubI64(a.AsInt(), b.AsInt())
		if !ok {
			return bytecode.Value{}, &RuntimeError{Kind: ErrArithmeticOverflow}
		}
		return bytecode.IntVal(r), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TReal:
		return bytecode.RealVal(a.AsReal() - b.AsReal()), nil
	case a.Type == bytecode.TInteger && b.Type == bytecode.TReal:
		return bytecode.RealVal(float64(a.AsInt()) - b.AsReal()), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TInteger:
		return bytecode.RealVal(a.AsReal() - float64(b.AsInt())), nil
	default:
		return bytecode.Value{}, typeMismatch("numeric types", a.Type.String()+" and "+b.Type.String())
	}
}

func multiply(a, b bytecode.Value) (bytecode.Value, error) {
	switch {
	case a.Type == bytecode.TInteger && b.Type == bytecode.TInteger:
		r, ok := checkedMulI64(a.AsInt(), b.AsInt())
		if !ok {
			return bytecode.Value{}, &RuntimeError{Kind: ErrArithmeticOverflow}
		}
		return bytecode.IntVal(r), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TReal:
		return bytecode.RealVal(a.AsReal() * b.AsReal()), nil
	case a.Type == bytecode.TInteger && b.Type == bytecode.TReal:
		return bytecode.RealVal(float64(a.AsInt()) * b.AsReal()), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TInteger:
		return bytecode.RealVal(a.AsReal() * float64(b.AsInt())), nil
	default:
		return bytecode.Value{}, typeMismatch("numeric types", a.Type.String()+" and "+b.Type.String())
	}
}

func divide(a, b bytecode.Value) (bytecode.Value, error) {
	switch {
	case a.Type == bytecode.TInteger && b.Type == bytecode.TInteger:
		if b.AsInt() == 0 {
			return bytecode.Value{}, &RuntimeError{Kind: ErrDivisionByZero}
		}
		return bytecode.IntVal(a.AsInt() / b.AsInt()), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TReal:
		if b.AsReal() == 0.0 {
			return bytecode.Value{}, &RuntimeError{Kind: ErrDivisionByZero}
		}
		return bytecode.RealVal(a.AsReal() / b.AsReal()), nil
	case a.Type == bytecode.TInteger && b.Type == bytecode.TReal:
		if b.AsReal() == 0.0 {
			return bytecode.Value{}, &RuntimeError{Kind: ErrDivisionByZero}
		}
		return bytecode.RealVal(float64(a.AsInt()) / b.AsReal()), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TInteger:
		if b.AsInt() == 0 {
			return bytecode.Value{}, &RuntimeError{Kind: ErrDivisionByZero}
		}
		return bytecode.RealVal(a.AsReal() / float64(b.AsInt())), nil
	default:
		return bytecode.Value{}, typeMismatch("numeric types", a.Type.String()+" and "+b.Type.String())
	}
}

func modulo(a, b bytecode.Value) (bytecode.Value, error) {
	switch {
	case a.Type == bytecode.TInteger && b.Type == bytecode.TInteger:
		if b.AsInt() == 0 {
			return bytecode.Value{}, &RuntimeError{Kind: ErrDivisionByZero}
		}
		return bytecode.IntVal(a.AsInt() % b.AsInt()), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TReal:
		if b.AsReal() == 0.0 {
			return bytecode.Value{}, &RuntimeError{Kind: ErrDivisionByZero}
		}
		return bytecode.RealVal(math.Mod(a.AsReal(), b.AsReal())), nil
	default:
		return bytecode.Value{}, typeMismatch("numeric types", a.Type.String()+" and "+b.Type.String())
	}
}

func power(a, b bytecode.Value) (bytecode.Value, error) {
	switch {
	case a.Type == bytecode.TInteger && b.Type == bytecode.TInteger:
		if b.AsInt() < 0 {
			return bytecode.RealVal(math.Pow(float64(a.AsInt()), float64(b.AsInt()))), nil
		}
		r, ok := checkedPowI64(a.AsInt(), b.AsInt())
		if !ok {
			return bytecode.Value{}, &RuntimeError{Kind: ErrArithmeticOverflow}
		}
		return bytecode.IntVal(r), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TReal:
		return bytecode.RealVal(math.Pow(a.AsReal(), b.AsReal())), nil
	case a.Type == bytecode.TInteger && b.Type == bytecode.TReal:
		return bytecode.RealVal(math.Pow(float64(a.AsInt()), b.AsReal())), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TInteger:
		return bytecode.RealVal(math.Pow(a.AsReal(), float64(b.AsInt()))), nil
	default:
		return bytecode.Value{}, typeMismatch("numeric types", a.Type.String()+" and "+b.Type.String())
	}
}

func checkedPowI64(base, exp int64) (int64, bool) {
	result := int64(1)
	for i := int64(0); i < exp; i++ {
		r, ok := checkedMulI64(result, base)
		if !ok {
			return 0, false
		}
		result = r
	}
	return result, true
}

func negate(a bytecode.Value) (bytecode.Value, error) {
	switch a.Type {
	case bytecode.TInteger:
		if a.AsInt() == math.MinInt64 {
			return bytecode.Value{}, &RuntimeError{Kind: ErrArithmeticOverflow}
		}
		return bytecode.IntVal(-a.AsInt()), nil
	case bytecode.TReal:
		return bytecode.RealVal(-a.AsReal()), nil
	default:
		return bytecode.Value{}, typeMismatch("numeric", a.Type.String())
	}
}

func compareLess(a, b bytecode.Value) (bool, error) {
	switch {
	case a.Type == bytecode.TInteger && b.Type == bytecode.TInteger:
		return a.AsInt() < b.AsInt(), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TReal:
		return a.AsReal() < b.AsReal(), nil
	case a.Type == bytecode.TInteger && b.Type == bytecode.TReal:
		return float64(a.AsInt()) < b.AsReal(), nil
	case a.Type == bytecode.TReal && b.Type == bytecode.TInteger:
		return a.AsReal() < float64(b.AsInt()), nil
	case a.Type == bytecode.TString && b.Type == bytecode.TString:
		return a.AsString() < b.AsString(), nil
	default:
		return false, typeMismatch("comparable types", a.Type.String()+" and "+b.Type.String())
	}
}

func parseInput(input string, t bytecode.ValueType) (bytecode.Value, error) {
	switch t {
	case bytecode.TInteger:
		i, err := strconv.ParseInt(input, 10, 64)
		if err != nil {
			return bytecode.Value{}, &RuntimeError{Kind: ErrInvalidInput, Detail: fmt.Sprintf("expected integer, got %q", input)}
		}
		return bytecode.IntVal(i), nil
	case bytecode.TReal:
		f, err := strconv.ParseFloat(input, 64)
		if err != nil {
			return bytecode.Value{}, &RuntimeError{Kind: ErrInvalidInput, Detail: fmt.Sprintf("expected real number, got %q", input)}
		}
		return bytecode.RealVal(f), nil
	case bytecode.TString:
		return bytecode.StringVal(input), nil
	case bytecode.TBoolean:
		switch strings.ToLower(input) {
		case "true", "◉", "1", "yes":
			return bytecode.BoolVal(true), nil
		case "false", "◎", "0", "no":
			return bytecode.BoolVal(false), nil
		default:
			return bytecode.Value{}, &RuntimeError{Kind: ErrInvalidInput, Detail: fmt.Sprintf("expected boolean, got %q", input)}
		}
	case bytecode.TRune:
		r := []rune(input)
		if len(r) == 0 {
			return bytecode.Value{}, &RuntimeError{Kind: ErrInvalidInput, Detail: "expected a rune, got empty input"}
		}
		return bytecode.RuneVal(r[0]), nil
	default:
		return bytecode.Value{}, &RuntimeError{Kind: ErrInvalidInput, Detail: fmt.Sprintf("unsupported input type %s", t)}
	}
}

func convertValue(v bytecode.Value, target bytecode.ValueType) (bytecode.Value, error) {
	switch target {
	case bytecode.TInteger:
		switch v.Type {
		case bytecode.TInteger:
			return v, nil
		case bytecode.TReal:
			return bytecode.IntVal(int64(v.AsReal())), nil
		case bytecode.TBoolean:
			if v.AsBool() {
				return bytecode.IntVal(1), nil
			}
			return bytecode.IntVal(0), nil
		case bytecode.TString:
			i, err := strconv.ParseInt(strings.TrimSpace(v.AsString()), 10, 64)
			if err != nil {
				return bytecode.Value{}, &RuntimeError{Kind: ErrInvalidInput, Detail: "cannot convert string to integer"}
			}
			return bytecode.IntVal(i), nil
		}
	case bytecode.TReal:
		switch v.Type {
		case bytecode.TReal:
			return v, nil
		case bytecode.TInteger:
			return bytecode.RealVal(float64(v.AsInt())), nil
		case bytecode.TBoolean:
			if v.AsBool() {
				return bytecode.RealVal(1), nil
			}
			return bytecode.RealVal(0), nil
		case bytecode.TString:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.AsString()), 64)
			if err != nil {
				return bytecode.Value{}, &RuntimeError{Kind: ErrInvalidInput, Detail: "cannot convert string to real"}
			}
			return bytecode.RealVal(f), nil
		}
	case bytecode.TString:
		return bytecode.StringVal(v.Display()), nil
	case bytecode.TBoolean:
		return bytecode.BoolVal(v.IsTruthy()), nil
	}
	return bytecode.Value{}, typeMismatch(target.String(), v.Type.String())
}
