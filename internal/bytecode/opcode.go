// Package bytecode defines the Obfusku instruction set, value model, and
// the Chunk container the compiler emits into and the interpreter
// executes from.
package bytecode

import "fmt"

// OpCode is a single fetch-decode-execute instruction. Byte values are
// part of the persisted bytecode format and must never be renumbered.
type OpCode byte

const (
	OpConst OpCode = 0x01
	OpNull  OpCode = 0x02
	OpTrue  OpCode = 0x03
	OpFalse OpCode = 0x04
	OpPop   OpCode = 0x05
	OpDup   OpCode = 0x06
	OpSwap  OpCode = 0x07
	OpRot   OpCode = 0x08

	OpDeclareVar  OpCode = 0x10
	OpLoadVar     OpCode = 0x11
	OpStoreVar    OpCode = 0x12
	OpLoadGlobal  OpCode = 0x13
	OpStoreGlobal OpCode = 0x14

	OpAdd OpCode = 0x20
	OpSub OpCode = 0x21
	OpMul OpCode = 0x22
	OpDiv OpCode = 0x23
	OpMod OpCode = 0x24
	OpPow OpCode = 0x25
	OpNeg OpCode = 0x26
	OpInc OpCode = 0x27
	OpDec OpCode = 0x28

	OpEq OpCode = 0x30
	OpNe OpCode = 0x31
	OpLt OpCode = 0x32
	OpGt OpCode = 0x33
	OpLe OpCode = 0x34
	OpGe OpCode = 0x35

	OpAnd OpCode = 0x40
	OpOr  OpCode = 0x41
	OpNot OpCode = 0x42
	OpXor OpCode = 0x43

	OpJump        OpCode = 0x50
	OpJumpIfFalse OpCode = 0x51
	OpJumpIfTrue  OpCode = 0x52
	OpLoop        OpCode = 0x53
	// Break/Continue are format-reserved: the compiler lowers both to
	// patched Jump/Loop instructions and never emits them, but the byte
	// values are part of the instruction set and must decode.
	OpBreak    OpCode = 0x54
	OpContinue OpCode = 0x55

	OpCall        OpCode = 0x60
	OpReturn      OpCode = 0x61
	OpLoadFunc    OpCode = 0x63
	OpCallClosure OpCode = 0x5E

	OpMakeArray OpCode = 0x64
	OpArrayGet  OpCode = 0x65
	OpArraySet  OpCode = 0x66
	OpArrayLen  OpCode = 0x67
	OpArrayPush OpCode = 0x68

	OpMakeMap  OpCode = 0x69
	OpMapGet   OpCode = 0x6A
	OpMapSet   OpCode = 0x6B
	OpMapHas   OpCode = 0x6C
	OpMapRemove OpCode = 0x6D
	OpMapKeys  OpCode = 0x6E
	OpMapValues OpCode = 0x6F

	OpPrint    OpCode = 0x70
	OpPrintLit OpCode = 0x71
	OpInput    OpCode = 0x72
	OpDebug    OpCode = 0x73

	OpLoadAcc  OpCode = 0x80
	OpStoreAcc OpCode = 0x81
	OpIncAcc   OpCode = 0x82
	OpDecAcc   OpCode = 0x83

	OpConcat      OpCode = 0x90
	OpConvert     OpCode = 0x91
	OpInterpolate OpCode = 0x92

	OpMakeClosure  OpCode = 0xA0
	OpLoadCapture  OpCode = 0xA1
	OpStoreCapture OpCode = 0xA2

	OpMatchBegin    OpCode = 0xA3
	OpMatchArm      OpCode = 0xA4
	OpMatchEnd      OpCode = 0xA5
	OpMatchWildcard OpCode = 0xA6
	OpMatchBind     OpCode = 0xA7

	OpImport     OpCode = 0xA8
	OpExport     OpCode = 0xA9
	OpLoadModule OpCode = 0xAA

	OpTryBegin OpCode = 0xB0
	OpTryEnd   OpCode = 0xB1
	OpThrow    OpCode = 0xB2
	OpCatch    OpCode = 0xB3
	OpFinally  OpCode = 0xB4

	OpNop  OpCode = 0xFE
	OpHalt OpCode = 0xFF
)

var names = map[OpCode]string{
	OpConst: "Const", OpNull: "Null", OpTrue: "True", OpFalse: "False",
	OpPop: "Pop", OpDup: "Dup", OpSwap: "Swap", OpRot: "Rot",
	OpDeclareVar: "DeclareVar", OpLoadVar: "LoadVar", OpStoreVar: "StoreVar",
	OpLoadGlobal: "LoadGlobal", OpStoreGlobal: "StoreGlobal",
	OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpDiv: "Div", OpMod: "Mod",
	OpPow: "Pow", OpNeg: "Neg", OpInc: "Inc", OpDec: "Dec",
	OpEq: "Eq", OpNe: "Ne", OpLt: "Lt", OpGt: "Gt", OpLe: "Le", OpGe: "Ge",
	OpAnd: "And", OpOr: "Or", OpNot: "Not", OpXor: "Xor",
	OpJump: "Jump", OpJumpIfFalse: "JumpIfFalse", OpJumpIfTrue: "JumpIfTrue", OpLoop: "Loop",
	OpBreak: "Break", OpContinue: "Continue",
	OpCall: "Call", OpReturn: "Return", OpLoadFunc: "LoadFunc", OpCallClosure: "CallClosure",
	OpMakeArray: "MakeArray", OpArrayGet: "ArrayGet", OpArraySet: "ArraySet",
	OpArrayLen: "ArrayLen", OpArrayPush: "ArrayPush",
	OpMakeMap: "MakeMap", OpMapGet: "MapGet", OpMapSet: "MapSet", OpMapHas: "MapHas",
	OpMapRemove: "MapRemove", OpMapKeys: "MapKeys", OpMapValues: "MapValues",
	OpPrint: "Print", OpPrintLit: "PrintLit", OpInput: "Input", OpDebug: "Debug",
	OpLoadAcc: "LoadAcc", OpStoreAcc: "StoreAcc", OpIncAcc: "IncAcc", OpDecAcc: "DecAcc",
	OpConcat: "Concat", OpConvert: "Convert", OpInterpolate: "Interpolate",
	OpMakeClosure: "MakeClosure", OpLoadCapture: "LoadCapture", OpStoreCapture: "StoreCapture",
	OpMatchBegin: "MatchBegin", OpMatchArm: "MatchArm", OpMatchEnd: "MatchEnd",
	OpMatchWildcard: "MatchWildcard", OpMatchBind: "MatchBind",
	OpImport: "Import", OpExport: "Export", OpLoadModule: "LoadModule",
	OpTryBegin: "TryBegin", OpTryEnd: "TryEnd", OpThrow: "Throw", OpCatch: "Catch", OpFinally: "Finally",
	OpNop: "Nop", OpHalt: "Halt",
}

// operandWidths gives the number of inline operand bytes following each
// opcode; opcodes absent from this map take zero operand bytes.
var operandWidths = map[OpCode]int{
	OpConst: 2, OpDeclareVar: 3, OpLoadVar: 2, OpStoreVar: 2,
	OpLoadGlobal: 2, OpStoreGlobal: 2,
	OpJump: 2, OpJumpIfFalse: 2, OpJumpIfTrue: 2, OpLoop: 2,
	OpCall: 3, OpLoadFunc: 2, OpPrintLit: 2, OpInput: 3, OpConvert: 1,
	OpMakeArray: 2, OpInterpolate: 3,
	OpMakeMap: 2, OpMakeClosure: 3, OpLoadCapture: 2, OpStoreCapture: 2,
	OpCallClosure: 1, OpMatchBegin: 1, OpMatchArm: 2, OpMatchBind: 2,
	OpImport: 2, OpExport: 2, OpLoadModule: 4,
	OpTryBegin: 2, OpCatch: 2,
}

// Name returns the opcode's canonical identifier for disassembly.
func (op OpCode) Name() string {
	if n, ok := names[op]; ok {
		return n
	}
	return fmt.Sprintf("Unknown(0x%02X)", byte(op))
}

func (op OpCode) String() string { return op.Name() }

// OperandWidth returns the number of bytes that follow op in the code
// stream.
func (op OpCode) OperandWidth() int {
	return operandWidths[op]
}

// ValidOpCode reports whether b decodes to a defined OpCode. The
// interpreter must call this before dispatch rather than blindly casting
// the byte; a byte outside the defined set is an "unknown opcode" error.
func ValidOpCode(b byte) (OpCode, bool) {
	op := OpCode(b)
	_, ok := names[op]
	return op, ok
}
