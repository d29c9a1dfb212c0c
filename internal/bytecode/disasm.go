package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble renders a human-readable per-instruction dump of c, used
// by the `compile --disassemble` CLI flag.
func Disassemble(c *Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", c.Name)
	offset := 0
	for offset < len(c.Code) {
		offset = disassembleInstruction(&b, c, offset)
	}
	return b.String()
}

func disassembleInstruction(b *strings.Builder, c *Chunk, offset int) int {
	op, ok := ValidOpCode(c.Code[offset])
	line := 0
	if offset < len(c.Lines) {
		line = c.Lines[offset]
	}
	if !ok {
		fmt.Fprintf(b, "%04d %4d  <invalid opcode 0x%02X>\n", offset, line, c.Code[offset])
		return offset + 1
	}
	width := op.OperandWidth()
	fmt.Fprintf(b, "%04d %4d  %-14s", offset, line, op.Name())
	switch op {
	case OpConst:
		idx := ReadU16(c.Code, offset+1)
		fmt.Fprintf(b, " #%d", idx)
		if int(idx) < len(c.Constants) {
			fmt.Fprintf(b, " (%s)", c.Constants[idx].Display())
		}
	case OpDeclareVar:
		idx := ReadU16(c.Code, offset+1)
		t := c.Code[offset+3]
		fmt.Fprintf(b, " %s:%d", stringAt(c, idx), t)
	case OpLoadVar, OpStoreVar, OpLoadGlobal, OpStoreGlobal, OpPrintLit, OpLoadFunc,
		OpLoadCapture, OpStoreCapture, OpImport, OpExport, OpMatchBind, OpCatch:
		idx := ReadU16(c.Code, offset+1)
		fmt.Fprintf(b, " %d", idx)
	case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpLoop, OpMatchArm, OpTryBegin:
		off := ReadU16(c.Code, offset+1)
		fmt.Fprintf(b, " %d", off)
	case OpCall:
		idx := ReadU16(c.Code, offset+1)
		arity := c.Code[offset+3]
		fmt.Fprintf(b, " func=%d arity=%d", idx, arity)
	case OpMakeArray, OpMakeMap:
		count := ReadU16(c.Code, offset+1)
		fmt.Fprintf(b, " %d", count)
	case OpMakeClosure:
		idx := ReadU16(c.Code, offset+1)
		captures := c.Code[offset+3]
		fmt.Fprintf(b, " func=%d captures=%d", idx, captures)
	case OpCallClosure, OpMatchBegin:
		fmt.Fprintf(b, " %d", c.Code[offset+1])
	case OpInput:
		idx := ReadU16(c.Code, offset+1)
		t := c.Code[offset+3]
		fmt.Fprintf(b, " %s:%d", stringAt(c, idx), t)
	case OpConvert:
		fmt.Fprintf(b, " %d", c.Code[offset+1])
	case OpInterpolate:
		idx := ReadU16(c.Code, offset+1)
		vars := c.Code[offset+3]
		fmt.Fprintf(b, " %s vars=%d", stringAt(c, idx), vars)
	case OpLoadModule:
		mod := ReadU16(c.Code, offset+1)
		sym := ReadU16(c.Code, offset+3)
		fmt.Fprintf(b, " mod=%d sym=%d", mod, sym)
	}
	b.WriteByte('\n')
	return offset + 1 + width
}

func stringAt(c *Chunk, idx uint16) string {
	if int(idx) < len(c.Strings) {
		return c.Strings[idx]
	}
	return "?"
}
