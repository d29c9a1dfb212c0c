package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Break and Continue never leave the compiler (they lower to patched
// Jump/Loop), but their byte values are part of the instruction set and
// must still decode.
func TestReservedBreakContinueOpcodesDecode(t *testing.T) {
	op, ok := ValidOpCode(0x54)
	assert.True(t, ok)
	assert.Equal(t, OpBreak, op)
	assert.Equal(t, "Break", op.Name())

	op, ok = ValidOpCode(0x55)
	assert.True(t, ok)
	assert.Equal(t, OpContinue, op)
	assert.Equal(t, "Continue", op.Name())
}

func TestUndefinedByteIsNotAnOpcode(t *testing.T) {
	_, ok := ValidOpCode(0x99)
	assert.False(t, ok)
}
