package sbf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, in x86Insn) []byte {
	t.Helper()
	buf := newBuffer(make([]byte, 16))
	require.NoError(t, in.emit(buf))
	return buf.Bytes()
}

func TestPushExtendedRegisterSetsRexB(t *testing.T) {
	// push r13/r14/r15 must carry REX.B (0x41) ahead of 0x5x, not the
	// bare 0x5x form (which names rbp/rsi/rdi instead).
	assert.Equal(t, []byte{0x41, 0x55}, encode(t, pushInsn(R13)))
	assert.Equal(t, []byte{0x41, 0x56}, encode(t, pushInsn(R14)))
	assert.Equal(t, []byte{0x41, 0x57}, encode(t, pushInsn(R15)))
}

func TestPopExtendedRegisterSetsRexB(t *testing.T) {
	assert.Equal(t, []byte{0x41, 0x5d}, encode(t, popInsn(R13)))
	assert.Equal(t, []byte{0x41, 0x5e}, encode(t, popInsn(R14)))
	assert.Equal(t, []byte{0x41, 0x5f}, encode(t, popInsn(R15)))
}

func TestPushPopNonExtendedRegisterOmitsRex(t *testing.T) {
	assert.Equal(t, []byte{0x55}, encode(t, pushInsn(RBP)))
	assert.Equal(t, []byte{0x5d}, encode(t, popInsn(RBP)))
}

func TestRspBaseWithoutIndexEncodesNoIndexSib(t *testing.T) {
	// [rsp+8] has no index register; the SIB index field must name RSP
	// (4) to mean "none", giving SIB byte 0x24. Anything else names a
	// real index register and reads the wrong memory location.
	got := encode(t, storeInsn(S64, RAX, RSP, mem(8)))
	assert.Equal(t, []byte{0x48, 0x89, 0x44, 0x24, 0x08}, got)
}
