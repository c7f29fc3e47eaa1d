package sbf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsnRoundTrip(t *testing.T) {
	in := Insn{Opc: OpMov64Imm, Dst: 2, Src: 1, Off: 0x3456, Imm: -0x12345678}
	raw := in.toArray()
	back := decodeInsn(raw[:])
	assert.Equal(t, in.Opc, back.Opc)
	assert.Equal(t, in.Dst, back.Dst)
	assert.Equal(t, in.Src, back.Src)
	assert.Equal(t, in.Off, back.Off)
	assert.Equal(t, in.Imm, back.Imm)
}

func TestInsnByteLayout(t *testing.T) {
	in := Insn{Opc: 0xb7, Dst: 2, Src: 1, Off: 0x3456, Imm: 0x789abcde}
	got := in.toArray()
	want := [INSN_SIZE]uint8{0xb7, 0x12, 0x56, 0x34, 0xde, 0xbc, 0x9a, 0x78}
	assert.Equal(t, want, got)
}

func TestDecodeProgramRejectsPartialInstruction(t *testing.T) {
	_, err := DecodeProgram(make([]byte, INSN_SIZE+3))
	assert.Error(t, err)
}

func TestDecodeProgramAssignsPtr(t *testing.T) {
	raw := make([]byte, INSN_SIZE*3)
	insns, err := DecodeProgram(raw)
	assert.NoError(t, err)
	for i, in := range insns {
		assert.Equal(t, i, in.Ptr)
	}
}
