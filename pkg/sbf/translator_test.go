package sbf

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRegs() RegisterMap {
	return NewRegisterMap(DefaultABI())
}

func runProgram(t *testing.T, insns []Insn) uint64 {
	t.Helper()
	if runtime.GOARCH != "amd64" {
		t.Skip("JIT only runs on amd64")
	}
	prog := NewProgram(insns, defaultRegs())
	fn, err := prog.Compile()
	require.NoError(t, err)
	defer prog.Release()
	return fn.Run(0, nil, 0)
}

func TestMovImmExit(t *testing.T) {
	got := runProgram(t, []Insn{
		{Opc: OpMov64Imm, Dst: 0, Imm: 42},
		{Opc: OpExit},
	})
	assert.Equal(t, uint64(42), got)
}

func TestArithmeticChain(t *testing.T) {
	// r0 = 10; r0 += 5; r0 -= 3; r0 *= 2; exit -> (10+5-3)*2 = 24
	got := runProgram(t, []Insn{
		{Opc: OpMov64Imm, Dst: 0, Imm: 10},
		{Opc: OpAdd64Imm, Dst: 0, Imm: 5},
		{Opc: OpSub64Imm, Dst: 0, Imm: 3},
		{Opc: OpMul64Imm, Dst: 0, Imm: 2},
		{Opc: OpExit},
	})
	assert.Equal(t, uint64(24), got)
}

func TestDivideByZeroRegisterReturnsAllOnes(t *testing.T) {
	// r0 = 7; r1 = 0; r0 /= r1; exit
	got := runProgram(t, []Insn{
		{Opc: OpMov64Imm, Dst: 0, Imm: 7},
		{Opc: OpMov64Imm, Dst: 1, Imm: 0},
		{Opc: OpDiv64Reg, Dst: 0, Src: 1},
		{Opc: OpExit},
	})
	assert.Equal(t, uint64(0xffffffffffffffff), got)
}

func TestImmediateDivideByZeroRejectedAtTranslation(t *testing.T) {
	buf := make([]byte, 4096)
	_, err := Translate([]Insn{
		{Opc: OpDiv64Imm, Dst: 0, Imm: 0},
		{Opc: OpExit},
	}, buf, defaultRegs())
	require.Error(t, err)
	var target *ImmediateDivideByZero
	assert.ErrorAs(t, err, &target)
}

func TestLddwLoadsFullImmediate(t *testing.T) {
	got := runProgram(t, []Insn{
		{Opc: OpLddw, Dst: 0, Imm: -1985229329}, // bit pattern 0x89abcdef
		{Opc: 0, Imm: 0x01234567},
		{Opc: OpExit},
	})
	assert.Equal(t, uint64(0x0123456789abcdef), got)
}

func TestConditionalLoop(t *testing.T) {
	// r0 = 0; r1 = 5;
	// loop: r0 += 1; r1 -= 1; if r1 != 0 goto loop; exit
	got := runProgram(t, []Insn{
		{Opc: OpMov64Imm, Dst: 0, Imm: 0},
		{Opc: OpMov64Imm, Dst: 1, Imm: 5},
		{Opc: OpAdd64Imm, Dst: 0, Imm: 1},
		{Opc: OpSub64Imm, Dst: 1, Imm: 1},
		{Opc: OpJneImm, Dst: 1, Imm: 0, Off: -3},
		{Opc: OpExit},
	})
	assert.Equal(t, uint64(5), got)
}

func TestModRegisterOperand(t *testing.T) {
	// r0 = 17; r1 = 5; r0 %= r1; exit -> 17 % 5 = 2
	got := runProgram(t, []Insn{
		{Opc: OpMov64Imm, Dst: 0, Imm: 17},
		{Opc: OpMov64Imm, Dst: 1, Imm: 5},
		{Opc: OpMod64Reg, Dst: 0, Src: 1},
		{Opc: OpExit},
	})
	assert.Equal(t, uint64(2), got)
}

func TestMulRegisterOperand(t *testing.T) {
	got := runProgram(t, []Insn{
		{Opc: OpMov64Imm, Dst: 0, Imm: 6},
		{Opc: OpMov64Imm, Dst: 1, Imm: 7},
		{Opc: OpMul64Reg, Dst: 0, Src: 1},
		{Opc: OpExit},
	})
	assert.Equal(t, uint64(42), got)
}

func TestByteSwapToBigEndian(t *testing.T) {
	got := runProgram(t, []Insn{
		{Opc: OpMov64Imm, Dst: 0, Imm: 0x1234},
		{Opc: OpBe, Dst: 0, Imm: 16},
		{Opc: OpExit},
	})
	assert.Equal(t, uint64(0x3412), got)
}

func TestByteSwap16ClearsHighBits(t *testing.T) {
	// a value with bits above 15 set must not survive a BE16 swap.
	got := runProgram(t, []Insn{
		{Opc: OpLddw, Dst: 0, Imm: -1},
		{Opc: 0, Imm: -1},
		{Opc: OpBe, Dst: 0, Imm: 16},
		{Opc: OpExit},
	})
	assert.Equal(t, uint64(0xffff), got)
}

func TestUnknownOpcodeReported(t *testing.T) {
	buf := make([]byte, 4096)
	_, err := Translate([]Insn{{Opc: 0xff}}, buf, defaultRegs())
	require.Error(t, err)
	var target *UnknownOpcode
	require.ErrorAs(t, err, &target)
	assert.Equal(t, 0, target.PC)
}

func TestTranslateReportsBufferOverflow(t *testing.T) {
	buf := make([]byte, 4)
	_, err := Translate([]Insn{
		{Opc: OpMov64Imm, Dst: 0, Imm: 1},
		{Opc: OpExit},
	}, buf, defaultRegs())
	require.Error(t, err)
	var target *ErrBufferOverflow
	assert.ErrorAs(t, err, &target)
}

func TestCompileIsIdempotent(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("JIT only runs on amd64")
	}
	prog := NewProgram([]Insn{
		{Opc: OpMov64Imm, Dst: 0, Imm: 1},
		{Opc: OpExit},
	}, defaultRegs())
	defer prog.Release()

	first, err := prog.Compile()
	require.NoError(t, err)
	second, err := prog.Compile()
	require.NoError(t, err)
	assert.Equal(t, first.addr, second.addr)
}

func TestRegisterMapPermutationDoesNotChangeSemantics(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("JIT only runs on amd64")
	}
	insns := []Insn{
		{Opc: OpMov64Imm, Dst: 0, Imm: 3},
		{Opc: OpMov64Imm, Dst: 2, Imm: 4},
		{Opc: OpAdd64Reg, Dst: 0, Src: 2},
		{Opc: OpExit},
	}
	for _, seed := range []uint64{1, 2, 3, 42} {
		regs := NewRegisterMap(DefaultABI()).Permuted(seed)
		prog := NewProgram(insns, regs)
		fn, err := prog.Compile()
		require.NoError(t, err)
		assert.Equal(t, uint64(7), fn.Run(0, nil, 0))
		prog.Release()
	}
}
