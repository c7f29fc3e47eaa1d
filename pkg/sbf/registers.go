package sbf

import (
	"runtime"

	"gonum.org/v1/gonum/mathext/prng"
)

// x86-64 general purpose register encodings, used as ModR/M and SIB
// operands throughout the encoder.
const (
	RAX uint8 = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// ABI selects the host calling convention the register map is built for.
type ABI int

const (
	SystemV ABI = iota
	Windows
)

// dialect bundles the platform-specific register lists a single ABI
// contributes: which registers hold the first N parameters and which
// are callee-saved (non-volatile).
type dialect struct {
	argumentRegisters []uint8
	nonvolatile       []uint8
}

var systemVDialect = dialect{
	argumentRegisters: []uint8{RDI, RSI, RDX, RCX, R8, R9},
	nonvolatile:       []uint8{RBP, RBX, R13, R14, R15},
}

var windowsDialect = dialect{
	argumentRegisters: []uint8{RCX, RDX, R8, R9},
	nonvolatile:       []uint8{RBP, RBX, RDI, RSI, R12, R13, R14, R15},
}

// DefaultABI is the calling convention native to the running host:
// Windows when GOOS is windows, System V everywhere else.
func DefaultABI() ABI {
	if runtime.GOOS == "windows" {
		return Windows
	}
	return SystemV
}

func dialectFor(abi ABI) dialect {
	if abi == Windows {
		return windowsDialect
	}
	return systemVDialect
}

// registerMapSize is the number of eBPF virtual registers (R0-R10).
const registerMapSize = 11

// RegisterMap is a fixed bijection between the 11 eBPF registers and
// host GPRs, chosen per ABI so that eBPF's caller-saved registers land on
// host caller-saved registers and eBPF's callee-saved registers land on
// host callee-saved registers. R12 is never assigned to an eBPF
// register.
type RegisterMap struct {
	abi     ABI
	table   [registerMapSize]uint8
	nonvol  []uint8
	argRegs []uint8
}

// NewRegisterMap builds the canonical register map for the given ABI.
func NewRegisterMap(abi ABI) RegisterMap {
	d := dialectFor(abi)
	var table [registerMapSize]uint8
	if abi == Windows {
		table = [registerMapSize]uint8{
			RAX,
			R10,
			RDX,
			R8,
			R9,
			R14,
			R15,
			RDI,
			RSI,
			RBX,
			RBP,
		}
	} else {
		table = [registerMapSize]uint8{
			RAX,
			RDI,
			RSI,
			RDX,
			R9,
			R8,
			RBX,
			R13,
			R14,
			R15,
			RBP,
		}
	}
	return RegisterMap{
		abi:     abi,
		table:   table,
		nonvol:  d.nonvolatile,
		argRegs: d.argumentRegisters,
	}
}

// Map returns the host register assigned to eBPF register r.
func (m RegisterMap) Map(r uint8) uint8 {
	return m.table[int(r)%registerMapSize]
}

// FirstParameter is the host register holding the JIT function's first
// (context pointer) parameter.
func (m RegisterMap) FirstParameter() uint8 {
	return m.argRegs[0]
}

// SecondParameter is the host register holding the JIT function's
// second parameter: a pointer to the embedder's external function
// table, consulted by translated CALL instructions.
func (m RegisterMap) SecondParameter() uint8 {
	return m.argRegs[1]
}

// ThirdParameter is the host register holding the JIT function's third
// parameter: a pointer to the embedder's error_printf callback, spilled
// to the stack frame at entry and invoked by the divide-by-zero
// trampoline with the failing PC as its own first argument.
func (m RegisterMap) ThirdParameter() uint8 {
	return m.argRegs[2]
}

// NonVolatile lists the callee-saved host registers the prologue must
// push and the epilogue must pop, in declaration order.
func (m RegisterMap) NonVolatile() []uint8 {
	return m.nonvol
}

// Permuted returns a register map whose eBPF-to-host table has been
// shuffled deterministically from seed. It exists only so tests can
// verify that JIT output does not depend on which host register a
// given eBPF register happens to land on; it must never be used
// concurrently with translation using the same map.
func (m RegisterMap) Permuted(seed uint64) RegisterMap {
	rng := prng.NewXoshiro256plusplus(seed)
	shuffled := m.table
	for i := registerMapSize - 1; i > 0; i-- {
		j := int(rng.Uint64() % uint64(i+1))
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	m.table = shuffled
	return m
}

// Rotated returns a register map whose table has been cyclically
// rotated by n slots. A second, cheaper permutation hook alongside
// Permuted, kept for parity with the source JIT's rotate-or-shuffle
// test hook.
func (m RegisterMap) Rotated(n int) RegisterMap {
	var rotated [registerMapSize]uint8
	for i := 0; i < registerMapSize; i++ {
		rotated[i] = m.table[(i+n)%registerMapSize]
	}
	m.table = rotated
	return m
}
