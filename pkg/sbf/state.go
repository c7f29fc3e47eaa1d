package sbf

// branch target sentinels used in place of a real instruction index
// when a jump's destination isn't another eBPF instruction but one of
// the translator's own shared trampolines.
const (
	targetExit      = -1
	targetDivByZero = -2
)

// jumpFixup records one forward reference: a 4-byte relative
// displacement already reserved at offsetLoc, to be patched once the
// destination's final code offset is known.
type jumpFixup struct {
	offsetLoc int
	targetPC  int
}

// jitState carries everything Translate accumulates during its single
// pass over a program: the output cursor, the pc-to-offset map future
// jumps resolve against, and the deferred fixups themselves.
type jitState struct {
	buf   *buffer
	regs  RegisterMap
	abi   ABI

	// pcLocs[i] is the output offset where eBPF instruction i's code
	// begins; pcLocs[len(insns)] is the offset one past the last
	// instruction's code, used as the jump target for a fallthrough
	// off the end of the program.
	pcLocs []int

	jumps []jumpFixup

	// exitLoc and divByZeroLoc are output offsets of the shared
	// epilogue and divide-by-zero trampolines, filled in once each
	// the first time translation emits them.
	exitLoc      int
	divByZeroLoc int
}

func newJITState(buf *buffer, regs RegisterMap, abi ABI, numInsns int) *jitState {
	return &jitState{
		buf:    buf,
		regs:   regs,
		abi:    abi,
		pcLocs: make([]int, numInsns+1),
	}
}

// emit writes a single x86 instruction to the output buffer, returning
// ErrBufferOverflow if it does not fit.
func (s *jitState) emit(in x86Insn) error {
	return in.emit(s.buf)
}

// offset returns the current output cursor.
func (s *jitState) offset() int {
	return s.buf.Len()
}

