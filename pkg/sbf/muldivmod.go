package sbf

// muldivmod emits the code for a MUL, DIV or MOD ALU operation. The
// x86 MUL and DIV instructions take their operands and leave their
// results in fixed registers (RAX:RDX) no matter which eBPF registers
// are involved, so this always routes through RAX and RDX, saving and
// restoring whichever of the two isn't the instruction's destination.
//
// divisor is either a host register (divisorIsReg true) or an immediate value
// already sign/zero-extended to the instruction's width; pc is only
// used to annotate an ImmediateDivideByZero error.
func (s *jitState) muldivmod(pc int, opcode uint8, size OperandSize, dstHost uint8, divisorReg uint8, divisorIsReg bool, divisorImm int64) error {
	if !divisorIsReg && divisorImm == 0 && (isDiv(opcode) || isMod(opcode)) {
		return &ImmediateDivideByZero{PC: pc}
	}

	saveRAX := dstHost != RAX
	saveRDX := dstHost != RDX

	if saveRAX {
		if err := s.emit(pushInsn(RAX)); err != nil {
			return err
		}
	}
	if saveRDX {
		if err := s.emit(pushInsn(RDX)); err != nil {
			return err
		}
	}

	// Copy the divisor into RCX before RAX/RDX are touched: RCX never
	// holds a live eBPF register under this package's register map, so
	// it's free to use even when the divisor is itself mapped to RAX
	// or RDX.
	if divisorIsReg {
		if err := s.emit(movInsn(size, divisorReg, RCX)); err != nil {
			return err
		}
	} else {
		if err := s.emit(loadImmInsn(size, RCX, divisorImm)); err != nil {
			return err
		}
	}

	if dstHost != RAX {
		if err := s.emit(movInsn(size, dstHost, RAX)); err != nil {
			return err
		}
	}

	if !isMul(opcode) {
		// Zero-extend the dividend into RDX:RAX. BPF's DIV and MOD
		// are unsigned, so this is a plain clear rather than CDQ/CQO
		// sign extension.
		if err := s.emit(aluInsn(S32, 0x31, RDX, RDX, 0, indirect{})); err != nil {
			return err
		}
	}

	extension := uint8(4)
	if !isMul(opcode) {
		extension = 6
	}
	if err := s.emit(aluInsn(size, 0xf7, extension, RCX, 0, indirect{})); err != nil {
		return err
	}

	resultReg := uint8(RAX)
	if isMod(opcode) {
		resultReg = RDX
	}
	if dstHost != resultReg {
		if err := s.emit(movInsn(size, resultReg, dstHost)); err != nil {
			return err
		}
	}

	if saveRDX {
		if err := s.emit(popInsn(RDX)); err != nil {
			return err
		}
	}
	if saveRAX {
		if err := s.emit(popInsn(RAX)); err != nil {
			return err
		}
	}
	return nil
}
