package sbf

// Stack layout of a translated function's frame, growing down from
// RSP as set up by the prologue:
//
//	[rsp+0]                 external function table pointer (2nd arg)
//	[rsp+8]                 error_printf callback pointer (3rd arg)
//	[rsp+configSlotsSize .. +configSlotsSize+UBPF_STACK_SIZE)   BPF program stack
//
// R10 (the BPF frame pointer) is set to point one past the end of the
// BPF program stack, matching BPF's convention of a downward-growing
// frame addressed with negative offsets from R10.
const configSlotsSize = 16
const frameSize = configSlotsSize + UBPF_STACK_SIZE

// scratchPC is the host register used to carry a failing instruction's
// PC into the shared divide-by-zero trampoline. It is never a target
// of RegisterMap, so using it as pure scratch here can't clobber a
// live BPF register.
const scratchPC = R11

// Translate performs the single forward pass over insns described by
// this package: encode a prologue, then each instruction in turn,
// then the shared epilogue and divide-by-zero trampoline, and finally
// resolve every recorded jump now that every instruction's and
// trampoline's final offset is known. It writes into out starting at
// offset 0 and returns the number of bytes written.
//
// Calling Translate twice with the same inputs produces byte-identical
// output; nothing here depends on process state beyond what regs and
// insns already carry.
func Translate(insns []Insn, out []byte, regs RegisterMap) (int, error) {
	s := newJITState(newBuffer(out), regs, regs.abi, len(insns))

	if err := s.emitPrologue(); err != nil {
		return 0, err
	}

	for pc := 0; pc < len(insns); pc++ {
		insn := insns[pc]
		s.pcLocs[pc] = s.offset()

		if insn.Opc == OpLddw {
			if pc+1 >= len(insns) {
				return 0, &UnknownOpcode{PC: pc, Opcode: insn.Opc}
			}
			hi := insns[pc+1]
			imm64 := int64(uint64(uint32(insn.Imm)) | uint64(uint32(hi.Imm))<<32)
			if err := s.emit(loadImmInsn(S64, regs.Map(insn.Dst), imm64)); err != nil {
				return 0, err
			}
			s.pcLocs[pc+1] = s.offset()
			pc++
			continue
		}

		if err := s.translateOne(pc, insn); err != nil {
			return 0, err
		}
	}
	s.pcLocs[len(insns)] = s.offset()

	if err := s.emitDivByZeroTrampoline(); err != nil {
		return 0, err
	}
	if err := s.emitEpilogue(); err != nil {
		return 0, err
	}
	if err := s.resolveJumps(); err != nil {
		return 0, err
	}
	return s.offset(), nil
}

func (s *jitState) emitPrologue() error {
	regs := s.regs
	for _, r := range regs.NonVolatile() {
		if err := s.emit(pushInsn(r)); err != nil {
			return err
		}
	}
	if err := s.emit(aluInsn(S64, 0x81, 5, RSP, frameSize, indirect{})); err != nil {
		return err
	}
	if err := s.emit(storeInsn(S64, regs.SecondParameter(), RSP, mem(0))); err != nil {
		return err
	}
	if err := s.emit(storeInsn(S64, regs.ThirdParameter(), RSP, mem(8))); err != nil {
		return err
	}
	if regs.Map(1) != regs.FirstParameter() {
		if err := s.emit(movInsn(S64, regs.FirstParameter(), regs.Map(1))); err != nil {
			return err
		}
	}
	return s.emit(leaInsn(S64, RSP, regs.Map(FRAME_PTR_REG), mem(frameSize)))
}

func (s *jitState) emitEpilogue() error {
	s.exitLoc = s.offset()
	if r0 := s.regs.Map(0); r0 != RAX {
		if err := s.emit(movInsn(S64, r0, RAX)); err != nil {
			return err
		}
	}
	if err := s.emit(aluInsn(S64, 0x81, 0, RSP, frameSize, indirect{})); err != nil {
		return err
	}
	nonvol := s.regs.NonVolatile()
	for i := len(nonvol) - 1; i >= 0; i-- {
		if err := s.emit(popInsn(nonvol[i])); err != nil {
			return err
		}
	}
	return s.emit(retInsn())
}

// emitDivByZeroTrampoline is jumped to (with the failing PC left in
// scratchPC) whenever a DIV or MOD by a register operand finds that
// operand zero at runtime. It reports the failure through the
// embedder's error_printf callback, sets R0 to all-ones, and falls
// through into the shared epilogue.
func (s *jitState) emitDivByZeroTrampoline() error {
	s.divByZeroLoc = s.offset()
	regs := s.regs

	if err := s.emit(movInsn(S32, scratchPC, regs.FirstParameter())); err != nil {
		return err
	}
	if err := s.emit(loadInsn(S64, RSP, scratchPC, mem(8))); err != nil {
		return err
	}
	if err := s.emit(testInsn(S64, scratchPC, scratchPC, indirect{})); err != nil {
		return err
	}
	jzLoc, err := s.emitCondJumpPlaceholder(0x84)
	if err != nil {
		return err
	}
	if err := s.emit(callRegInsn(scratchPC, indirect{})); err != nil {
		return err
	}
	s.patchLocal(jzLoc)

	if err := s.emit(loadImmInsn(S64, regs.Map(0), -1)); err != nil {
		return err
	}
	jmpLoc, err := s.emitJumpPlaceholder()
	if err != nil {
		return err
	}
	s.addJumpAt(jmpLoc, targetExit)
	return nil
}

// emitCondJumpPlaceholder and emitJumpPlaceholder write a jump with a
// zero displacement and return the offset of its 4-byte immediate, for
// callers that will either patch it immediately (patchLocal) or defer
// it to the resolver (addJumpAt).
func (s *jitState) emitCondJumpPlaceholder(condition uint8) (int, error) {
	if err := s.emit(condJumpInsn(condition, 0)); err != nil {
		return 0, err
	}
	return s.offset() - 4, nil
}

func (s *jitState) emitJumpPlaceholder() (int, error) {
	if err := s.emit(jumpInsn(0)); err != nil {
		return 0, err
	}
	return s.offset() - 4, nil
}

func (s *jitState) patchLocal(offsetLoc int) {
	s.buf.patchUint32(offsetLoc, uint32(int32(s.offset()-(offsetLoc+4))))
}

func (s *jitState) addJumpAt(offsetLoc int, targetPC int) {
	s.jumps = append(s.jumps, jumpFixup{offsetLoc: offsetLoc, targetPC: targetPC})
}

func jumpTarget(pc int, off int16) int {
	return pc + 1 + int(off)
}

func (s *jitState) translateOne(pc int, insn Insn) error {
	regs := s.regs
	dst := regs.Map(insn.Dst)
	src := regs.Map(insn.Src)
	size := S32
	if is64(insn.Opc) {
		size = S64
	}

	switch insn.Opc {
	case OpAddImm, OpAdd64Imm:
		return s.emit(aluInsn(size, 0x81, 0, dst, int64(insn.Imm), indirect{}))
	case OpSubImm, OpSub64Imm:
		return s.emit(aluInsn(size, 0x81, 5, dst, int64(insn.Imm), indirect{}))
	case OpOrImm, OpOr64Imm:
		return s.emit(aluInsn(size, 0x81, 1, dst, int64(insn.Imm), indirect{}))
	case OpAndImm, OpAnd64Imm:
		return s.emit(aluInsn(size, 0x81, 4, dst, int64(insn.Imm), indirect{}))
	case OpXorImm, OpXor64Imm:
		return s.emit(aluInsn(size, 0x81, 6, dst, int64(insn.Imm), indirect{}))
	case OpAddReg, OpAdd64Reg:
		return s.emit(aluInsn(size, 0x01, src, dst, 0, indirect{}))
	case OpSubReg, OpSub64Reg:
		return s.emit(aluInsn(size, 0x29, src, dst, 0, indirect{}))
	case OpOrReg, OpOr64Reg:
		return s.emit(aluInsn(size, 0x09, src, dst, 0, indirect{}))
	case OpAndReg, OpAnd64Reg:
		return s.emit(aluInsn(size, 0x21, src, dst, 0, indirect{}))
	case OpXorReg, OpXor64Reg:
		return s.emit(aluInsn(size, 0x31, src, dst, 0, indirect{}))

	case OpMovImm, OpMov64Imm:
		return s.emit(loadImmInsn(size, dst, int64(insn.Imm)))
	case OpMovReg, OpMov64Reg:
		return s.emit(movInsn(size, src, dst))

	case OpNeg, OpNeg64:
		return s.emit(aluInsn(size, 0xf7, 3, dst, 0, indirect{}))

	case OpLshImm, OpLsh64Imm:
		return s.emitShiftImm(size, 4, dst, insn.Imm)
	case OpRshImm, OpRsh64Imm:
		return s.emitShiftImm(size, 5, dst, insn.Imm)
	case OpArshImm, OpArsh64Imm:
		return s.emitShiftImm(size, 7, dst, insn.Imm)
	case OpLshReg, OpLsh64Reg:
		return s.emitShiftReg(size, 4, dst, src)
	case OpRshReg, OpRsh64Reg:
		return s.emitShiftReg(size, 5, dst, src)
	case OpArshReg, OpArsh64Reg:
		return s.emitShiftReg(size, 7, dst, src)

	case OpMulImm, OpMul64Imm:
		return s.muldivmod(pc, insn.Opc, size, dst, 0, false, int64(insn.Imm))
	case OpMulReg, OpMul64Reg:
		return s.muldivmod(pc, insn.Opc, size, dst, src, true, 0)
	case OpDivImm, OpDiv64Imm:
		return s.muldivmod(pc, insn.Opc, size, dst, 0, false, int64(insn.Imm))
	case OpModImm, OpMod64Imm:
		return s.muldivmod(pc, insn.Opc, size, dst, 0, false, int64(insn.Imm))
	case OpDivReg, OpDiv64Reg:
		return s.emitCheckedDivMod(pc, insn.Opc, size, dst, src)
	case OpModReg, OpMod64Reg:
		return s.emitCheckedDivMod(pc, insn.Opc, size, dst, src)

	case OpLe:
		return nil // host is little-endian: to-LE is already a no-op
	case OpBe:
		return s.emitByteSwap(dst, insn.Imm)

	case OpJa:
		loc, err := s.emitJumpPlaceholder()
		if err != nil {
			return err
		}
		s.addJumpAt(loc, jumpTarget(pc, insn.Off))
		return nil

	case OpJeqImm, OpJgtImm, OpJgeImm, OpJneImm, OpJsgtImm, OpJsgeImm, OpJltImm, OpJleImm, OpJsltImm, OpJsleImm:
		// Classic JMP-class comparisons are always 64-bit, unlike the
		// ALU opcodes above where size tracks the ALU/ALU64 split.
		if err := s.emit(cmpImmInsn(S64, dst, int64(insn.Imm), indirect{})); err != nil {
			return err
		}
		return s.emitCondBranch(pc, insn)
	case OpJeqReg, OpJgtReg, OpJgeReg, OpJneReg, OpJsgtReg, OpJsgeReg, OpJltReg, OpJleReg, OpJsltReg, OpJsleReg:
		if err := s.emit(cmpInsn(S64, src, dst, indirect{})); err != nil {
			return err
		}
		return s.emitCondBranch(pc, insn)
	case OpJsetImm:
		if err := s.emit(x86Insn{size: S64, modrm: true, opcode: 0xf7, reg: 0, rm: dst, immSize: S32, imm: int64(insn.Imm)}); err != nil {
			return err
		}
		return s.emitCondBranch(pc, insn)
	case OpJsetReg:
		if err := s.emit(testInsn(S64, src, dst, indirect{})); err != nil {
			return err
		}
		return s.emitCondBranch(pc, insn)

	case OpCall:
		return s.emitCall(insn)
	case OpExit:
		loc, err := s.emitJumpPlaceholder()
		if err != nil {
			return err
		}
		s.addJumpAt(loc, targetExit)
		return nil

	case OpLdxw:
		return s.emit(loadInsn(S32, src, dst, mem(int32(insn.Off))))
	case OpLdxh:
		return s.emit(loadInsn(S16, src, dst, mem(int32(insn.Off))))
	case OpLdxb:
		return s.emit(loadInsn(S8, src, dst, mem(int32(insn.Off))))
	case OpLdxdw:
		return s.emit(loadInsn(S64, src, dst, mem(int32(insn.Off))))

	case OpStw:
		return s.emit(storeImmInsn(S32, dst, mem(int32(insn.Off)), int64(insn.Imm)))
	case OpSth:
		return s.emit(storeImmInsn(S16, dst, mem(int32(insn.Off)), int64(insn.Imm)))
	case OpStb:
		return s.emit(storeImmInsn(S8, dst, mem(int32(insn.Off)), int64(insn.Imm)))
	case OpStdw:
		return s.emit(storeImmInsn(S64, dst, mem(int32(insn.Off)), int64(insn.Imm)))

	case OpStxw:
		return s.emit(storeInsn(S32, src, dst, mem(int32(insn.Off))))
	case OpStxh:
		return s.emit(storeInsn(S16, src, dst, mem(int32(insn.Off))))
	case OpStxb:
		return s.emit(storeInsn(S8, src, dst, mem(int32(insn.Off))))
	case OpStxdw:
		return s.emit(storeInsn(S64, src, dst, mem(int32(insn.Off))))

	default:
		return &UnknownOpcode{PC: pc, Opcode: insn.Opc}
	}
}

func (s *jitState) emitShiftImm(size OperandSize, extension uint8, dst uint8, imm int32) error {
	mask := int64(0x1f)
	if size == S64 {
		mask = 0x3f
	}
	return s.emit(x86Insn{size: size, modrm: true, opcode: 0xc1, reg: extension, rm: dst, immSize: S8, imm: int64(imm) & mask})
}

// emitShiftReg shifts dst by the count in src's low byte. RCX never
// holds a live BPF register under this package's register map, so
// clobbering it for the shift needs no save and restore.
func (s *jitState) emitShiftReg(size OperandSize, extension uint8, dst uint8, src uint8) error {
	if err := s.emit(movInsn(size, src, RCX)); err != nil {
		return err
	}
	return s.emit(x86Insn{size: size, modrm: true, opcode: 0xd3, reg: extension, rm: dst})
}

func (s *jitState) emitByteSwap(dst uint8, imm int32) error {
	switch imm {
	case 16:
		if err := s.emit(bswapInsn(S16, dst)); err != nil {
			return err
		}
		// ROL r16, 8 leaves bits above 15 untouched; an ALU32 AND
		// clears them and, per eBPF's ALU32 zero-extension rule,
		// clears bits 32-63 too.
		return s.emit(aluInsn(S32, 0x81, 4, dst, 0xffff, indirect{}))
	case 32:
		return s.emit(bswapInsn(S32, dst))
	case 64:
		return s.emit(bswapInsn(S64, dst))
	}
	return s.emit(bswapInsn(S64, dst))
}

// emitCheckedDivMod guards a register-operand DIV/MOD with a runtime
// zero check before handing off to muldivmod; an immediate-operand
// divide by the literal zero is instead rejected at translation time
// by muldivmod itself.
func (s *jitState) emitCheckedDivMod(pc int, opcode uint8, size OperandSize, dst, src uint8) error {
	if err := s.emit(testInsn(size, src, src, indirect{})); err != nil {
		return err
	}
	jnzLoc, err := s.emitCondJumpPlaceholder(0x85)
	if err != nil {
		return err
	}
	if err := s.emit(loadImmInsn(S32, scratchPC, int64(pc))); err != nil {
		return err
	}
	jmpLoc, err := s.emitJumpPlaceholder()
	if err != nil {
		return err
	}
	s.addJumpAt(jmpLoc, targetDivByZero)
	s.patchLocal(jnzLoc)
	return s.muldivmod(pc, opcode, size, dst, src, true, 0)
}

func (s *jitState) emitCondBranch(pc int, insn Insn) error {
	loc, err := s.emitCondJumpPlaceholder(jccForOp(insn.Opc))
	if err != nil {
		return err
	}
	s.addJumpAt(loc, jumpTarget(pc, insn.Off))
	return nil
}

func jccForOp(op uint8) uint8 {
	switch op {
	case OpJeqImm, OpJeqReg:
		return 0x84
	case OpJneImm, OpJneReg, OpJsetImm, OpJsetReg:
		return 0x85
	case OpJgtImm, OpJgtReg:
		return 0x87
	case OpJgeImm, OpJgeReg:
		return 0x83
	case OpJltImm, OpJltReg:
		return 0x82
	case OpJleImm, OpJleReg:
		return 0x86
	case OpJsgtImm, OpJsgtReg:
		return 0x8f
	case OpJsgeImm, OpJsgeReg:
		return 0x8d
	case OpJsltImm, OpJsltReg:
		return 0x8c
	case OpJsleImm, OpJsleReg:
		return 0x8e
	}
	return 0x85
}

// emitCall loads the external function table pointer spilled at
// prologue and calls its imm'th entry. The result arrives in RAX, the
// host ABI's return register; it is moved into R0's host register
// when the map puts R0 elsewhere.
func (s *jitState) emitCall(insn Insn) error {
	if err := s.emit(loadInsn(S64, RSP, scratchPC, mem(0))); err != nil {
		return err
	}
	if err := s.emit(callRegInsn(scratchPC, mem(int32(insn.Imm)*8))); err != nil {
		return err
	}
	if r0 := s.regs.Map(0); r0 != RAX {
		return s.emit(movInsn(S64, RAX, r0))
	}
	return nil
}
