// ported from https://github.com/solana-labs/rbpf/blob/v0.2.32/src/x86.rs
package sbf

import "math"

// OperandSize is the width, in bits, an x86 instruction operates on. It
// governs which prefixes (0x66 operand-size override, REX.W) the
// encoder emits.
type OperandSize int

const (
	S0 OperandSize = 0
	S8 OperandSize = 8
	S16 OperandSize = 16
	S32 OperandSize = 32
	S64 OperandSize = 64
)

// indirect describes an x86 memory operand: [base + offset] or, when
// Index is used, [base + offset + index<<shift]. A zero value with
// hasIndex false and used false means "no memory operand, this is a
// register-to-register form".
type indirect struct {
	used    bool
	offset  int32
	hasIndex bool
	index   uint8
	shift   uint8
}

// mem builds a [base + offset] indirect operand.
func mem(offset int32) indirect { return indirect{used: true, offset: offset} }

// memIndexed builds a [base + offset + index<<shift] indirect operand.
// Unused by this package's own translator (classic eBPF addressing is
// always base+disp16, no scaled index), kept because it costs nothing
// to expose on an encoder that otherwise implements every SIB case the
// x86-64 ModR/M format defines.
func memIndexed(offset int32, index uint8, shift uint8) indirect {
	return indirect{used: true, offset: offset, hasIndex: true, index: index, shift: shift}
}

// x86Insn is a single x86-64 instruction awaiting emission. Every
// constructor below fills in only the fields that instruction needs;
// zero values mean "absent" (no ModR/M, no immediate, register-direct
// addressing).
type x86Insn struct {
	size          OperandSize
	escape        uint8 // 0 = none, 1 = 0f, 2 = 0f38, 3 = 0f3a
	opcode        uint8
	modrm         bool
	mem           indirect
	reg           uint8 // ModR/M.reg / first operand
	rm            uint8 // ModR/M.r/m / second operand (also base register)
	immSize       OperandSize
	imm           int64
}

// emit writes the instruction's encoding to buf, returning an
// ErrBufferOverflow as soon as a byte of it would not fit.
func (in x86Insn) emit(buf *buffer) error {
	rex := uint8(0)
	if in.size == S64 {
		rex |= 0x08
	}
	if in.reg&0x08 != 0 {
		rex |= 0x04
	}
	rexX := false
	if in.rm&0x08 != 0 {
		rex |= 0x01
	}

	modrmMode := uint8(0)
	m := in.rm & 0x07
	sibScale, sibIndex, sibBase := uint8(0), uint8(RSP), uint8(0)
	dispSize := S0
	disp := int32(0)
	useSib := false

	if in.modrm {
		if in.mem.used {
			if in.mem.hasIndex {
				disp = in.mem.offset
				dispSize = S32
				modrmMode = 2
				m = RSP
				rexX = in.mem.index&0x08 != 0
				sibScale = in.mem.shift & 0x03
				sibIndex = in.mem.index & 0x07
				sibBase = in.rm & 0x07
				useSib = true
			} else {
				disp = in.mem.offset
				if (disp >= -128 && disp <= 127) || (disp == 0 && in.rm&0x07 == RBP) {
					dispSize = S8
					modrmMode = 1
				} else {
					dispSize = S32
					modrmMode = 2
				}
				if in.rm&0x07 == RSP {
					useSib = true
					sibBase = RSP
				}
			}
		} else {
			modrmMode = 3
		}
	}
	if rexX {
		rex |= 0x02
	}

	if in.size == S16 {
		if err := buf.writeByte(0x66); err != nil {
			return err
		}
	}
	if rex != 0 {
		if err := buf.writeByte(0x40 | rex); err != nil {
			return err
		}
	}
	switch in.escape {
	case 1:
		if err := buf.writeByte(0x0f); err != nil {
			return err
		}
	case 2:
		if err := buf.writeByte(0x0f); err != nil {
			return err
		}
		if err := buf.writeByte(0x38); err != nil {
			return err
		}
	case 3:
		if err := buf.writeByte(0x0f); err != nil {
			return err
		}
		if err := buf.writeByte(0x3a); err != nil {
			return err
		}
	}
	if err := buf.writeByte(in.opcode); err != nil {
		return err
	}
	if in.modrm {
		modrmByte := (modrmMode << 6) | ((in.reg & 0x07) << 3) | m
		if err := buf.writeByte(modrmByte); err != nil {
			return err
		}
		if useSib {
			if err := buf.writeByte((sibScale << 6) | (sibIndex << 3) | sibBase); err != nil {
				return err
			}
		}
		if err := writeVariable(buf, dispSize, uint64(uint32(disp))); err != nil {
			return err
		}
	}
	return writeVariable(buf, in.immSize, uint64(in.imm))
}

func writeVariable(buf *buffer, size OperandSize, v uint64) error {
	switch size {
	case S0:
		return nil
	case S8:
		return buf.writeByte(uint8(v))
	case S16:
		return buf.writeUint16(uint16(v))
	case S32:
		return buf.writeUint32(uint32(v))
	case S64:
		return buf.writeUint64(v)
	}
	return nil
}

// aluInsn builds the ADD/OR/AND/SUB/XOR-family two-operand and
// immediate-group instructions, plus the NEG and MUL/DIV unary-group
// forms; opcode selects which, and reg carries the ModR/M.reg operand
// or, for the unary group, the sub-opcode.
func aluInsn(size OperandSize, opcode, source, destination uint8, immediate int64, m indirect) x86Insn {
	in := x86Insn{size: size, modrm: true, opcode: opcode, reg: source, rm: destination, mem: m, imm: immediate}
	switch opcode {
	case 0xc1:
		in.immSize = S8
	case 0x81:
		in.immSize = S32
	}
	return in
}

// movInsn: MOV destination, source (register to register).
func movInsn(size OperandSize, source, destination uint8) x86Insn {
	return x86Insn{size: size, modrm: true, opcode: 0x89, reg: source, rm: destination}
}

// loadInsn: MOV destination, [source]; the size selector picks MOVZX
// for 8- and 16-bit loads, so narrow loads are zero-extended.
func loadInsn(size OperandSize, source, destination uint8, m indirect) x86Insn {
	in := x86Insn{modrm: true, reg: destination, rm: source, mem: m}
	switch size {
	case S8:
		in.size = S32
		in.escape = 1
		in.opcode = 0xb6
	case S16:
		in.size = S32
		in.escape = 1
		in.opcode = 0xb7
	case S64:
		in.size = S64
		in.opcode = 0x8b
	default:
		in.size = S32
		in.opcode = 0x8b
	}
	return in
}

func storeInsn(size OperandSize, source, destination uint8, m indirect) x86Insn {
	in := x86Insn{size: size, modrm: true, reg: source, rm: destination, mem: m}
	if size == S8 {
		in.opcode = 0x88
	} else {
		in.opcode = 0x89
	}
	return in
}

func loadImmInsn(size OperandSize, destination uint8, immediate int64) x86Insn {
	if immediate >= math.MinInt32 && immediate <= math.MaxInt32 {
		return x86Insn{size: size, modrm: true, opcode: 0xc7, rm: destination, immSize: S32, imm: immediate}
	}
	return x86Insn{size: size, opcode: 0xb8 | (destination & 0x07), rm: destination, immSize: S64, imm: immediate}
}

func storeImmInsn(size OperandSize, destination uint8, m indirect, immediate int64) x86Insn {
	in := x86Insn{size: size, modrm: true, rm: destination, mem: m, imm: immediate}
	if size == S8 {
		in.opcode = 0xc6
	} else {
		in.opcode = 0xc7
	}
	if size == S64 {
		in.immSize = S32
	} else {
		in.immSize = size
	}
	return in
}

func cmpInsn(size OperandSize, source, destination uint8, m indirect) x86Insn {
	opcode := uint8(0x39)
	if size == S8 {
		opcode = 0x38
	}
	return x86Insn{size: size, modrm: true, opcode: opcode, reg: source, rm: destination, mem: m}
}

func cmpImmInsn(size OperandSize, destination uint8, immediate int64, m indirect) x86Insn {
	opcode := uint8(0x81)
	if size == S8 {
		opcode = 0x80
	}
	in := x86Insn{size: size, modrm: true, opcode: opcode, reg: 7, rm: destination, mem: m, imm: immediate}
	if size == S64 {
		in.immSize = S32
	} else {
		in.immSize = size
	}
	return in
}

func testInsn(size OperandSize, source, destination uint8, m indirect) x86Insn {
	opcode := uint8(0x85)
	if size == S8 {
		opcode = 0x84
	}
	return x86Insn{size: size, modrm: true, opcode: opcode, reg: source, rm: destination, mem: m}
}

func bswapInsn(size OperandSize, destination uint8) x86Insn {
	if size == S16 {
		return x86Insn{size: size, modrm: true, opcode: 0xc1, reg: 0, rm: destination, immSize: S8, imm: 8}
	}
	return x86Insn{size: size, escape: 1, opcode: 0xc8 | (destination & 0x07), rm: destination}
}

func condJumpInsn(condition uint8, rel int32) x86Insn {
	return x86Insn{size: S32, escape: 1, opcode: condition, immSize: S32, imm: int64(rel)}
}

func jumpInsn(rel int32) x86Insn {
	return x86Insn{size: S32, opcode: 0xe9, immSize: S32, imm: int64(rel)}
}

func callRegInsn(destination uint8, m indirect) x86Insn {
	return x86Insn{size: S64, modrm: true, opcode: 0xff, reg: 2, rm: destination, mem: m}
}

func pushInsn(source uint8) x86Insn {
	return x86Insn{size: S32, opcode: 0x50 | (source & 0x07), rm: source}
}

func popInsn(destination uint8) x86Insn {
	return x86Insn{size: S32, opcode: 0x58 | (destination & 0x07), rm: destination}
}

func retInsn() x86Insn {
	return x86Insn{size: S32, opcode: 0xc3}
}

func leaInsn(size OperandSize, source, destination uint8, m indirect) x86Insn {
	return x86Insn{size: size, modrm: true, opcode: 0x8d, reg: destination, rm: source, mem: m}
}
