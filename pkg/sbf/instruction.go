package sbf

import "encoding/binary"

// Insn is a decoded eBPF instruction record: 8 bytes on the wire,
// opcode, a packed dst/src nibble pair, a signed 16-bit branch/memory
// offset, and a signed 32-bit immediate.
type Insn struct {
	// Ptr is the instruction's index in the program; not part of the
	// wire encoding, filled in by DecodeProgram. Translate's errors
	// report the slice index, not this field.
	Ptr int
	Opc uint8
	Dst uint8
	Src uint8
	Off int16
	Imm int32
}

// toArray encodes the instruction back into its 8-byte wire form.
func (i Insn) toArray() [INSN_SIZE]uint8 {
	var out [INSN_SIZE]uint8
	out[0] = i.Opc
	out[1] = (i.Src << 4) | (i.Dst & 0x0f)
	binary.LittleEndian.PutUint16(out[2:4], uint16(i.Off))
	binary.LittleEndian.PutUint32(out[4:8], uint32(i.Imm))
	return out
}

// decodeInsn parses one 8-byte eBPF instruction record.
func decodeInsn(raw []byte) Insn {
	return Insn{
		Opc: raw[0],
		Dst: raw[1] & 0x0f,
		Src: raw[1] >> 4,
		Off: int16(binary.LittleEndian.Uint16(raw[2:4])),
		Imm: int32(binary.LittleEndian.Uint32(raw[4:8])),
	}
}

// DecodeProgram splits a raw eBPF byte stream into instruction
// records. It does no verification: bounds- and opcode-checking is the
// verifier's job (see §1 of SPEC_FULL.md), this just performs the
// mechanical byte-to-struct decode the translator's Translate walks.
func DecodeProgram(code []byte) ([]Insn, error) {
	if len(code)%INSN_SIZE != 0 {
		return nil, &ErrBufferOverflow{Have: len(code), Want: (len(code)/INSN_SIZE + 1) * INSN_SIZE}
	}
	num := len(code) / INSN_SIZE
	insts := make([]Insn, num)
	for i := 0; i < num; i++ {
		insts[i] = decodeInsn(code[i*INSN_SIZE : (i+1)*INSN_SIZE])
		insts[i].Ptr = i
	}
	return insts, nil
}
