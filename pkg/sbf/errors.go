package sbf

import "fmt"

// JITError is implemented by every error the translator or compiler can
// return. It mirrors the EbpfError hierarchy the source draws its error
// kinds from, trimmed to the failures this JIT can actually produce
// (no ELF loader, no syscall registry, no call-depth tracking here).
type JITError interface {
	error
	isJITError()
}

var (
	_ JITError = &UnknownOpcode{}
	_ JITError = &ErrBufferOverflow{}
	_ JITError = &DisplacementOverflow{}
	_ JITError = &MapFailure{}
	_ JITError = &ProtectFailure{}
	_ JITError = &ImmediateDivideByZero{}
)

// UnknownOpcode is returned when translation encounters an opcode byte
// it does not recognize at a given PC.
type UnknownOpcode struct {
	PC     int
	Opcode uint8
}

func (e *UnknownOpcode) Error() string {
	return fmt.Sprintf("unknown instruction at PC %d: opcode %02x", e.PC, e.Opcode)
}

func (e *UnknownOpcode) isJITError() {}

// ErrBufferOverflow is returned when emitting an instruction would
// write past the end of the caller-provided output buffer.
type ErrBufferOverflow struct {
	Have int
	Want int
}

func (e *ErrBufferOverflow) Error() string {
	return fmt.Sprintf("jit output buffer too small: have %d bytes, need at least %d", e.Have, e.Want)
}

func (e *ErrBufferOverflow) isJITError() {}

// DisplacementOverflow is returned when a resolved branch does not fit
// in a signed 32-bit displacement. CALL is always translated as an
// indirect call, so no call displacement is ever checked here.
type DisplacementOverflow struct {
	OffsetLoc int
	Rel       int64
}

func (e *DisplacementOverflow) Error() string {
	return fmt.Sprintf("displacement %d at offset %d does not fit in a signed 32-bit field", e.Rel, e.OffsetLoc)
}

func (e *DisplacementOverflow) isJITError() {}

// MapFailure is returned when the embedder failed to allocate an
// anonymous read-write mapping for the generated code.
type MapFailure struct {
	Err error
}

func (e *MapFailure) Error() string { return fmt.Sprintf("mmap failed: %s", e.Err) }
func (e *MapFailure) isJITError()   {}

// ProtectFailure is returned when the embedder failed to transition the
// mapping holding the generated code from read-write to read-execute.
type ProtectFailure struct {
	Err error
}

func (e *ProtectFailure) Error() string { return fmt.Sprintf("mprotect failed: %s", e.Err) }
func (e *ProtectFailure) isJITError()   {}

// ImmediateDivideByZero is returned at translation time for a DIV or
// MOD instruction whose immediate divisor is the literal zero. The
// source JIT this package is descended from instead emitted a runtime
// TEST against the (here, unused) source register, which never traps
// for this case; this package refuses the program outright instead of
// replicating that bug.
type ImmediateDivideByZero struct {
	PC int
}

func (e *ImmediateDivideByZero) Error() string {
	return fmt.Sprintf("instruction at PC %d divides by the immediate constant zero", e.PC)
}

func (e *ImmediateDivideByZero) isJITError() {}

// JitNotCompiled names the "not yet compiled" condition, as distinct
// from a translation failure. No function in this package returns it:
// Program has no accessor for its entry point other than Compile.
type JitNotCompiled struct{}

func (e *JitNotCompiled) Error() string { return "program has not been JIT-compiled" }
func (e *JitNotCompiled) isJITError()   {}
