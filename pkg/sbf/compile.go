package sbf

import (
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Upper bounds on translated code size, used to size the mmap'd
// region before translation runs. MAX_EMPTY_PROGRAM_MACHINE_CODE_LENGTH
// covers the prologue, epilogue and divide-by-zero trampoline that
// exist even for a zero-instruction program; the per-instruction bound
// is generous enough for the widest single translation (a checked
// register DIV/MOD, which pushes RAX and RDX around a multi-instruction
// sequence).
const (
	MAX_EMPTY_PROGRAM_MACHINE_CODE_LENGTH   = 256
	MAX_MACHINE_CODE_LENGTH_PER_INSTRUCTION = 128
)

const (
	anonPrivate = unix.MAP_ANON | unix.MAP_PRIVATE
	readWrite   = unix.PROT_READ | unix.PROT_WRITE
	readExec    = unix.PROT_READ | unix.PROT_EXEC
)

func roundToPageSize(value, pageSize uint64) uint64 {
	return (value + pageSize - 1) / pageSize * pageSize
}

// Program couples a decoded eBPF program with whatever machine code
// Compile has produced for it, if any.
type Program struct {
	insns []Insn
	regs  RegisterMap

	mu    sync.Mutex
	code  []byte
	entry uintptr
}

// NewProgram wraps insns for translation and execution under regs.
// regs is normally NewRegisterMap(SystemV) or NewRegisterMap(Windows);
// tests may substitute a Permuted or Rotated variant.
func NewProgram(insns []Insn, regs RegisterMap) *Program {
	return &Program{insns: insns, regs: regs}
}

// Compile translates the program into an executable mapping and
// returns a callable entry point. It is idempotent: a second call
// returns the same entry point without re-translating or re-mapping.
func (p *Program) Compile() (CompiledFunc, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.code != nil {
		return CompiledFunc{addr: p.entry}, nil
	}

	pageSize := uint64(os.Getpagesize())
	upperBound := uint64(len(p.insns))*MAX_MACHINE_CODE_LENGTH_PER_INSTRUCTION + MAX_EMPTY_PROGRAM_MACHINE_CODE_LENGTH
	mapSize := roundToPageSize(upperBound, pageSize)

	mem, err := unix.Mmap(-1, 0, int(mapSize), anonPrivate, readWrite)
	if err != nil {
		return CompiledFunc{}, &MapFailure{Err: err}
	}

	n, err := Translate(p.insns, mem, p.regs)
	if err != nil {
		_ = unix.Munmap(mem)
		return CompiledFunc{}, err
	}

	// Fill the unused tail with int3 so a mis-resolved jump traps
	// instead of running into whatever garbage follows.
	for i := n; i < len(mem); i++ {
		mem[i] = 0xcc
	}

	if err := unix.Mprotect(mem, readExec); err != nil {
		_ = unix.Munmap(mem)
		return CompiledFunc{}, &ProtectFailure{Err: err}
	}

	p.code = mem
	p.entry = uintptr(unsafe.Pointer(&mem[0]))
	return CompiledFunc{addr: p.entry}, nil
}

// Release unmaps the compiled code. The Program can be recompiled
// afterwards; any CompiledFunc obtained before Release must not be
// invoked again once Release has run.
func (p *Program) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.code == nil {
		return nil
	}
	err := unix.Munmap(p.code)
	p.code = nil
	p.entry = 0
	return err
}
