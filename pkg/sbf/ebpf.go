package sbf

// Constants describing the eBPF instruction encoding this JIT
// consumes. Trimmed from the wider set radiance's sbf package carries
// (ELF section layout, virtual memory map regions) to the instruction
// and stack constants this JIT deals with: this package has no
// ELF loader or memory mapper of its own, those live in the verifier
// and VM this JIT is embedded into.
const (
	// UBPF_MAX_INSTS is the eBPF VM's program length limit. Translate
	// does not check it: pc_locs and the jump list are sized from the
	// program it is given.
	UBPF_MAX_INSTS = 65536
	// INSN_SIZE is the size of one eBPF instruction record, in bytes.
	INSN_SIZE = 8
	// UBPF_STACK_SIZE is the size of the private stack frame the
	// prologue carves out of RSP for the running program, in bytes.
	UBPF_STACK_SIZE = 512
	// FRAME_PTR_REG is the eBPF register holding the frame's stack base.
	FRAME_PTR_REG = 10
)
