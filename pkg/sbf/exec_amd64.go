package sbf

import "unsafe"

// callJIT invokes the machine code at addr using the host's C calling
// convention: arg1/arg2/arg3 land in whichever registers Translate's
// RegisterMap assumed a caller would use for them. The two
// implementations (call_amd64.s for the System V ABI, call_windows_amd64.s
// for Microsoft x64) differ only in which registers those are; Go
// cannot express a call through an arbitrary function pointer without
// dropping into assembly for exactly this reason.
func callJIT(addr, arg1, arg2, arg3 uintptr) uint64

// CompiledFunc is the callable result of Program.Compile: a fixed
// address in executable memory, invoked with the JIT function's three
// parameters (context, external function table, error_printf).
type CompiledFunc struct {
	addr uintptr
}

// Run invokes the compiled program. extFuncs may be nil if the program
// contains no CALL instructions; errorPrintf may be 0 to silently
// swallow divide-by-zero reports.
func (f CompiledFunc) Run(ctx uint64, extFuncs []uintptr, errorPrintf uintptr) uint64 {
	var extPtr uintptr
	if len(extFuncs) > 0 {
		extPtr = uintptr(unsafe.Pointer(&extFuncs[0]))
	}
	return callJIT(f.addr, uintptr(ctx), extPtr, errorPrintf)
}
