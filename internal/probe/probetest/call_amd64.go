package probetest

// Call calls the native function at fn with no arguments and returns its
// RAX. The callee runs on a 4 KiB region of the calling goroutine's stack
// aligned to 16 bytes, and must preserve rbx, rbp and r12-r15.
func Call(fn uintptr) uint64
