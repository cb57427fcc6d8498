package probe

import "errors"

var (
	// ErrAlreadyAttempted is returned for a descriptor that was tried before.
	ErrAlreadyAttempted = errors.New("installation already attempted")
	// ErrTooShort means the window cannot hold a near jump.
	ErrTooShort = errors.New("overwrite length shorter than a near jump")
	// ErrOutsideMapping means the window is not inside the library's
	// executable mapping.
	ErrOutsideMapping = errors.New("patch window outside executable mapping")
	// ErrRelativeBranch means a displaced instruction cannot be relocated.
	ErrRelativeBranch = errors.New("relative branch cannot be relocated")
	// ErrRelocation means a RIP-relative operand is out of reach from the
	// trampoline.
	ErrRelocation = errors.New("rip-relative operand out of reach")
	// ErrMemoryWrite wraps failures to modify code or trampoline memory.
	ErrMemoryWrite = errors.New("memory write failed")
	// ErrAllocate wraps failures to obtain trampoline memory.
	ErrAllocate = errors.New("trampoline allocation failed")
)
