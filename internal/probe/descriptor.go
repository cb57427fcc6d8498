// Package probe patches code in the current process so that a window of
// whole instructions is replaced by a jump into a trampoline that calls the
// probe handlers and then re-executes the displaced instructions.
package probe

import (
	"fmt"

	"github.com/coral-mesh/cockroach/internal/logging"
)

// JumpSize is the length of the rel32 near jump written at a patch site.
const JumpSize = 5

// Kind is the patching technique of a descriptor.
type Kind int

const (
	// KindOverwriteJump replaces the window with a near jump to a trampoline.
	KindOverwriteJump Kind = iota
)

func (k Kind) String() string {
	switch k {
	case KindOverwriteJump:
		return "overwrite-jump"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Hook is the entry point of a native probe handler. It is called with no
// arguments; zero means no handler.
type Hook uintptr

// Descriptor is one requested probe. It is created unresolved from a recipe
// line and mutated once by Installer.TryInstall.
type Descriptor struct {
	LibraryPath string
	// Offset is the recipe-relative address inside LibraryPath.
	Offset uint64
	// Address is the absolute patch address, set when installation is tried.
	Address uint64
	// Length is the number of bytes overwritten at Address.
	Length int
	Kind   Kind

	PreHook  Hook
	PostHook Hook

	Installed bool
	// Attempted is set before the first installation side effect. A
	// descriptor is never tried twice.
	Attempted bool

	// Original holds the Length bytes found at Address before patching.
	Original []byte
	// Checksum is the xxh3 hash of Original.
	Checksum uint64
	// Trampoline is the code written at TrampolineAddr.
	Trampoline     []byte
	TrampolineAddr uint64

	// Line is the recipe line the descriptor came from, for diagnostics.
	Line int
}

// NewOverwriteJump returns a pending overwrite-jump descriptor.
func NewOverwriteJump(library string, offset uint64, length int) *Descriptor {
	return &Descriptor{
		LibraryPath: library,
		Offset:      offset,
		Length:      length,
		Kind:        KindOverwriteJump,
	}
}

// Pending reports whether the descriptor still waits for its library.
func (d *Descriptor) Pending() bool {
	return !d.Attempted
}

// ResumeAddr is the address execution continues at after the trampoline.
func (d *Descriptor) ResumeAddr() uint64 {
	return d.Address + uint64(d.Length) //nolint:gosec // G115: Length is validated positive.
}

func (d *Descriptor) String() string {
	state := "pending"
	switch {
	case d.Installed:
		state = "installed"
	case d.Attempted:
		state = "failed"
	}
	return fmt.Sprintf("%s %s+%s len=%d (%s)",
		d.Kind, d.LibraryPath, logging.Hex(d.Offset), d.Length, state)
}
