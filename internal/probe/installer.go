package probe

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/cockroach/internal/disasm"
	"github.com/coral-mesh/cockroach/internal/logging"
	"github.com/coral-mesh/cockroach/internal/sys/proc"
)

// Installer patches descriptors into memory.
type Installer struct {
	memory    Memory
	allocator Allocator
	logger    zerolog.Logger
}

// NewInstaller creates an installer writing through mem and placing
// trampolines obtained from alloc.
func NewInstaller(mem Memory, alloc Allocator, logger zerolog.Logger) *Installer {
	return &Installer{
		memory:    mem,
		allocator: alloc,
		logger:    logging.WithSubsystem(logger, "probe"),
	}
}

// TryInstall resolves d against lib and patches it. Each descriptor gets a
// single attempt; on failure it stays uninstalled for good. Errors wrapping
// *disasm.DecodeError mean the tables could not describe the patch window.
func (i *Installer) TryInstall(d *Descriptor, lib proc.MappedLibraryRecord) error {
	if d.Attempted {
		return fmt.Errorf("%w: %s", ErrAlreadyAttempted, d)
	}
	d.Attempted = true

	if d.Length < JumpSize {
		return fmt.Errorf("%w: %d bytes", ErrTooShort, d.Length)
	}

	d.Address = lib.Base + d.Offset
	logger := i.logger.With().
		Str("library", d.LibraryPath).
		Str("addr", logging.Hex(d.Address)).
		Int("length", d.Length).
		Logger()

	if !lib.Contains(d.Address, uint64(d.Length)) {
		return fmt.Errorf("%w: %s not in [%s, %s)", ErrOutsideMapping,
			logging.Hex(d.Address), logging.Hex(lib.Start), logging.Hex(lib.End))
	}

	window := uint64(d.Length + disasm.MaxInstructionLength)
	if rest := lib.End - d.Address; rest < window {
		window = rest
	}
	code, err := i.memory.Read(d.Address, int(window)) //nolint:gosec // G115: bounded by Length+15.
	if err != nil {
		return fmt.Errorf("failed to read patch window: %w", err)
	}

	insts, err := disasm.Measure(code, d.Address, d.Length)
	if err != nil {
		return fmt.Errorf("failed to measure patch window at %s: %w", logging.Hex(d.Address), err)
	}

	d.Original = append([]byte(nil), code[:d.Length]...)
	d.Checksum = xxh3.Hash(d.Original)

	if e := logger.Debug(); e.Enabled() {
		e.Strs("original", disasm.Disassemble(d.Original, d.Address)).Msg("patch window")
	}

	size := trampolineSize(d, insts)
	base, err := i.allocator.Alloc(d.Address, size)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAllocate, err)
	}

	tramp, err := buildTrampoline(base, d, insts)
	if err != nil {
		return err
	}
	patch, err := patchSite(d.Address, d.Length, base)
	if err != nil {
		return fmt.Errorf("%w: trampoline at %s: %w", ErrAllocate, logging.Hex(base), err)
	}

	if err := i.memory.Write(base, tramp); err != nil {
		return fmt.Errorf("%w: trampoline at %s: %w", ErrMemoryWrite, logging.Hex(base), err)
	}
	if err := i.memory.Write(d.Address, patch); err != nil {
		return fmt.Errorf("%w: patch site %s: %w", ErrMemoryWrite, logging.Hex(d.Address), err)
	}

	d.Trampoline = tramp
	d.TrampolineAddr = base
	d.Installed = true

	logger.Info().
		Str("trampoline", logging.Hex(base)).
		Str("checksum", fmt.Sprintf("%016x", d.Checksum)).
		Msg("Probe installed")
	return nil
}
