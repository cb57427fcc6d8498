//go:build linux

package probe

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/coral-mesh/cockroach/internal/errors"
	"github.com/coral-mesh/cockroach/internal/sys/proc"
)

// SelfMemory accesses the address space of the calling process. Writes lift
// the protection of the touched pages to RWX and then put back whatever
// protection each page had before.
type SelfMemory struct {
	logger   zerolog.Logger
	pageSize uint64
	regions  func(start, end uint64) ([]proc.Region, error)
}

// NewSelfMemory returns a Memory over the current process.
func NewSelfMemory(logger zerolog.Logger) *SelfMemory {
	return &SelfMemory{
		logger:   logger,
		pageSize: uint64(os.Getpagesize()), //nolint:gosec // G115: page size is positive.
		regions:  proc.SelfRegions,
	}
}

func protection(r proc.Region) int {
	prot := unix.PROT_NONE
	if r.Read {
		prot |= unix.PROT_READ
	}
	if r.Write {
		prot |= unix.PROT_WRITE
	}
	if r.Execute {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func view(addr uint64, n int) []byte {
	//nolint:govet // addr comes from /proc/self/maps or our own mappings.
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n)
}

// Read copies n bytes starting at addr.
func (m *SelfMemory) Read(addr uint64, n int) ([]byte, error) {
	if addr == 0 || n < 0 {
		return nil, fmt.Errorf("invalid read of %d bytes at %#x", n, addr)
	}
	return append([]byte(nil), view(addr, n)...), nil
}

// Write copies data to addr.
func (m *SelfMemory) Write(addr uint64, data []byte) error {
	if addr == 0 {
		return fmt.Errorf("invalid write at %#x", addr)
	}
	if len(data) == 0 {
		return nil
	}

	start := addr &^ (m.pageSize - 1)
	end := (addr + uint64(len(data)) + m.pageSize - 1) &^ (m.pageSize - 1)
	pages := view(start, int(end-start)) //nolint:gosec // G115: span of a few pages.

	regions, err := m.regions(start, end)
	if err != nil {
		return fmt.Errorf("failed to read protection of %#x-%#x: %w", start, end, err)
	}

	if err := unix.Mprotect(pages, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("mprotect %#x-%#x rwx: %w", start, end, err)
	}
	defer errors.DeferRestore(m.logger, func() error {
		for _, r := range regions {
			//nolint:gosec // G115: region is clipped to the written pages.
			if err := unix.Mprotect(view(r.Start, int(r.End-r.Start)), protection(r)); err != nil {
				return fmt.Errorf("mprotect %#x-%#x: %w", r.Start, r.End, err)
			}
		}
		return nil
	}, "failed to restore code page protection")

	copy(view(addr, len(data)), data)
	return nil
}
