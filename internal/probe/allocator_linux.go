//go:build linux

package probe

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/coral-mesh/cockroach/internal/safe"
)

const (
	// trampolineBlockSize is the size of each mapping trampolines are carved from.
	trampolineBlockSize = 64 << 10
	trampolineAlign     = 16
	// hintStep is the distance between two placement attempts.
	hintStep = 1 << 20
	// maxHints bounds the search on either side of the target.
	maxHints = 2040
)

type block struct {
	start uint64
	size  uint64
	used  uint64
}

// reach reports whether every byte of [addr, addr+n) can be reached from
// near with a rel32 jump and back.
func reach(near, addr uint64, n int) bool {
	end := addr + uint64(n) //nolint:gosec // G115: n is a trampoline size.
	return safe.InRel32(near+JumpSize, addr) && safe.InRel32(end, near)
}

func (b *block) take(near uint64, size int) (uint64, bool) {
	off := (b.used + trampolineAlign - 1) &^ (trampolineAlign - 1)
	if off+uint64(size) > b.size { //nolint:gosec // G115: size is positive.
		return 0, false
	}
	addr := b.start + off
	if !reach(near, addr, size) {
		return 0, false
	}
	b.used = off + uint64(size) //nolint:gosec // G115: size is positive.
	return addr, true
}

type mapFunc func(hint uint64, length int) (uint64, error)
type unmapFunc func(addr uint64, length int) error

// NearAllocator places trampolines in anonymous executable mappings within
// rel32 reach of their patch site.
type NearAllocator struct {
	mu       sync.Mutex
	blocks   []*block
	pageSize uint64
	mmap     mapFunc
	munmap   unmapFunc
}

// NewNearAllocator returns an allocator backed by mmap.
func NewNearAllocator() *NearAllocator {
	return &NearAllocator{
		pageSize: uint64(os.Getpagesize()), //nolint:gosec // G115: page size is positive.
		mmap:     mmapFixedNoReplace,
		munmap:   munmap,
	}
}

// Alloc returns the address of size bytes of executable memory reachable
// from near with a rel32 displacement in both directions.
func (a *NearAllocator) Alloc(near uint64, size int) (uint64, error) {
	if size <= 0 || size > trampolineBlockSize {
		return 0, fmt.Errorf("invalid trampoline size %d", size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range a.blocks {
		if addr, ok := b.take(near, size); ok {
			return addr, nil
		}
	}

	b, err := a.mapNear(near)
	if err != nil {
		return 0, err
	}
	a.blocks = append(a.blocks, b)

	addr, _ := b.take(near, size)
	return addr, nil
}

// mapNear walks hints below near first, then above it, until a block lands
// in reach.
func (a *NearAllocator) mapNear(near uint64) (*block, error) {
	origin := near &^ (a.pageSize - 1)
	var lastErr error

	for i := uint64(1); i <= maxHints; i++ {
		for _, hint := range []uint64{origin - i*hintStep, origin + i*hintStep} {
			if hint < a.pageSize*16 || hint > origin+1<<31 || hint+1<<31 < origin {
				continue
			}
			addr, err := a.mmap(hint, trampolineBlockSize)
			if err != nil {
				lastErr = err
				continue
			}
			if !reach(near, addr, trampolineBlockSize) {
				_ = a.munmap(addr, trampolineBlockSize)
				continue
			}
			return &block{start: addr, size: trampolineBlockSize}, nil
		}
	}

	if lastErr == nil {
		lastErr = safe.ErrOutOfRange
	}
	return nil, fmt.Errorf("no free block within reach of %#x: %w", near, lastErr)
}

func mmapFixedNoReplace(hint uint64, length int) (uint64, error) {
	//nolint:govet // hint is an address request, not a Go pointer.
	p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(uintptr(hint)), uintptr(length),
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED_NOREPLACE)
	if err != nil {
		return 0, fmt.Errorf("mmap at %#x: %w", hint, err)
	}
	return uint64(uintptr(p)), nil
}

func munmap(addr uint64, length int) error {
	//nolint:govet // addr was returned by mmap.
	return unix.MunmapPtr(unsafe.Pointer(uintptr(addr)), uintptr(length))
}
