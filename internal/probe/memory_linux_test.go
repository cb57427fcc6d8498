//go:build linux

package probe

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/coral-mesh/cockroach/internal/sys/proc"
)

func TestSelfMemoryRestoresProtection(t *testing.T) {
	tests := []struct {
		name string
		prot int
		want proc.Region
	}{
		{"read exec", unix.PROT_READ | unix.PROT_EXEC, proc.Region{Read: true, Execute: true}},
		{"read write exec", unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC, proc.Region{Read: true, Write: true, Execute: true}},
		{"read write", unix.PROT_READ | unix.PROT_WRITE, proc.Region{Read: true, Write: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const size = 2 * 4096
			page, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
			require.NoError(t, err)
			t.Cleanup(func() { _ = unix.Munmap(page) })
			if err := unix.Mprotect(page, tt.prot); err != nil {
				t.Skipf("mprotect %#x: %v", tt.prot, err)
			}

			start := addrOf(page)
			mem := NewSelfMemory(zerolog.Nop())
			// Straddle the page boundary so both pages are touched.
			require.NoError(t, mem.Write(start+4094, []byte{0x90, 0x90, 0x90, 0x90}))

			regions, err := proc.SelfRegions(start, start+size)
			require.NoError(t, err)
			for _, r := range regions {
				assert.Equal(t, tt.want.Read, r.Read, "read %#x", r.Start)
				assert.Equal(t, tt.want.Write, r.Write, "write %#x", r.Start)
				assert.Equal(t, tt.want.Execute, r.Execute, "exec %#x", r.Start)
			}

			got, err := mem.Read(start+4094, 4)
			require.NoError(t, err)
			assert.Equal(t, []byte{0x90, 0x90, 0x90, 0x90}, got)

			if tt.want.Write {
				page[0] = 0xcc
				assert.Equal(t, byte(0xcc), page[0])
			}
		})
	}
}

func TestSelfMemoryWriteRegionsUnreadable(t *testing.T) {
	mem := NewSelfMemory(zerolog.Nop())
	mem.regions = func(start, end uint64) ([]proc.Region, error) {
		return nil, errors.New("maps unreadable")
	}

	err := mem.Write(0x7f0000001000, []byte{0x90})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maps unreadable")
}
