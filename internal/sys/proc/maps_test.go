package proc

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMaps = `55d4c8a00000-55d4c8a02000 r--p 00000000 08:01 1311 /usr/bin/target
55d4c8a02000-55d4c8a05000 r-xp 00002000 08:01 1311 /usr/bin/target
55d4c8c04000-55d4c8c25000 rw-p 00000000 00:00 0 [heap]
7f3a10000000-7f3a10021000 rw-p 00000000 00:00 0
7f3a1c000000-7f3a1c028000 r--p 00000000 08:01 2244 /usr/lib/x86_64-linux-gnu/libc.so.6
7f3a1c028000-7f3a1c1bd000 r-xp 00028000 08:01 2244 /usr/lib/x86_64-linux-gnu/libc.so.6
7f3a1c1bd000-7f3a1c215000 r--p 001bd000 08:01 2244 /usr/lib/x86_64-linux-gnu/libc.so.6
7f3a1c400000-7f3a1c401000 r-xp 00000000 08:01 3001 /opt/app/libfoo.so
7f3a1c600000-7f3a1c601000 r-xp 00001000 08:01 3001 /opt/app/libfoo.so
7f3a1c800000-7f3a1c801000 r-xp 00000000 08:01 3002 relative/libbar.so
7f3a1ca00000-7f3a1ca01000 r-xp 00000000 08:01 3003 /opt/app/lib with space.so
7f3a1cc00000-7f3a1cc01000 r-xp 00000000 08:01 3004 /opt/app/libgone.so (deleted)
7ffd6b1e0000-7ffd6b1e2000 r-xp 00000000 00:00 0 [vdso]
ffffffffff600000-ffffffffff601000 --xp 00000000 00:00 0 [vsyscall]
`

// writeMaps installs content as /proc/<pid>/maps under a fixture root.
func writeMaps(t *testing.T, root string, pid int, content string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "maps"), []byte(content), 0o644))
}

func TestLoadMaps(t *testing.T) {
	root := fakeRoot(t)
	writeMaps(t, root, 321, sampleMaps)

	libs, err := LoadMaps(321)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/opt/app/libfoo.so",
		"/usr/bin/target",
		"/usr/lib/x86_64-linux-gnu/libc.so.6",
	}, libs.Paths())
	assert.Equal(t, 3, libs.Len())

	tests := []struct {
		path string
		want MappedLibraryRecord
	}{
		{
			path: "/usr/bin/target",
			want: MappedLibraryRecord{
				Path:       "/usr/bin/target",
				Base:       0x55d4c8a00000,
				Start:      0x55d4c8a02000,
				End:        0x55d4c8a05000,
				Offset:     0x2000,
				Executable: true,
			},
		},
		{
			path: "/usr/lib/x86_64-linux-gnu/libc.so.6",
			want: MappedLibraryRecord{
				Path:       "/usr/lib/x86_64-linux-gnu/libc.so.6",
				Base:       0x7f3a1c000000,
				Start:      0x7f3a1c028000,
				End:        0x7f3a1c1bd000,
				Offset:     0x28000,
				Executable: true,
			},
		},
		{
			// First executable mapping wins.
			path: "/opt/app/libfoo.so",
			want: MappedLibraryRecord{
				Path:       "/opt/app/libfoo.so",
				Base:       0x7f3a1c400000,
				Start:      0x7f3a1c400000,
				End:        0x7f3a1c401000,
				Executable: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := libs.Lookup(tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, missing := range []string{
		"[heap]", "[vdso]", "[vsyscall]", "relative/libbar.so",
		"/opt/app/lib", "/opt/app/lib with space.so", "/opt/app/libgone.so", "/opt/app/libgone.so (deleted)",
	} {
		_, ok := libs.Lookup(missing)
		assert.False(t, ok, missing)
	}
}

func TestLoadMapsDeterministic(t *testing.T) {
	root := fakeRoot(t)
	writeMaps(t, root, 321, sampleMaps)

	first, err := LoadMaps(321)
	require.NoError(t, err)
	second, err := LoadMaps(321)
	require.NoError(t, err)

	assert.Equal(t, first.Paths(), second.Paths())
	for _, p := range first.Paths() {
		a, _ := first.Lookup(p)
		b, _ := second.Lookup(p)
		assert.Equal(t, a, b)
	}
}

func TestLoadMapsMalformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"missing dash", "7f3a1c400000 r-xp 00000000 08:01 3001 /lib/a.so"},
		{"bad start", "zz-7f3a1c401000 r-xp 00000000 08:01 3001 /lib/a.so"},
		{"bad end", "7f3a1c400000-zz r-xp 00000000 08:01 3001 /lib/a.so"},
		{"inverted", "7f3a1c401000-7f3a1c400000 r-xp 00000000 08:01 3001 /lib/a.so"},
		{"bad offset", "7f3a1c400000-7f3a1c401000 r-xp 0000zz00 08:01 3001 /lib/a.so"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := fakeRoot(t)
			writeMaps(t, root, 55, tt.line+"\n")
			_, err := LoadMaps(55)
			assert.Error(t, err)
		})
	}
}

func TestNewMappedLibraries(t *testing.T) {
	exec := &procfs.ProcMapPermissions{Read: true, Execute: true, Private: true}
	ro := &procfs.ProcMapPermissions{Read: true, Private: true}

	libs, err := NewMappedLibraries([]*procfs.ProcMap{
		{StartAddr: 0x7f0000000000, EndAddr: 0x7f0000001000, Perms: ro, Pathname: "/lib/libfoo.so"},
		{StartAddr: 0x7f0000001000, EndAddr: 0x7f0000004000, Perms: exec, Offset: 0x1000, Pathname: "/lib/libfoo.so"},
		{StartAddr: 0x7f0000010000, EndAddr: 0x7f0000011000, Perms: exec, Pathname: ""},
		{StartAddr: 0x7f0000020000, EndAddr: 0x7f0000021000, Pathname: "/lib/noperms.so"},
		nil,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/lib/libfoo.so"}, libs.Paths())

	rec, ok := libs.Lookup("/lib/libfoo.so")
	require.True(t, ok)
	assert.Equal(t, uint64(0x7f0000000000), rec.Base)
	assert.Equal(t, uint64(0x3000), rec.Extent())

	_, err = NewMappedLibraries([]*procfs.ProcMap{
		{StartAddr: 0x2000, EndAddr: 0x1000, Perms: exec, Pathname: "/lib/a.so"},
	})
	assert.Error(t, err)
	_, err = NewMappedLibraries([]*procfs.ProcMap{
		{StartAddr: 0x1000, EndAddr: 0x2000, Perms: exec, Offset: -1, Pathname: "/lib/a.so"},
	})
	assert.Error(t, err)
}

func TestLoadMapsEmpty(t *testing.T) {
	root := fakeRoot(t)
	writeMaps(t, root, 9, "")

	libs, err := LoadMaps(9)
	require.NoError(t, err)
	assert.Empty(t, libs.Paths())

	var nilLibs *MappedLibraries
	_, ok := nilLibs.Lookup("/x")
	assert.False(t, ok)
	assert.Zero(t, nilLibs.Len())
}

func TestMappedLibraryRecordContains(t *testing.T) {
	r := MappedLibraryRecord{Start: 0x1000, End: 0x2000}

	assert.Equal(t, uint64(0x1000), r.Extent())
	assert.True(t, r.Contains(0x1000, 5))
	assert.True(t, r.Contains(0x1ffb, 5))
	assert.False(t, r.Contains(0x1ffc, 5))
	assert.False(t, r.Contains(0xfff, 5))
	assert.False(t, r.Contains(^uint64(0)-1, 5))
}

func TestLoadMapsMissingProcess(t *testing.T) {
	fakeRoot(t)
	_, err := LoadMaps(322)
	assert.Error(t, err)
}

func TestLoadSelfMapsLive(t *testing.T) {
	if _, err := os.Stat("/proc/self/maps"); err != nil {
		t.Skip("procfs not available")
	}

	libs, err := LoadSelfMaps()
	require.NoError(t, err)

	exe, err := os.Executable()
	require.NoError(t, err)
	exe, err = filepath.EvalSymlinks(exe)
	require.NoError(t, err)

	rec, ok := libs.Lookup(exe)
	require.True(t, ok, "test binary %s not in own maps", exe)
	assert.True(t, rec.Executable)
	assert.Greater(t, rec.Extent(), uint64(0))
}
