package proc

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/prometheus/procfs"
)

// MappedLibraryRecord describes the executable mapping of one file.
type MappedLibraryRecord struct {
	Path string
	// Base is the load bias: Start minus the file offset of the mapping.
	// A file virtual address v of a position independent object lives at
	// Base+v in memory.
	Base   uint64
	Start  uint64
	End    uint64
	Offset uint64
	// Executable is always true for records produced by NewMappedLibraries.
	Executable bool
}

// Extent returns the size of the mapping in bytes.
func (r MappedLibraryRecord) Extent() uint64 {
	return r.End - r.Start
}

// Contains reports whether [addr, addr+n) lies inside the mapping.
func (r MappedLibraryRecord) Contains(addr, n uint64) bool {
	return addr >= r.Start && addr+n <= r.End && addr+n >= addr
}

// MappedLibraries is a snapshot of the executable file mappings of a process,
// keyed by path.
type MappedLibraries struct {
	records map[string]MappedLibraryRecord
}

// Lookup returns the record for path.
func (m *MappedLibraries) Lookup(path string) (MappedLibraryRecord, bool) {
	if m == nil {
		return MappedLibraryRecord{}, false
	}
	r, ok := m.records[path]
	return r, ok
}

// Paths returns the mapped paths in lexical order.
func (m *MappedLibraries) Paths() []string {
	if m == nil {
		return nil
	}
	paths := make([]string, 0, len(m.records))
	for p := range m.records {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of mapped paths.
func (m *MappedLibraries) Len() int {
	if m == nil {
		return 0
	}
	return len(m.records)
}

// NewMappedLibraries keeps the executable mappings of regular files: the
// execute permission must be set and the path must be absolute and free of
// whitespace, which excludes pseudo mappings such as [vdso] and
// "(deleted)" entries. The first executable mapping of a path wins.
func NewMappedLibraries(maps []*procfs.ProcMap) (*MappedLibraries, error) {
	libs := &MappedLibraries{records: make(map[string]MappedLibraryRecord)}

	for _, m := range maps {
		if m == nil || m.Perms == nil || !m.Perms.Execute {
			continue
		}
		path := m.Pathname
		if !strings.HasPrefix(path, "/") || strings.IndexFunc(path, unicode.IsSpace) >= 0 {
			continue
		}
		if _, seen := libs.records[path]; seen {
			continue
		}

		start, end := uint64(m.StartAddr), uint64(m.EndAddr)
		if end < start {
			return nil, fmt.Errorf("inverted address range %#x-%#x for %s", start, end, path)
		}
		if m.Offset < 0 {
			return nil, fmt.Errorf("negative file offset %d for %s", m.Offset, path)
		}
		offset := uint64(m.Offset)

		libs.records[path] = MappedLibraryRecord{
			Path:       path,
			Base:       start - offset,
			Start:      start,
			End:        end,
			Offset:     offset,
			Executable: true,
		}
	}

	return libs, nil
}

// LoadSelfMaps resolves the mappings of the calling process.
func LoadSelfMaps() (*MappedLibraries, error) {
	fs, err := procfs.NewFS(Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", Root, err)
	}
	p, err := fs.Self()
	if err != nil {
		return nil, fmt.Errorf("failed to open own process entry: %w", err)
	}
	return loadMaps(p)
}

// LoadMaps resolves the mappings of pid.
func LoadMaps(pid int) (*MappedLibraries, error) {
	fs, err := procfs.NewFS(Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", Root, err)
	}
	p, err := fs.Proc(pid)
	if err != nil {
		return nil, fmt.Errorf("error opening process %d: %w", pid, err)
	}
	return loadMaps(p)
}

func loadMaps(p procfs.Proc) (*MappedLibraries, error) {
	maps, err := p.ProcMaps()
	if err != nil {
		return nil, fmt.Errorf("error reading process %d memory maps: %w", p.PID, err)
	}
	return NewMappedLibraries(maps)
}
