package proc

import (
	"fmt"
	"sort"

	"github.com/prometheus/procfs"
)

// Region is the part of one mapping that overlaps a queried range, with the
// access bits of that mapping.
type Region struct {
	Start   uint64
	End     uint64
	Read    bool
	Write   bool
	Execute bool
}

// RegionsIn clips maps to [start, end). It fails unless the mappings cover
// the whole range without gaps.
func RegionsIn(maps []*procfs.ProcMap, start, end uint64) ([]Region, error) {
	if end <= start {
		return nil, fmt.Errorf("empty range %#x-%#x", start, end)
	}

	var regions []Region
	for _, m := range maps {
		if m == nil || m.Perms == nil {
			continue
		}
		lo, hi := uint64(m.StartAddr), uint64(m.EndAddr)
		if hi <= start || lo >= end {
			continue
		}
		regions = append(regions, Region{
			Start:   max(lo, start),
			End:     min(hi, end),
			Read:    m.Perms.Read,
			Write:   m.Perms.Write,
			Execute: m.Perms.Execute,
		})
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })

	next := start
	for _, r := range regions {
		if r.Start != next {
			break
		}
		next = r.End
	}
	if next != end {
		return nil, fmt.Errorf("range %#x-%#x is not fully mapped (gap at %#x)", start, end, next)
	}
	return regions, nil
}

// SelfRegions returns the mappings of the calling process over
// [start, end).
func SelfRegions(start, end uint64) ([]Region, error) {
	fs, err := procfs.NewFS(Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", Root, err)
	}
	p, err := fs.Self()
	if err != nil {
		return nil, fmt.Errorf("failed to open own process entry: %w", err)
	}
	maps, err := p.ProcMaps()
	if err != nil {
		return nil, fmt.Errorf("error reading own memory maps: %w", err)
	}
	return RegionsIn(maps, start, end)
}
