// Package proc reads process state from the Linux /proc filesystem: the
// executable mappings of a process, its threads and a few host facts.
package proc

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/procfs"
)

// Root is the mount point of procfs. Tests point it at a fixture tree.
var Root = "/proc"

// GetKernelVersion reads the kernel version from /proc/version.
func GetKernelVersion() string {
	data, err := os.ReadFile(Root + "/version")
	if err != nil {
		return "unknown"
	}

	// Parse version from output like "Linux version 5.15.0-xxx...".
	version := string(data)
	if idx := strings.Index(version, "Linux version "); idx >= 0 {
		version = version[idx+14:]
		if idx := strings.Index(version, " "); idx >= 0 {
			version = version[:idx]
		}
		return version
	}

	return "unknown"
}

// ListThreads returns the thread ids of pid from a single read of
// /proc/<pid>/task, sorted ascending. Threads created after the read are not
// included.
func ListThreads(pid int) ([]int, error) {
	fs, err := procfs.NewFS(Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", Root, err)
	}
	threads, err := fs.AllThreads(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads of %d: %w", pid, err)
	}

	tids := make([]int, 0, len(threads))
	for _, t := range threads {
		if t.PID > 0 {
			tids = append(tids, t.PID)
		}
	}
	if len(tids) == 0 {
		return nil, fmt.Errorf("no threads listed for pid %d", pid)
	}
	sort.Ints(tids)
	return tids, nil
}
