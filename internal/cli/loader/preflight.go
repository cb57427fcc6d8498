package loader

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/coral-mesh/cockroach/internal/privilege"
	"github.com/coral-mesh/cockroach/internal/sys/proc"
)

// targetInfo is what the pre-flight check learned about the target.
type targetInfo struct {
	Name    string
	Threads int32
	Exe     string
}

// inspectTarget looks the target up before any tracing call is made.
func inspectTarget(ctx context.Context, pid int) (targetInfo, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid)) //nolint:gosec // G115: pid validated positive.
	if err != nil {
		return targetInfo{}, fmt.Errorf("target process %d: %w", pid, err)
	}

	var info targetInfo
	if info.Name, err = p.NameWithContext(ctx); err != nil {
		return targetInfo{}, fmt.Errorf("failed to read name of %d: %w", pid, err)
	}
	// Thread count and executable are informational; permission errors are
	// expected for other users' processes.
	info.Threads, _ = p.NumThreadsWithContext(ctx)
	info.Exe, _ = p.ExeWithContext(ctx)
	return info, nil
}

// checkModuleMapped warns when no mapping of the target carries the
// instrumentation module's file name. The trap still works without it, but
// no probe will be installed.
func checkModuleMapped(logger zerolog.Logger, pid int, libPath string) {
	libs, err := proc.LoadMaps(pid)
	if err != nil {
		logger.Debug().Err(err).Msg("Cannot read target mappings")
		return
	}
	want := filepath.Base(libPath)
	for _, path := range libs.Paths() {
		if filepath.Base(path) == want {
			logger.Debug().Str("module", path).Msg("Instrumentation module is mapped")
			return
		}
	}
	logger.Warn().Str("module", libPath).Msg("Instrumentation module is not mapped in the target")
}

// warnPrivileges logs when attaching is likely to be refused.
func warnPrivileges(logger zerolog.Logger) {
	if ok, reason := privilege.CanTrace(); !ok {
		logger.Warn().Str("reason", reason).Msg("Attach will probably be denied")
	}
}
