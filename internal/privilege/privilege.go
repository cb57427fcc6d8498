// Package privilege reports whether the current process may trace others.
package privilege

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Capability is a Linux capability bit position (include/uapi/linux/capability.h).
type Capability uint

// CapSysPtrace allows tracing arbitrary processes.
const CapSysPtrace Capability = 19

// Paths read by this package. Tests point them at fixtures.
var (
	StatusPath      = "/proc/self/status"
	PtraceScopePath = "/proc/sys/kernel/yama/ptrace_scope"
)

// IsRoot checks if the current process is running with root privileges (euid
// == 0).
func IsRoot() bool {
	return os.Geteuid() == 0
}

// HasCapability reports whether c is in the effective capability set of the
// current process.
func HasCapability(c Capability) (bool, error) {
	capEff, err := readCapabilityBitmask(StatusPath, "CapEff")
	if err != nil {
		return false, err
	}
	return capEff&(1<<c) != 0, nil
}

// PtraceScope returns the Yama ptrace_scope setting, or -1 when Yama is not
// enabled.
func PtraceScope() (int, error) {
	data, err := os.ReadFile(PtraceScopePath)
	if err != nil {
		if os.IsNotExist(err) {
			return -1, nil
		}
		return 0, err
	}
	scope, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid ptrace_scope %q: %w", data, err)
	}
	return scope, nil
}

// CanTrace summarises whether attaching to a non-child process is expected
// to succeed. The returned reason is empty when it is.
func CanTrace() (bool, string) {
	if IsRoot() {
		return true, ""
	}

	hasPtrace, err := HasCapability(CapSysPtrace)
	if err != nil {
		return false, fmt.Sprintf("cannot read capabilities: %v", err)
	}
	if hasPtrace {
		return true, ""
	}

	scope, err := PtraceScope()
	if err != nil {
		return false, fmt.Sprintf("cannot read ptrace_scope: %v", err)
	}
	if scope >= 1 {
		return false, fmt.Sprintf("not root, CAP_SYS_PTRACE missing and kernel.yama.ptrace_scope=%d", scope)
	}
	return true, ""
}

// readCapabilityBitmask reads a capability bitmask line such as
// "CapEff:\t00000000a80435fb" from a status file.
func readCapabilityBitmask(procStatusPath, capName string) (uint64, error) {
	//nolint:gosec // G304: Path is from /proc filesystem for process information.
	file, err := os.Open(procStatusPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", procStatusPath, err)
	}
	defer file.Close() // nolint:errcheck

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, capName+":") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			return 0, fmt.Errorf("invalid %s format: %s", capName, line)
		}

		bitmask, err := strconv.ParseUint(parts[1], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s bitmask: %w", capName, err)
		}

		return bitmask, nil
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", procStatusPath, err)
	}

	return 0, fmt.Errorf("%s not found in %s", capName, procStatusPath)
}
