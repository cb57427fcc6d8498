package attach

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// StopKind classifies a wait result.
type StopKind int

const (
	// StopStopped is a ptrace stop; Signal holds the stop signal.
	StopStopped StopKind = iota
	// StopExited means the thread exited; ExitCode is set.
	StopExited
	// StopKilled means the thread was killed by Signal.
	StopKilled
)

func (k StopKind) String() string {
	switch k {
	case StopStopped:
		return "stopped"
	case StopExited:
		return "exited"
	case StopKilled:
		return "killed"
	default:
		return fmt.Sprintf("stop(%d)", int(k))
	}
}

// Stop is one state change reported by Wait.
type Stop struct {
	TID      int
	Kind     StopKind
	Signal   unix.Signal
	ExitCode int
}

func (s Stop) String() string {
	switch s.Kind {
	case StopExited:
		return fmt.Sprintf("tid %d exited with %d", s.TID, s.ExitCode)
	default:
		return fmt.Sprintf("tid %d %s by %s", s.TID, s.Kind, unix.SignalName(s.Signal))
	}
}

// Regs is the subset of the register file the session records.
type Regs struct {
	RIP    uint64
	RSP    uint64
	RBP    uint64
	RAX    uint64
	RDI    uint64
	RSI    uint64
	EFlags uint64
}

// Tracer is the process tracing interface a Session drives. All calls must
// come from the goroutine that created the tracer.
type Tracer interface {
	Attach(tid int) error
	// Cont resumes tid, delivering sig unless it is zero.
	Cont(tid int, sig unix.Signal) error
	// Wait blocks until tid changes state. A tid of -1 waits for any tracee.
	Wait(tid int) (Stop, error)
	PeekText(tid int, addr uint64) (uint64, error)
	PokeText(tid int, addr uint64, word uint64) error
	GetRegs(tid int) (Regs, error)
}

// ThreadLister returns the thread ids of a process.
type ThreadLister func(pid int) ([]int, error)
