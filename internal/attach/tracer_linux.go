//go:build linux && amd64

package attach

import (
	"encoding/binary"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PtraceTracer implements Tracer with ptrace(2). Linux binds tracees to the
// OS thread that attached them, so the creating goroutine is locked to its
// thread until Release.
type PtraceTracer struct{}

// NewPtraceTracer locks the calling goroutine to its OS thread.
func NewPtraceTracer() *PtraceTracer {
	runtime.LockOSThread()
	return &PtraceTracer{}
}

// Release unlocks the goroutine from its OS thread.
func (t *PtraceTracer) Release() {
	runtime.UnlockOSThread()
}

func (t *PtraceTracer) Attach(tid int) error {
	if err := unix.PtraceAttach(tid); err != nil {
		return &TraceError{Op: "attach", TID: tid, Err: err}
	}
	return nil
}

func (t *PtraceTracer) Cont(tid int, sig unix.Signal) error {
	if err := unix.PtraceCont(tid, int(sig)); err != nil {
		return &TraceError{Op: "cont", TID: tid, Err: err}
	}
	return nil
}

func (t *PtraceTracer) Wait(tid int) (Stop, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(tid, &ws, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Stop{}, &TraceError{Op: "wait", TID: tid, Err: err}
		}
		return toStop(wpid, ws)
	}
}

func toStop(wpid int, ws unix.WaitStatus) (Stop, error) {
	switch {
	case ws.Stopped():
		return Stop{TID: wpid, Kind: StopStopped, Signal: ws.StopSignal()}, nil
	case ws.Exited():
		return Stop{TID: wpid, Kind: StopExited, ExitCode: ws.ExitStatus()}, nil
	case ws.Signaled():
		return Stop{TID: wpid, Kind: StopKilled, Signal: ws.Signal()}, nil
	default:
		return Stop{}, fmt.Errorf("%w: tid %d wait status %#x", ErrProtocol, wpid, uint32(ws))
	}
}

func (t *PtraceTracer) PeekText(tid int, addr uint64) (uint64, error) {
	var buf [8]byte
	n, err := unix.PtracePeekText(tid, uintptr(addr), buf[:])
	if err != nil {
		return 0, &TraceError{Op: "peektext", TID: tid, Err: err}
	}
	if n != len(buf) {
		return 0, &TraceError{Op: "peektext", TID: tid, Err: fmt.Errorf("short read of %d bytes at %#x", n, addr)}
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (t *PtraceTracer) PokeText(tid int, addr uint64, word uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	n, err := unix.PtracePokeText(tid, uintptr(addr), buf[:])
	if err != nil {
		return &TraceError{Op: "poketext", TID: tid, Err: err}
	}
	if n != len(buf) {
		return &TraceError{Op: "poketext", TID: tid, Err: fmt.Errorf("short write of %d bytes at %#x", n, addr)}
	}
	return nil
}

func (t *PtraceTracer) GetRegs(tid int) (Regs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return Regs{}, &TraceError{Op: "getregs", TID: tid, Err: err}
	}
	return Regs{
		RIP:    regs.Rip,
		RSP:    regs.Rsp,
		RBP:    regs.Rbp,
		RAX:    regs.Rax,
		RDI:    regs.Rdi,
		RSI:    regs.Rsi,
		EFlags: regs.Eflags,
	}, nil
}
