// Package attach stops every thread of a running process under ptrace and
// plants a breakpoint whose hit tells the operator that the process reached
// a known point.
package attach

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/coral-mesh/cockroach/internal/logging"
	"github.com/coral-mesh/cockroach/internal/sys/proc"
)

// trapOpcode is int3.
const trapOpcode = 0xcc

// State is the position of a Session in the attach sequence.
type State int

const (
	Unattached State = iota
	MainAttached
	AllThreadsAttached
	TrapInstalled
	TrapHit
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case MainAttached:
		return "main-attached"
	case AllThreadsAttached:
		return "all-threads-attached"
	case TrapInstalled:
		return "trap-installed"
	case TrapHit:
		return "trap-hit"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config describes one attach invocation.
type Config struct {
	PID      int
	TrapAddr uint64
	// RecipePath and LibPath are carried for reporting.
	RecipePath string
	LibPath    string

	Tracer Tracer
	// ListThreads defaults to proc.ListThreads.
	ListThreads ThreadLister
	Logger      zerolog.Logger
}

// Session is one attach to a target process. Nothing is detached or
// restored when it ends: the trap byte stays in place.
type Session struct {
	ID         uuid.UUID
	PID        int
	TrapAddr   uint64
	RecipePath string
	LibPath    string

	// Regs is the main thread register snapshot taken after all threads
	// stopped.
	Regs Regs
	// OriginalWord and OriginalByte hold the text found at TrapAddr.
	OriginalWord uint64
	OriginalByte byte
	// HitTID is the thread that reached the trap, HitRegs its registers.
	HitTID  int
	HitRegs Regs

	StartedAt time.Time
	HitAt     time.Time

	state   State
	threads map[int]struct{}
	tracer  Tracer
	list    ThreadLister
	logger  zerolog.Logger
}

// NewSession validates cfg and returns an unattached session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.PID <= 0 {
		return nil, fmt.Errorf("invalid pid %d", cfg.PID)
	}
	if cfg.TrapAddr == 0 {
		return nil, fmt.Errorf("trap address is required")
	}
	if cfg.Tracer == nil {
		return nil, fmt.Errorf("tracer is required")
	}

	list := cfg.ListThreads
	if list == nil {
		list = proc.ListThreads
	}

	id := uuid.New()
	return &Session{
		ID:         id,
		PID:        cfg.PID,
		TrapAddr:   cfg.TrapAddr,
		RecipePath: cfg.RecipePath,
		LibPath:    cfg.LibPath,
		threads:    make(map[int]struct{}),
		tracer:     cfg.Tracer,
		list:       list,
		logger: logging.WithSubsystem(cfg.Logger, "attach").With().
			Str("session_id", id.String()).
			Int("pid", cfg.PID).
			Logger(),
	}, nil
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Threads returns the attached thread ids in ascending order.
func (s *Session) Threads() []int {
	tids := make([]int, 0, len(s.threads))
	for tid := range s.threads {
		tids = append(tids, tid)
	}
	sort.Ints(tids)
	return tids
}

func (s *Session) expect(want State, step string) error {
	if s.state != want {
		return fmt.Errorf("%w: %s requires %s, session is %s", ErrInvalidTransition, step, want, s.state)
	}
	return nil
}

// waitStopped waits on tid and requires a ptrace stop, optionally by a given
// signal.
func (s *Session) waitStopped(tid int, sig unix.Signal) (Stop, error) {
	stop, err := s.tracer.Wait(tid)
	if err != nil {
		return Stop{}, err
	}
	if stop.Kind != StopStopped || (sig != 0 && stop.Signal != sig) {
		return stop, fmt.Errorf("%w: expected %s stop of tid %d, got %s",
			ErrProtocol, signalName(sig), tid, stop)
	}
	return stop, nil
}

func signalName(sig unix.Signal) string {
	if sig == 0 {
		return "a traced"
	}
	return unix.SignalName(sig)
}

// AttachMain attaches the main thread and waits for its attach stop.
func (s *Session) AttachMain() error {
	if err := s.expect(Unattached, "attach main thread"); err != nil {
		return err
	}
	if err := s.tracer.Attach(s.PID); err != nil {
		return err
	}
	if _, err := s.waitStopped(s.PID, 0); err != nil {
		return err
	}

	s.threads[s.PID] = struct{}{}
	s.StartedAt = time.Now()
	s.state = MainAttached
	s.logger.Info().Msg("Main thread attached")
	return nil
}

// AttachAllThreads re-stops the main thread with SIGSTOP, then attaches every
// other thread listed in one snapshot of the task directory.
func (s *Session) AttachAllThreads() error {
	if err := s.expect(MainAttached, "attach all threads"); err != nil {
		return err
	}

	if err := s.tracer.Cont(s.PID, unix.SIGSTOP); err != nil {
		return err
	}
	if _, err := s.waitStopped(s.PID, unix.SIGSTOP); err != nil {
		return err
	}

	tids, err := s.list(s.PID)
	if err != nil {
		return fmt.Errorf("failed to list threads of %d: %w", s.PID, err)
	}

	for _, tid := range tids {
		if _, ok := s.threads[tid]; ok {
			continue
		}
		if err := s.tracer.Attach(tid); err != nil {
			return err
		}
		if _, err := s.waitStopped(tid, 0); err != nil {
			return err
		}
		s.threads[tid] = struct{}{}
		s.logger.Debug().Int("tid", tid).Msg("Thread attached")
	}

	s.state = AllThreadsAttached
	s.logger.Info().Ints("threads", s.Threads()).Msg("All threads attached")
	return nil
}

// SnapshotRegisters records the main thread registers.
func (s *Session) SnapshotRegisters() error {
	if s.state == Unattached || s.state == TrapHit {
		return fmt.Errorf("%w: register snapshot needs a stopped main thread, session is %s",
			ErrInvalidTransition, s.state)
	}
	regs, err := s.tracer.GetRegs(s.PID)
	if err != nil {
		return err
	}
	s.Regs = regs
	s.logger.Info().
		Str("rip", logging.Hex(regs.RIP)).
		Str("rsp", logging.Hex(regs.RSP)).
		Msg("Registers saved")
	return nil
}

// InstallTrap replaces the byte at TrapAddr with int3 and keeps the
// original.
func (s *Session) InstallTrap() error {
	if err := s.expect(AllThreadsAttached, "install trap"); err != nil {
		return err
	}

	word, err := s.tracer.PeekText(s.PID, s.TrapAddr)
	if err != nil {
		return err
	}
	s.OriginalWord = word
	s.OriginalByte = byte(word)

	if err := s.tracer.PokeText(s.PID, s.TrapAddr, word&^0xff|trapOpcode); err != nil {
		return err
	}

	s.state = TrapInstalled
	s.logger.Info().
		Str("addr", logging.Hex(s.TrapAddr)).
		Str("original", fmt.Sprintf("%#02x", s.OriginalByte)).
		Msg("Trap installed")
	return nil
}

// WaitTrap resumes every attached thread and blocks until one of them stops
// on the trap. Other signals are delivered to the thread they stopped;
// SIGSTOP is swallowed.
func (s *Session) WaitTrap() error {
	if err := s.expect(TrapInstalled, "wait for trap"); err != nil {
		return err
	}

	for _, tid := range s.Threads() {
		if err := s.tracer.Cont(tid, 0); err != nil {
			return err
		}
	}
	s.logger.Info().Str("addr", logging.Hex(s.TrapAddr)).Msg("Waiting for trap")

	for {
		stop, err := s.tracer.Wait(-1)
		if err != nil {
			return err
		}

		switch stop.Kind {
		case StopExited, StopKilled:
			if stop.TID == s.PID {
				return fmt.Errorf("%w: target %s before reaching the trap", ErrProtocol, stop)
			}
			delete(s.threads, stop.TID)
			s.logger.Debug().Int("tid", stop.TID).Str("stop", stop.String()).Msg("Thread gone")
			continue
		}

		if stop.Signal == unix.SIGTRAP {
			regs, err := s.tracer.GetRegs(stop.TID)
			if err != nil {
				return err
			}
			if regs.RIP-1 == s.TrapAddr {
				s.HitTID = stop.TID
				s.HitRegs = regs
				s.HitAt = time.Now()
				s.state = TrapHit
				s.logger.Info().Int("tid", stop.TID).Str("addr", logging.Hex(s.TrapAddr)).Msg("Trap hit")
				return nil
			}
		}

		forward := stop.Signal
		if forward == unix.SIGSTOP {
			forward = 0
		}
		s.logger.Debug().Int("tid", stop.TID).Str("signal", unix.SignalName(stop.Signal)).Msg("Resuming thread")
		if err := s.tracer.Cont(stop.TID, forward); err != nil {
			return err
		}
	}
}

// Run executes the whole sequence. ctx is only consulted between steps since
// the waits themselves cannot be interrupted.
func (s *Session) Run(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"attach main thread", s.AttachMain},
		{"attach all threads", s.AttachAllThreads},
		{"snapshot registers", s.SnapshotRegisters},
		{"install trap", s.InstallTrap},
		{"wait for trap", s.WaitTrap},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

// Report is the summary printed once the trap fired.
type Report struct {
	SessionID    string   `json:"session_id" yaml:"session_id"`
	PID          int      `json:"pid" yaml:"pid"`
	State        string   `json:"state" yaml:"state"`
	Threads      []int    `json:"threads" yaml:"threads"`
	TrapAddr     string   `json:"trap_addr" yaml:"trap_addr"`
	OriginalByte string   `json:"original_byte" yaml:"original_byte"`
	HitTID       int      `json:"hit_tid,omitempty" yaml:"hit_tid,omitempty"`
	RIP          string   `json:"rip" yaml:"rip"`
	RSP          string   `json:"rsp" yaml:"rsp"`
	RecipePath   string   `json:"recipe" yaml:"recipe"`
	LibPath      string   `json:"library" yaml:"library"`
	WaitedFor    Duration `json:"waited" yaml:"waited"`
}

// Duration marshals as a Go duration string.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Report summarises the session.
func (s *Session) Report() Report {
	r := Report{
		SessionID:    s.ID.String(),
		PID:          s.PID,
		State:        s.state.String(),
		Threads:      s.Threads(),
		TrapAddr:     logging.Hex(s.TrapAddr),
		OriginalByte: fmt.Sprintf("%#02x", s.OriginalByte),
		HitTID:       s.HitTID,
		RIP:          logging.Hex(s.Regs.RIP),
		RSP:          logging.Hex(s.Regs.RSP),
		RecipePath:   s.RecipePath,
		LibPath:      s.LibPath,
	}
	if !s.HitAt.IsZero() {
		r.WaitedFor = Duration(s.HitAt.Sub(s.StartedAt))
	}
	return r
}
