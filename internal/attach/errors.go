package attach

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a step runs out of order.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrProtocol means a tracee reported a state the protocol does not allow.
	ErrProtocol = errors.New("ptrace protocol violation")
)

// TraceError is a failed tracing call.
type TraceError struct {
	Op  string
	TID int
	Err error
}

func (e *TraceError) Error() string {
	return fmt.Sprintf("ptrace %s tid %d: %v", e.Op, e.TID, e.Err)
}

func (e *TraceError) Unwrap() error {
	return e.Err
}
