package disasm

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedOpcode means the opcode byte has no table entry.
	ErrUnsupportedOpcode = errors.New("unsupported opcode")
	// ErrUnsupportedModRM means the (mod, r/m) combination is not implemented.
	ErrUnsupportedModRM = errors.New("unsupported ModRM encoding")
	// ErrUnsupportedSIB means the SIB byte selects an encoding that is not implemented.
	ErrUnsupportedSIB = errors.New("unsupported SIB encoding")
	// ErrTruncated means the input ended before the instruction did.
	ErrTruncated = errors.New("truncated instruction")
	// ErrSplitInstruction means a window boundary falls inside an instruction.
	ErrSplitInstruction = errors.New("window splits an instruction")
)

// DecodeError describes the byte the decoder refused to interpret.
type DecodeError struct {
	// Addr is the address of the offending byte.
	Addr uint64
	// Byte is the offending byte value.
	Byte byte
	// Escaped is set when the byte was looked up in the two-byte table.
	Escaped bool
	Err     error
}

func (e *DecodeError) Error() string {
	table := "primary"
	if e.Escaped {
		table = "0x0f"
	}
	return fmt.Sprintf("decode %#x: byte %#02x (%s table): %v", e.Addr, e.Byte, table, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsFault reports whether err is a decoding fault, i.e. the tables could not
// describe the code. Faults are fatal to the instrumented process.
func IsFault(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
