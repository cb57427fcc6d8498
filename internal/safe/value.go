package safe

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfRange is returned when a displacement does not fit its encoding.
var ErrOutOfRange = errors.New("displacement out of range")

// Rel32 returns the signed 32-bit displacement that takes an instruction
// ending at from to the address to.
func Rel32(from, to uint64) (int32, error) {
	d := int64(to - from) //nolint:gosec // G115: two's complement difference is intended.
	if d < math.MinInt32 || d > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %#x -> %#x", ErrOutOfRange, from, to)
	}
	return int32(d), nil
}

// InRel32 reports whether to is reachable with a rel32 displacement from from.
func InRel32(from, to uint64) bool {
	_, err := Rel32(from, to)
	return err == nil
}
