package safe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRel32(t *testing.T) {
	tests := []struct {
		name    string
		from    uint64
		to      uint64
		want    int32
		wantErr bool
	}{
		{"forward", 0x1000, 0x2000, 0x1000, false},
		{"backward", 0x2000, 0x1000, -0x1000, false},
		{"self", 0x7f0000001005, 0x7f0000001005, 0, false},
		{"max forward", 0x1000, 0x1000 + math.MaxInt32, math.MaxInt32, false},
		{"max backward", 0x1_0000_0000, 0x1_0000_0000 - 0x8000_0000, math.MinInt32, false},
		{"too far forward", 0x1000, 0x1000 + math.MaxInt32 + 1, 0, true},
		{"too far backward", 0x7f0000000000, 0x400000, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Rel32(tt.from, tt.to)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrOutOfRange)
				assert.False(t, InRel32(tt.from, tt.to))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, InRel32(tt.from, tt.to))
		})
	}
}
