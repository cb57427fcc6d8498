package recipe

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/cockroach/internal/probe"
)

func TestParse(t *testing.T) {
	input := `# timing probes for libfoo
T /lib/libfoo.so 0x1000 5

   T   /lib/libfoo.so   2a40   7   
	# indented comment
T /usr/lib/libbar.so.1 0XDEADBEEF 12
`
	descs, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, descs, 3)

	tests := []struct {
		lib    string
		offset uint64
		length int
		line   int
	}{
		{"/lib/libfoo.so", 0x1000, 5, 2},
		{"/lib/libfoo.so", 0x2a40, 7, 4},
		{"/usr/lib/libbar.so.1", 0xdeadbeef, 12, 6},
	}
	for i, tt := range tests {
		d := descs[i]
		assert.Equal(t, tt.lib, d.LibraryPath)
		assert.Equal(t, tt.offset, d.Offset)
		assert.Equal(t, tt.length, d.Length)
		assert.Equal(t, tt.line, d.Line)
		assert.Equal(t, probe.KindOverwriteJump, d.Kind)
		assert.False(t, d.Installed)
		assert.True(t, d.Pending())
		assert.Zero(t, d.Address)
	}
}

func TestParseEmpty(t *testing.T) {
	descs, err := Parse(strings.NewReader("\n# nothing\n   \n"))
	require.NoError(t, err)
	assert.Empty(t, descs)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantErr  error
		wantLine int
	}{
		{"three tokens", "T /lib/libfoo.so 1000", ErrTokenCount, 1},
		{"five tokens", "T /lib/libfoo.so 1000 5 extra", ErrTokenCount, 1},
		{"directive only", "T", ErrTokenCount, 1},
		{"unknown directive", "X /lib/libfoo.so 1000 5", ErrUnknownDirective, 1},
		{"lowercase directive", "t /lib/libfoo.so 1000 5", ErrUnknownDirective, 1},
		{"symbol address", "T /lib/libfoo.so main 5", ErrSymbolNotImplemented, 1},
		{"four tokens with symbolic address", "T onlythreetokens here 5", ErrSymbolNotImplemented, 1},
		{"bare prefix", "T /lib/libfoo.so 0x 5", ErrSymbolNotImplemented, 1},
		{"double prefix", "T /lib/libfoo.so 0x0x10 5", ErrSymbolNotImplemented, 1},
		{"length not decimal", "T /lib/libfoo.so 1000 0x5", ErrInvalidLength, 1},
		{"length too short", "T /lib/libfoo.so 1000 4", ErrOverwriteTooShort, 1},
		{"negative length", "T /lib/libfoo.so 1000 -5", ErrOverwriteTooShort, 1},
		{"error after valid lines", "# c\nT /lib/a.so 10 5\n\nT /lib/a.so 20\n", ErrTokenCount, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			descs, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Nil(t, descs, "no partial recipe")
			assert.ErrorIs(t, err, tt.wantErr)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.wantLine, pe.Line)
			assert.Contains(t, err.Error(), pe.Text)
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.txt")
	require.NoError(t, os.WriteFile(path, []byte("T /lib/libfoo.so 0x1000 5\n"), 0o644))

	descs, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, uint64(0x1000), descs[0].Offset)

	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(path, link))
	descs, err = ParseFile(link)
	require.NoError(t, err)
	assert.Len(t, descs, 1)

	_, err = ParseFile(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
