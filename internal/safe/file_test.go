package safe

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	t.Run("reads regular file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "recipe.txt")
		require.NoError(t, os.WriteFile(path, []byte("T /lib/a.so 1000 5\n"), 0o644))

		got, err := ReadFile(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "T /lib/a.so 1000 5\n", string(got))
	})

	t.Run("rejects symlink by default", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "recipe.txt")
		link := filepath.Join(dir, "link.txt")
		require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
		require.NoError(t, os.Symlink(src, link))

		_, err := ReadFile(link, nil)
		assert.Error(t, err)

		got, err := ReadFile(link, &ReadFileOptions{AllowSymlinks: true})
		require.NoError(t, err)
		assert.Equal(t, "x", string(got))
	})

	t.Run("rejects directory", func(t *testing.T) {
		_, err := ReadFile(t.TempDir(), nil)
		assert.Error(t, err)
	})

	t.Run("rejects oversized file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.txt")
		require.NoError(t, os.WriteFile(path, make([]byte, 128), 0o644))

		_, err := ReadFile(path, &ReadFileOptions{MaxSize: 64})
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(t.TempDir(), "nope"), nil)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}

func TestReadFileAtLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exact.txt")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

	got, err := ReadFile(path, &ReadFileOptions{MaxSize: 64})
	require.NoError(t, err)
	assert.Len(t, got, 64)
}
