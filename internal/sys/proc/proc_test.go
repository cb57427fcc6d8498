package proc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRoot builds a minimal procfs tree and points Root at it for the
// duration of the test.
func fakeRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev := Root
	Root = dir
	t.Cleanup(func() { Root = prev })
	return dir
}

func mkdirs(t *testing.T, base string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(base, n), 0o755))
	}
}

func TestGetKernelVersion(t *testing.T) {
	root := fakeRoot(t)

	assert.Equal(t, "unknown", GetKernelVersion())

	content := "Linux version 6.8.0-45-generic (buildd@lcy02) (gcc 13.2.0) #45-Ubuntu SMP\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "version"), []byte(content), 0o644))
	assert.Equal(t, "6.8.0-45-generic", GetKernelVersion())
}

func TestListThreads(t *testing.T) {
	root := fakeRoot(t)
	mkdirs(t, root, "1234/task/1234", "1234/task/1240", "1234/task/1236")

	tids, err := ListThreads(1234)
	require.NoError(t, err)
	assert.Equal(t, []int{1234, 1236, 1240}, tids)

	t.Run("missing process", func(t *testing.T) {
		_, err := ListThreads(5678)
		assert.Error(t, err)
	})

	t.Run("empty task directory", func(t *testing.T) {
		mkdirs(t, root, "77/task")
		_, err := ListThreads(77)
		assert.Error(t, err)
	})
}

func TestListThreadsLive(t *testing.T) {
	if _, err := os.Stat("/proc/self/task"); err != nil {
		t.Skip("procfs not available")
	}

	tids, err := ListThreads(os.Getpid())
	require.NoError(t, err)
	assert.Contains(t, tids, os.Getpid())
}
