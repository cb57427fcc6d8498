package loader

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/cockroach/internal/sys/proc"
)

func TestCheckModuleMapped(t *testing.T) {
	root := t.TempDir()
	prev := proc.Root
	proc.Root = root
	t.Cleanup(func() { proc.Root = prev })

	maps := "" +
		"555555554000-555555556000 r-xp 00001000 08:01 131 /usr/bin/victim\n" +
		"7ffff7fb0000-7ffff7fc0000 r-xp 00002000 08:01 977 /opt/roach/cockroach.so\n"
	require.NoError(t, os.MkdirAll(filepath.Join(root, "4242"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "4242", "maps"), []byte(maps), 0o644))

	tests := []struct {
		name     string
		pid      int
		libPath  string
		wantWarn bool
	}{
		{name: "mapped by file name", pid: 4242, libPath: "cockroach.so"},
		{name: "mapped by full path", pid: 4242, libPath: "/opt/roach/cockroach.so"},
		{name: "not mapped", pid: 4242, libPath: "other.so", wantWarn: true},
		{name: "unreadable maps", pid: 4343, libPath: "cockroach.so"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			checkModuleMapped(zerolog.New(&buf), tt.pid, tt.libPath)
			assert.Equal(t, tt.wantWarn, bytes.Contains(buf.Bytes(), []byte(`"level":"warn"`)), buf.String())
		})
	}
}
