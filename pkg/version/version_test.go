package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = origVersion, origCommit })

	Version = "v0.3.0"
	GitCommit = "unknown"
	assert.Equal(t, "v0.3.0", String())

	GitCommit = "9f1c2ab54e0d"
	assert.Equal(t, "v0.3.0 (9f1c2ab)", String())
}
