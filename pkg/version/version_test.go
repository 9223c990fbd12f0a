package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = origVersion, origCommit })

	Version, GitCommit = "1.4.0", "abc123"
	info := Get()

	assert.Equal(t, "agentplug 1.4.0 (commit abc123, "+runtime.Version()+")", info.String())

	out, err := info.JSON()
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "1.4.0", decoded["version"])
	assert.Equal(t, "abc123", decoded["gitCommit"])
	assert.Equal(t, runtime.Version(), decoded["goVersion"])
}
