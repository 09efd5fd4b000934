package zapLogger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "membership.log")
	f := Init(Options{File: path, Level: "debug"})
	require.NotNil(t, f)
	defer f.Close()

	Log.Debugw("group finalized", "group_id", "g-1")
	Named("engine").Info("company deleted")
	_ = Log.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "group finalized")
	assert.Contains(t, string(raw), "g-1")
	assert.Contains(t, string(raw), "engine")

	// Later calls keep the first logger.
	assert.Nil(t, Init(Options{File: filepath.Join(t.TempDir(), "other.log")}))
}
