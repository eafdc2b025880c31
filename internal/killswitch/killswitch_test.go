package killswitch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivateAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "KILL_SWITCH")
	s := New(path)

	assert.False(t, s.IsActive())

	require.NoError(t, s.Activate("deploy freeze"))
	assert.True(t, s.IsActive())
	assert.Equal(t, "deploy freeze", s.Reason())

	require.NoError(t, s.Clear())
	assert.False(t, s.IsActive())
	assert.Empty(t, s.Reason())
}

func TestClearWhenInactiveIsNoOp(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "KILL_SWITCH"))
	assert.NoError(t, s.Clear())
}

func TestActivateCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "KILL_SWITCH")
	s := New(path)
	require.NoError(t, s.Activate("x"))
	assert.True(t, s.IsActive())
}
