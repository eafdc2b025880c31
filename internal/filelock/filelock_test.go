package filelock

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	lockDir := t.TempDir()

	lock, err := Acquire(lockDir, "/repo/path", "rs-test-001")
	require.NoError(t, err)
	require.NotNil(t, lock)

	meta, err := ReadMeta(lock.Path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), meta.PID)
	assert.Equal(t, "rs-test-001", meta.SessionID)
	assert.Equal(t, "/repo/path", meta.RepoPath)

	require.NoError(t, lock.Release())

	// Reacquire after release succeeds.
	lock2, err := Acquire(lockDir, "/repo/path", "rs-test-002")
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}

func TestAcquireConflictsWithinProcess(t *testing.T) {
	// flock is per file description, so a second open in the same
	// process still conflicts while the first handle holds LOCK_EX.
	lockDir := t.TempDir()

	lock, err := Acquire(lockDir, "/repo/path", "rs-holder")
	require.NoError(t, err)
	defer lock.Release()

	_, err = Acquire(lockDir, "/repo/path", "rs-contender")
	assert.ErrorIs(t, err, ErrLocked)
}

func TestDifferentReposDoNotConflict(t *testing.T) {
	lockDir := t.TempDir()

	a, err := Acquire(lockDir, "/repo/a", "rs-a")
	require.NoError(t, err)
	defer a.Release()

	b, err := Acquire(lockDir, "/repo/b", "rs-b")
	require.NoError(t, err)
	defer b.Release()

	assert.NotEqual(t, a.Path, b.Path)
}

func TestIsStale(t *testing.T) {
	lockDir := t.TempDir()

	lock, err := Acquire(lockDir, "/repo/path", "rs-live")
	require.NoError(t, err)
	defer lock.Release()

	// Held by this live process: not stale.
	assert.False(t, IsStale(lockDir, "/repo/path"))

	// No meta at all: treated as stale.
	assert.True(t, IsStale(lockDir, "/repo/other"))
}

func TestReleaseIsIdempotent(t *testing.T) {
	lock, err := Acquire(t.TempDir(), "/repo/path", "rs-x")
	require.NoError(t, err)
	require.NoError(t, lock.Release())
	assert.NoError(t, lock.Release())
}
