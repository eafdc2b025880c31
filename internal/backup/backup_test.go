package backup

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/lyndonlyu/ripcord/internal/gitrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v failed: %s", args, out)
	}
	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("v1"), 0644))
	run("add", ".")
	run("commit", "-m", "initial")
	return dir
}

func commit(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte(content), 0644))
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", content}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v failed: %s", args, out)
	}
}

func newTestManager(t *testing.T) (*Manager, *gitrepo.Repo, string) {
	t.Helper()
	dir := initGitRepo(t)
	repo, err := gitrepo.Open(dir)
	require.NoError(t, err)
	return NewManager(repo, t.TempDir(), time.Minute), repo, dir
}

func TestCreateCommitsSnapshot(t *testing.T) {
	m, repo, _ := newTestManager(t)
	ctx := context.Background()

	head, _ := repo.Head(ctx)
	snap, err := m.Create(ctx, "rs-test-001")
	require.NoError(t, err)

	assert.Equal(t, "rs-test-001", snap.SessionID)
	assert.Equal(t, head, snap.SourceRef)
	assert.Equal(t, "main", snap.Branch)

	// Both halves exist under the final names; no temp files remain.
	assert.FileExists(t, filepath.Join(m.dir, snap.ID+".bundle"))
	assert.FileExists(t, filepath.Join(m.dir, snap.ID+".json"))
	leftovers, _ := filepath.Glob(filepath.Join(m.dir, ".*.tmp"))
	assert.Empty(t, leftovers)
}

func TestLoadRoundTrip(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Create(ctx, "rs-test-002")
	require.NoError(t, err)

	loaded, err := m.Load(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
	assert.Equal(t, snap.SourceRef, loaded.SourceRef)
}

func TestLoadMissingSnapshot(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Load("bk-20990101T000000Z-ffffffff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestoreBringsBackCapturedState(t *testing.T) {
	m, repo, dir := newTestManager(t)
	ctx := context.Background()

	commit(t, dir, "v2")
	captured, _ := repo.Head(ctx)

	snap, err := m.Create(ctx, "rs-test-003")
	require.NoError(t, err)

	// Move away from the captured state, then restore.
	older, err := repo.RevParse(ctx, "HEAD~1")
	require.NoError(t, err)
	require.NoError(t, repo.ResetHard(ctx, older))

	require.NoError(t, m.Restore(ctx, snap.ID))
	head, _ := repo.Head(ctx)
	assert.Equal(t, captured, head)
	data, _ := os.ReadFile(filepath.Join(dir, "file.txt"))
	assert.Equal(t, "v2", string(data))
}

func TestRestoreRejectsCorruptBundle(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Create(ctx, "rs-test-004")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(m.dir, snap.BundleFile), []byte("garbage"), 0644))
	assert.Error(t, m.Restore(ctx, snap.ID))
}

func TestListIgnoresUncommittedEntries(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, "rs-test-005")
	require.NoError(t, err)
	second, err := m.Create(ctx, "rs-test-006")
	require.NoError(t, err)

	// A stray bundle without metadata is not a committed snapshot.
	require.NoError(t, os.WriteFile(filepath.Join(m.dir, "bk-stray.bundle"), []byte("x"), 0644))

	snaps, err := m.List()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	ids := []string{snaps[0].ID, snaps[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
	assert.GreaterOrEqual(t, snaps[0].ID, snaps[1].ID, "list is ordered newest first")
}

func TestDeleteRemovesBothHalves(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Create(ctx, "rs-test-007")
	require.NoError(t, err)

	require.NoError(t, m.Delete(snap.ID))
	assert.NoFileExists(t, filepath.Join(m.dir, snap.ID+".json"))
	assert.NoFileExists(t, filepath.Join(m.dir, snap.ID+".bundle"))

	// Deleting a missing snapshot is a no-op.
	assert.NoError(t, m.Delete(snap.ID))
}
