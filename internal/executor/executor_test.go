package executor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/lyndonlyu/ripcord/internal/backup"
	"github.com/lyndonlyu/ripcord/internal/classify"
	"github.com/lyndonlyu/ripcord/internal/gitrepo"
	"github.com/lyndonlyu/ripcord/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.com")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, out)
}

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitRun(t, dir, "init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("v1"), 0644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "v1")
	return dir
}

func commit(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte(content), 0644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", content)
}

// setup builds a two-commit repo with a validated session ready to
// execute: TargetRef is the first commit, SourceRef the current HEAD.
func setup(t *testing.T) (*Executor, *gitrepo.Repo, *session.Session, string, *[]string) {
	t.Helper()
	dir := initGitRepo(t)
	repo, err := gitrepo.Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	commit(t, dir, "v2")
	head, err := repo.Head(ctx)
	require.NoError(t, err)
	target, err := repo.RevParse(ctx, "HEAD~1")
	require.NoError(t, err)

	backups := backup.NewManager(repo, t.TempDir(), time.Minute)
	snap, err := backups.Create(ctx, "rs-test")
	require.NoError(t, err)

	sess := session.New(target, "test rollback", classify.High, session.ScopeApplication, session.TriggerAutomated, false)
	sess.SourceRef = head
	sess.BackupID = snap.ID

	var actions []string
	return New(repo, backups, ""), repo, sess, dir, &actions
}

func recorder(actions *[]string) Recorder {
	return func(action string) { *actions = append(*actions, action) }
}

func TestExecuteRollsBranchBack(t *testing.T) {
	exec, repo, sess, dir, actions := setup(t)
	ctx := context.Background()

	outcome, err := exec.Execute(ctx, sess, recorder(actions))
	require.NoError(t, err)
	assert.False(t, outcome.NoOp)

	head, _ := repo.Head(ctx)
	assert.Equal(t, sess.TargetRef, head)
	data, _ := os.ReadFile(filepath.Join(dir, "file.txt"))
	assert.Equal(t, "v1", string(data))
	assert.NotEmpty(t, *actions)
}

func TestExecuteIsIdempotent(t *testing.T) {
	exec, _, sess, _, actions := setup(t)
	ctx := context.Background()

	_, err := exec.Execute(ctx, sess, recorder(actions))
	require.NoError(t, err)
	mutations := len(*actions)

	// Second run against the same target: no-op success, no further
	// destructive actions.
	sess.SourceRef = sess.TargetRef
	outcome, err := exec.Execute(ctx, sess, recorder(actions))
	require.NoError(t, err)
	assert.True(t, outcome.NoOp)
	require.Len(t, *actions, mutations+1)
	assert.Contains(t, (*actions)[mutations], "already at target")
}

func TestExecuteConflictLeavesConcurrentWorkIntact(t *testing.T) {
	exec, repo, sess, dir, actions := setup(t)
	ctx := context.Background()

	// History moves after validation: the recorded SourceRef is stale.
	commit(t, dir, "v3")
	movedHead, _ := repo.Head(ctx)

	outcome, err := exec.Execute(ctx, sess, recorder(actions))
	require.ErrorIs(t, err, ErrConflict)
	assert.False(t, outcome.Recovered, "no mutation happened, so no recovery runs")
	assert.NoError(t, outcome.RecoveryErr)

	// The concurrent commit survives untouched.
	head, _ := repo.Head(ctx)
	assert.Equal(t, movedHead, head)
	data, _ := os.ReadFile(filepath.Join(dir, "file.txt"))
	assert.Equal(t, "v3", string(data))
}

func TestExecuteDetachedHeadSkipsBranchUpdate(t *testing.T) {
	exec, repo, sess, dir, actions := setup(t)
	ctx := context.Background()

	gitRun(t, dir, "checkout", "--detach")
	outcome, err := exec.Execute(ctx, sess, recorder(actions))
	require.NoError(t, err)
	assert.False(t, outcome.NoOp)

	head, _ := repo.Head(ctx)
	assert.Equal(t, sess.TargetRef, head)
}
