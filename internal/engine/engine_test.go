package engine

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lyndonlyu/ripcord/internal/classify"
	"github.com/lyndonlyu/ripcord/internal/config"
	"github.com/lyndonlyu/ripcord/internal/gitrepo"
	"github.com/lyndonlyu/ripcord/internal/report"
	"github.com/lyndonlyu/ripcord/internal/session"
	"github.com/lyndonlyu/ripcord/internal/validate"
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
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("v2"), 0644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "v2")
	return dir
}

func newTestEngine(t *testing.T) (*Engine, *gitrepo.Repo, *config.Config) {
	t.Helper()
	dir := initGitRepo(t)
	repo, err := gitrepo.Open(dir)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.Repo.Path = dir

	eng, err := New(cfg, repo)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng, repo, cfg
}

func highSignal() classify.Signal {
	return classify.Signal{SourceName: "deploy-verification", Conclusion: classify.ConclusionFailure}
}

func lowSignal() classify.Signal {
	return classify.Signal{SourceName: "nightly-maintenance", Conclusion: classify.ConclusionFailure}
}

func TestAutomatedHighSeveritySignalResolvesEndToEnd(t *testing.T) {
	eng, repo, cfg := newTestEngine(t)
	ctx := context.Background()

	target, err := repo.RevParse(ctx, "HEAD~1")
	require.NoError(t, err)

	sess, err := eng.HandleSignal(ctx, highSignal(), "HEAD~1", "deploy verification failed", session.ScopeApplication)
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Equal(t, session.ReportedResolved, sess.Status)
	assert.Equal(t, classify.High, sess.Severity)
	assert.NotEmpty(t, sess.BackupID)

	head, _ := repo.Head(ctx)
	assert.Equal(t, target, head)

	// Report pair published.
	assert.FileExists(t, filepath.Join(cfg.ReportsDir(), sess.ID+".md"))
	assert.FileExists(t, filepath.Join(cfg.ReportsDir(), sess.ID+".json"))

	// Active slot freed, session persisted terminal, journal intact.
	_, err = eng.DB().ActiveSession()
	assert.Error(t, err)
	rec, err := eng.DB().GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, string(session.ReportedResolved), rec.Status)
	ok, _, err := eng.Journal().Verify()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNonFailureSignalCreatesNoSession(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	sig := classify.Signal{SourceName: "deploy-verification", Conclusion: "success"}
	sess, err := eng.HandleSignal(context.Background(), sig, "", "", session.ScopeApplication)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestBackupPrecedesEveryMutation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	sess, err := eng.HandleSignal(context.Background(), highSignal(), "HEAD~1", "", session.ScopeApplication)
	require.NoError(t, err)

	backupAt := -1
	firstMutation := -1
	for i, a := range sess.Actions {
		if backupAt == -1 && containsAll(a.Description, "backup snapshot") {
			backupAt = i
		}
		if firstMutation == -1 && (containsAll(a.Description, "branch", "updated") || containsAll(a.Description, "reset applied")) {
			firstMutation = i
		}
	}
	require.GreaterOrEqual(t, backupAt, 0, "backup action missing from timeline")
	require.GreaterOrEqual(t, firstMutation, 0, "mutation action missing from timeline")
	assert.Less(t, backupAt, firstMutation, "backup must be committed before any mutation")
}

func TestLowSeverityWaitsForApproval(t *testing.T) {
	eng, repo, _ := newTestEngine(t)
	ctx := context.Background()

	headBefore, _ := repo.Head(ctx)
	sess, err := eng.HandleSignal(ctx, lowSignal(), "HEAD~1", "", session.ScopeApplication)
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Equal(t, session.AwaitingApproval, sess.Status)
	assert.NotEmpty(t, sess.BackupID, "backup is committed before parking")

	// Nothing executed yet.
	head, _ := repo.Head(ctx)
	assert.Equal(t, headBefore, head)

	// The active slot stays occupied while waiting.
	rec, err := eng.DB().ActiveSession()
	require.NoError(t, err)
	assert.Equal(t, sess.ID, rec.ID)

	// Approval resumes and completes the rollback.
	resumed, err := eng.Approve(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ReportedResolved, resumed.Status)

	target, _ := repo.RevParse(ctx, headBefore+"~1")
	head, _ = repo.Head(ctx)
	assert.Equal(t, target, head)
}

func TestApprovedSessionKeepsPreApprovalWarnings(t *testing.T) {
	eng, _, cfg := newTestEngine(t)
	ctx := context.Background()

	// No explicit target: the defaulting warning is recorded before the
	// session parks at the approval gate.
	sess, err := eng.HandleSignal(ctx, lowSignal(), "", "", session.ScopeApplication)
	require.NoError(t, err)
	require.Equal(t, session.AwaitingApproval, sess.Status)
	require.Contains(t, sess.Warnings, "no explicit target supplied; defaulting to previous commit")

	// Approve reloads the session from the store; pre-approval warnings
	// must survive into the final report.
	resumed, err := eng.Approve(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ReportedResolved, resumed.Status)
	assert.Contains(t, resumed.Warnings, "no explicit target supplied; defaulting to previous commit")

	data, err := os.ReadFile(filepath.Join(cfg.ReportsDir(), sess.ID+".json"))
	require.NoError(t, err)
	var rec report.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Contains(t, rec.Warnings, "no explicit target supplied; defaulting to previous commit")
}

func TestApproveRejectsStaleSession(t *testing.T) {
	eng, repo, dir := newTestEngineWithDir(t)
	ctx := context.Background()

	sess, err := eng.HandleSignal(ctx, lowSignal(), "HEAD~1", "", session.ScopeApplication)
	require.NoError(t, err)
	require.Equal(t, session.AwaitingApproval, sess.Status)

	// History moves while the session waits.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("v3"), 0644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "v3")
	movedHead, _ := repo.Head(ctx)

	resumed, err := eng.Approve(ctx, sess.ID)
	require.Error(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, session.Aborted, resumed.Status)

	// The concurrent commit is untouched.
	head, _ := repo.Head(ctx)
	assert.Equal(t, movedHead, head)
}

func newTestEngineWithDir(t *testing.T) (*Engine, *gitrepo.Repo, string) {
	t.Helper()
	dir := initGitRepo(t)
	repo, err := gitrepo.Open(dir)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.Repo.Path = dir

	eng, err := New(cfg, repo)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng, repo, dir
}

func TestInvalidTargetAbortsWithReport(t *testing.T) {
	eng, repo, cfg := newTestEngine(t)
	ctx := context.Background()

	headBefore, _ := repo.Head(ctx)
	sess, err := eng.HandleSignal(ctx, highSignal(), "no-such-ref", "", session.ScopeApplication)
	require.ErrorIs(t, err, validate.ErrInvalidTarget)
	require.NotNil(t, sess)

	assert.Equal(t, session.Aborted, sess.Status)
	assert.Empty(t, sess.BackupID, "no backup is taken for a rejected target")

	head, _ := repo.Head(ctx)
	assert.Equal(t, headBefore, head, "repository must be untouched")

	// Aborts are documented too.
	assert.FileExists(t, filepath.Join(cfg.ReportsDir(), sess.ID+".md"))
	_, err = eng.DB().ActiveSession()
	assert.Error(t, err, "active slot must be freed")
}

func TestRollbackToCurrentHeadIsNoOp(t *testing.T) {
	eng, repo, _ := newTestEngine(t)
	ctx := context.Background()

	headBefore, _ := repo.Head(ctx)
	sess, err := eng.Rollback(ctx, Request{
		TargetRef: "HEAD",
		Reason:    "operator fat-finger",
		Trigger:   session.TriggerManual,
	})
	require.NoError(t, err)
	assert.Equal(t, session.ReportedResolved, sess.Status)

	head, _ := repo.Head(ctx)
	assert.Equal(t, headBefore, head)

	found := false
	for _, a := range sess.Actions {
		if containsAll(a.Description, "already at target") {
			found = true
		}
	}
	assert.True(t, found, "no-op must be recorded, not silently skipped")
}

func TestKillSwitchBlocksExecution(t *testing.T) {
	eng, repo, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.KillSwitch().Activate("deploy freeze"))
	headBefore, _ := repo.Head(ctx)

	sess, err := eng.Rollback(ctx, Request{
		TargetRef: "HEAD~1",
		Reason:    "should not run",
		Trigger:   session.TriggerManual,
	})
	require.ErrorIs(t, err, ErrHalted)
	assert.Equal(t, session.Aborted, sess.Status)

	head, _ := repo.Head(ctx)
	assert.Equal(t, headBefore, head)
}

func TestVerificationFailureEscalatesSeverity(t *testing.T) {
	dir := initGitRepo(t)
	repo, err := gitrepo.Open(dir)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.Repo.Path = dir
	cfg.Checks = []config.CheckConfig{{Name: "service_up", Command: "false", TimeoutSeconds: 5}}

	eng, err := New(cfg, repo)
	require.NoError(t, err)
	defer eng.Close()

	ctx := context.Background()
	sess, err := eng.HandleSignal(ctx, highSignal(), "HEAD~1", "", session.ScopeApplication)
	require.NoError(t, err)

	assert.Equal(t, session.ReportedDegraded, sess.Status)
	assert.True(t, sess.Escalated)
	assert.Equal(t, classify.High, sess.Severity, "classified severity is preserved")
	assert.Equal(t, classify.Critical, sess.ReportedSeverity())

	// The rollback itself still happened; escalation never re-executes.
	target, _ := repo.RevParse(ctx, sess.TargetRef)
	head, _ := repo.Head(ctx)
	assert.Equal(t, target, head)
}

func TestSecondSignalIsQueuedAndDrained(t *testing.T) {
	eng, _, dir := newTestEngineWithDir(t)
	ctx := context.Background()

	// A third commit so the second signal's defaulted target still
	// resolves after the first rollback has moved HEAD.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("v3"), 0644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "v3")

	require.NoError(t, eng.Submit(highSignal(), "HEAD~1", "first failure", session.ScopeApplication))
	require.NoError(t, eng.Submit(lowSignal(), "", "second failure", session.ScopeApplication))

	sessions, err := eng.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2, "queued signals drain one at a time")

	assert.Equal(t, session.ReportedResolved, sessions[0].Status)
	// The low-severity follow-up parks at the approval gate.
	assert.Equal(t, session.AwaitingApproval, sessions[1].Status)
	assert.Zero(t, eng.PendingStats().Total)
}

func TestSecondRollbackRejectedWhileSessionActive(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	sess, err := eng.HandleSignal(ctx, lowSignal(), "HEAD~1", "", session.ScopeApplication)
	require.NoError(t, err)
	require.Equal(t, session.AwaitingApproval, sess.Status)

	_, err = eng.Rollback(ctx, Request{TargetRef: "HEAD~1", Trigger: session.TriggerManual})
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestJSONTwinMatchesMarkdown(t *testing.T) {
	eng, _, cfg := newTestEngine(t)

	sess, err := eng.HandleSignal(context.Background(), highSignal(), "HEAD~1", "", session.ScopeApplication)
	require.NoError(t, err)

	pairs, err := report.ListPairs(cfg.ReportsDir())
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, sess.ID, pairs[0].SessionID)
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
