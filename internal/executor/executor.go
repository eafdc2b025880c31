// Package executor performs the actual rollback state transition. It is
// the only package that mutates repository state, and it only runs with
// a validated target and a committed backup snapshot. Every sub-action
// is recorded as it completes so a crash mid-execution leaves an
// accurate partial trace. Once execution begins it is not cancellable;
// the only recovery path is the recorded restore attempt.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/lyndonlyu/ripcord/internal/backup"
	"github.com/lyndonlyu/ripcord/internal/gitrepo"
	"github.com/lyndonlyu/ripcord/internal/session"
)

var (
	// ErrConflict means a conditional update lost the race against a
	// concurrent history change. Nothing was overwritten.
	ErrConflict = errors.New("executor: concurrent change rejected rollback publish")
	// ErrExecutionFailed wraps a git failure during a destructive
	// sub-step.
	ErrExecutionFailed = errors.New("executor: execution failed")
)

// Recorder is called synchronously as each sub-action completes, before
// the next one begins.
type Recorder func(action string)

// Outcome summarizes an execution attempt.
type Outcome struct {
	NoOp        bool  // HEAD was already at the target
	Recovered   bool  // a failed execution was restored from backup
	RecoveryErr error // set when the restore attempt itself failed
}

type Executor struct {
	repo    *gitrepo.Repo
	backups *backup.Manager
	remote  string // empty = local-only rollback
}

func New(repo *gitrepo.Repo, backups *backup.Manager, remote string) *Executor {
	return &Executor{repo: repo, backups: backups, remote: remote}
}

// Execute applies the rollback for sess. TargetRef and SourceRef must
// already be resolved SHAs. On a sub-action failure it stops, attempts
// a restore from the session's backup snapshot, and reports both the
// original failure and the recovery result.
func (e *Executor) Execute(ctx context.Context, sess *session.Session, record Recorder) (Outcome, error) {
	head, err := e.repo.Head(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}

	// Re-running against an already-rolled-back state is a no-op
	// success, not an error and not a second destructive action.
	if head == sess.TargetRef {
		record(fmt.Sprintf("already at target %s; no action taken", shortSHA(sess.TargetRef)))
		return Outcome{NoOp: true}, nil
	}

	branch, err := e.repo.CurrentBranch(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}

	if branch != "HEAD" {
		// Move the branch ref first, conditionally: if the branch no
		// longer points where validation saw it, someone else moved
		// history and we must not silently discard their work. Nothing
		// has been mutated yet, so a rejected lease needs no recovery.
		err := e.repo.UpdateBranch(ctx, branch, sess.TargetRef, sess.SourceRef)
		if err != nil {
			if errors.Is(err, gitrepo.ErrLeaseRejected) {
				cause := fmt.Errorf("%w: branch %s moved since validation", ErrConflict, branch)
				record("execution stopped: " + cause.Error())
				return Outcome{}, cause
			}
			cause := fmt.Errorf("%w: update branch ref: %v", ErrExecutionFailed, err)
			record("execution stopped: " + cause.Error())
			return Outcome{}, cause
		}
		record(fmt.Sprintf("branch %s updated to %s (lease on %s)", branch, shortSHA(sess.TargetRef), shortSHA(sess.SourceRef)))
	}

	if err := e.repo.ResetHard(ctx, sess.TargetRef); err != nil {
		return e.failAndRecover(ctx, sess, record,
			fmt.Errorf("%w: reset: %v", ErrExecutionFailed, err))
	}
	record(fmt.Sprintf("reset applied to %s", shortSHA(sess.TargetRef)))

	if e.remote != "" && branch != "HEAD" && e.repo.HasRemote(ctx, e.remote) {
		err := e.repo.PushForceWithLease(ctx, e.remote, branch, sess.SourceRef)
		if err != nil {
			if errors.Is(err, gitrepo.ErrLeaseRejected) {
				return e.failAndRecover(ctx, sess, record,
					fmt.Errorf("%w: remote %s/%s changed since validation", ErrConflict, e.remote, branch))
			}
			return e.failAndRecover(ctx, sess, record,
				fmt.Errorf("%w: push: %v", ErrExecutionFailed, err))
		}
		record(fmt.Sprintf("remote %s/%s updated (force-with-lease)", e.remote, branch))
	}

	return Outcome{}, nil
}

// failAndRecover stops further mutation and attempts to restore the
// pre-execution state from the session's backup snapshot. The original
// failure is always returned; the recovery result rides in the Outcome.
func (e *Executor) failAndRecover(ctx context.Context, sess *session.Session, record Recorder, cause error) (Outcome, error) {
	record("execution failed: " + cause.Error())

	if sess.BackupID == "" {
		record("recovery skipped: no backup snapshot recorded")
		return Outcome{Recovered: false, RecoveryErr: backup.ErrNotFound}, cause
	}

	if err := e.backups.Restore(ctx, sess.BackupID); err != nil {
		record("recovery from backup " + sess.BackupID + " failed: " + err.Error())
		return Outcome{Recovered: false, RecoveryErr: err}, cause
	}

	record("recovered pre-execution state from backup " + sess.BackupID)
	return Outcome{Recovered: true}, cause
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
