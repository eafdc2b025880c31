// Package gitrepo is a thin client for the git command line, scoped to a
// single repository. All mutating calls take a context; reads are expected
// to be fast and run under the same default timeout.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single git invocation.
const DefaultTimeout = 30 * time.Second

var (
	// ErrOperationFailed is returned when a git command exits non-zero.
	ErrOperationFailed = errors.New("gitrepo: git operation failed")
	// ErrLeaseRejected is returned when a conditional ref update loses the
	// race against a concurrent change (update-ref with old-value, or
	// push --force-with-lease).
	ErrLeaseRejected = errors.New("gitrepo: ref changed concurrently")
	// ErrNotRepository is returned by Open when dir is not inside a git repo.
	ErrNotRepository = errors.New("gitrepo: not a git repository")
)

// Repo executes git commands against one working tree.
type Repo struct {
	dir     string
	timeout time.Duration
}

// Open verifies that dir is inside a git repository and returns a client.
func Open(dir string) (*Repo, error) {
	r := &Repo{dir: dir, timeout: DefaultTimeout}
	if _, err := r.run(context.Background(), "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
	}
	return r, nil
}

// Dir returns the working tree path.
func (r *Repo) Dir() string {
	return r.dir
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return out, fmt.Errorf("%w: git %s: timeout after %v", ErrOperationFailed, args[0], r.timeout)
		}
		// Stdout is still returned: porcelain modes report per-ref status
		// there even when the command exits non-zero.
		return out, fmt.Errorf("%w: git %s: %v: %s", ErrOperationFailed, args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Head returns the full SHA of the current HEAD.
func (r *Repo) Head(ctx context.Context) (string, error) {
	return r.RevParse(ctx, "HEAD")
}

// RevParse resolves a ref (branch, tag, SHA, HEAD~N) to a full commit SHA.
func (r *Repo) RevParse(ctx context.Context, ref string) (string, error) {
	sha, err := r.run(ctx, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolving ref %q: %w", ref, err)
	}
	return sha, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
// A commit is considered its own ancestor, matching git merge-base.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", ancestor, descendant)
	cmd.Dir = r.dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	// Exit code 1 means "not an ancestor"; anything else is a real failure.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("%w: git merge-base: %v: %s", ErrOperationFailed, err, strings.TrimSpace(stderr.String()))
}

// CurrentBranch returns the current branch name, or "HEAD" when detached.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	branch, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("getting current branch: %w", err)
	}
	return branch, nil
}

// IsClean reports whether the working tree has no staged, unstaged, or
// untracked changes.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// ResetHard resets the working tree and index to ref, discarding all
// uncommitted changes.
func (r *Repo) ResetHard(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "reset", "--hard", ref)
	return err
}

// UpdateBranch performs a compare-and-swap update of refs/heads/branch:
// the update applies only if the ref still points at expectedSHA. A lost
// race returns ErrLeaseRejected.
func (r *Repo) UpdateBranch(ctx context.Context, branch, newSHA, expectedSHA string) error {
	ref := "refs/heads/" + branch
	_, err := r.run(ctx, "update-ref", ref, newSHA, expectedSHA)
	if err != nil {
		// Classify from the ref itself, not git's message text: if the
		// ref no longer points at expectedSHA, the swap lost a race.
		if current, rerr := r.run(ctx, "rev-parse", "--verify", ref); rerr == nil && current != expectedSHA {
			return fmt.Errorf("%w: %s is at %s, expected %s", ErrLeaseRejected, ref, current[:12], expectedSHA[:12])
		}
		return err
	}
	return nil
}

// PushForceWithLease publishes branch to remote, but only if the remote
// ref still points at expectedSHA. A rejected lease returns ErrLeaseRejected.
func (r *Repo) PushForceWithLease(ctx context.Context, remote, branch, expectedSHA string) error {
	lease := fmt.Sprintf("--force-with-lease=%s:%s", branch, expectedSHA)
	out, err := r.run(ctx, "push", "--porcelain", lease, remote, branch)
	if err != nil {
		// Porcelain status lines flag a rejected ref update with '!',
		// independent of git's locale and message wording.
		for _, line := range strings.Split(out, "\n") {
			if strings.HasPrefix(line, "!") {
				return fmt.Errorf("%w: %s/%s", ErrLeaseRejected, remote, branch)
			}
		}
		return err
	}
	return nil
}

// RemoteSHA returns the SHA the remote branch points at, or empty if the
// remote has no such branch.
func (r *Repo) RemoteSHA(ctx context.Context, remote, branch string) (string, error) {
	out, err := r.run(ctx, "ls-remote", remote, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", nil
	}
	fields := strings.Fields(out)
	return fields[0], nil
}

// HasRemote reports whether the named remote is configured.
func (r *Repo) HasRemote(ctx context.Context, remote string) bool {
	out, err := r.run(ctx, "remote")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == remote {
			return true
		}
	}
	return false
}

// BundleCreate writes a bundle containing all refs and their full history
// to path. The caller is responsible for choosing a temporary path and
// publishing it atomically.
func (r *Repo) BundleCreate(ctx context.Context, path string) error {
	_, err := r.run(ctx, "bundle", "create", path, "--all")
	return err
}

// BundleVerify checks that the bundle at path is complete and applicable.
func (r *Repo) BundleVerify(ctx context.Context, path string) error {
	_, err := r.run(ctx, "bundle", "verify", path)
	return err
}

// Fetch fetches all refs from the given source (a remote name, URL, or
// bundle path) into refs/ripcord/restore/* without touching local branches.
func (r *Repo) Fetch(ctx context.Context, from string) error {
	_, err := r.run(ctx, "fetch", from, "+refs/heads/*:refs/ripcord/restore/*")
	return err
}

// CommitSubject returns the first line of the commit message for ref.
func (r *Repo) CommitSubject(ctx context.Context, ref string) (string, error) {
	return r.run(ctx, "log", "-1", "--format=%s", ref)
}
