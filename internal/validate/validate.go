// Package validate checks a rollback target before any mutation occurs.
// A target is acceptable only if it resolves to an existing commit that
// is an ancestor of the current HEAD: rollback moves backward through
// history, never sideways into an unrelated branch or forward past HEAD.
package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lyndonlyu/ripcord/internal/gitrepo"
)

// ErrInvalidTarget is returned for any target that cannot be rolled back
// to: blank, unresolvable, or not an ancestor of HEAD. This is an
// expected, fully recoverable outcome — nothing has been mutated.
var ErrInvalidTarget = errors.New("validate: invalid rollback target")

// Result carries the resolved SHAs for a validated target.
type Result struct {
	TargetSHA string
	HeadSHA   string
	// AlreadyAtTarget is true when HEAD already equals the target;
	// the executor short-circuits this case as a no-op success.
	AlreadyAtTarget bool
}

// Validator performs read-only checks against the repository.
type Validator struct {
	repo *gitrepo.Repo
}

func New(repo *gitrepo.Repo) *Validator {
	return &Validator{repo: repo}
}

// Validate resolves targetRef and confirms it is an ancestor of HEAD.
// Validation is idempotent: absent concurrent history changes, the same
// target yields the same verdict.
func (v *Validator) Validate(ctx context.Context, targetRef string) (Result, error) {
	if strings.TrimSpace(targetRef) == "" {
		return Result{}, fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}

	targetSHA, err := v.repo.RevParse(ctx, targetRef)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %q does not resolve: %v", ErrInvalidTarget, targetRef, err)
	}

	headSHA, err := v.repo.Head(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("resolving HEAD: %w", err)
	}

	if targetSHA == headSHA {
		return Result{TargetSHA: targetSHA, HeadSHA: headSHA, AlreadyAtTarget: true}, nil
	}

	ok, err := v.repo.IsAncestor(ctx, targetSHA, headSHA)
	if err != nil {
		return Result{}, fmt.Errorf("ancestor check for %q: %w", targetRef, err)
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %q is not an ancestor of HEAD", ErrInvalidTarget, targetRef)
	}

	return Result{TargetSHA: targetSHA, HeadSHA: headSHA}, nil
}
