// Package verify runs the configured health checks against the
// post-rollback state. Checks are independent and read-only, so they run
// concurrently; each has its own timeout, and a timed-out check is
// recorded as such, never silently skipped. The overall verdict is the
// conjunction of all checks. A failed verification never triggers
// another rollback; it escalates the reported severity instead.
package verify

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCheckFailed marks a probe that returned an error.
	ErrCheckFailed = errors.New("verify: health check failed")
	// ErrCheckTimeout marks a probe that exceeded its timeout.
	ErrCheckTimeout = errors.New("verify: health check timed out")
)

// CheckStatus is the outcome of a single check.
type CheckStatus string

const (
	Passed   CheckStatus = "PASSED"
	Failed   CheckStatus = "FAILED"
	TimedOut CheckStatus = "TIMED_OUT"
)

// Probe is the externally supplied body of a check. The engine defines
// only the name, timeout, and pass/fail/timeout result.
type Probe func(ctx context.Context) error

// Check is one named probe with its individual timeout.
type Check struct {
	Name    string
	Timeout time.Duration
	Probe   Probe
}

// CheckResult records the outcome of one check.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   CheckStatus   `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is the result of a verification pass.
type Report struct {
	Verified bool          `json:"verified"`
	Results  []CheckResult `json:"results"`
}

// FailedChecks returns the names of checks that did not pass, in
// registration order.
func (r *Report) FailedChecks() []string {
	var names []string
	for _, res := range r.Results {
		if res.Status != Passed {
			names = append(names, res.Name)
		}
	}
	return names
}

// Verifier holds the configured check registry.
type Verifier struct {
	checks []Check
}

func New(checks []Check) *Verifier {
	return &Verifier{checks: checks}
}

// Run executes every check concurrently and waits for all of them to
// complete or time out. Results keep registration order regardless of
// completion order.
func (v *Verifier) Run(ctx context.Context) *Report {
	results := make([]CheckResult, len(v.checks))

	var wg sync.WaitGroup
	for i, check := range v.checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = runOne(ctx, c)
		}(i, check)
	}
	wg.Wait()

	verified := true
	for _, res := range results {
		if res.Status != Passed {
			verified = false
			break
		}
	}

	return &Report{Verified: verified, Results: results}
}

func runOne(ctx context.Context, c Check) CheckResult {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- c.Probe(ctx)
	}()

	select {
	case err := <-done:
		elapsed := time.Since(start)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return CheckResult{Name: c.Name, Status: TimedOut, Detail: ErrCheckTimeout.Error(), Duration: elapsed}
			}
			return CheckResult{Name: c.Name, Status: Failed, Detail: err.Error(), Duration: elapsed}
		}
		return CheckResult{Name: c.Name, Status: Passed, Duration: elapsed}
	case <-ctx.Done():
		// The probe is still running; it keeps its goroutine but the
		// check concludes as timed out.
		return CheckResult{Name: c.Name, Status: TimedOut, Detail: ErrCheckTimeout.Error(), Duration: time.Since(start)}
	}
}
