package verify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAllChecksPass(t *testing.T) {
	v := New([]Check{
		{Name: "a", Timeout: time.Second, Probe: func(ctx context.Context) error { return nil }},
		{Name: "b", Timeout: time.Second, Probe: func(ctx context.Context) error { return nil }},
	})
	rep := v.Run(context.Background())
	assert.True(t, rep.Verified)
	require.Len(t, rep.Results, 2)
	assert.Empty(t, rep.FailedChecks())
}

func TestRunSingleFailureFailsVerification(t *testing.T) {
	v := New([]Check{
		{Name: "good", Timeout: time.Second, Probe: func(ctx context.Context) error { return nil }},
		{Name: "bad", Timeout: time.Second, Probe: func(ctx context.Context) error { return errors.New("service down") }},
		{Name: "also-good", Timeout: time.Second, Probe: func(ctx context.Context) error { return nil }},
	})
	rep := v.Run(context.Background())
	assert.False(t, rep.Verified)
	assert.Equal(t, []string{"bad"}, rep.FailedChecks())

	// Every check still ran; one failure does not short-circuit the rest.
	require.Len(t, rep.Results, 3)
	assert.Equal(t, Passed, rep.Results[2].Status)
	assert.Contains(t, rep.Results[1].Detail, "service down")
}

func TestRunTimeoutIsRecordedNotFatal(t *testing.T) {
	v := New([]Check{
		{Name: "slow", Timeout: 50 * time.Millisecond, Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{Name: "fast", Timeout: time.Second, Probe: func(ctx context.Context) error { return nil }},
	})
	rep := v.Run(context.Background())
	assert.False(t, rep.Verified)
	assert.Equal(t, TimedOut, rep.Results[0].Status)
	assert.Equal(t, Passed, rep.Results[1].Status)
}

func TestRunResultsKeepRegistrationOrder(t *testing.T) {
	names := []string{"one", "two", "three", "four"}
	var checks []Check
	for i, name := range names {
		delay := time.Duration(len(names)-i) * 10 * time.Millisecond
		checks = append(checks, Check{Name: name, Timeout: time.Second, Probe: func(ctx context.Context) error {
			time.Sleep(delay)
			return nil
		}})
	}
	rep := New(checks).Run(context.Background())
	for i, name := range names {
		assert.Equal(t, name, rep.Results[i].Name)
	}
}

func TestRunChecksRunConcurrently(t *testing.T) {
	var running atomic.Int32
	var peak atomic.Int32
	probe := func(ctx context.Context) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	v := New([]Check{
		{Name: "a", Timeout: time.Second, Probe: probe},
		{Name: "b", Timeout: time.Second, Probe: probe},
		{Name: "c", Timeout: time.Second, Probe: probe},
	})
	v.Run(context.Background())
	assert.Greater(t, peak.Load(), int32(1), "checks must overlap in time")
}

func TestRunWithNoChecksVerifies(t *testing.T) {
	rep := New(nil).Run(context.Background())
	assert.True(t, rep.Verified)
	assert.Empty(t, rep.Results)
}
