// Package session defines the rollback session: the unit of work that
// flows through the pipeline from failure signal to incident report.
// A session is created once, mutated only by the stage that currently
// owns it, and never reused across runs.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lyndonlyu/ripcord/internal/classify"
)

// ErrInvalidTransition is returned when a status change is not permitted
// by the state machine. This indicates a pipeline bug, not an expected
// runtime outcome.
var ErrInvalidTransition = errors.New("session: invalid status transition")

// Status is the session's position in the rollback state machine.
type Status string

const (
	Detected         Status = "DETECTED"
	Validating       Status = "VALIDATING"
	BackingUp        Status = "BACKING_UP"
	AwaitingApproval Status = "AWAITING_APPROVAL"
	Executing        Status = "EXECUTING"
	Recovering       Status = "RECOVERING"
	Verifying        Status = "VERIFYING"
	Aborted          Status = "ABORTED"
	ReportedDegraded Status = "REPORTED_DEGRADED"
	ReportedResolved Status = "REPORTED_RESOLVED"
)

// transitions is the complete set of legal status moves.
var transitions = map[Status][]Status{
	Detected:         {Validating},
	Validating:       {BackingUp, Aborted},
	BackingUp:        {AwaitingApproval, Executing, Aborted},
	AwaitingApproval: {Executing, Aborted},
	Executing:        {Verifying, Recovering, Aborted},
	Recovering:       {Aborted},
	Verifying:        {ReportedResolved, ReportedDegraded},
}

// Terminal reports whether the status closes the session.
func (s Status) Terminal() bool {
	switch s {
	case Aborted, ReportedDegraded, ReportedResolved:
		return true
	}
	return false
}

// Scope identifies what part of the system the rollback covers.
type Scope string

const (
	ScopeApplication    Scope = "application"
	ScopeDatabase       Scope = "database"
	ScopeInfrastructure Scope = "infrastructure"
	ScopeFull           Scope = "full"
)

// ParseScope validates and normalizes a scope string.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeApplication:
		return ScopeApplication, nil
	case ScopeDatabase:
		return ScopeDatabase, nil
	case ScopeInfrastructure:
		return ScopeInfrastructure, nil
	case ScopeFull:
		return ScopeFull, nil
	}
	return "", fmt.Errorf("session: unknown scope %q", s)
}

// Trigger identifies how the session was initiated.
type Trigger string

const (
	TriggerAutomated Trigger = "automated"
	TriggerManual    Trigger = "manual"
	TriggerEmergency Trigger = "emergency"
)

// Action is one recorded side effect, appended as it completes.
type Action struct {
	At          time.Time `json:"at"`
	Description string    `json:"description"`
}

// Session is a single rollback incident in flight.
type Session struct {
	ID        string
	SourceRef string // state at detection time (HEAD SHA)
	TargetRef string // state the rollback intends to reach
	Reason    string
	Source    string // originating workflow/trigger name, if any
	Severity  classify.Severity
	Scope     Scope
	Trigger   Trigger
	Emergency bool
	Status    Status

	Actions  []Action
	Errors   []string
	Warnings []string

	BackupID string // set once a backup snapshot is committed

	// Escalated is set when verification failure raises the reported
	// severity one tier. It never changes execution behavior.
	Escalated bool

	CreatedAt time.Time
	ClosedAt  time.Time
}

// NewID builds a session identifier that sorts lexicographically in
// creation order: a UTC timestamp with nanosecond precision plus a short
// random suffix for uniqueness.
func NewID(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("rs-%s-%09d-%s",
		now.Format("20060102T150405Z"),
		now.Nanosecond(),
		uuid.New().String()[:8])
}

// New creates a session in the Detected state.
func New(targetRef, reason string, severity classify.Severity, scope Scope, trigger Trigger, emergency bool) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        NewID(now),
		TargetRef: targetRef,
		Reason:    reason,
		Severity:  severity,
		Scope:     scope,
		Trigger:   trigger,
		Emergency: emergency,
		Status:    Detected,
		CreatedAt: now,
	}
}

// Transition moves the session to next, enforcing the state machine.
// Reaching a terminal status stamps ClosedAt.
func (s *Session) Transition(next Status) error {
	for _, allowed := range transitions[s.Status] {
		if allowed == next {
			s.Status = next
			if next.Terminal() {
				s.ClosedAt = time.Now().UTC()
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
}

// RecordAction appends a completed side effect to the ordered action log.
func (s *Session) RecordAction(description string) {
	s.Actions = append(s.Actions, Action{
		At:          time.Now().UTC(),
		Description: description,
	})
}

// RecordError appends to the ordered error log.
func (s *Session) RecordError(err error) {
	if err == nil {
		return
	}
	s.Errors = append(s.Errors, err.Error())
}

// RecordWarning appends to the ordered warning log.
func (s *Session) RecordWarning(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// ReportedSeverity is the severity used for the incident report: the
// classified severity, raised one tier if verification escalated it.
func (s *Session) ReportedSeverity() classify.Severity {
	if s.Escalated {
		return s.Severity.Escalate()
	}
	return s.Severity
}
