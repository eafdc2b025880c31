// Package engine drives a rollback session through the pipeline:
// classify, validate, back up, execute, verify, report, prune. Stages
// run strictly in order; each either advances the session or aborts it
// into a terminal state. The incident reporter runs on every terminal
// path — success, abort, or degradation — so no outcome goes
// undocumented.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lyndonlyu/ripcord/internal/audit"
	"github.com/lyndonlyu/ripcord/internal/backup"
	"github.com/lyndonlyu/ripcord/internal/classify"
	"github.com/lyndonlyu/ripcord/internal/config"
	"github.com/lyndonlyu/ripcord/internal/executor"
	"github.com/lyndonlyu/ripcord/internal/filelock"
	"github.com/lyndonlyu/ripcord/internal/gc"
	"github.com/lyndonlyu/ripcord/internal/gitrepo"
	"github.com/lyndonlyu/ripcord/internal/killswitch"
	"github.com/lyndonlyu/ripcord/internal/policy"
	"github.com/lyndonlyu/ripcord/internal/queue"
	"github.com/lyndonlyu/ripcord/internal/redact"
	"github.com/lyndonlyu/ripcord/internal/report"
	"github.com/lyndonlyu/ripcord/internal/retry"
	"github.com/lyndonlyu/ripcord/internal/session"
	"github.com/lyndonlyu/ripcord/internal/statedb"
	"github.com/lyndonlyu/ripcord/internal/validate"
	"github.com/lyndonlyu/ripcord/internal/verify"
)

var (
	// ErrSessionActive means a rollback session is already in flight
	// for this repository. New signals are queued, never interleaved.
	ErrSessionActive = errors.New("engine: a rollback session is already active")
	// ErrNotAwaitingApproval is returned by Approve for sessions that
	// are not parked at the approval gate.
	ErrNotAwaitingApproval = errors.New("engine: session is not awaiting approval")
	// ErrHalted means the kill switch blocked destructive execution.
	ErrHalted = errors.New("engine: kill switch is active")
)

// defaultAutomatedTarget is used when an automated signal carries no
// explicit rollback target: revert the most recent commit.
const defaultAutomatedTarget = "HEAD~1"

// Request is a rollback invocation, manual or seeded from a signal.
type Request struct {
	TargetRef string
	Reason    string
	Scope     session.Scope
	Trigger   session.Trigger
	Emergency bool
	Source    string
	Severity  classify.Severity
}

// Engine owns all pipeline components for one repository. Construct one
// per invocation; it holds no global state.
type Engine struct {
	cfg       *config.Config
	repo      *gitrepo.Repo
	db        *statedb.DB
	journal   *audit.Journal
	backups   *backup.Manager
	validator *validate.Validator
	exec      *executor.Executor
	verifier  *verify.Verifier
	reporter  *report.Reporter
	approval  *policy.Approval
	ks        *killswitch.Switch
	pending   *queue.Queue
}

// New wires an engine from configuration. The caller owns Close.
func New(cfg *config.Config, repo *gitrepo.Repo) (*Engine, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("engine: ensure dirs: %w", err)
	}

	db, err := statedb.Open(cfg.StateDBPath())
	if err != nil {
		return nil, err
	}

	journal, err := audit.NewJournal(cfg.AuditDir())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: open audit journal: %w", err)
	}

	scrubber := redact.New(cfg.Redaction)
	journal.SetScrubber(scrubber)

	backups := backup.NewManager(repo, cfg.BackupsDir(), time.Duration(cfg.Backup.TimeoutSeconds)*time.Second)

	return &Engine{
		cfg:       cfg,
		repo:      repo,
		db:        db,
		journal:   journal,
		backups:   backups,
		validator: validate.New(repo),
		exec:      executor.New(repo, backups, cfg.Repo.Remote),
		verifier:  verify.New(verify.BuildChecks(cfg.Checks, repo, cfg)),
		reporter:  report.New(cfg.ReportsDir(), scrubber),
		approval:  policy.New(cfg.Approval.AutoExecute),
		ks:        killswitch.New(cfg.KillSwitchPath()),
		pending:   queue.New(cfg.Queue.MaxPending),
	}, nil
}

// Close releases the engine's database handle.
func (e *Engine) Close() error {
	return e.db.Close()
}

// DB exposes the session store for read-only inspection commands.
func (e *Engine) DB() *statedb.DB {
	return e.db
}

// Journal exposes the audit journal for inspection commands.
func (e *Engine) Journal() *audit.Journal {
	return e.journal
}

// KillSwitch exposes the kill switch for halt/resume commands.
func (e *Engine) KillSwitch() *killswitch.Switch {
	return e.ks
}

// Backups exposes the backup manager for restore/list commands.
func (e *Engine) Backups() *backup.Manager {
	return e.backups
}

// PendingStats reports queue occupancy.
func (e *Engine) PendingStats() queue.Stats {
	return e.pending.Snapshot()
}

// HandleSignal classifies a failure signal and, when a rollback is
// required, runs the pipeline. A non-failure conclusion yields
// (nil, nil): no session, nothing to do.
func (e *Engine) HandleSignal(ctx context.Context, sig classify.Signal, targetRef, reason string, scope session.Scope) (*session.Session, error) {
	sev, required := classify.Classify(sig)
	if !required {
		return nil, nil
	}

	trigger := session.TriggerAutomated
	if sig.Trigger == string(session.TriggerManual) {
		trigger = session.TriggerManual
	}
	if reason == "" {
		reason = fmt.Sprintf("%s concluded with %q", sig.SourceName, sig.Conclusion)
	}
	if scope == "" {
		scope = session.ScopeApplication
	}

	req := Request{
		TargetRef: targetRef,
		Reason:    reason,
		Scope:     scope,
		Trigger:   trigger,
		Emergency: sig.Emergency,
		Source:    sig.SourceName,
		Severity:  sev,
	}
	return e.Rollback(ctx, req)
}

// Submit queues a signal for processing. Use Drain to process queued
// signals one at a time.
func (e *Engine) Submit(sig classify.Signal, targetRef, reason string, scope session.Scope) error {
	return e.pending.Push(queue.Item{
		Signal:    sig,
		TargetRef: targetRef,
		Reason:    reason,
		Scope:     string(scope),
	})
}

// Drain processes queued signals sequentially until the queue is empty
// or a session parks at the approval gate (which keeps the single
// active slot occupied). It returns the sessions it ran.
func (e *Engine) Drain(ctx context.Context) ([]*session.Session, error) {
	var out []*session.Session
	for {
		item, ok := e.pending.Pop()
		if !ok {
			return out, nil
		}
		sess, err := e.HandleSignal(ctx, item.Signal, item.TargetRef, item.Reason, session.Scope(item.Scope))
		if sess != nil {
			out = append(out, sess)
		}
		if err != nil {
			return out, err
		}
		if sess != nil && sess.Status == session.AwaitingApproval {
			return out, nil
		}
	}
}

// Rollback runs the full pipeline for one request. The returned session
// is non-nil whenever one was created, including on failure paths; the
// error describes the stage that stopped it.
func (e *Engine) Rollback(ctx context.Context, req Request) (*session.Session, error) {
	if rec, err := e.db.ActiveSession(); err == nil && !session.Status(rec.Status).Terminal() {
		return nil, fmt.Errorf("%w: %s (%s)", ErrSessionActive, rec.ID, rec.Status)
	}

	if req.TargetRef == "" && req.Trigger == session.TriggerAutomated {
		req.TargetRef = defaultAutomatedTarget
	}
	if req.Scope == "" {
		req.Scope = session.ScopeApplication
	}
	// Manual severity is not classified from a signal: operators pull
	// the cord at Medium, emergencies report as Critical.
	if req.Trigger != session.TriggerAutomated && req.Severity == classify.Low {
		if req.Emergency {
			req.Severity = classify.Critical
		} else {
			req.Severity = classify.Medium
		}
	}

	lock, err := filelock.Acquire(e.lockDir(), e.repo.Dir(), "")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	sess := session.New(req.TargetRef, req.Reason, req.Severity, req.Scope, req.Trigger, req.Emergency)
	sess.Source = req.Source
	if req.TargetRef == defaultAutomatedTarget && req.Trigger == session.TriggerAutomated {
		sess.RecordWarning("no explicit target supplied; defaulting to previous commit")
	}

	if err := e.db.InsertSession(toRecord(sess)); err != nil {
		return nil, err
	}
	if err := e.db.SetState(statedb.ActiveSessionKey, sess.ID); err != nil {
		return sess, err
	}
	e.logAction(sess, "intake", fmt.Sprintf("session opened (%s, severity %s)", sess.Trigger, sess.Severity), nil)

	return sess, e.run(ctx, sess)
}

// run advances a freshly created session. It returns nil when the
// session either resolved cleanly or parked at the approval gate.
func (e *Engine) run(ctx context.Context, sess *session.Session) error {
	if err := e.transition(sess, session.Validating); err != nil {
		return err
	}

	result, err := e.validator.Validate(ctx, sess.TargetRef)
	if err != nil {
		sess.RecordError(err)
		e.logAction(sess, "validate", "target rejected", err)
		return e.abort(ctx, sess, err)
	}
	originalRef := sess.TargetRef
	sess.SourceRef = result.HeadSHA
	sess.TargetRef = result.TargetSHA
	sess.RecordAction(fmt.Sprintf("validated target %s -> %s (ancestor of HEAD)", originalRef, result.TargetSHA))
	e.logAction(sess, "validate", "target accepted", nil)
	e.persist(sess)

	if err := e.transition(sess, session.BackingUp); err != nil {
		return err
	}

	snap, err := e.backups.Create(ctx, sess.ID)
	if err != nil {
		sess.RecordError(err)
		e.logAction(sess, "backup", "snapshot creation failed", err)
		return e.abort(ctx, sess, err)
	}
	sess.BackupID = snap.ID
	sess.RecordAction(fmt.Sprintf("backup snapshot %s committed (source %s)", snap.ID, snap.SourceRef[:12]))
	e.logAction(sess, "backup", "snapshot committed: "+snap.ID, nil)
	e.persist(sess)

	if !e.approval.AutoExecute(sess.Trigger, sess.Severity, sess.Emergency) {
		if err := e.transition(sess, session.AwaitingApproval); err != nil {
			return err
		}
		// The active-session slot stays occupied until an operator
		// approves or aborts; the repository lock is released so the
		// approval can come from another process.
		return nil
	}

	return e.executeAndFinish(ctx, sess)
}

// Approve resumes a session parked at the approval gate. The target is
// re-validated first: history may have moved while the session waited.
func (e *Engine) Approve(ctx context.Context, sessionID string) (*session.Session, error) {
	rec, err := e.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status(rec.Status) != session.AwaitingApproval {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAwaitingApproval, rec.ID, rec.Status)
	}

	sess, err := fromRecord(rec)
	if err != nil {
		return nil, err
	}
	e.reloadActions(sess)

	lock, err := filelock.Acquire(e.lockDir(), e.repo.Dir(), sess.ID)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	sess.RecordAction("execution approved by operator")
	e.logAction(sess, "approve", "operator approved execution", nil)

	// History may have advanced while waiting; the original lease
	// expectation (SourceRef) still guards the publish, but a target
	// that is no longer an ancestor must abort here.
	result, err := e.validator.Validate(ctx, sess.TargetRef)
	if err != nil {
		sess.RecordError(err)
		e.logAction(sess, "validate", "target rejected on re-validation", err)
		return sess, e.abort(ctx, sess, err)
	}
	if result.HeadSHA != sess.SourceRef {
		err := fmt.Errorf("%w: HEAD moved from %s to %s while awaiting approval",
			executor.ErrConflict, sess.SourceRef[:12], result.HeadSHA[:12])
		sess.RecordError(err)
		e.logAction(sess, "validate", "stale session", err)
		return sess, e.abort(ctx, sess, err)
	}
	sess.TargetRef = result.TargetSHA

	return sess, e.executeAndFinish(ctx, sess)
}

// AbortPending closes a session parked at the approval gate without
// executing it. The backup snapshot is kept for the retention window.
func (e *Engine) AbortPending(ctx context.Context, sessionID, reason string) (*session.Session, error) {
	rec, err := e.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status(rec.Status) != session.AwaitingApproval {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAwaitingApproval, rec.ID, rec.Status)
	}

	sess, err := fromRecord(rec)
	if err != nil {
		return nil, err
	}
	e.reloadActions(sess)

	sess.RecordWarning(reason)
	e.logAction(sess, "approve", reason, nil)
	if err := e.transition(sess, session.Aborted); err != nil {
		return sess, err
	}
	return sess, e.finish(ctx, sess, nil)
}

// executeAndFinish runs the destructive stage, verification, and the
// terminal reporting path.
func (e *Engine) executeAndFinish(ctx context.Context, sess *session.Session) error {
	if e.ks.IsActive() {
		sess.RecordWarning("kill switch active; destructive execution blocked")
		e.logAction(sess, "execute", "blocked by kill switch", ErrHalted)
		return e.abort(ctx, sess, ErrHalted)
	}

	if err := e.transition(sess, session.Executing); err != nil {
		return err
	}

	record := func(action string) {
		sess.RecordAction(action)
		e.logAction(sess, "execute", action, nil)
	}

	outcome, execErr := e.exec.Execute(ctx, sess, record)
	if execErr != nil {
		sess.RecordError(execErr)
		if outcome.RecoveryErr != nil {
			sess.RecordError(outcome.RecoveryErr)
		}
		if err := e.transition(sess, session.Recovering); err != nil {
			return err
		}
		return e.abort(ctx, sess, execErr)
	}

	if err := e.transition(sess, session.Verifying); err != nil {
		return err
	}

	vrep := e.verifier.Run(ctx)
	for _, res := range vrep.Results {
		e.logAction(sess, "verify", fmt.Sprintf("check %s: %s", res.Name, res.Status), nil)
	}

	final := session.ReportedResolved
	if !vrep.Verified {
		final = session.ReportedDegraded
		sess.Escalated = true
		for _, name := range vrep.FailedChecks() {
			sess.RecordWarning("post-rollback check did not pass: " + name)
		}
	}

	if err := e.transition(sess, final); err != nil {
		return err
	}
	return e.finish(ctx, sess, vrep)
}

// abort moves the session to its terminal Aborted state and reports.
// The original stage error is propagated to the caller.
func (e *Engine) abort(ctx context.Context, sess *session.Session, cause error) error {
	if err := e.transition(sess, session.Aborted); err != nil {
		return errors.Join(cause, err)
	}
	if err := e.finish(ctx, sess, nil); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// finish writes the incident report pair, prunes retention, and frees
// the active-session slot. Report writing is retried: the report is the
// sole audit trail and must eventually land.
func (e *Engine) finish(ctx context.Context, sess *session.Session, vrep *verify.Report) error {
	var snap *backup.Snapshot
	if sess.BackupID != "" {
		snap, _ = e.backups.Load(sess.BackupID)
	}

	inc := report.Incident{
		Session:      sess,
		Backup:       snap,
		Verification: vrep,
		GeneratedAt:  time.Now().UTC(),
	}

	writeErr := retry.Do(ctx, retry.DefaultPolicy(), func() error {
		_, _, err := e.reporter.Write(inc)
		return err
	})
	if writeErr == nil {
		e.logAction(sess, "report", "incident report pair written", nil)
	} else {
		e.logAction(sess, "report", "incident report write failed after retries", writeErr)
	}

	pol := gc.DefaultPolicy()
	pol.KeepReports = e.cfg.Retention.KeepReports
	pol.KeepBackups = e.cfg.Retention.KeepBackups
	if _, err := gc.Run(e.cfg.ReportsDir(), e.cfg.BackupsDir(), e.cfg.AuditDir(), pol); err != nil {
		e.logAction(sess, "report", "retention pruning failed", err)
	}

	e.persist(sess)
	if err := e.db.DeleteState(statedb.ActiveSessionKey); err != nil {
		return errors.Join(writeErr, err)
	}
	return writeErr
}

func (e *Engine) lockDir() string {
	return e.cfg.BaseDir
}

// transition advances the state machine, persists, and journals.
func (e *Engine) transition(sess *session.Session, next session.Status) error {
	if err := sess.Transition(next); err != nil {
		return err
	}
	e.persist(sess)
	e.logAction(sess, "status", string(next), nil)
	return nil
}

func (e *Engine) persist(sess *session.Session) {
	// Persistence failures must not derail a rollback in flight; the
	// journal still carries the trace.
	if err := e.db.UpdateSession(toRecord(sess)); err != nil {
		e.journal.Append(audit.Entry{
			SessionID: sess.ID,
			Stage:     "statedb",
			Action:    "persist failed",
			Outcome:   "error",
			Detail:    err.Error(),
		})
	}
}

func (e *Engine) logAction(sess *session.Session, stage, action string, err error) {
	entry := audit.Entry{
		SessionID: sess.ID,
		Stage:     stage,
		Action:    action,
		Outcome:   "ok",
	}
	if err != nil {
		entry.Outcome = "error"
		entry.Detail = err.Error()
	}
	e.journal.Append(entry)
}

// reloadActions restores the session's timeline from the audit journal
// after a restart, so the final report covers pre-approval actions too.
func (e *Engine) reloadActions(sess *session.Session) {
	records, err := e.journal.ForSession(sess.ID)
	if err != nil {
		return
	}
	for _, r := range records {
		if r.Stage == "status" || r.Stage == "statedb" {
			continue
		}
		at, err := time.Parse(time.RFC3339, r.Timestamp)
		if err != nil {
			continue
		}
		sess.Actions = append(sess.Actions, session.Action{At: at, Description: r.Action})
	}
}

func toRecord(sess *session.Session) statedb.SessionRecord {
	endedAt := ""
	if !sess.ClosedAt.IsZero() {
		endedAt = sess.ClosedAt.UTC().Format(time.RFC3339)
	}
	return statedb.SessionRecord{
		ID:        sess.ID,
		Status:    string(sess.Status),
		Severity:  sess.Severity.String(),
		Scope:     string(sess.Scope),
		Trigger:   string(sess.Trigger),
		Source:    sess.Source,
		SourceRef: sess.SourceRef,
		TargetRef: sess.TargetRef,
		Reason:    sess.Reason,
		BackupID:  sess.BackupID,
		Warnings:  encodeList(sess.Warnings),
		Errors:    encodeList(sess.Errors),
		StartedAt: sess.CreatedAt.UTC().Format(time.RFC3339),
		EndedAt:   endedAt,
	}
}

func fromRecord(rec statedb.SessionRecord) (*session.Session, error) {
	createdAt, err := time.Parse(time.RFC3339, rec.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("engine: parse session %s started_at: %w", rec.ID, err)
	}
	sess := &session.Session{
		ID:        rec.ID,
		SourceRef: rec.SourceRef,
		TargetRef: rec.TargetRef,
		Reason:    rec.Reason,
		Source:    rec.Source,
		Severity:  classify.ParseSeverity(rec.Severity),
		Scope:     session.Scope(rec.Scope),
		Trigger:   session.Trigger(rec.Trigger),
		Status:    session.Status(rec.Status),
		BackupID:  rec.BackupID,
		Warnings:  decodeList(rec.Warnings),
		Errors:    decodeList(rec.Errors),
		CreatedAt: createdAt,
	}
	if rec.EndedAt != "" {
		if closedAt, err := time.Parse(time.RFC3339, rec.EndedAt); err == nil {
			sess.ClosedAt = closedAt
		}
	}
	return sess, nil
}

// encodeList packs warnings/errors for the sessions table. An empty
// slice stays an empty string so fresh rows read back as nil.
func encodeList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	data, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return []string{s}
	}
	return items
}
