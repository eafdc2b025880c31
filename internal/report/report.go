// Package report renders a terminal rollback session into its incident
// report pair: a human-readable Markdown document and a machine-parsable
// JSON twin keyed by the same session id. Rendering is a pure function
// of the session trace — the same session always produces byte-identical
// output, aside from the separately recorded generation timestamp.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lyndonlyu/ripcord/internal/backup"
	"github.com/lyndonlyu/ripcord/internal/redact"
	"github.com/lyndonlyu/ripcord/internal/session"
	"github.com/lyndonlyu/ripcord/internal/verify"
)

// ErrWriteFailed means a report artifact could not be persisted. The
// report is the sole audit trail of an incident, so the engine retries
// this failure rather than swallowing it.
var ErrWriteFailed = errors.New("report: incident write failed")

// Incident is the closed set of inputs to a report. Every field is an
// explicit, typed value; renderer branches never probe for optional keys.
type Incident struct {
	Session      *session.Session
	Backup       *backup.Snapshot // nil if no snapshot was committed
	Verification *verify.Report   // nil if verification never ran
	GeneratedAt  time.Time
}

// ActionRecord is one timeline entry in the JSON twin.
type ActionRecord struct {
	At          string `json:"at"`
	Description string `json:"description"`
}

// Record is the JSON twin. Its fields are a superset of the facts
// rendered in the Markdown document.
type Record struct {
	SessionID        string         `json:"session_id"`
	Status           string         `json:"status"`
	Severity         string         `json:"severity"`
	ReportedSeverity string         `json:"reported_severity"`
	Escalated        bool           `json:"escalated"`
	Scope            string         `json:"scope"`
	Trigger          string         `json:"trigger"`
	Emergency        bool           `json:"emergency"`
	Source           string         `json:"source,omitempty"`
	SourceRef        string         `json:"source_ref"`
	TargetRef        string         `json:"target_ref"`
	Reason           string         `json:"reason"`
	BackupID         string         `json:"backup_id,omitempty"`
	DetectedAt       string         `json:"detected_at"`
	ClosedAt         string         `json:"closed_at,omitempty"`
	GeneratedAt      string         `json:"generated_at"`
	Actions          []ActionRecord `json:"actions"`
	Errors           []string       `json:"errors"`
	Warnings         []string       `json:"warnings"`
	Verification     *verify.Report `json:"verification,omitempty"`
	ReportFile       string         `json:"report_file"`
}

// Reporter writes report pairs into a directory injected at construction.
type Reporter struct {
	dir      string
	scrubber *redact.Scrubber
}

func New(dir string, scrubber *redact.Scrubber) *Reporter {
	return &Reporter{dir: dir, scrubber: scrubber}
}

func (r *Reporter) scrub(s string) string {
	if r.scrubber == nil {
		return s
	}
	return r.scrubber.Scrub(s)
}

// MarkdownPath returns the Markdown path for a session id.
func (r *Reporter) MarkdownPath(sessionID string) string {
	return filepath.Join(r.dir, sessionID+".md")
}

// JSONPath returns the JSON path for a session id.
func (r *Reporter) JSONPath(sessionID string) string {
	return filepath.Join(r.dir, sessionID+".json")
}

// Write renders and persists both artifacts. Each file is written to a
// temporary name and renamed into place so a crash never leaves a
// half-written report visible under its final name.
func (r *Reporter) Write(inc Incident) (string, string, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	md := r.RenderMarkdown(inc)
	rec := r.BuildRecord(inc)

	mdPath := r.MarkdownPath(inc.Session.ID)
	jsonPath := r.JSONPath(inc.Session.ID)

	if err := atomicWrite(mdPath, []byte(md)); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := atomicWrite(jsonPath, append(data, '\n')); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	return mdPath, jsonPath, nil
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// BuildRecord assembles the JSON twin.
func (r *Reporter) BuildRecord(inc Incident) Record {
	s := inc.Session

	actions := make([]ActionRecord, 0, len(s.Actions))
	for _, a := range s.Actions {
		actions = append(actions, ActionRecord{
			At:          a.At.UTC().Format(time.RFC3339),
			Description: r.scrub(a.Description),
		})
	}

	errs := make([]string, 0, len(s.Errors))
	for _, e := range s.Errors {
		errs = append(errs, r.scrub(e))
	}
	warns := make([]string, 0, len(s.Warnings))
	for _, w := range s.Warnings {
		warns = append(warns, r.scrub(w))
	}

	closedAt := ""
	if !s.ClosedAt.IsZero() {
		closedAt = s.ClosedAt.UTC().Format(time.RFC3339)
	}

	return Record{
		SessionID:        s.ID,
		Status:           string(s.Status),
		Severity:         s.Severity.String(),
		ReportedSeverity: s.ReportedSeverity().String(),
		Escalated:        s.Escalated,
		Scope:            string(s.Scope),
		Trigger:          string(s.Trigger),
		Emergency:        s.Emergency,
		Source:           s.Source,
		SourceRef:        s.SourceRef,
		TargetRef:        s.TargetRef,
		Reason:           r.scrub(s.Reason),
		BackupID:         s.BackupID,
		DetectedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
		ClosedAt:         closedAt,
		GeneratedAt:      inc.GeneratedAt.UTC().Format(time.RFC3339),
		Actions:          actions,
		Errors:           errs,
		Warnings:         warns,
		Verification:     inc.Verification,
		ReportFile:       inc.Session.ID + ".md",
	}
}

// Pair is one report pair on disk.
type Pair struct {
	SessionID    string
	MarkdownPath string
	JSONPath     string
}

// ListPairs returns complete report pairs in the directory, newest
// first. Session ids sort in creation order by construction. Orphaned
// halves (one file of a pair missing) are excluded.
func ListPairs(dir string) ([]Pair, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "rs-*.json"))
	if err != nil {
		return nil, err
	}

	var pairs []Pair
	for _, jsonPath := range matches {
		id := strings.TrimSuffix(filepath.Base(jsonPath), ".json")
		mdPath := filepath.Join(dir, id+".md")
		if _, err := os.Stat(mdPath); err != nil {
			continue
		}
		pairs = append(pairs, Pair{SessionID: id, MarkdownPath: mdPath, JSONPath: jsonPath})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].SessionID > pairs[j].SessionID
	})
	return pairs, nil
}
