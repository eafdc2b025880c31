package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/lyndonlyu/ripcord/internal/classify"
	"github.com/lyndonlyu/ripcord/internal/session"
	"github.com/lyndonlyu/ripcord/internal/verify"
)

const timeFmt = time.RFC3339

// preventionItems are the static follow-up checklist entries included in
// every report; dynamic flags are appended per incident.
var preventionItems = []string{
	"Review the failing change for the defect that triggered this incident",
	"Add or tighten the pre-deployment check that should have caught it",
	"Confirm the rollback target is tagged as known-good",
	"Re-run the full verification suite against the restored state",
}

// stakeholderItems is the static notification checklist.
var stakeholderItems = []string{
	"On-call engineer acknowledged",
	"Service owner notified",
	"Incident channel updated with report link",
}

func incidentType(s *session.Session) string {
	switch s.Trigger {
	case session.TriggerManual:
		return "Manual Rollback"
	case session.TriggerEmergency:
		return "Emergency Rollback"
	default:
		return "Automated Rollback"
	}
}

// impactAssessment derives a fixed impact summary from scope and severity.
func impactAssessment(scope session.Scope, sev classify.Severity) string {
	var area string
	switch scope {
	case session.ScopeDatabase:
		area = "Persistent data layer affected; verify data integrity after restore."
	case session.ScopeInfrastructure:
		area = "Infrastructure configuration affected; dependent services may need restarts."
	case session.ScopeFull:
		area = "Full system scope; all components were reverted together."
	default:
		area = "Application code only; no data or infrastructure changes were reverted."
	}

	var blast string
	switch sev {
	case classify.Critical:
		blast = "Critical: user-facing functionality was impaired until rollback completed."
	case classify.High:
		blast = "High: core workflows were at risk; rollback was executed without delay."
	case classify.Medium:
		blast = "Medium: quality degradation detected; no confirmed user-facing breakage."
	default:
		blast = "Low: no user-facing impact expected."
	}

	return area + " " + blast
}

// RenderMarkdown produces the human-readable incident document. Output
// is a pure function of the incident: given the same session trace the
// bytes are identical, except for the generation timestamp recorded in
// the footer.
func (r *Reporter) RenderMarkdown(inc Incident) string {
	s := inc.Session
	var b strings.Builder

	fmt.Fprintf(&b, "# Incident Report: %s\n\n", s.ID)

	// Summary
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **Type**: %s\n", incidentType(s))
	fmt.Fprintf(&b, "- **Severity**: %s", s.ReportedSeverity())
	if s.Escalated {
		fmt.Fprintf(&b, " (escalated from %s after verification failure)", s.Severity)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- **Status**: %s\n", s.Status)
	fmt.Fprintf(&b, "- **Detected**: %s\n", s.CreatedAt.UTC().Format(timeFmt))
	if !s.ClosedAt.IsZero() {
		fmt.Fprintf(&b, "- **Closed**: %s\n", s.ClosedAt.UTC().Format(timeFmt))
	}
	if s.Source != "" {
		fmt.Fprintf(&b, "- **Source**: %s\n", s.Source)
	}
	b.WriteString("\n")

	// Rollback information
	b.WriteString("## Rollback Information\n\n")
	fmt.Fprintf(&b, "- **Session**: %s\n", s.ID)
	fmt.Fprintf(&b, "- **From**: `%s`\n", orNone(s.SourceRef))
	fmt.Fprintf(&b, "- **To**: `%s`\n", orNone(s.TargetRef))
	fmt.Fprintf(&b, "- **Scope**: %s\n", s.Scope)
	fmt.Fprintf(&b, "- **Trigger**: %s\n", s.Trigger)
	fmt.Fprintf(&b, "- **Reason**: %s\n", r.scrub(s.Reason))
	fmt.Fprintf(&b, "- **Backup**: %s\n", orNone(s.BackupID))
	b.WriteString("\n")

	// Impact assessment
	b.WriteString("## Impact Assessment\n\n")
	b.WriteString(impactAssessment(s.Scope, s.ReportedSeverity()))
	b.WriteString("\n\n")

	// Verification
	b.WriteString("## Verification\n\n")
	if inc.Verification == nil {
		b.WriteString("Verification did not run (session ended before the verify stage).\n")
	} else {
		for _, res := range inc.Verification.Results {
			marker := "x"
			note := ""
			switch res.Status {
			case verify.Failed:
				marker = " "
				note = " — FAILED: " + res.Detail
			case verify.TimedOut:
				marker = " "
				note = " — TIMED OUT"
			}
			fmt.Fprintf(&b, "- [%s] %s%s\n", marker, res.Name, note)
		}
	}
	b.WriteString("\n")

	// Timeline
	b.WriteString("## Timeline\n\n")
	if len(s.Actions) == 0 {
		b.WriteString("No actions were performed.\n")
	} else {
		for _, a := range s.Actions {
			fmt.Fprintf(&b, "- `%s` %s\n", a.At.UTC().Format(timeFmt), r.scrub(a.Description))
		}
	}
	b.WriteString("\n")

	// Root cause
	b.WriteString("## Root Cause\n\n")
	fmt.Fprintf(&b, "%s\n", r.scrub(s.Reason))
	if len(s.Errors) > 0 {
		b.WriteString("\nErrors recorded during the session:\n\n")
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "- %s\n", r.scrub(e))
		}
	}
	if len(s.Warnings) > 0 {
		b.WriteString("\nWarnings:\n\n")
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "- %s\n", r.scrub(w))
		}
	}
	b.WriteString("\n")

	// Resolution
	b.WriteString("## Resolution Actions\n\n")
	if len(s.Actions) == 0 {
		b.WriteString("None — the session aborted before any state was changed.\n")
	} else {
		for _, a := range s.Actions {
			fmt.Fprintf(&b, "1. %s\n", r.scrub(a.Description))
		}
	}
	b.WriteString("\n")

	// Follow-up checklist: static items plus dynamic flags.
	b.WriteString("## Follow-up Checklist\n\n")
	for _, item := range preventionItems {
		fmt.Fprintf(&b, "- [ ] %s\n", item)
	}
	if s.Escalated {
		b.WriteString("- [ ] Investigate the failed post-rollback checks (severity was escalated)\n")
	}
	if s.Status == session.Aborted {
		b.WriteString("- [ ] Determine why the rollback could not complete and clear the blocker\n")
	}
	if len(s.Errors) > 0 {
		b.WriteString("- [ ] Triage each recorded error above\n")
	}
	b.WriteString("\n")

	// Stakeholder notifications
	b.WriteString("## Stakeholder Notifications\n\n")
	for _, item := range stakeholderItems {
		fmt.Fprintf(&b, "- [ ] %s\n", item)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "---\n\nGenerated at %s\n", inc.GeneratedAt.UTC().Format(timeFmt))

	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
