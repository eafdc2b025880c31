// Package classify maps raw failure signals to a severity tier and a
// rollback-required decision. Classification is a pure function: every
// input yields an answer and nothing is mutated.
package classify

import (
	"strings"
)

// Severity is the incident severity tier assigned to a session.
type Severity int

const (
	Low Severity = iota
	Medium
	High
	Critical
)

func (s Severity) String() string {
	switch s {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity converts a string to a Severity. Unknown strings map to Low.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MEDIUM":
		return Medium
	case "HIGH":
		return High
	case "CRITICAL":
		return Critical
	default:
		return Low
	}
}

// Escalate raises the severity by one tier, capped at Critical. Used when
// post-rollback verification fails: the incident is reported one tier
// higher, without triggering another rollback.
func (s Severity) Escalate() Severity {
	if s >= Critical {
		return Critical
	}
	return s + 1
}

// Signal is a raw failure notification from a workflow or trigger.
// It is consumed once to seed a rollback session and never persisted
// as its own entity.
type Signal struct {
	SourceName string // originating workflow or trigger name
	Conclusion string // e.g. "success", "failure"
	Trigger    string // "automated" or "manual"
	Emergency  bool
}

// ConclusionFailure is the only conclusion value that requires a rollback.
const ConclusionFailure = "failure"

// criticalPathKeywords identify sources on the critical path: a failure
// there means the deployed state itself cannot be trusted.
var criticalPathKeywords = []string{
	"verification",
	"verify",
	"integration",
	"deploy",
}

// qualityKeywords identify scoring and quality sources: a failure there
// degrades confidence but does not prove the deployment is broken.
var qualityKeywords = []string{
	"scoring",
	"score",
	"quality",
	"lint",
	"coverage",
}

func matchesAny(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Classify determines the severity tier and whether a rollback is required.
// Rollback is required whenever the conclusion is "failure", regardless of
// severity; severity only decides whether execution needs approval.
func Classify(sig Signal) (Severity, bool) {
	if sig.Conclusion != ConclusionFailure {
		return Low, false
	}

	switch {
	case matchesAny(sig.SourceName, criticalPathKeywords):
		return High, true
	case matchesAny(sig.SourceName, qualityKeywords):
		return Medium, true
	default:
		return Low, true
	}
}
