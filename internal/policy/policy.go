// Package policy decides whether a session may execute without an
// operator approval. Manual requests and emergencies always execute;
// automated sessions execute only when their severity tier is listed in
// the configured auto-execute set, otherwise they wait at the approval
// gate.
package policy

import (
	"strings"

	"github.com/lyndonlyu/ripcord/internal/classify"
	"github.com/lyndonlyu/ripcord/internal/session"
)

type Approval struct {
	autoExecute map[string]bool
}

// New builds an approval policy from a list of severity tier names.
func New(autoLevels []string) *Approval {
	m := make(map[string]bool, len(autoLevels))
	for _, l := range autoLevels {
		m[strings.ToUpper(strings.TrimSpace(l))] = true
	}
	return &Approval{autoExecute: m}
}

// AutoExecute reports whether the session runs without approval.
func (a *Approval) AutoExecute(trigger session.Trigger, sev classify.Severity, emergency bool) bool {
	if emergency {
		return true
	}
	if trigger == session.TriggerManual || trigger == session.TriggerEmergency {
		return true
	}
	return a.autoExecute[sev.String()]
}
