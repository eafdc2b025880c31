package policy

import (
	"testing"

	"github.com/lyndonlyu/ripcord/internal/classify"
	"github.com/lyndonlyu/ripcord/internal/session"
	"github.com/stretchr/testify/assert"
)

func TestAutoExecuteBySeverityTier(t *testing.T) {
	p := New([]string{"HIGH", "CRITICAL"})

	assert.True(t, p.AutoExecute(session.TriggerAutomated, classify.High, false))
	assert.True(t, p.AutoExecute(session.TriggerAutomated, classify.Critical, false))
	assert.False(t, p.AutoExecute(session.TriggerAutomated, classify.Medium, false))
	assert.False(t, p.AutoExecute(session.TriggerAutomated, classify.Low, false))
}

func TestManualAlwaysExecutes(t *testing.T) {
	p := New(nil)
	assert.True(t, p.AutoExecute(session.TriggerManual, classify.Low, false))
	assert.True(t, p.AutoExecute(session.TriggerEmergency, classify.Low, false))
}

func TestEmergencyFlagOverridesEverything(t *testing.T) {
	p := New(nil)
	assert.True(t, p.AutoExecute(session.TriggerAutomated, classify.Low, true))
}

func TestTierNamesAreNormalized(t *testing.T) {
	p := New([]string{" high ", "critical"})
	assert.True(t, p.AutoExecute(session.TriggerAutomated, classify.High, false))
	assert.True(t, p.AutoExecute(session.TriggerAutomated, classify.Critical, false))
}
