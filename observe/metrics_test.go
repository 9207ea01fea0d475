package observe

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepExecutedCountsByOutcome(t *testing.T) {
	m := NewMetrics()

	m.StepExecuted(true, 250*time.Millisecond)
	m.StepExecuted(true, time.Second)
	m.StepExecuted(false, 100*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stepsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepsTotal.WithLabelValues("failure")))
}

func TestAdmissionDecisionLabels(t *testing.T) {
	m := NewMetrics()

	m.AdmissionDecision(true, false)
	m.AdmissionDecision(true, true)
	m.AdmissionDecision(false, false)
	m.AdmissionDecision(false, true) // deny wins over warn

	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("warn")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues("deny")))
}

func TestSpendRecordedIgnoresNonPositive(t *testing.T) {
	m := NewMetrics()

	m.SpendRecorded(0.05)
	m.SpendRecorded(0)
	m.SpendRecorded(-1)

	assert.InDelta(t, 0.05, testutil.ToFloat64(m.spendUSD), 1e-9)
}

func TestModelSelected(t *testing.T) {
	m := NewMetrics()

	m.ModelSelected("claude-sonnet")
	m.ModelSelected("claude-sonnet")
	m.ModelSelected("gpt-4o-mini")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.modelSelected.WithLabelValues("claude-sonnet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelSelected.WithLabelValues("gpt-4o-mini")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m.Handler())
	require.NotNil(t, m.Registry())
}
