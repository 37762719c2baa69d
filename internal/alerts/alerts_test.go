package alerts

import (
	"testing"
	"time"

	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_NoFlagsResetsAndEmitsNothing(t *testing.T) {
	m := NewManager(2, 10*time.Second)
	alert := m.Evaluate("host-1", "run-1", time.Now(), DetectorInput{}, DetectorInput{})
	require.Nil(t, alert)
}

// Scenario A: threshold=2, cooldown=10s, continuous A-only anomalies.
// consecutiveAnomalies resets to 0 on every emission, so a second alert
// requires both a fresh pair of confirmations AND the cooldown to have
// elapsed since the first alert.
func TestEvaluate_ScenarioA_HysteresisAndSeverity(t *testing.T) {
	m := NewManager(2, 10*time.Second)
	base := time.Now()
	a := DetectorInput{Flag: true, Score: 5.0}

	alert := m.Evaluate("host-1", "run-1", base, a, DetectorInput{})
	require.Nil(t, alert) // first confirmation, below hysteresis threshold

	alert = m.Evaluate("host-1", "run-1", base.Add(1*time.Second), a, DetectorInput{})
	require.NotNil(t, alert) // second confirmation, no prior alert to cool down from
	require.Equal(t, models.SeverityMedium, alert.Severity)
	require.Equal(t, models.SourceDetectorAStats, alert.Source)

	alert = m.Evaluate("host-1", "run-1", base.Add(2*time.Second), a, DetectorInput{})
	require.Nil(t, alert) // consecutive count reset by the emission above; first confirmation of the next cycle

	alert = m.Evaluate("host-1", "run-1", base.Add(13*time.Second), a, DetectorInput{})
	require.NotNil(t, alert) // second confirmation of the next cycle, 12s after the first alert clears the 10s cooldown
}

// Scenario B: inputs at t0, t0+1s with both flags true, A=4.0, B=0.5. Expect
// one emission at t0+1s: CRITICAL, FUSION_A_B, score 4.0.
func TestEvaluate_ScenarioB_FusionSeverity(t *testing.T) {
	m := NewManager(2, 10*time.Second)
	base := time.Now()
	a := DetectorInput{Flag: true, Score: 4.0}
	b := DetectorInput{Flag: true, Score: 0.5}

	alert := m.Evaluate("host-1", "run-1", base, a, b)
	require.Nil(t, alert)

	alert = m.Evaluate("host-1", "run-1", base.Add(1*time.Second), a, b)
	require.NotNil(t, alert)
	require.Equal(t, models.SeverityCritical, alert.Severity)
	require.Equal(t, models.SourceFusionAB, alert.Source)
	require.Equal(t, 4.0, alert.Score)
}

func TestEvaluate_BOnlyIsHighSeverity(t *testing.T) {
	m := NewManager(1, time.Second)
	base := time.Now()
	alert := m.Evaluate("host-1", "run-1", base, DetectorInput{}, DetectorInput{Flag: true, Score: 2.0})
	require.NotNil(t, alert)
	require.Equal(t, models.SeverityHigh, alert.Severity)
	require.Equal(t, models.SourceDetectorBPCA, alert.Source)
}

func TestEvaluate_AOnlyHighWhenScoreAbove10(t *testing.T) {
	m := NewManager(1, time.Second)
	base := time.Now()
	alert := m.Evaluate("host-1", "run-1", base, DetectorInput{Flag: true, Score: 15.0}, DetectorInput{})
	require.NotNil(t, alert)
	require.Equal(t, models.SeverityHigh, alert.Severity)
}

func TestEvaluate_AOnlyMediumWhenScoreAt10OrBelow(t *testing.T) {
	m := NewManager(1, time.Second)
	base := time.Now()
	alert := m.Evaluate("host-1", "run-1", base, DetectorInput{Flag: true, Score: 10.0}, DetectorInput{})
	require.NotNil(t, alert)
	require.Equal(t, models.SeverityMedium, alert.Severity)
}

func TestEvaluate_NoAlertWithinCooldownEvenUnderContinuousAnomaly(t *testing.T) {
	m := NewManager(1, 5*time.Second)
	base := time.Now()
	a := DetectorInput{Flag: true, Score: 20.0}

	first := m.Evaluate("host-1", "run-1", base, a, DetectorInput{})
	require.NotNil(t, first)

	for i := 1; i <= 10; i++ {
		alert := m.Evaluate("host-1", "run-1", base.Add(time.Duration(i)*time.Millisecond*100), a, DetectorInput{})
		require.Nil(t, alert)
	}
}

func TestEvaluate_PerHostStateIsIndependent(t *testing.T) {
	m := NewManager(1, time.Second)
	base := time.Now()

	alert1 := m.Evaluate("host-1", "run-1", base, DetectorInput{Flag: true, Score: 1.0}, DetectorInput{})
	alert2 := m.Evaluate("host-2", "run-1", base, DetectorInput{Flag: true, Score: 1.0}, DetectorInput{})

	require.NotNil(t, alert1)
	require.NotNil(t, alert2)
}
