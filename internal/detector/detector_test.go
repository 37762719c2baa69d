package detector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig() (WindowConfig, OutlierConfig) {
	return WindowConfig{Size: 20, MinHistory: 10, RecomputeInterval: 5},
		OutlierConfig{EnablePoisonMitigation: true, PoisonSkipThreshold: 8.0, RobustZThreshold: 3.0}
}

func TestUpdate_NotWarmNeverFlags(t *testing.T) {
	win, outlier := testConfig()
	d := New([]string{"cpu"}, win, outlier)

	for i := 0; i < 5; i++ {
		score := d.Update([]float64{float64(i)})
		require.False(t, score.IsAnomaly)
	}
}

func TestUpdate_FlagsOnceWarmedAndOutOfBand(t *testing.T) {
	win, outlier := testConfig()
	d := New([]string{"cpu"}, win, outlier)

	for i := 0; i < 12; i++ {
		d.Update([]float64{50.0})
	}

	score := d.Update([]float64{1000.0})
	require.True(t, score.IsAnomaly)
	require.Greater(t, score.MaxZScore, outlier.RobustZThreshold)
}

func TestUpdate_PoisonMitigationSkipsBufferPushButStillFlags(t *testing.T) {
	win, outlier := testConfig()
	win.RecomputeInterval = 1
	d := New([]string{"cpu"}, win, outlier)

	for i := 0; i < 12; i++ {
		d.Update([]float64{50.0})
	}

	// A single extreme spike should be flagged but not admitted to the
	// buffer, so the baseline stays anchored at 50 for the next update.
	score := d.Update([]float64{100000.0})
	require.True(t, score.IsAnomaly)
	require.True(t, score.Details[0].Skipped)

	score2 := d.Update([]float64{50.0})
	require.False(t, score2.IsAnomaly)
}

func TestUpdate_AggregateIsMaxAcrossFeatures(t *testing.T) {
	win, outlier := testConfig()
	d := New([]string{"cpu", "mem"}, win, outlier)

	for i := 0; i < 12; i++ {
		d.Update([]float64{50.0, 50.0})
	}

	score := d.Update([]float64{1000.0, 60.0})
	require.True(t, score.IsAnomaly)
	require.Len(t, score.Details, 2)
	require.Equal(t, "cpu", score.Details[0].Feature)
	require.Equal(t, score.Details[0].RobustZ, score.MaxZScore)
}

func TestUpdate_MADFlooredToAvoidDivideByZero(t *testing.T) {
	win, outlier := testConfig()
	win.RecomputeInterval = 1
	d := New([]string{"cpu"}, win, outlier)

	for i := 0; i < 15; i++ {
		d.Update([]float64{42.0})
	}

	// All-identical history makes MAD 0 before flooring; a small deviation
	// must not divide by zero / explode to +Inf.
	score := d.Update([]float64{42.5})
	require.False(t, mathIsInf(score.MaxZScore))
}

func mathIsInf(f float64) bool {
	return f > 1e300 || f < -1e300
}
