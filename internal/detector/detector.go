// Package detector implements the streaming robust-statistics anomaly
// detector ("detector A"): a per-feature ring buffer tracking a
// periodically-recomputed median/MAD baseline, with poison mitigation that
// protects the baseline from being dragged toward long anomalous runs.
package detector

import (
	"math"
	"sort"
)

// WindowConfig bounds one feature's ring buffer and recompute cadence.
type WindowConfig struct {
	Size              int
	MinHistory        int
	RecomputeInterval int
}

// OutlierConfig tunes poison mitigation and the alerting threshold.
type OutlierConfig struct {
	EnablePoisonMitigation bool
	PoisonSkipThreshold    float64
	RobustZThreshold       float64
}

// featureState is one feature channel's ring buffer and cached baseline.
type featureState struct {
	buffer []float64
	median float64
	mad    float64
}

func (s *featureState) warm(minHistory int) bool {
	return len(s.buffer) >= minHistory
}

// recompute recalculates median and MAD (floored to 1e-6) over the current
// buffer contents.
func (s *featureState) recompute() {
	if len(s.buffer) == 0 {
		return
	}
	data := append([]float64(nil), s.buffer...)
	sort.Float64s(data)
	mid := len(data) / 2
	s.median = data[mid]

	absDiffs := make([]float64, len(data))
	for i, v := range data {
		absDiffs[i] = math.Abs(v - s.median)
	}
	sort.Float64s(absDiffs)
	s.mad = absDiffs[mid]
	if s.mad == 0 {
		s.mad = 1e-6
	}
}

func (s *featureState) push(val float64, windowSize int) {
	s.buffer = append(s.buffer, val)
	if len(s.buffer) > windowSize {
		s.buffer = s.buffer[1:]
	}
}

// FeatureDetail reports one feature's per-update outcome.
type FeatureDetail struct {
	Feature string
	RobustZ float64
	Flagged bool
	Skipped bool
}

// Score is the aggregate per-vector detector A output.
type Score struct {
	IsAnomaly bool
	MaxZScore float64
	Details   []FeatureDetail
}

// Detector tracks one independent featureState per feature channel.
type Detector struct {
	window  WindowConfig
	outlier OutlierConfig

	states      []featureState
	features    []string
	updateCount int
}

// New builds a Detector over the named feature channels.
func New(features []string, window WindowConfig, outlier OutlierConfig) *Detector {
	return &Detector{
		window:   window,
		outlier:  outlier,
		states:   make([]featureState, len(features)),
		features: append([]string(nil), features...),
	}
}

// Update scores one feature vector against each channel's rolling baseline,
// recomputing the baseline every RecomputeInterval updates once warmed, and
// withholding poisoning inputs from the buffer when poison mitigation is
// enabled and the new value scores far past the baseline.
func (d *Detector) Update(vec []float64) Score {
	needsRecompute := d.updateCount%d.window.RecomputeInterval == 0
	var out Score
	out.Details = make([]FeatureDetail, 0, len(vec))

	for i, val := range vec {
		state := &d.states[i]
		warm := state.warm(d.window.MinHistory)

		if needsRecompute && warm {
			state.recompute()
		}

		robustZ := 0.0
		if warm {
			mad := state.mad
			if mad <= 0 {
				mad = 1e-6
			}
			robustZ = math.Abs(val-state.median) / mad
		}

		skip := false
		if d.outlier.EnablePoisonMitigation && warm && robustZ > d.outlier.PoisonSkipThreshold {
			skip = true
		}

		if !skip {
			state.push(val, d.window.Size)
		}

		if warm && robustZ > d.outlier.RobustZThreshold {
			out.IsAnomaly = true
			if robustZ > out.MaxZScore {
				out.MaxZScore = robustZ
			}
			out.Details = append(out.Details, FeatureDetail{
				Feature: d.featureName(i),
				RobustZ: robustZ,
				Flagged: true,
				Skipped: skip,
			})
		}
	}

	d.updateCount++
	return out
}

func (d *Detector) featureName(i int) string {
	if i < len(d.features) {
		return d.features[i]
	}
	return ""
}
