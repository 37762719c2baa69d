// Package hpo validates and enumerates hyper-parameter sweeps over the PCA
// trainer's axes (n_components, percentile), producing deterministic trial
// grids and a stable fingerprint per candidate configuration.
package hpo

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/models"
)

// GridCap is the maximum number of grid combinations a sweep may enumerate.
const GridCap = 100

// CapReason explains why a trial grid was truncated.
type CapReason string

const (
	CapReasonNone      CapReason = ""
	CapReasonMaxTrials CapReason = "MAX_TRIALS"
	CapReasonGridCap   CapReason = "GRID_CAP"
)

// Plan is the enumerated, possibly truncated, set of trial candidates.
type Plan struct {
	Trials    []models.TrainingConfig
	CapReason CapReason
}

// Validate checks an HPOConfig against the sweep's structural constraints,
// failing with INVALID_ARGUMENT on the first violation.
func Validate(cfg models.HPOConfig) error {
	switch cfg.Algorithm {
	case models.HPOAlgorithmGrid, models.HPOAlgorithmRandom:
	default:
		return apierr.New(apierr.KindInvalidArgument, "unrecognized hpo algorithm %q", cfg.Algorithm)
	}
	if len(cfg.SearchSpace.NComponents) == 0 || len(cfg.SearchSpace.Percentile) == 0 {
		return apierr.New(apierr.KindInvalidArgument, "search_space must have at least one value per axis")
	}
	for _, n := range cfg.SearchSpace.NComponents {
		if n < 1 || n > 5 {
			return apierr.New(apierr.KindInvalidArgument, "n_components %d outside [1,5]", n)
		}
	}
	for _, p := range cfg.SearchSpace.Percentile {
		if p <= 0 || p >= 100 {
			return apierr.New(apierr.KindInvalidArgument, "percentile %g outside (0,100)", p)
		}
	}
	if cfg.MaxTrials < 1 {
		return apierr.New(apierr.KindInvalidArgument, "max_trials must be >= 1")
	}
	if cfg.MaxConcurrency < 1 || cfg.MaxConcurrency > 10 {
		return apierr.New(apierr.KindInvalidArgument, "max_concurrency must be in [1,10]")
	}
	return nil
}

func sortedAxes(cfg models.HPOConfig) (nComponents []int, percentile []float64) {
	nComponents = append([]int(nil), cfg.SearchSpace.NComponents...)
	percentile = append([]float64(nil), cfg.SearchSpace.Percentile...)
	sort.Ints(nComponents)
	sort.Float64s(percentile)
	return
}

// Enumerate validates cfg and produces its trial plan: cartesian product
// (truncated to max_trials or the 100-combination grid cap) for "grid", or
// max_trials independent seeded samples for "random".
func Enumerate(cfg models.HPOConfig) (*Plan, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	nAxis, pAxis := sortedAxes(cfg)

	switch cfg.Algorithm {
	case models.HPOAlgorithmGrid:
		return enumerateGrid(nAxis, pAxis, cfg.MaxTrials), nil
	case models.HPOAlgorithmRandom:
		return enumerateRandom(nAxis, pAxis, cfg.MaxTrials, cfg.Seed), nil
	default:
		return nil, apierr.New(apierr.KindInvalidArgument, "unrecognized hpo algorithm %q", cfg.Algorithm)
	}
}

func enumerateGrid(nAxis []int, pAxis []float64, maxTrials int) *Plan {
	total := len(nAxis) * len(pAxis)
	limit := total
	reason := CapReasonNone
	if limit > GridCap {
		limit = GridCap
		reason = CapReasonGridCap
	}
	if maxTrials < limit {
		limit = maxTrials
		reason = CapReasonMaxTrials
	}

	trials := make([]models.TrainingConfig, 0, limit)
outer:
	for _, n := range nAxis {
		for _, p := range pAxis {
			if len(trials) >= limit {
				break outer
			}
			trials = append(trials, models.TrainingConfig{NComponents: n, Percentile: p})
		}
	}
	return &Plan{Trials: trials, CapReason: reason}
}

func enumerateRandom(nAxis []int, pAxis []float64, maxTrials int, seed *int64) *Plan {
	var s int64
	if seed != nil {
		s = *seed
	}
	rng := rand.New(rand.NewSource(s))

	trials := make([]models.TrainingConfig, 0, maxTrials)
	for i := 0; i < maxTrials; i++ {
		n := nAxis[rng.Intn(len(nAxis))]
		p := pAxis[rng.Intn(len(pAxis))]
		trials = append(trials, models.TrainingConfig{NComponents: n, Percentile: p})
	}
	return &Plan{Trials: trials, CapReason: CapReasonNone}
}

// CandidateFingerprint returns a stable hash of cfg's canonicalized
// (sorted) configuration, identical across permutations of axis values and
// changed by any other field.
func CandidateFingerprint(cfg models.HPOConfig) string {
	nAxis, pAxis := sortedAxes(cfg)

	var seed int64
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}

	buf := fmt.Sprintf("algorithm=%s;max_trials=%d;max_concurrency=%d;seed=%d;n_components=%v;percentile=%v",
		cfg.Algorithm, cfg.MaxTrials, cfg.MaxConcurrency, seed, nAxis, pAxis)

	h := xxhash.Sum64String(buf)
	return fmt.Sprintf("%016x", h)
}
