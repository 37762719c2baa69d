package hpo

import (
	"testing"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/stretchr/testify/require"
)

func baseConfig() models.HPOConfig {
	return models.HPOConfig{
		Algorithm:      models.HPOAlgorithmGrid,
		MaxTrials:      20,
		MaxConcurrency: 4,
		SearchSpace: models.HPOSearchSpace{
			NComponents: []int{2, 3, 5},
			Percentile:  []float64{95, 99, 99.5},
		},
	}
}

func TestValidate_RejectsUnknownAlgorithm(t *testing.T) {
	cfg := baseConfig()
	cfg.Algorithm = "bogus"
	err := Validate(cfg)
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.KindInvalidArgument))
}

func TestValidate_RejectsEmptyAxis(t *testing.T) {
	cfg := baseConfig()
	cfg.SearchSpace.Percentile = nil
	err := Validate(cfg)
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.KindInvalidArgument))
}

func TestValidate_RejectsOutOfRangeNComponents(t *testing.T) {
	cfg := baseConfig()
	cfg.SearchSpace.NComponents = []int{6}
	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsOutOfRangePercentile(t *testing.T) {
	cfg := baseConfig()
	cfg.SearchSpace.Percentile = []float64{100}
	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsMaxConcurrencyOutOfRange(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConcurrency = 11
	require.Error(t, Validate(cfg))
}

func TestEnumerate_GridFullCartesianProduct(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxTrials = 100
	plan, err := Enumerate(cfg)
	require.NoError(t, err)
	require.Len(t, plan.Trials, 9)
	require.Equal(t, CapReasonNone, plan.CapReason)
}

func TestEnumerate_GridCapsAtMaxTrials(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxTrials = 4
	plan, err := Enumerate(cfg)
	require.NoError(t, err)
	require.Len(t, plan.Trials, 4)
	require.Equal(t, CapReasonMaxTrials, plan.CapReason)
}

func TestEnumerate_GridCapsAt100(t *testing.T) {
	cfg := baseConfig()
	cfg.SearchSpace.NComponents = []int{1, 2, 3, 4, 5}
	cfg.SearchSpace.Percentile = make([]float64, 30)
	for i := range cfg.SearchSpace.Percentile {
		cfg.SearchSpace.Percentile[i] = float64(i + 1)
	}
	cfg.MaxTrials = 1000
	plan, err := Enumerate(cfg)
	require.NoError(t, err)
	require.Len(t, plan.Trials, GridCap)
	require.Equal(t, CapReasonGridCap, plan.CapReason)
}

func TestEnumerate_RandomProducesMaxTrialsSamples(t *testing.T) {
	cfg := baseConfig()
	cfg.Algorithm = models.HPOAlgorithmRandom
	cfg.MaxTrials = 7
	seed := int64(42)
	cfg.Seed = &seed

	plan, err := Enumerate(cfg)
	require.NoError(t, err)
	require.Len(t, plan.Trials, 7)
}

func TestEnumerate_RandomDeterministicForSameSeed(t *testing.T) {
	cfg := baseConfig()
	cfg.Algorithm = models.HPOAlgorithmRandom
	cfg.MaxTrials = 10
	seed := int64(7)
	cfg.Seed = &seed

	plan1, err := Enumerate(cfg)
	require.NoError(t, err)
	plan2, err := Enumerate(cfg)
	require.NoError(t, err)
	require.Equal(t, plan1.Trials, plan2.Trials)
}

func TestCandidateFingerprint_InvariantUnderAxisPermutation(t *testing.T) {
	cfg1 := baseConfig()
	cfg2 := baseConfig()
	cfg2.SearchSpace.NComponents = []int{5, 2, 3}
	cfg2.SearchSpace.Percentile = []float64{99.5, 95, 99}

	require.Equal(t, CandidateFingerprint(cfg1), CandidateFingerprint(cfg2))
}

func TestCandidateFingerprint_ChangesWithOtherFields(t *testing.T) {
	cfg1 := baseConfig()
	cfg2 := baseConfig()
	cfg2.MaxTrials = 5

	require.NotEqual(t, CandidateFingerprint(cfg1), CandidateFingerprint(cfg2))
}
