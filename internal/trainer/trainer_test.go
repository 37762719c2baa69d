package trainer

import (
	"context"
	"math"
	"testing"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/linalg"
	"github.com/kubilitics/anomaly-platform/internal/pca"
	"github.com/stretchr/testify/require"
)

func correlatedSamples(n int) []linalg.Vector {
	samples := make([]linalg.Vector, n)
	for i := 0; i < n; i++ {
		base := math.Sin(float64(i) * 0.1)
		samples[i] = linalg.Vector{
			base*10 + 50,
			base*8 + 40,
			base*5 + 30,
			base*3 + 20,
			base*2 + 10,
		}
	}
	return samples
}

func TestTrain_NotEnoughSamples(t *testing.T) {
	p := SliceProducer{Samples: []linalg.Vector{{1, 2, 3, 4, 5}}}
	_, err := Train(context.Background(), p, Options{NComponents: 5, Percentile: 99.5})
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.KindNoData))
}

func TestTrain_InvalidNComponents(t *testing.T) {
	p := SliceProducer{Samples: correlatedSamples(10)}
	_, err := Train(context.Background(), p, Options{NComponents: 0, Percentile: 99.5})
	require.Error(t, err)
}

func TestTrain_FullRankRoundTrip(t *testing.T) {
	// Scenario C: 200 correlated samples, n_components=5 (==d), expect
	// near-zero reconstruction error for every training sample.
	samples := correlatedSamples(200)
	p := SliceProducer{Samples: samples}

	artifact, err := Train(context.Background(), p, Options{NComponents: 5, Percentile: 99.5})
	require.NoError(t, err)
	require.Equal(t, 5, artifact.Model.NComponents)
	require.GreaterOrEqual(t, artifact.Thresholds.ReconstructionError, 0.0)

	model := pca.NewModel(artifact)
	for _, x := range samples {
		score, err := model.Score(x)
		require.NoError(t, err)
		require.Less(t, score.ReconstructionError, 1e-6)
	}
}

func TestTrain_ComponentsAreUnitNormAndSignConvention(t *testing.T) {
	samples := correlatedSamples(200)
	p := SliceProducer{Samples: samples}

	artifact, err := Train(context.Background(), p, Options{NComponents: 3, Percentile: 95})
	require.NoError(t, err)
	require.Equal(t, 3, artifact.Model.NComponents)

	for _, row := range artifact.Model.Components {
		var sumSq float64
		maxAbs := 0.0
		maxIdx := 0
		for i, v := range row {
			sumSq += v * v
			if math.Abs(v) > maxAbs {
				maxAbs = math.Abs(v)
				maxIdx = i
			}
		}
		require.InDelta(t, 1.0, sumSq, 1e-6)
		require.GreaterOrEqual(t, row[maxIdx], 0.0)
	}
}

func TestTrain_ExplainedVarianceDescending(t *testing.T) {
	samples := correlatedSamples(200)
	p := SliceProducer{Samples: samples}

	artifact, err := Train(context.Background(), p, Options{NComponents: 5, Percentile: 99})
	require.NoError(t, err)
	for i := 1; i < len(artifact.Model.ExplainedVariance); i++ {
		require.GreaterOrEqual(t, artifact.Model.ExplainedVariance[i-1], artifact.Model.ExplainedVariance[i])
	}
}

func TestTrain_CapsComponentsAtDimension(t *testing.T) {
	samples := correlatedSamples(50)
	p := SliceProducer{Samples: samples}

	artifact, err := Train(context.Background(), p, Options{NComponents: 100, Percentile: 90})
	require.NoError(t, err)
	require.Equal(t, Dim, artifact.Model.NComponents)
}

func TestTrain_HonoursCancellation(t *testing.T) {
	samples := correlatedSamples(50)
	p := SliceProducer{Samples: samples}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Train(ctx, p, Options{NComponents: 5, Percentile: 99})
	require.Error(t, err)
}

func TestPercentileValue_NearestRank(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	require.Equal(t, 10.0, percentileValue(values, 100))
	require.Equal(t, 1.0, percentileValue(values, 1))
	require.Equal(t, 5.0, percentileValue(values, 50))
}

func TestEnforceComponentSign(t *testing.T) {
	v := linalg.Vector{0.1, -0.9, 0.2}
	enforceComponentSign(v)
	require.Greater(t, v[1], 0.0)
}
