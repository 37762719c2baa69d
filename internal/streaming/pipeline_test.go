package streaming

import (
	"testing"
	"time"

	"github.com/kubilitics/anomaly-platform/internal/alerts"
	"github.com/kubilitics/anomaly-platform/internal/detector"
	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/kubilitics/anomaly-platform/internal/pca"
	"github.com/stretchr/testify/require"
)

// identityModel builds a 5-component identity PCA artifact: reconstruction
// is exact for any input, so Score.IsAnomaly is always false. Tests use it
// to isolate detector A's contribution to the fused result.
func identityModel() *pca.Model {
	var a pca.Artifact
	a.Meta.Version = pca.ArtifactVersion
	a.Meta.Features = models.Features[:]
	a.Preprocessing.Mean = []float64{0, 0, 0, 0, 0}
	a.Preprocessing.Scale = []float64{1, 1, 1, 1, 1}
	a.Model.NComponents = 5
	a.Model.Mean = []float64{0, 0, 0, 0, 0}
	a.Model.ExplainedVariance = []float64{1, 1, 1, 1, 1}
	a.Model.Components = make([][]float64, 5)
	for i := 0; i < 5; i++ {
		row := make([]float64, 5)
		row[i] = 1.0
		a.Model.Components[i] = row
	}
	a.Thresholds.ReconstructionError = 1e-6
	return pca.NewModel(&a)
}

func newTestPipeline() *Pipeline {
	return New(func() *detector.Detector {
		return detector.New(models.Features[:], detector.WindowConfig{
			Size:              20,
			MinHistory:        5,
			RecomputeInterval: 1,
		}, detector.OutlierConfig{
			EnablePoisonMitigation: false,
			RobustZThreshold:       3.0,
		})
	}, alerts.NewManager(1, time.Second))
}

func TestProcess_DetectorANeedsHistoryBeforeFlagging(t *testing.T) {
	p := newTestPipeline()
	model := identityModel()
	baseline := []float64{10, 10, 10, 10, 10}
	base := time.Now()

	for i := 0; i < 5; i++ {
		result, err := p.Process("host-1", "run-1", base.Add(time.Duration(i)*time.Second), baseline, model)
		require.NoError(t, err)
		require.Nil(t, result.Alert)
	}

	spike := []float64{90, 10, 10, 10, 10}
	result, err := p.Process("host-1", "run-1", base.Add(6*time.Second), spike, model)
	require.NoError(t, err)
	require.NotNil(t, result.Alert)
	require.Equal(t, models.SourceDetectorAStats, result.Alert.Source)
	require.False(t, result.PCA.IsAnomaly)
	require.True(t, result.Stats.IsAnomaly)
}

func TestProcess_PerHostDetectorStateIsIndependent(t *testing.T) {
	p := newTestPipeline()
	model := identityModel()
	base := time.Now()

	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		_, err := p.Process("host-1", "run-1", ts, []float64{10, 10, 10, 10, 10}, model)
		require.NoError(t, err)
	}

	// host-2 has never been seen, so its detector is unwarmed: even a wild
	// first sample must not flag, regardless of host-1's baseline.
	result, err := p.Process("host-2", "run-1", base.Add(6*time.Second), []float64{99, 99, 99, 99, 99}, model)
	require.NoError(t, err)
	require.False(t, result.Stats.IsAnomaly)
	require.Nil(t, result.Alert)
}

func TestProcess_DimensionMismatchPropagatesError(t *testing.T) {
	p := newTestPipeline()
	model := identityModel()
	_, err := p.Process("host-1", "run-1", time.Now(), []float64{1, 2, 3}, model)
	require.Error(t, err)
}
