package pca

import (
	"path/filepath"
	"testing"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/linalg"
	"github.com/stretchr/testify/require"
)

func identityArtifact() *Artifact {
	var a Artifact
	a.Meta.Version = ArtifactVersion
	a.Meta.Features = []string{"cpu_usage", "memory_usage", "disk_utilization", "network_rx_rate", "network_tx_rate"}
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
	return &a
}

func TestWriteAtomicThenLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")

	a := identityArtifact()
	require.NoError(t, WriteAtomic(path, a))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	require.Equal(t, a.Meta.Version, loaded.Meta.Version)
	require.Equal(t, a.Model.NComponents, loaded.Model.NComponents)
}

func TestLoadArtifact_RejectsWrongVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	a := identityArtifact()
	a.Meta.Version = "v2"
	require.NoError(t, WriteAtomic(path, a))

	_, err := LoadArtifact(path)
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.KindArtifactLoadFailed))
}

func TestLoadArtifact_MissingFile(t *testing.T) {
	_, err := LoadArtifact("/nonexistent/path/model.json")
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.KindArtifactLoadFailed))
}

func TestModel_Score_FullRankIsExactReconstruction(t *testing.T) {
	m := NewModel(identityArtifact())
	x := linalg.Vector{1, 2, 3, 4, 5}
	score, err := m.Score(x)
	require.NoError(t, err)
	require.InDelta(t, 0.0, score.ReconstructionError, 1e-9)
	require.False(t, score.IsAnomaly)
}

func TestModel_Score_DimensionMismatch(t *testing.T) {
	m := NewModel(identityArtifact())
	_, err := m.Score(linalg.Vector{1, 2, 3})
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.KindDimensionMismatch))
}

func TestModel_Score_AboveThresholdIsAnomaly(t *testing.T) {
	a := identityArtifact()
	a.Model.NComponents = 1
	a.Model.Components = [][]float64{{1, 0, 0, 0, 0}}
	a.Thresholds.ReconstructionError = 0.5
	m := NewModel(a)

	x := linalg.Vector{0, 0, 0, 0, 5}
	score, err := m.Score(x)
	require.NoError(t, err)
	require.True(t, score.IsAnomaly)
	require.Greater(t, score.ReconstructionError, 0.5)
}

func TestEstimateMemoryUsage(t *testing.T) {
	a := identityArtifact()
	size := a.EstimateMemoryUsage()
	require.Greater(t, size, int64(0))
}
