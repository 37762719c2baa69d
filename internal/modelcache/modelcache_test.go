package modelcache

import (
	"testing"
	"time"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/pca"
	"github.com/stretchr/testify/require"
)

func fakeModel(bytes int64) *pca.Model {
	a := &pca.Artifact{}
	a.Meta.Version = pca.ArtifactVersion
	a.Preprocessing.Mean = []float64{0}
	a.Preprocessing.Scale = []float64{1}
	a.Model.NComponents = 1
	a.Model.Components = [][]float64{{1}}
	a.Model.Mean = []float64{0}
	a.Model.ExplainedVariance = make([]float64, bytes/8)
	return pca.NewModel(a)
}

func countingLoader(sizes map[string]int64, loadCount *int) Loader {
	return func(artifactPath string) (*pca.Model, error) {
		*loadCount++
		return fakeModel(sizes[artifactPath]), nil
	}
}

func TestGetOrCreate_MissThenHit(t *testing.T) {
	loads := 0
	c, err := New(Options{MaxEntries: 10, MaxBytes: 1 << 30, TTL: time.Hour, Loader: countingLoader(map[string]int64{"a.json": 80}, &loads)})
	require.NoError(t, err)

	_, err = c.GetOrCreate("m1", "a.json")
	require.NoError(t, err)
	_, err = c.GetOrCreate("m1", "a.json")
	require.NoError(t, err)

	require.Equal(t, 1, loads)
	stats := c.GetStats()
	require.EqualValues(t, 1, stats.Hits)
	require.EqualValues(t, 1, stats.Misses)
}

func TestGetOrCreate_TTLExpiryReloads(t *testing.T) {
	loads := 0
	now := time.Now()
	c, err := New(Options{
		MaxEntries: 10, MaxBytes: 1 << 30, TTL: time.Second,
		Loader: countingLoader(map[string]int64{"a.json": 80}, &loads),
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)

	_, err = c.GetOrCreate("m1", "a.json")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = c.GetOrCreate("m1", "a.json")
	require.NoError(t, err)

	require.Equal(t, 2, loads)
}

func TestGetOrCreate_ArtifactPathMismatchReloads(t *testing.T) {
	loads := 0
	c, err := New(Options{MaxEntries: 10, MaxBytes: 1 << 30, TTL: time.Hour, Loader: countingLoader(map[string]int64{"a.json": 80, "b.json": 80}, &loads)})
	require.NoError(t, err)

	_, err = c.GetOrCreate("m1", "a.json")
	require.NoError(t, err)
	_, err = c.GetOrCreate("m1", "b.json")
	require.NoError(t, err)

	require.Equal(t, 2, loads)
}

func TestGetOrCreate_EvictsLRUOnMaxEntries(t *testing.T) {
	loads := 0
	c, err := New(Options{MaxEntries: 2, MaxBytes: 1 << 30, TTL: time.Hour, Loader: countingLoader(map[string]int64{
		"a.json": 80, "b.json": 80, "c.json": 80,
	}, &loads)})
	require.NoError(t, err)

	_, err = c.GetOrCreate("m1", "a.json")
	require.NoError(t, err)
	_, err = c.GetOrCreate("m2", "b.json")
	require.NoError(t, err)
	_, err = c.GetOrCreate("m3", "c.json")
	require.NoError(t, err)

	stats := c.GetStats()
	require.LessOrEqual(t, stats.Size, 2)
	require.EqualValues(t, 1, stats.Evictions)
}

func TestGetOrCreate_EvictsByBytesBudget(t *testing.T) {
	loads := 0
	c, err := New(Options{MaxEntries: 100, MaxBytes: 150, Loader: countingLoader(map[string]int64{
		"a.json": 80, "b.json": 80,
	}, &loads)})
	require.NoError(t, err)

	_, err = c.GetOrCreate("m1", "a.json")
	require.NoError(t, err)
	_, err = c.GetOrCreate("m2", "b.json")
	require.NoError(t, err)

	stats := c.GetStats()
	require.LessOrEqual(t, stats.BytesUsed, int64(150))
	require.GreaterOrEqual(t, stats.Evictions, int64(1))
}

func TestGetOrCreate_OversizedModelReturnedUncached(t *testing.T) {
	loads := 0
	c, err := New(Options{MaxEntries: 100, MaxBytes: 50, Loader: countingLoader(map[string]int64{"a.json": 800}, &loads)})
	require.NoError(t, err)

	m, err := c.GetOrCreate("m1", "a.json")
	require.NoError(t, err)
	require.NotNil(t, m)

	stats := c.GetStats()
	require.Equal(t, 0, stats.Size)
}

func TestGetOrCreate_LoadFailureWrapped(t *testing.T) {
	c, err := New(Options{MaxEntries: 10, MaxBytes: 1 << 30, Loader: func(string) (*pca.Model, error) {
		return nil, apierr.New(apierr.KindArtifactLoadFailed, "boom")
	}})
	require.NoError(t, err)

	_, err = c.GetOrCreate("m1", "a.json")
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.KindArtifactLoadFailed))
}

func TestInvalidateAndClear(t *testing.T) {
	loads := 0
	c, err := New(Options{MaxEntries: 10, MaxBytes: 1 << 30, Loader: countingLoader(map[string]int64{"a.json": 80}, &loads)})
	require.NoError(t, err)

	_, err = c.GetOrCreate("m1", "a.json")
	require.NoError(t, err)
	c.Invalidate("m1")
	require.Equal(t, 0, c.GetStats().Size)

	_, err = c.GetOrCreate("m1", "a.json")
	require.NoError(t, err)
	c.Clear()
	require.Equal(t, 0, c.GetStats().Size)
	require.EqualValues(t, 0, c.GetStats().BytesUsed)
}
