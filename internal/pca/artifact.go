// Package pca loads frozen PCA artifacts and scores feature vectors against
// them: standardize, center, project, reconstruct, and threshold the
// residual norm. Training lives in internal/trainer; this package only
// consumes the artifact it produces.
package pca

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/linalg"
)

// ArtifactVersion is the only schema version this package accepts. Readers
// refuse any other value.
const ArtifactVersion = "v1"

// Artifact is the on-disk JSON representation of a trained PCA model.
type Artifact struct {
	Meta struct {
		Version  string   `json:"version"`
		Features []string `json:"features"`
	} `json:"meta"`
	Preprocessing struct {
		Mean  []float64 `json:"mean"`
		Scale []float64 `json:"scale"`
	} `json:"preprocessing"`
	Model struct {
		Components        [][]float64 `json:"components"`
		Mean              []float64   `json:"mean"`
		ExplainedVariance []float64   `json:"explained_variance"`
		NComponents       int         `json:"n_components"`
	} `json:"model"`
	Thresholds struct {
		ReconstructionError float64 `json:"reconstruction_error"`
	} `json:"thresholds"`
}

// WriteAtomic serializes a to a temp file in the same directory as path and
// renames it into place, so readers only ever observe a complete file.
func WriteAtomic(path string, a *Artifact) error {
	buf, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return apierr.Wrap(apierr.KindArtifactWriteFailed, err, "marshal artifact")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return apierr.Wrap(apierr.KindArtifactWriteFailed, err, "create temp artifact file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return apierr.Wrap(apierr.KindArtifactWriteFailed, err, "write temp artifact file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apierr.Wrap(apierr.KindArtifactWriteFailed, err, "sync temp artifact file")
	}
	if err := tmp.Close(); err != nil {
		return apierr.Wrap(apierr.KindArtifactWriteFailed, err, "close temp artifact file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apierr.Wrap(apierr.KindArtifactWriteFailed, err, "rename artifact into place")
	}
	return nil
}

// LoadArtifact reads and validates the artifact at path.
func LoadArtifact(path string) (*Artifact, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindArtifactLoadFailed, err, "read artifact %s", path)
	}
	var a Artifact
	if err := json.Unmarshal(buf, &a); err != nil {
		return nil, apierr.Wrap(apierr.KindArtifactLoadFailed, err, "parse artifact %s", path)
	}
	if a.Meta.Version != ArtifactVersion {
		return nil, apierr.New(apierr.KindArtifactLoadFailed, "artifact %s: unsupported schema version %q", path, a.Meta.Version)
	}
	d := len(a.Preprocessing.Mean)
	if d == 0 || len(a.Preprocessing.Scale) != d {
		return nil, apierr.New(apierr.KindArtifactLoadFailed, "artifact %s: preprocessing dimension mismatch", path)
	}
	if a.Model.NComponents == 0 || len(a.Model.Components) != a.Model.NComponents {
		return nil, apierr.New(apierr.KindArtifactLoadFailed, "artifact %s: missing or inconsistent components", path)
	}
	for _, row := range a.Model.Components {
		if len(row) != d {
			return nil, apierr.New(apierr.KindArtifactLoadFailed, "artifact %s: component row dimension mismatch", path)
		}
	}
	if len(a.Model.Mean) != d {
		return nil, apierr.New(apierr.KindArtifactLoadFailed, "artifact %s: model mean dimension mismatch", path)
	}
	return &a, nil
}

// EstimateMemoryUsage sums the byte sizes of every array the artifact holds,
// for the model cache's byte-accounting.
func (a *Artifact) EstimateMemoryUsage() int64 {
	const f64 = 8
	n := len(a.Preprocessing.Mean) + len(a.Preprocessing.Scale) + len(a.Model.Mean) + len(a.Model.ExplainedVariance)
	for _, row := range a.Model.Components {
		n += len(row)
	}
	return int64(n * f64)
}

func (a *Artifact) String() string {
	return fmt.Sprintf("pca.Artifact{d=%d k=%d threshold=%g}", len(a.Preprocessing.Mean), a.Model.NComponents, a.Thresholds.ReconstructionError)
}

// Model wraps a loaded Artifact with matrix views ready for scoring.
type Model struct {
	Artifact   *Artifact
	components *linalg.Matrix // k x d
}

// NewModel constructs a Model from an already-loaded Artifact.
func NewModel(a *Artifact) *Model {
	k := a.Model.NComponents
	d := len(a.Preprocessing.Mean)
	comp := linalg.NewMatrix(k, d)
	for i := 0; i < k; i++ {
		for j := 0; j < d; j++ {
			comp.Set(i, j, a.Model.Components[i][j])
		}
	}
	return &Model{Artifact: a, components: comp}
}

// Load reads and validates the artifact at path, returning a ready Model.
func Load(path string) (*Model, error) {
	a, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	return NewModel(a), nil
}

// Score reports the reconstruction error and anomaly verdict for x, which
// must have the same dimensionality as the artifact's feature set.
type Score struct {
	ReconstructionError float64
	IsAnomaly           bool
	Residuals           linalg.Vector
}

// Score standardizes, centers, projects, and reconstructs x, returning the
// residual L2 norm against the artifact's threshold.
func (m *Model) Score(x linalg.Vector) (Score, error) {
	a := m.Artifact
	d := len(a.Preprocessing.Mean)
	if len(x) != d {
		return Score{}, apierr.New(apierr.KindDimensionMismatch, "pca score: input has %d features, model expects %d", len(x), d)
	}

	xs := make(linalg.Vector, d)
	for i := 0; i < d; i++ {
		xs[i] = (x[i] - a.Preprocessing.Mean[i]) / a.Preprocessing.Scale[i]
	}

	xc := make(linalg.Vector, d)
	for i := 0; i < d; i++ {
		xc[i] = xs[i] - a.Model.Mean[i]
	}

	proj, err := linalg.MatVec(m.components, xc)
	if err != nil {
		return Score{}, err
	}

	xr, err := linalg.MatVec(linalg.Transpose(m.components), proj)
	if err != nil {
		return Score{}, err
	}
	for i := 0; i < d; i++ {
		xr[i] += a.Model.Mean[i]
	}

	residual := make(linalg.Vector, d)
	for i := 0; i < d; i++ {
		residual[i] = xs[i] - xr[i]
	}

	reconErr := linalg.L2Norm(residual)
	return Score{
		ReconstructionError: reconErr,
		IsAnomaly:           reconErr > a.Thresholds.ReconstructionError,
		Residuals:           residual,
	}, nil
}

// EstimateMemoryUsage delegates to the underlying artifact.
func (m *Model) EstimateMemoryUsage() int64 {
	return m.Artifact.EstimateMemoryUsage()
}
