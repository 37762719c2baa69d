// Package trainer implements the streaming PCA trainer: a multi-pass fit over
// a restartable sample producer that yields an internal/pca artifact. The
// samples themselves are never held in memory; the third pass keeps one
// reconstruction error per sample for threshold calibration. Every numeric step is grounded in the same
// algorithm internal/linalg exposes — this package only orchestrates passes,
// accumulation, and calibration around it.
package trainer

import (
	"context"
	"math"
	"sort"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/linalg"
	"github.com/kubilitics/anomaly-platform/internal/pca"
)

// Dim is the fixed feature dimensionality of every telemetry record.
const Dim = 5

// SampleFunc is invoked once per training sample.
type SampleFunc func(x linalg.Vector)

// Producer streams training samples to cb, once per call to ForEach. A
// producer must be restartable: the trainer calls ForEach three times.
type Producer interface {
	ForEach(ctx context.Context, cb SampleFunc) error
}

// Heartbeat is invoked periodically during each pass so callers can update
// progress and observe cancellation via ctx.
type Heartbeat func(ctx context.Context, pass int, samplesSeen int)

// Options configures one training run.
type Options struct {
	NComponents int
	Percentile  float64
	MaxIter     int
	Eps         float64
	Heartbeat   Heartbeat
	// HeartbeatEvery controls how many samples elapse between heartbeat
	// invocations within a pass. Zero disables mid-pass heartbeats.
	HeartbeatEvery int
}

func (o Options) withDefaults() Options {
	if o.MaxIter == 0 {
		o.MaxIter = 200
	}
	if o.Eps == 0 {
		o.Eps = 1e-12
	}
	return o
}

// runningStats accumulates a Welford population mean and cross second-moment
// matrix over d-dimensional samples.
type runningStats struct {
	n    int
	mean linalg.Vector
	m2   *linalg.Matrix
}

func newRunningStats(d int) *runningStats {
	return &runningStats{mean: make(linalg.Vector, d), m2: linalg.NewMatrix(d, d)}
}

func (s *runningStats) update(x linalg.Vector) {
	s.n++
	d := len(x)
	delta := make(linalg.Vector, d)
	for i := 0; i < d; i++ {
		delta[i] = x[i] - s.mean[i]
		s.mean[i] += delta[i] / float64(s.n)
	}
	delta2 := make(linalg.Vector, d)
	for i := 0; i < d; i++ {
		delta2[i] = x[i] - s.mean[i]
	}
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			s.m2.Set(i, j, s.m2.At(i, j)+delta[i]*delta2[j])
		}
	}
}

func vecSub(a, b linalg.Vector) linalg.Vector {
	out := make(linalg.Vector, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

func vecAdd(a, b linalg.Vector) linalg.Vector {
	out := make(linalg.Vector, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

func vecDiv(a, b linalg.Vector) linalg.Vector {
	out := make(linalg.Vector, len(a))
	for i := range a {
		out[i] = a[i] / b[i]
	}
	return out
}

func vecScale(a linalg.Vector, s float64) linalg.Vector {
	out := make(linalg.Vector, len(a))
	for i := range a {
		out[i] = a[i] * s
	}
	return out
}

// percentileValue returns the percentile-th value of values using the
// nearest-rank convention: idx = ceil(p/100 * n) - 1, clamped to [0, n-1].
func percentileValue(values []float64, percentile float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	rank := (percentile / 100.0) * float64(n)
	idx := int(math.Ceil(rank)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// enforceComponentSign flips v's sign so its largest-magnitude entry is
// positive.
func enforceComponentSign(v linalg.Vector) {
	idx := 0
	maxAbs := 0.0
	for i, val := range v {
		a := math.Abs(val)
		if a > maxAbs {
			maxAbs, idx = a, i
		}
	}
	if v[idx] < 0 {
		for i := range v {
			v[i] *= -1
		}
	}
}

// Train runs the three-pass streaming fit described in the package doc and
// returns a ready-to-write pca.Artifact.
func Train(ctx context.Context, p Producer, opts Options) (*pca.Artifact, error) {
	opts = opts.withDefaults()
	if opts.NComponents <= 0 {
		return nil, apierr.New(apierr.KindBadRequest, "n_components must be positive")
	}

	// First pass: Welford mean/covariance accumulation.
	stats := newRunningStats(Dim)
	seen := 0
	err := p.ForEach(ctx, func(x linalg.Vector) {
		stats.update(x)
		seen++
		if opts.Heartbeat != nil && opts.HeartbeatEvery > 0 && seen%opts.HeartbeatEvery == 0 {
			opts.Heartbeat(ctx, 1, seen)
		}
	})
	if err != nil {
		return nil, err
	}
	if opts.Heartbeat != nil {
		opts.Heartbeat(ctx, 1, seen)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if stats.n < 2 {
		return nil, apierr.New(apierr.KindNoData, "pca training requires at least 2 samples, got %d", stats.n)
	}

	scale := make(linalg.Vector, Dim)
	for i := 0; i < Dim; i++ {
		varPop := stats.m2.At(i, i) / float64(stats.n)
		s := math.Sqrt(varPop)
		if s == 0 {
			s = 1.0
		}
		scale[i] = s
	}

	cov := linalg.NewMatrix(Dim, Dim)
	denom := float64(stats.n - 1)
	for i := 0; i < Dim; i++ {
		for j := 0; j < Dim; j++ {
			cov.Set(i, j, stats.m2.At(i, j)/denom/(scale[i]*scale[j]))
		}
	}

	eig, err := linalg.EigenSymJacobi(cov, opts.MaxIter, opts.Eps)
	if err != nil {
		return nil, err
	}
	order := linalg.ArgsortDesc(eig.Eigenvalues)

	k := opts.NComponents
	if k > Dim {
		k = Dim
	}
	components := linalg.NewMatrix(k, Dim)
	explainedVariance := make(linalg.Vector, k)
	for i := 0; i < k; i++ {
		idx := order[i]
		explainedVariance[i] = eig.Eigenvalues[idx]
		comp := make(linalg.Vector, Dim)
		for r := 0; r < Dim; r++ {
			comp[r] = eig.Vectors.At(r, idx)
		}
		enforceComponentSign(comp)
		for c := 0; c < Dim; c++ {
			components.Set(i, c, comp[c])
		}
	}
	componentsT := linalg.Transpose(components)

	// Second pass: pca_mean over standardized samples.
	pcaMean := make(linalg.Vector, Dim)
	count := 0
	err = p.ForEach(ctx, func(x linalg.Vector) {
		xs := vecDiv(vecSub(x, stats.mean), scale)
		pcaMean = vecAdd(pcaMean, xs)
		count++
		if opts.Heartbeat != nil && opts.HeartbeatEvery > 0 && count%opts.HeartbeatEvery == 0 {
			opts.Heartbeat(ctx, 2, count)
		}
	})
	if err != nil {
		return nil, err
	}
	if opts.Heartbeat != nil {
		opts.Heartbeat(ctx, 2, count)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, apierr.New(apierr.KindNoData, "no samples found for pca mean computation")
	}
	pcaMean = vecScale(pcaMean, 1.0/float64(count))

	// Third pass: reconstruction error for every training sample.
	errors := make([]float64, 0, count)
	thirdPassCount := 0
	err = p.ForEach(ctx, func(x linalg.Vector) {
		xs := vecDiv(vecSub(x, stats.mean), scale)
		xc := vecSub(xs, pcaMean)
		proj, _ := linalg.MatVec(components, xc)
		xr, _ := linalg.MatVec(componentsT, proj)
		xr = vecAdd(xr, pcaMean)
		diff := vecSub(xs, xr)
		errors = append(errors, linalg.L2Norm(diff))
		thirdPassCount++
		if opts.Heartbeat != nil && opts.HeartbeatEvery > 0 && thirdPassCount%opts.HeartbeatEvery == 0 {
			opts.Heartbeat(ctx, 3, thirdPassCount)
		}
	})
	if err != nil {
		return nil, err
	}
	if opts.Heartbeat != nil {
		opts.Heartbeat(ctx, 3, thirdPassCount)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	threshold := percentileValue(errors, opts.Percentile)

	artifact := &pca.Artifact{}
	artifact.Meta.Version = pca.ArtifactVersion
	artifact.Meta.Features = []string{"cpu_usage", "memory_usage", "disk_utilization", "network_rx_rate", "network_tx_rate"}
	artifact.Preprocessing.Mean = []float64(stats.mean)
	artifact.Preprocessing.Scale = []float64(scale)
	artifact.Model.Mean = []float64(pcaMean)
	artifact.Model.NComponents = k
	artifact.Model.ExplainedVariance = []float64(explainedVariance)
	artifact.Model.Components = make([][]float64, k)
	for i := 0; i < k; i++ {
		row := make([]float64, Dim)
		for c := 0; c < Dim; c++ {
			row[c] = components.At(i, c)
		}
		artifact.Model.Components[i] = row
	}
	artifact.Thresholds.ReconstructionError = threshold

	return artifact, nil
}

// SliceProducer adapts an in-memory slice of samples to the Producer
// interface — used by tests and by small inference/eval paths.
type SliceProducer struct {
	Samples []linalg.Vector
}

func (p SliceProducer) ForEach(ctx context.Context, cb SampleFunc) error {
	for _, x := range p.Samples {
		if err := ctx.Err(); err != nil {
			return err
		}
		cb(x)
	}
	return nil
}
