// Package linalg implements the dense row-major matrix/vector kernel the PCA
// trainer and model rely on: multiplication, transpose, and a cyclic-Jacobi
// symmetric eigendecomposition. It has no outside dependencies by design —
// see DESIGN.md for why no third-party linear-algebra library was substituted.
package linalg

import (
	"math"
	"sort"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
)

// Vector is a dense slice of doubles.
type Vector []float64

// Matrix is a dense row-major matrix of doubles.
type Matrix struct {
	Rows, Cols int
	data       []float64
}

// NewMatrix allocates a zero-filled r×c matrix.
func NewMatrix(r, c int) *Matrix {
	return &Matrix{Rows: r, Cols: c, data: make([]float64, r*c)}
}

// At returns the element at (r, c).
func (m *Matrix) At(r, c int) float64 {
	return m.data[r*m.Cols+c]
}

// Set stores v at (r, c).
func (m *Matrix) Set(r, c int, v float64) {
	m.data[r*m.Cols+c] = v
}

// Identity returns the n×n identity matrix.
func Identity(n int) *Matrix {
	m := NewMatrix(n, n)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1.0)
	}
	return m
}

// Clone returns a deep copy of m.
func (m *Matrix) Clone() *Matrix {
	out := NewMatrix(m.Rows, m.Cols)
	copy(out.data, m.data)
	return out
}

// Transpose returns the transpose of m.
func Transpose(m *Matrix) *Matrix {
	t := NewMatrix(m.Cols, m.Rows)
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			t.Set(c, r, m.At(r, c))
		}
	}
	return t
}

// MatMul multiplies a×b, failing with DIMENSION_MISMATCH if inner dims differ.
func MatMul(a, b *Matrix) (*Matrix, error) {
	if a.Cols != b.Rows {
		return nil, apierr.New(apierr.KindDimensionMismatch, "matmul: a.cols=%d != b.rows=%d", a.Cols, b.Rows)
	}
	out := NewMatrix(a.Rows, b.Cols)
	for i := 0; i < a.Rows; i++ {
		for k := 0; k < a.Cols; k++ {
			av := a.At(i, k)
			if av == 0 {
				continue
			}
			for j := 0; j < b.Cols; j++ {
				out.Set(i, j, out.At(i, j)+av*b.At(k, j))
			}
		}
	}
	return out, nil
}

// MatVec multiplies a·x, failing with DIMENSION_MISMATCH if dims differ.
func MatVec(a *Matrix, x Vector) (Vector, error) {
	if a.Cols != len(x) {
		return nil, apierr.New(apierr.KindDimensionMismatch, "matvec: a.cols=%d != len(x)=%d", a.Cols, len(x))
	}
	out := make(Vector, a.Rows)
	for i := 0; i < a.Rows; i++ {
		var sum float64
		for j := 0; j < a.Cols; j++ {
			sum += a.At(i, j) * x[j]
		}
		out[i] = sum
	}
	return out, nil
}

// Dot computes the inner product of a and b, failing with DIMENSION_MISMATCH
// if their lengths differ.
func Dot(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, apierr.New(apierr.KindDimensionMismatch, "dot: len(a)=%d != len(b)=%d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum, nil
}

// L2Norm returns the Euclidean norm of v.
func L2Norm(v Vector) float64 {
	sum, _ := Dot(v, v)
	return math.Sqrt(sum)
}

// ArgsortDesc returns indices that sort v in descending order, breaking ties
// by ascending original index (a stable order independent of sort algorithm).
func ArgsortDesc(v Vector) []int {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool {
		a, b := idx[i], idx[j]
		if v[a] == v[b] {
			return a < b
		}
		return v[a] > v[b]
	})
	return idx
}

// EigenSymResult is the output of a symmetric eigendecomposition:
// Eigenvalues[i] pairs with column i of Vectors, and
// Vectors·diag(Eigenvalues)·Vectors^T ≈ the input matrix.
type EigenSymResult struct {
	Eigenvalues Vector
	Vectors     *Matrix
}

// maxOffdiag finds the off-diagonal entry of largest magnitude in the upper
// triangle of a, returning its value and (p, q) position.
func maxOffdiag(a *Matrix) (maxVal float64, p, q int) {
	for i := 0; i < a.Rows; i++ {
		for j := i + 1; j < a.Cols; j++ {
			v := math.Abs(a.At(i, j))
			if v > maxVal {
				maxVal, p, q = v, i, j
			}
		}
	}
	return maxVal, p, q
}

// EigenSymJacobi computes the eigendecomposition of a real symmetric matrix
// by cyclic Jacobi rotation: each sweep zeros the largest-magnitude
// off-diagonal entry via a Givens rotation until every off-diagonal entry is
// below eps, or maxIter sweeps have run. a must be square.
func EigenSymJacobi(a *Matrix, maxIter int, eps float64) (*EigenSymResult, error) {
	if a.Rows != a.Cols {
		return nil, apierr.New(apierr.KindDimensionMismatch, "eigen_sym_jacobi: requires square matrix, got %dx%d", a.Rows, a.Cols)
	}
	n := a.Rows
	v := Identity(n)
	d := a.Clone()

	for iter := 0; iter < maxIter; iter++ {
		off, p, q := maxOffdiag(d)
		if off < eps {
			break
		}

		app := d.At(p, p)
		aqq := d.At(q, q)
		apq := d.At(p, q)

		phi := 0.5 * math.Atan2(2.0*apq, aqq-app)
		c := math.Cos(phi)
		s := math.Sin(phi)

		for k := 0; k < n; k++ {
			dpk := d.At(p, k)
			dqk := d.At(q, k)
			d.Set(p, k, c*dpk-s*dqk)
			d.Set(q, k, s*dpk+c*dqk)
		}
		for k := 0; k < n; k++ {
			dkp := d.At(k, p)
			dkq := d.At(k, q)
			d.Set(k, p, c*dkp-s*dkq)
			d.Set(k, q, s*dkp+c*dkq)
		}

		d.Set(p, p, c*c*app-2.0*s*c*apq+s*s*aqq)
		d.Set(q, q, s*s*app+2.0*s*c*apq+c*c*aqq)
		d.Set(p, q, 0.0)
		d.Set(q, p, 0.0)

		for k := 0; k < n; k++ {
			vkp := v.At(k, p)
			vkq := v.At(k, q)
			v.Set(k, p, c*vkp-s*vkq)
			v.Set(k, q, s*vkp+c*vkq)
		}
	}

	eigenvalues := make(Vector, n)
	for i := 0; i < n; i++ {
		eigenvalues[i] = d.At(i, i)
	}

	return &EigenSymResult{Eigenvalues: eigenvalues, Vectors: v}, nil
}
