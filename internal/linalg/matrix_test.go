package linalg

import (
	"math"
	"testing"

	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/stretchr/testify/require"
)

func TestTranspose(t *testing.T) {
	m := NewMatrix(2, 3)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, float64(r*3+c))
		}
	}
	tr := Transpose(m)
	require.Equal(t, 3, tr.Rows)
	require.Equal(t, 2, tr.Cols)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			require.Equal(t, m.At(r, c), tr.At(c, r))
		}
	}
}

func TestMatMul(t *testing.T) {
	a := NewMatrix(2, 2)
	a.Set(0, 0, 1)
	a.Set(0, 1, 2)
	a.Set(1, 0, 3)
	a.Set(1, 1, 4)
	b := Identity(2)

	out, err := MatMul(a, b)
	require.NoError(t, err)
	require.Equal(t, 1.0, out.At(0, 0))
	require.Equal(t, 4.0, out.At(1, 1))
}

func TestMatMul_DimensionMismatch(t *testing.T) {
	a := NewMatrix(2, 3)
	b := NewMatrix(2, 2)
	_, err := MatMul(a, b)
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.KindDimensionMismatch))
}

func TestMatVec(t *testing.T) {
	a := Identity(3)
	x := Vector{1, 2, 3}
	out, err := MatVec(a, x)
	require.NoError(t, err)
	require.Equal(t, Vector{1, 2, 3}, out)
}

func TestDotAndL2Norm(t *testing.T) {
	a := Vector{3, 4}
	d, err := Dot(a, a)
	require.NoError(t, err)
	require.Equal(t, 25.0, d)
	require.Equal(t, 5.0, L2Norm(a))
}

func TestDot_DimensionMismatch(t *testing.T) {
	_, err := Dot(Vector{1, 2}, Vector{1})
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.KindDimensionMismatch))
}

func TestArgsortDesc(t *testing.T) {
	v := Vector{3, 1, 4, 1, 5}
	idx := ArgsortDesc(v)
	require.Equal(t, []int{4, 2, 0, 1, 3}, idx)
}

func TestArgsortDesc_StableOnTies(t *testing.T) {
	v := Vector{2, 2, 2}
	idx := ArgsortDesc(v)
	require.Equal(t, []int{0, 1, 2}, idx)
}

func TestEigenSymJacobi_Diagonal(t *testing.T) {
	a := NewMatrix(2, 2)
	a.Set(0, 0, 3)
	a.Set(1, 1, 5)
	res, err := EigenSymJacobi(a, 100, 1e-10)
	require.NoError(t, err)
	require.InDelta(t, 3.0, res.Eigenvalues[0], 1e-9)
	require.InDelta(t, 5.0, res.Eigenvalues[1], 1e-9)
}

func TestEigenSymJacobi_SymmetricReconstruction(t *testing.T) {
	a := NewMatrix(3, 3)
	vals := [][3]float64{
		{4, 1, 0},
		{1, 3, 1},
		{0, 1, 2},
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			a.Set(r, c, vals[r][c])
		}
	}
	res, err := EigenSymJacobi(a, 200, 1e-12)
	require.NoError(t, err)

	// Reconstruct V * diag(lambda) * V^T and compare against a.
	vt := Transpose(res.Vectors)
	d := NewMatrix(3, 3)
	for i := 0; i < 3; i++ {
		d.Set(i, i, res.Eigenvalues[i])
	}
	vd, err := MatMul(res.Vectors, d)
	require.NoError(t, err)
	recon, err := MatMul(vd, vt)
	require.NoError(t, err)

	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			require.True(t, math.Abs(recon.At(r, c)-a.At(r, c)) < 1e-8)
		}
	}
}

func TestEigenSymJacobi_NonSquare(t *testing.T) {
	a := NewMatrix(2, 3)
	_, err := EigenSymJacobi(a, 10, 1e-10)
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.KindDimensionMismatch))
}
