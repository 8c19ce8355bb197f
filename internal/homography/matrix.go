// Package homography estimates projective transforms between the phase-1 image
// and the template from point correspondences.
package homography

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"watch-keypoints/pkg/geometry"
)

var (
	// ErrSingular is returned when a matrix cannot be inverted.
	ErrSingular = errors.New("homography is singular")
	// ErrTooFewPoints is returned when fewer than four correspondences are given.
	ErrTooFewPoints = errors.New("need at least 4 correspondences")
)

// singularEpsilon is the smallest |det| accepted, relative to the matrix scale.
const singularEpsilon = 1e-12

// Matrix is a row-major 3x3 projective transform.
type Matrix [9]float64

// Identity returns the identity homography.
func Identity() Matrix {
	return Matrix{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// FromAffine lifts an affine transform into a homography.
func FromAffine(t geometry.AffineTransform) Matrix {
	return Matrix{t.A, t.B, t.TX, t.C, t.D, t.TY, 0, 0, 1}
}

// Apply maps p through the matrix, performing the homogeneous divide.
func (m Matrix) Apply(p geometry.Point2D) geometry.Point2D {
	x := m[0]*p.X + m[1]*p.Y + m[2]
	y := m[3]*p.X + m[4]*p.Y + m[5]
	w := m[6]*p.X + m[7]*p.Y + m[8]
	return geometry.Point2D{X: x / w, Y: y / w}
}

// Mul returns m * o.
func (m Matrix) Mul(o Matrix) Matrix {
	var r Matrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i*3+j] = m[i*3]*o[j] + m[i*3+1]*o[3+j] + m[i*3+2]*o[6+j]
		}
	}
	return r
}

// Det returns the determinant.
func (m Matrix) Det() float64 {
	return mat.Det(m.dense())
}

// Inverse returns the inverse matrix, or ErrSingular when the determinant is
// negligible relative to the magnitude of the entries.
func (m Matrix) Inverse() (Matrix, error) {
	d := m.dense()
	scale := mat.Norm(d, 2)
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return Matrix{}, ErrSingular
	}
	if math.Abs(mat.Det(d)) <= singularEpsilon*scale*scale*scale {
		return Matrix{}, ErrSingular
	}

	var inv mat.Dense
	if err := inv.Inverse(d); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return Matrix{}, fmt.Errorf("%w: %v", ErrSingular, err)
		}
		return Matrix{}, fmt.Errorf("failed to invert homography: %w", err)
	}
	return fromDense(&inv), nil
}

// Normalized returns m scaled so that m[8] == 1 when that entry is usable.
func (m Matrix) Normalized() Matrix {
	if math.Abs(m[8]) < 1e-12 {
		return m
	}
	var r Matrix
	for i, v := range m {
		r[i] = v / m[8]
	}
	return r
}

func (m Matrix) dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, m[:])
	return mat.NewDense(3, 3, data)
}

func fromDense(d mat.Matrix) Matrix {
	var r Matrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i*3+j] = d.At(i, j)
		}
	}
	return r
}

// String formats the matrix on three lines.
func (m Matrix) String() string {
	return fmt.Sprintf("[%.6g %.6g %.6g]\n[%.6g %.6g %.6g]\n[%.6g %.6g %.6g]",
		m[0], m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[8])
}
