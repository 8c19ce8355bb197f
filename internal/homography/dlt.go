package homography

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"watch-keypoints/pkg/geometry"
)

// normalization returns the similarity that moves the centroid of pts to the
// origin and scales the mean distance from it to sqrt(2) (Hartley).
func normalization(pts []geometry.Point2D) Matrix {
	c := geometry.Centroid(pts)
	var mean float64
	for _, p := range pts {
		mean += p.Distance(c)
	}
	mean /= float64(len(pts))
	if mean < 1e-12 {
		return Identity()
	}
	s := math.Sqrt2 / mean
	return Matrix{s, 0, -s * c.X, 0, s, -s * c.Y, 0, 0, 1}
}

// solveDLT fits the homography mapping src onto dst in the least-squares
// sense. With exactly four pairs the fit is exact.
func solveDLT(src, dst []geometry.Point2D) (Matrix, error) {
	n := len(src)
	if n < 4 || len(dst) != n {
		return Matrix{}, ErrTooFewPoints
	}

	ts := normalization(src)
	td := normalization(dst)

	rows := 2 * n
	if rows < 9 {
		// Pad to a square system so the full SVD exposes the null vector.
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := 0; i < n; i++ {
		p := ts.Apply(src[i])
		q := td.Apply(dst[i])
		a.SetRow(2*i, []float64{-p.X, -p.Y, -1, 0, 0, 0, q.X * p.X, q.X * p.Y, q.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, -p.X, -p.Y, -1, q.Y * p.X, q.Y * p.Y, q.Y})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Matrix{}, fmt.Errorf("SVD factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)

	var hn Matrix
	for i := 0; i < 9; i++ {
		hn[i] = v.At(i, 8)
	}

	tdInv, err := td.Inverse()
	if err != nil {
		return Matrix{}, fmt.Errorf("destination normalization: %w", err)
	}
	return tdInv.Mul(hn).Mul(ts).Normalized(), nil
}
