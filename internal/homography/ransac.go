package homography

import (
	"math"
	"math/rand"

	"watch-keypoints/pkg/geometry"
)

// Options control the robust fit.
type Options struct {
	// RansacThreshold is the maximum reprojection error in template pixels
	// for a correspondence to count as an inlier.
	RansacThreshold float64
	// MinInliers is the minimum inlier count for the fit to be accepted.
	MinInliers int
	// MaxIterations caps the number of RANSAC samples.
	MaxIterations int
	// Confidence drives the adaptive iteration count.
	Confidence float64
	// Rand is the sampling source. A fixed seed gives reproducible fits.
	Rand *rand.Rand
	// AllowDegenerate disables the collinear-sample check.
	AllowDegenerate bool
}

// DefaultOptions returns the default estimation options.
func DefaultOptions() Options {
	return Options{
		RansacThreshold: 5.0,
		MinInliers:      10,
		MaxIterations:   2000,
		Confidence:      0.995,
	}
}

// Estimate fits the homography mapping query points onto template points.
// It returns (nil, 0, 0) with fewer than four pairs or when no model is found,
// and (nil, inliers, confidence) when fewer than minInliers support the fit.
// Confidence is inliers / matches.
func Estimate(query, template []geometry.Point2D, ransacThreshold float64, minInliers int) (*Matrix, int, float64) {
	opts := DefaultOptions()
	opts.RansacThreshold = ransacThreshold
	opts.MinInliers = minInliers
	return EstimateWithOptions(query, template, opts)
}

// EstimateWithOptions is Estimate with full control over the RANSAC loop.
func EstimateWithOptions(query, template []geometry.Point2D, opts Options) (*Matrix, int, float64) {
	n := len(query)
	if n < 4 || len(template) != n {
		return nil, 0, 0
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	if opts.Confidence <= 0 || opts.Confidence >= 1 {
		opts.Confidence = DefaultOptions().Confidence
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(int64(n)))
	}
	thresh2 := opts.RansacThreshold * opts.RansacThreshold

	var bestModel Matrix
	bestCount := 0
	found := false

	sample := make([]int, 4)
	src := make([]geometry.Point2D, 4)
	dst := make([]geometry.Point2D, 4)

	maxIter := opts.MaxIterations
	for iter := 0; iter < maxIter; iter++ {
		pickDistinct(rng, n, sample)
		for i, idx := range sample {
			src[i] = query[idx]
			dst[i] = template[idx]
		}
		if !opts.AllowDegenerate && (degenerate(src) || degenerate(dst)) {
			continue
		}

		model, err := solveDLT(src, dst)
		if err != nil || !finite(model) {
			continue
		}

		count := countInliers(model, query, template, thresh2, nil)
		if count > bestCount {
			bestCount = count
			bestModel = model
			found = true
			if k := adaptiveIterations(opts.Confidence, float64(count)/float64(n)); k < maxIter {
				maxIter = max(k, iter+1)
			}
		}
	}

	if !found {
		return nil, 0, 0
	}

	// Refit on all inliers and keep the refit if it does not lose support.
	mask := make([]bool, n)
	countInliers(bestModel, query, template, thresh2, mask)
	var inQ, inT []geometry.Point2D
	for i, ok := range mask {
		if ok {
			inQ = append(inQ, query[i])
			inT = append(inT, template[i])
		}
	}
	if len(inQ) >= 4 {
		if refit, err := solveDLT(inQ, inT); err == nil && finite(refit) {
			if c := countInliers(refit, query, template, thresh2, nil); c >= bestCount {
				bestModel = refit
				bestCount = c
			}
		}
	}

	confidence := float64(bestCount) / float64(n)
	if bestCount < opts.MinInliers {
		return nil, bestCount, confidence
	}
	h := bestModel
	return &h, bestCount, confidence
}

// countInliers counts pairs whose squared reprojection error is within
// thresh2, filling mask when it is non-nil.
func countInliers(m Matrix, query, template []geometry.Point2D, thresh2 float64, mask []bool) int {
	count := 0
	for i := range query {
		p := m.Apply(query[i])
		dx := p.X - template[i].X
		dy := p.Y - template[i].Y
		ok := dx*dx+dy*dy <= thresh2
		if ok {
			count++
		}
		if mask != nil {
			mask[i] = ok
		}
	}
	return count
}

// adaptiveIterations returns the sample count needed to draw one all-inlier
// sample with the given probability.
func adaptiveIterations(confidence, inlierRatio float64) int {
	if inlierRatio >= 1 {
		return 1
	}
	w4 := math.Pow(inlierRatio, 4)
	if w4 <= 0 {
		return math.MaxInt32
	}
	den := math.Log(1 - w4)
	if den >= 0 {
		return math.MaxInt32
	}
	k := math.Log(1-confidence) / den
	if k > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Ceil(k))
}

// pickDistinct fills out with distinct indices in [0, n).
func pickDistinct(rng *rand.Rand, n int, out []int) {
	for i := 0; i < len(out); {
		v := rng.Intn(n)
		dup := false
		for j := 0; j < i; j++ {
			if out[j] == v {
				dup = true
				break
			}
		}
		if !dup {
			out[i] = v
			i++
		}
	}
}

// degenerate reports whether any three of the four points are collinear.
func degenerate(pts []geometry.Point2D) bool {
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			for k := j + 1; k < 4; k++ {
				if geometry.Collinear(pts[i], pts[j], pts[k], 1e-6) {
					return true
				}
			}
		}
	}
	return false
}

func finite(m Matrix) bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
