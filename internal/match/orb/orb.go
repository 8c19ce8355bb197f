// Package orb is a sparse matching backend built on OpenCV's ORB features and
// a brute-force Hamming matcher. It needs no model weights, which makes it the
// fallback when no LoFTR checkpoint is available.
package orb

import (
	"errors"
	"fmt"

	"github.com/edaniels/golog"
	"gocv.io/x/gocv"

	"watch-keypoints/internal/cvutil"
	"watch-keypoints/internal/match"
	"watch-keypoints/pkg/geometry"
)

// Model is a match.Model using ORB descriptors and Lowe's ratio test.
// Confidence is 1 - d1/d2 for the two nearest descriptors.
type Model struct {
	maxFeatures int
	ratio       float64
	logger      golog.Logger
}

var _ match.Model = (*Model)(nil)

// New creates an ORB matcher.
func New(maxFeatures int, ratio float64, logger golog.Logger) (*Model, error) {
	if maxFeatures <= 0 {
		return nil, fmt.Errorf("max features must be positive, got %d", maxFeatures)
	}
	if ratio <= 0 || ratio >= 1 {
		return nil, fmt.Errorf("ratio test must be in (0,1), got %v", ratio)
	}
	return &Model{maxFeatures: maxFeatures, ratio: ratio, logger: logger}, nil
}

type features struct {
	points []gocv.KeyPoint
	desc   gocv.Mat
}

func (m *Model) detect(orb gocv.ORB, im *match.Intensity) (features, error) {
	gray, err := cvutil.ByteGray(im.Pix, im.Width, im.Height)
	if err != nil {
		return features{}, err
	}
	defer gray.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	kps, desc := orb.DetectAndCompute(gray, mask)
	return features{points: kps, desc: desc}, nil
}

// Predict matches query against template.
func (m *Model) Predict(query, template *match.Intensity) ([]match.Match, error) {
	if query == nil || template == nil {
		return nil, errors.New("missing input image")
	}

	orb := gocv.NewORBWithParams(m.maxFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
	defer orb.Close()

	q, err := m.detect(orb, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer q.desc.Close()
	t, err := m.detect(orb, template)
	if err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	defer t.desc.Close()

	if q.desc.Empty() || t.desc.Empty() {
		m.logger.Debugw("orb found no descriptors", "query", len(q.points), "template", len(t.points))
		return nil, nil
	}

	bf := gocv.NewBFMatcherWithParams(gocv.NormHamming, false)
	defer bf.Close()
	knn := bf.KnnMatch(q.desc, t.desc, 2)

	matches := ratioFilter(knn, q.points, t.points, m.ratio)
	m.logger.Debugw("orb", "query_features", len(q.points), "template_features", len(t.points), "matches", len(matches))
	return matches, nil
}

// ratioFilter keeps nearest neighbours that are clearly better than the
// runner-up.
func ratioFilter(knn [][]gocv.DMatch, query, train []gocv.KeyPoint, ratio float64) []match.Match {
	var out []match.Match
	for _, pair := range knn {
		if len(pair) < 2 {
			continue
		}
		best, second := pair[0], pair[1]
		if !(best.Distance < ratio*second.Distance) {
			continue
		}
		if best.QueryIdx >= len(query) || best.TrainIdx >= len(train) {
			continue
		}
		qp, tp := query[best.QueryIdx], train[best.TrainIdx]
		out = append(out, match.Match{
			Query:      geometry.Point2D{X: qp.X, Y: qp.Y},
			Template:   geometry.Point2D{X: tp.X, Y: tp.Y},
			Confidence: 1 - best.Distance/second.Distance,
		})
	}
	return out
}

// Version identifies the backend.
func (m *Model) Version() string {
	return "orb-bf-hamming"
}

// Info describes the configuration.
func (m *Model) Info() map[string]any {
	return map[string]any{
		"max_features": m.maxFeatures,
		"ratio_test":   m.ratio,
		"runtime":      "opencv",
	}
}
