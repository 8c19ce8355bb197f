package orb

import (
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"watch-keypoints/internal/match"
)

func TestRatioFilter(t *testing.T) {
	query := []gocv.KeyPoint{{X: 1, Y: 2}, {X: 3, Y: 4}, {X: 5, Y: 6}}
	train := []gocv.KeyPoint{{X: 10, Y: 20}, {X: 30, Y: 40}}
	knn := [][]gocv.DMatch{
		{{QueryIdx: 0, TrainIdx: 1, Distance: 10}, {QueryIdx: 0, TrainIdx: 0, Distance: 40}},
		{{QueryIdx: 1, TrainIdx: 0, Distance: 30}, {QueryIdx: 1, TrainIdx: 1, Distance: 32}},
		{{QueryIdx: 2, TrainIdx: 0, Distance: 5}},
		{{QueryIdx: 2, TrainIdx: 7, Distance: 1}, {QueryIdx: 2, TrainIdx: 0, Distance: 50}},
		{{QueryIdx: 2, TrainIdx: 0, Distance: 0}, {QueryIdx: 2, TrainIdx: 1, Distance: 0}},
	}

	got := ratioFilter(knn, query, train, 0.8)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Query.X)
	assert.Equal(t, 30.0, got[0].Template.X)
	assert.Equal(t, 0.75, got[0].Confidence)
}

func TestNewValidates(t *testing.T) {
	logger := golog.NewTestLogger(t)
	_, err := New(0, 0.8, logger)
	assert.Error(t, err)
	_, err = New(500, 1, logger)
	assert.Error(t, err)

	m, err := New(500, 0.8, logger)
	require.NoError(t, err)
	assert.Equal(t, "orb-bf-hamming", m.Version())
	assert.Equal(t, 500, m.Info()["max_features"])
}

func noise(w, h int, seed int64) *match.Intensity {
	r := rand.New(rand.NewSource(seed))
	im := &match.Intensity{Pix: make([]float32, w*h), Width: w, Height: h}
	// 4x4 blocks give corners at a scale ORB responds to.
	for by := 0; by < h; by += 4 {
		for bx := 0; bx < w; bx += 4 {
			v := r.Float32()
			for y := by; y < min(by+4, h); y++ {
				for x := bx; x < min(bx+4, w); x++ {
					im.Pix[y*w+x] = v
				}
			}
		}
	}
	return im
}

func TestPredictSelfMatch(t *testing.T) {
	m, err := New(1000, 0.8, golog.NewTestLogger(t))
	require.NoError(t, err)

	im := noise(240, 240, 7)
	ms, err := m.Predict(im, im)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(ms), match.MinCorrespondences)

	same := 0
	for _, mt := range ms {
		if mt.Query.Distance(mt.Template) < 1e-3 {
			same++
		}
		assert.True(t, mt.Confidence > 0 && mt.Confidence <= 1)
	}
	assert.Greater(t, float64(same)/float64(len(ms)), 0.9)
}

func TestPredictBlankImage(t *testing.T) {
	m, err := New(500, 0.8, golog.NewTestLogger(t))
	require.NoError(t, err)

	blank := &match.Intensity{Pix: make([]float32, 100*100), Width: 100, Height: 100}
	ms, err := m.Predict(blank, blank)
	require.NoError(t, err)
	assert.Empty(t, ms)

	_, err = m.Predict(nil, blank)
	assert.Error(t, err)
}
