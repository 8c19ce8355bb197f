package match

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/edaniels/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watch-keypoints/pkg/geometry"
)

type recordingModel struct {
	matches []Match
	err     error

	gotQuery, gotTemplate *Intensity
}

func (r *recordingModel) Predict(q, t *Intensity) ([]Match, error) {
	r.gotQuery, r.gotTemplate = q, t
	return r.matches, r.err
}

func (r *recordingModel) Version() string      { return "recording" }
func (r *recordingModel) Info() map[string]any { return nil }

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestThresholdIsStrict(t *testing.T) {
	model := &recordingModel{matches: []Match{
		{Query: geometry.Point2D{X: 1, Y: 1}, Template: geometry.Point2D{X: 2, Y: 2}, Confidence: 0.2},
		{Query: geometry.Point2D{X: 3, Y: 3}, Template: geometry.Point2D{X: 4, Y: 4}, Confidence: 0.21},
		{Query: geometry.Point2D{X: 5, Y: 5}, Template: geometry.Point2D{X: 6, Y: 6}, Confidence: 0.9},
		{Query: geometry.Point2D{X: 7, Y: 7}, Template: geometry.Point2D{X: 8, Y: 8}, Confidence: 0.05},
	}}
	m := NewMatcher(model, golog.NewTestLogger(t))

	c, err := m.FindCorrespondences(solid(8, 8, color.White), solid(4, 4, color.Black), 0.2)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Enough())
	assert.Equal(t, []float64{0.21, 0.9}, c.Confidence)
	assert.Equal(t, geometry.Point2D{X: 3, Y: 3}, c.Query[0])
	assert.Equal(t, geometry.Point2D{X: 6, Y: 6}, c.Template[1])
}

func TestInputsAreNormalizedIntensity(t *testing.T) {
	model := &recordingModel{}
	m := NewMatcher(model, golog.NewTestLogger(t))

	_, err := m.FindCorrespondences(solid(8, 6, color.White), solid(4, 2, color.Black), 0.2)
	require.NoError(t, err)

	require.NotNil(t, model.gotQuery)
	assert.Equal(t, 8, model.gotQuery.Width)
	assert.Equal(t, 6, model.gotQuery.Height)
	assert.InDelta(t, 1.0, model.gotQuery.At(3, 2), 1e-6)
	assert.InDelta(t, 0.0, model.gotTemplate.At(1, 1), 1e-6)
}

func TestModelError(t *testing.T) {
	m := NewMatcher(&recordingModel{err: errors.New("boom")}, golog.NewTestLogger(t))
	_, err := m.FindCorrespondences(solid(2, 2, color.White), solid(2, 2, color.White), 0.2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
