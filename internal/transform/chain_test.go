package transform

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watch-keypoints/pkg/geometry"
)

type bogusChain struct{}

func (bogusChain) isChain()     {}
func (bogusChain) Kind() string { return "bogus" }

func TestResizeOnlyRoundTrip(t *testing.T) {
	c := ResizeOnly{ScaleX: 1536.0 / 4000, ScaleY: 1536.0 / 3000}
	p := geometry.Point2D{X: 1234.5, Y: 987.25}

	q, err := Forward(c, p)
	require.NoError(t, err)
	back, err := Inverse(c, q)
	require.NoError(t, err)

	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)
}

func TestCropRotateResizeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		side := 300 + rng.Intn(1500)
		c := CropRotateResize{
			Crop:        CropBox{X1: rng.Intn(500), Y1: rng.Intn(500)},
			CropCenter:  geometry.Point2D{X: float64(side) / 2, Y: float64(side)/2 + rng.Float64()*10},
			RotationDeg: rng.Float64()*360 - 180,
			ScaleX:      1536 / float64(side),
			ScaleY:      1536 / float64(side),
		}
		c.Crop.X2 = c.Crop.X1 + side
		c.Crop.Y2 = c.Crop.Y1 + side

		// phase-1 -> original -> phase-1
		p := geometry.Point2D{X: rng.Float64() * 1536, Y: rng.Float64() * 1536}
		orig, err := Inverse(c, p)
		require.NoError(t, err)
		again, err := Forward(c, orig)
		require.NoError(t, err)
		if p.Distance(again) > 1e-6 {
			t.Fatalf("case %d: forward(inverse(p)) = %v, want %v", i, again, p)
		}

		// original -> phase-1 -> original
		q := geometry.Point2D{
			X: float64(c.Crop.X1) + rng.Float64()*float64(side),
			Y: float64(c.Crop.Y1) + rng.Float64()*float64(side),
		}
		fwd, err := Forward(c, q)
		require.NoError(t, err)
		back, err := Inverse(c, fwd)
		require.NoError(t, err)
		if q.Distance(back) > 1e-6 {
			t.Fatalf("case %d: inverse(forward(q)) = %v, want %v", i, back, q)
		}
	}
}

func TestCropRotateResizeDerotates(t *testing.T) {
	// A point straight "above" the center in the upright frame appears rotated
	// by +30 degrees (OpenCV convention) in the crop. De-rotation must put it
	// back on the vertical axis.
	center := geometry.Point2D{X: 500, Y: 500}
	c := CropRotateResize{
		Crop:        CropBox{X1: 100, Y1: 200, X2: 1100, Y2: 1200},
		CropCenter:  center,
		RotationDeg: 30,
		ScaleX:      1,
		ScaleY:      1,
	}

	upright := geometry.Point2D{X: 500, Y: 300}
	inCrop := geometry.RotationAbout(center, 30).Apply(upright)
	orig := inCrop.Add(geometry.Point2D{X: 100, Y: 200})

	got, err := Forward(c, orig)
	require.NoError(t, err)
	assert.InDelta(t, upright.X, got.X, 1e-9)
	assert.InDelta(t, upright.Y, got.Y, 1e-9)
}

func TestPointerVariants(t *testing.T) {
	c := &CropRotateResize{
		Crop:       CropBox{X1: 10, Y1: 20, X2: 110, Y2: 120},
		CropCenter: geometry.Point2D{X: 50, Y: 50},
		ScaleX:     2,
		ScaleY:     2,
	}
	p, err := Inverse(c, geometry.Point2D{X: 100, Y: 100})
	require.NoError(t, err)
	assert.InDelta(t, 60, p.X, 1e-9)
	assert.InDelta(t, 70, p.Y, 1e-9)
	assert.Equal(t, "crop_rotate_resize", c.Kind())
}

func TestUnknownChain(t *testing.T) {
	_, err := Inverse(bogusChain{}, geometry.Point2D{})
	require.ErrorIs(t, err, ErrUnknownChain)

	_, err = Forward(nil, geometry.Point2D{})
	require.ErrorIs(t, err, ErrUnknownChain)
}

func TestZeroScale(t *testing.T) {
	_, err := Inverse(ResizeOnly{}, geometry.Point2D{X: 1, Y: 1})
	require.Error(t, err)
}
