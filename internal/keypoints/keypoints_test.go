package keypoints

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/edaniels/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watch-keypoints/internal/detect"
	"watch-keypoints/internal/homography"
	"watch-keypoints/internal/transform"
	"watch-keypoints/pkg/geometry"
)

var canonical = Set{
	Top:    geometry.Point2D{X: 0.5, Y: 0.1},
	Bottom: geometry.Point2D{X: 0.5, Y: 0.9},
	Left:   geometry.Point2D{X: 0.1, Y: 0.5},
	Right:  geometry.Point2D{X: 0.9, Y: 0.5},
	Center: geometry.Point2D{X: 0.5, Y: 0.5},
}

func assertPoint(t *testing.T, want, got geometry.Point2D, tol float64, name string) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, tol, "%s.x", name)
	assert.InDelta(t, want.Y, got.Y, tol, "%s.y", name)
}

func TestProjectResizeOnly(t *testing.T) {
	// Phase-1 shows the template at twice its size; phase-1 is the original at 0.2x.
	h := homography.FromAffine(geometry.Scale(0.5, 0.5))
	chain := transform.ResizeOnly{ScaleX: 0.2, ScaleY: 0.2}

	p, err := Project(h, canonical, geometry.NewSize(100, 100), geometry.NewSize(1000, 1000), chain, golog.NewTestLogger(t))
	require.NoError(t, err)
	assert.False(t, p.Singular)
	for i, want := range canonical.Points() {
		assertPoint(t, want, p.Keypoints.Points()[i], 1e-9, Names[i])
	}
}

func TestProjectThroughCropRotate(t *testing.T) {
	chain := transform.CropRotateResize{
		Crop:        transform.CropBox{X1: 200, Y1: 100, X2: 800, Y2: 700},
		CropCenter:  geometry.Point2D{X: 300, Y: 300},
		RotationDeg: 90,
		ScaleX:      0.5,
		ScaleY:      0.5,
	}
	// Phase-1 equals the template.
	p, err := Project(homography.Identity(), canonical, geometry.NewSize(300, 300), geometry.NewSize(1000, 800), chain, golog.NewTestLogger(t))
	require.NoError(t, err)

	for i, tp := range canonical.Points() {
		orig, err := transform.Inverse(chain, tp.Denormalize(geometry.NewSize(300, 300)))
		require.NoError(t, err)
		want := orig.Normalize(geometry.NewSize(1000, 800)).Clamp01()
		assertPoint(t, want, p.Keypoints.Points()[i], 1e-9, Names[i])
	}
	// A +90 degree box is turned counter-clockwise, so its top points left.
	assert.Less(t, p.Keypoints.Top.X, p.Keypoints.Center.X)
}

func TestProjectClamps(t *testing.T) {
	h := homography.FromAffine(geometry.Translation(500, 0))
	p, err := Project(h, canonical, geometry.NewSize(100, 100), geometry.NewSize(100, 100), transform.ResizeOnly{ScaleX: 1, ScaleY: 1}, golog.NewTestLogger(t))
	require.NoError(t, err)
	assert.True(t, p.Keypoints.Valid())
	assert.Equal(t, 0.0, p.Keypoints.Center.X)
}

func TestProjectSingular(t *testing.T) {
	h := homography.Matrix{1, 2, 3, 2, 4, 6, 0, 0, 1}
	p, err := Project(h, canonical, geometry.NewSize(100, 100), geometry.NewSize(100, 100), transform.ResizeOnly{ScaleX: 1, ScaleY: 1}, golog.NewTestLogger(t))
	require.NoError(t, err)
	assert.True(t, p.Singular)
	assert.Equal(t, DefaultCentered(), p.Keypoints)
}

type unknownChain struct{ transform.Chain }

func TestProjectBadChain(t *testing.T) {
	_, err := Project(homography.Identity(), canonical, geometry.NewSize(10, 10), geometry.NewSize(10, 10), unknownChain{}, golog.NewTestLogger(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, transform.ErrUnknownChain))
}

func TestEstimateFromOBBUpright(t *testing.T) {
	obb := detect.OBBData{
		Box:         detect.OrientedBox{CenterX: 500, CenterY: 400, Width: 260, Height: 390},
		ImageWidth:  1000,
		ImageHeight: 800,
	}
	got := EstimateFromOBB(obb, DefaultOBBPadding, golog.NewTestLogger(t))

	assertPoint(t, geometry.Point2D{X: 0.5, Y: 0.3125}, got.Top, 1e-9, "top")
	assertPoint(t, geometry.Point2D{X: 0.5, Y: 0.6875}, got.Bottom, 1e-9, "bottom")
	assertPoint(t, geometry.Point2D{X: 0.4, Y: 0.5}, got.Left, 1e-9, "left")
	assertPoint(t, geometry.Point2D{X: 0.6, Y: 0.5}, got.Right, 1e-9, "right")
	assertPoint(t, geometry.Point2D{X: 0.5, Y: 0.5}, got.Center, 1e-9, "center")
}

func TestEstimateFromOBBRotated(t *testing.T) {
	obb := detect.OBBData{
		Box:         detect.OrientedBox{CenterX: 500, CenterY: 400, Width: 260, Height: 390, RotationDeg: 90},
		ImageWidth:  1000,
		ImageHeight: 800,
	}
	got := EstimateFromOBB(obb, DefaultOBBPadding, golog.NewTestLogger(t))

	// primary axis (sin, cos) = (1, 0); secondary (cos, -sin) = (0, -1)
	assertPoint(t, geometry.Point2D{X: 0.35, Y: 0.5}, got.Top, 1e-9, "top")
	assertPoint(t, geometry.Point2D{X: 0.65, Y: 0.5}, got.Bottom, 1e-9, "bottom")
	assertPoint(t, geometry.Point2D{X: 0.5, Y: 0.625}, got.Left, 1e-9, "left")
	assertPoint(t, geometry.Point2D{X: 0.5, Y: 0.375}, got.Right, 1e-9, "right")
}

func TestEstimateFromOBBClamps(t *testing.T) {
	obb := detect.OBBData{
		Box:         detect.OrientedBox{CenterX: 10, CenterY: 10, Width: 400, Height: 400},
		ImageWidth:  100,
		ImageHeight: 100,
	}
	got := EstimateFromOBB(obb, DefaultOBBPadding, golog.NewTestLogger(t))
	assert.True(t, got.Valid())
	assert.Equal(t, 0.0, got.Top.Y)
}

func TestWholeImageSentinel(t *testing.T) {
	obb := detect.OBBData{Box: detect.WholeImageBox(640, 480), ImageWidth: 640, ImageHeight: 480, UsedWholeImage: true}
	got := EstimateFromOBB(obb, DefaultOBBPadding, golog.NewTestLogger(t))
	assert.True(t, got.Valid())
	assertPoint(t, geometry.Point2D{X: 0.5, Y: 0.5}, got.Center, 1e-12, "center")
}

func TestSetJSON(t *testing.T) {
	data, err := json.Marshal(canonical)
	require.NoError(t, err)
	assert.JSONEq(t, `{"top":[0.5,0.1],"bottom":[0.5,0.9],"left":[0.1,0.5],"right":[0.9,0.5],"center":[0.5,0.5]}`, string(data))

	var back Set
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, canonical, back)

	err = json.Unmarshal([]byte(`{"top":[0.5,0.1]}`), &back)
	require.Error(t, err)
}

func TestGetWith(t *testing.T) {
	p, ok := canonical.Get("left")
	require.True(t, ok)
	assert.Equal(t, canonical.Left, p)
	_, ok = canonical.Get("crown")
	assert.False(t, ok)

	_, err := canonical.With("crown", geometry.Point2D{})
	require.Error(t, err)
}
