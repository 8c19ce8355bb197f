package raster

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watch-keypoints/pkg/geometry"
)

// blockImage returns a black w x h image with a white rect.
func blockImage(w, h int, white image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{A: 255}
			if image.Pt(x, y).In(white) {
				c = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func brightness(img *image.NRGBA, x, y int) uint8 {
	return img.NRGBAAt(x, y).R
}

func TestRotateAboutQuarterTurn(t *testing.T) {
	// White block to the right of the center.
	img := blockImage(200, 200, image.Rect(150, 90, 190, 110))
	out := RotateAbout(img, geometry.Point2D{X: 100, Y: 100}, 90)

	require.Equal(t, 200, out.Rect.Dx())
	require.Equal(t, 200, out.Rect.Dy())
	// After +90 degrees the block sits above the center.
	assert.Greater(t, brightness(out, 100, 30), uint8(200))
	assert.Less(t, brightness(out, 170, 100), uint8(50))
}

func TestRotateAboutFillsBlack(t *testing.T) {
	img := blockImage(100, 100, image.Rect(0, 0, 100, 100))
	out := RotateAbout(img, geometry.Point2D{X: 50, Y: 50}, 45)

	// Corners fall outside the rotated source square.
	c := out.NRGBAAt(1, 1)
	assert.Equal(t, uint8(0), c.R)
	assert.Equal(t, uint8(255), c.A)
	assert.Greater(t, brightness(out, 50, 50), uint8(200))
}

func TestCropAndResize(t *testing.T) {
	img := blockImage(300, 200, image.Rect(100, 50, 200, 150))
	crop := Crop(img, image.Rect(100, 50, 200, 150))
	assert.Equal(t, 100, crop.Rect.Dx())
	assert.Equal(t, 100, crop.Rect.Dy())
	assert.Greater(t, brightness(crop, 50, 50), uint8(200))

	resized := Resize(crop, 150, 120)
	assert.Equal(t, geometry.NewSize(150, 120), Size(resized))
}

func TestIntensity(t *testing.T) {
	img := blockImage(4, 2, image.Rect(0, 0, 2, 2))
	pix, w, h := Intensity(img)
	require.Equal(t, 4, w)
	require.Equal(t, 2, h)
	require.Len(t, pix, 8)
	assert.InDelta(t, 1.0, pix[0], 1e-6)
	assert.InDelta(t, 0.0, pix[3], 1e-6)
}

func TestSaveLoadOverlay(t *testing.T) {
	img := blockImage(64, 64, image.Rect(0, 0, 0, 0))
	out := DrawMarkers(img, []Marker{{Name: "top", Point: geometry.Point2D{X: 0.5, Y: 0.25}}})
	assert.Equal(t, uint8(255), out.NRGBAAt(32, 16).R)
	assert.Equal(t, uint8(0), out.NRGBAAt(32, 16).G)

	path := filepath.Join(t.TempDir(), "overlay.png")
	require.NoError(t, Save(out, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, geometry.NewSize(64, 64), Size(loaded))

	_, err = Load(filepath.Join(t.TempDir(), "missing.jpg"))
	require.Error(t, err)
}
