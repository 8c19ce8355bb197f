// Package raster holds the pure-Go image operations used by the pipeline:
// decoding, cropping, resizing, rotation about an arbitrary center and
// debug overlays.
package raster

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	// Register additional decoders with image.Decode.
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"watch-keypoints/pkg/geometry"
)

// Load decodes an image file, applying the EXIF orientation tag.
// WebP files the x/image decoder rejects are retried with libwebp.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}
	if strings.EqualFold(filepath.Ext(path), ".webp") {
		if m, werr := webp.Load(path); werr == nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("failed to load image %s: %w", path, err)
}

// Size returns the pixel dimensions of img.
func Size(img image.Image) geometry.Size {
	b := img.Bounds()
	return geometry.NewSize(float64(b.Dx()), float64(b.Dy()))
}

// Crop returns the part of img inside rect, in img's own coordinates.
func Crop(img image.Image, rect image.Rectangle) *image.NRGBA {
	b := img.Bounds()
	return imaging.Crop(img, rect.Add(b.Min))
}

// Resize scales img to exactly width x height with bilinear interpolation.
func Resize(img image.Image, width, height int) *image.NRGBA {
	return imaging.Resize(img, width, height, imaging.Linear)
}

// RotateAbout rotates img by degrees about center (img-local pixels), keeping
// the canvas size. Positive angles follow OpenCV's getRotationMatrix2D
// convention. Uncovered pixels are filled with opaque black.
func RotateAbout(img image.Image, center geometry.Point2D, degrees float64) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	m := geometry.RotationAbout(center, degrees).Compose(
		geometry.Translation(-float64(b.Min.X), -float64(b.Min.Y)))
	s2d := f64.Aff3{m.A, m.B, m.TX, m.C, m.D, m.TY}
	draw.BiLinear.Transform(dst, s2d, img, b, draw.Src, nil)
	return dst
}

// Intensity returns the luma of img as float32 values in [0,1], row-major.
func Intensity(img image.Image) (pix []float32, width, height int) {
	gray := imaging.Grayscale(img)
	width, height = gray.Rect.Dx(), gray.Rect.Dy()
	pix = make([]float32, width*height)
	for y := 0; y < height; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < width; x++ {
			pix[y*width+x] = float32(row[x*4]) / 255
		}
	}
	return pix, width, height
}
