package raster

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"watch-keypoints/pkg/geometry"
)

// Marker is a named point drawn on an overlay, in normalized coordinates.
type Marker struct {
	Name  string
	Point geometry.Point2D
}

var markerColors = map[string]color.NRGBA{
	"top":    {R: 255, A: 255},
	"bottom": {G: 255, A: 255},
	"left":   {B: 255, A: 255},
	"right":  {R: 255, G: 255, A: 255},
	"center": {R: 255, B: 255, A: 255},
}

// DrawMarkers returns a copy of img with a filled disc at each marker.
// The radius scales with the image so markers stay visible on large photos.
func DrawMarkers(img image.Image, markers []Marker) *image.NRGBA {
	out := imaging.Clone(img)
	w, h := out.Rect.Dx(), out.Rect.Dy()
	radius := max(4, min(w, h)/100)

	for _, m := range markers {
		c, ok := markerColors[m.Name]
		if !ok {
			c = color.NRGBA{R: 255, G: 128, A: 255}
		}
		px := m.Point.Denormalize(geometry.NewSize(float64(w), float64(h)))
		cx, cy := int(px.X), int(px.Y)
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				if dx*dx+dy*dy > radius*radius {
					continue
				}
				x, y := cx+dx, cy+dy
				if x < 0 || y < 0 || x >= w || y >= h {
					continue
				}
				out.SetNRGBA(x, y, c)
			}
		}
	}
	return out
}

// Save writes img to path, choosing the encoder from the extension.
func Save(img image.Image, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".webp") {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		if err := webp.Encode(f, img, &webp.Options{Quality: 90}); err != nil {
			return fmt.Errorf("failed to encode webp: %w", err)
		}
		return nil
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(92)); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
