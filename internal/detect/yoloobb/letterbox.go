package yoloobb

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"watch-keypoints/internal/detect"
	"watch-keypoints/internal/raster"
)

// PadValue is the gray level of letterbox borders.
const PadValue = 114

// letterbox records how an image was fitted into the square network input.
type letterbox struct {
	Size  int
	Scale float64
	PadX  int
	PadY  int
	NewW  int
	NewH  int
}

func newLetterbox(width, height, size int) letterbox {
	scale := math.Min(float64(size)/float64(width), float64(size)/float64(height))
	newW := max(1, int(math.Round(float64(width)*scale)))
	newH := max(1, int(math.Round(float64(height)*scale)))
	return letterbox{
		Size:  size,
		Scale: scale,
		PadX:  (size - newW) / 2,
		PadY:  (size - newH) / 2,
		NewW:  newW,
		NewH:  newH,
	}
}

// apply resizes img preserving aspect ratio and centers it on a padded
// square canvas.
func (l letterbox) apply(img image.Image) *image.NRGBA {
	canvas := image.NewNRGBA(image.Rect(0, 0, l.Size, l.Size))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255}), image.Point{}, draw.Src)
	resized := raster.Resize(img, l.NewW, l.NewH)
	dst := image.Rect(l.PadX, l.PadY, l.PadX+l.NewW, l.PadY+l.NewH)
	draw.Draw(canvas, dst, resized, image.Point{}, draw.Src)
	return canvas
}

// unmap converts a box from network-input pixels to original-image pixels.
func (l letterbox) unmap(b detect.OrientedBox) detect.OrientedBox {
	b.CenterX = (b.CenterX - float64(l.PadX)) / l.Scale
	b.CenterY = (b.CenterY - float64(l.PadY)) / l.Scale
	b.Width /= l.Scale
	b.Height /= l.Scale
	return b
}
