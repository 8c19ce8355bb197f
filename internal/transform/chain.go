// Package transform records the geometric operations applied to an original
// image to produce the phase-1 working image, and maps points between the two.
package transform

import (
	"errors"
	"fmt"

	"watch-keypoints/pkg/geometry"
)

// ErrUnknownChain is returned when a Chain value is not one of the known variants.
var ErrUnknownChain = errors.New("unknown transform chain")

// Chain describes how the phase-1 image was derived from the original image.
// The only implementations are ResizeOnly and CropRotateResize.
type Chain interface {
	isChain()
	Kind() string
}

// ResizeOnly means phase-1 is a pure rescale of the original image.
type ResizeOnly struct {
	ScaleX float64 `json:"scale_x"`
	ScaleY float64 `json:"scale_y"`
}

func (ResizeOnly) isChain() {}

// Kind returns "resize_only".
func (ResizeOnly) Kind() string { return "resize_only" }

// CropBox is an axis-aligned crop in original-image pixels. X2 and Y2 are exclusive.
type CropBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns the crop width.
func (b CropBox) Width() int { return b.X2 - b.X1 }

// Height returns the crop height.
func (b CropBox) Height() int { return b.Y2 - b.Y1 }

// CropRotateResize means phase-1 = Resize(Rotate(Crop(original))).
// The rotation applied to the crop was -RotationDeg about CropCenter,
// with CropCenter expressed in crop-local pixels.
type CropRotateResize struct {
	Crop        CropBox          `json:"crop_box"`
	CropCenter  geometry.Point2D `json:"crop_center"`
	RotationDeg float64          `json:"rotation_deg"`
	ScaleX      float64          `json:"scale_x"`
	ScaleY      float64          `json:"scale_y"`
}

func (CropRotateResize) isChain() {}

// Kind returns "crop_rotate_resize".
func (CropRotateResize) Kind() string { return "crop_rotate_resize" }

// Rotation returns the affine rotation applied to the crop (crop px -> rotated px).
func (c CropRotateResize) Rotation() geometry.AffineTransform {
	return geometry.RotationAbout(c.CropCenter, -c.RotationDeg)
}

// Affine returns the full original -> phase-1 mapping as a single affine transform.
func Affine(c Chain) (geometry.AffineTransform, error) {
	switch v := c.(type) {
	case ResizeOnly:
		return geometry.Scale(v.ScaleX, v.ScaleY), nil
	case *ResizeOnly:
		return Affine(*v)
	case CropRotateResize:
		uncrop := geometry.Translation(-float64(v.Crop.X1), -float64(v.Crop.Y1))
		resize := geometry.Scale(v.ScaleX, v.ScaleY)
		return resize.Compose(v.Rotation()).Compose(uncrop), nil
	case *CropRotateResize:
		return Affine(*v)
	default:
		return geometry.AffineTransform{}, fmt.Errorf("%w: %T", ErrUnknownChain, c)
	}
}

// Forward maps a point in original-image pixels to phase-1 pixels.
func Forward(c Chain, p geometry.Point2D) (geometry.Point2D, error) {
	m, err := Affine(c)
	if err != nil {
		return geometry.Point2D{}, err
	}
	return m.Apply(p), nil
}

// Inverse maps a point in phase-1 pixels back to original-image pixels:
// un-resize, un-rotate about the crop center by +RotationDeg, then un-crop.
func Inverse(c Chain, p geometry.Point2D) (geometry.Point2D, error) {
	switch v := c.(type) {
	case ResizeOnly:
		if v.ScaleX == 0 || v.ScaleY == 0 {
			return geometry.Point2D{}, fmt.Errorf("resize_only chain has zero scale (%g, %g)", v.ScaleX, v.ScaleY)
		}
		return geometry.Point2D{X: p.X / v.ScaleX, Y: p.Y / v.ScaleY}, nil
	case *ResizeOnly:
		return Inverse(*v, p)
	case CropRotateResize:
		if v.ScaleX == 0 || v.ScaleY == 0 {
			return geometry.Point2D{}, fmt.Errorf("crop_rotate_resize chain has zero scale (%g, %g)", v.ScaleX, v.ScaleY)
		}
		rotated := geometry.Point2D{X: p.X / v.ScaleX, Y: p.Y / v.ScaleY}
		cropped := geometry.RotationAbout(v.CropCenter, v.RotationDeg).Apply(rotated)
		return cropped.Add(geometry.Point2D{X: float64(v.Crop.X1), Y: float64(v.Crop.Y1)}), nil
	case *CropRotateResize:
		return Inverse(*v, p)
	default:
		return geometry.Point2D{}, fmt.Errorf("%w: %T", ErrUnknownChain, c)
	}
}
