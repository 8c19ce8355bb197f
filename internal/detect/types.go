// Package detect locates the watch face with an oriented-box detector and
// produces the canonicalized phase-1 image the matcher works on.
package detect

import (
	"image"

	"watch-keypoints/internal/transform"
	"watch-keypoints/pkg/geometry"
)

// MinBoxRatio is the smallest accepted max(width, height) / image height.
// Smaller boxes are treated as false positives.
const MinBoxRatio = 0.10

// CropMargin is the crop side relative to the larger box side.
const CropMargin = 1.3

// OrientedBox is a detection in original-image pixels. RotationDeg is the
// box angle in degrees, following OpenCV's convention for image axes.
type OrientedBox struct {
	CenterX     float64 `json:"center_x"`
	CenterY     float64 `json:"center_y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	RotationDeg float64 `json:"rotation_deg"`
	Confidence  float64 `json:"confidence"`
	ClassID     int     `json:"class_id"`
}

// Center returns the box center.
func (b OrientedBox) Center() geometry.Point2D {
	return geometry.Point2D{X: b.CenterX, Y: b.CenterY}
}

// MaxSide returns the larger of width and height.
func (b OrientedBox) MaxSide() float64 {
	return max(b.Width, b.Height)
}

// WholeImageBox returns the sentinel box covering an entire image.
func WholeImageBox(width, height int) OrientedBox {
	return OrientedBox{
		CenterX: float64(width) / 2,
		CenterY: float64(height) / 2,
		Width:   float64(width),
		Height:  float64(height),
	}
}

// OBBData is what the detector hands to later stages: the box, the original
// image size and how phase-1 was derived. Treat it as read-only.
type OBBData struct {
	Box            OrientedBox
	ImageWidth     int
	ImageHeight    int
	UsedWholeImage bool
	BoxHeightRatio float64
	Chain          transform.Chain
	Phase1Size     geometry.Size
}

// ImageSize returns the original image size.
func (d OBBData) ImageSize() geometry.Size {
	return geometry.NewSize(float64(d.ImageWidth), float64(d.ImageHeight))
}

// Alignment is the result of DetectAndAlign. Phase1 and OBB are nil when
// detection failed, in which case Reason starts with "yolo_error: ".
type Alignment struct {
	Phase1        image.Image
	NumDetections int
	Confidence    float64
	Reason        string
	OBB           *OBBData
}

// Failed reports whether detection failed outright.
func (a Alignment) Failed() bool {
	return a.Phase1 == nil
}

// Model is an oriented-box detector. Implementations return every detection
// they consider valid; filtering and selection happen in the Aligner.
type Model interface {
	Predict(img image.Image) ([]OrientedBox, error)
	Version() string
	Info() map[string]any
}
