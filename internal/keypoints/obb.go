package keypoints

import (
	"math"

	"github.com/edaniels/golog"

	"watch-keypoints/internal/detect"
	"watch-keypoints/pkg/geometry"
)

// DefaultOBBPadding is the per-side padding the detector's training boxes were
// built with around the keypoint extents.
const DefaultOBBPadding = 0.15

// EstimateFromOBB places the keypoints analytically from an oriented box,
// assuming the box is the keypoint extent padded by paddingPercent per side.
func EstimateFromOBB(obb detect.OBBData, paddingPercent float64, logger golog.Logger) Set {
	box := obb.Box
	logger.Infof("OBB fallback: center=(%.1f,%.1f), size=(%.1fx%.1f), rot=%.1f deg, img=%dx%d",
		box.CenterX, box.CenterY, box.Width, box.Height, box.RotationDeg, obb.ImageWidth, obb.ImageHeight)

	theta := box.RotationDeg * math.Pi / 180
	pad := 1 + 2*paddingPercent
	halfW := box.Width / pad / 2
	halfH := box.Height / pad / 2

	primary := geometry.Point2D{X: math.Sin(theta), Y: math.Cos(theta)}
	secondary := geometry.Point2D{X: math.Cos(theta), Y: -math.Sin(theta)}
	center := geometry.Point2D{X: box.CenterX, Y: box.CenterY}
	size := geometry.NewSize(float64(obb.ImageWidth), float64(obb.ImageHeight))

	set := Set{
		Top:    center.Sub(primary.Scale(halfH)),
		Bottom: center.Add(primary.Scale(halfH)),
		Left:   center.Sub(secondary.Scale(halfW)),
		Right:  center.Add(secondary.Scale(halfW)),
		Center: center,
	}
	var out Set
	for i, p := range set.Points() {
		norm := p.Normalize(size).Clamp01()
		logger.Debugf("  %s: px=(%.1f,%.1f) -> norm=(%.3f,%.3f)", Names[i], p.X, p.Y, norm.X, norm.Y)
		out, _ = out.With(Names[i], norm)
	}
	return out
}
