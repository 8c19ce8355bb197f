// Package batch runs the keypoint pipeline over a directory of watch images
// and merges the predictions into per-watch annotation files.
package batch

import (
	"math"
	"time"

	"watch-keypoints/internal/keypoints"
	"watch-keypoints/pkg/geometry"
)

// Annotator tags written with every prediction.
const (
	AnnotatorPipeline          = "ml-model-v1.0"
	AnnotatorPipelineFallback  = "ml-model-v1.0-pipeline-fallback"
	AnnotatorGeometricFallback = "ml-model-v1.0-geometric-fallback"
)

// Image size recorded when an image cannot be decoded.
const unreadableImageSize = 2048

const timestampLayout = "2006-01-02T15:04:05.000000"

// Annotation is one entry of a per-watch annotation file, keyed by image id.
type Annotation struct {
	ImageSize     [2]int         `json:"image_size"`
	CoordsNorm    keypoints.Set  `json:"coords_norm"`
	FullImageName string         `json:"full_image_name"`
	Confidence    float64        `json:"confidence"`
	Timestamp     string         `json:"timestamp"`
	DebugInfo     map[string]any `json:"debug_info"`
	Annotator     string         `json:"annotator"`
}

// GeometricLayout is the fixed layout used when the pipeline produced nothing.
func GeometricLayout() keypoints.Set {
	return keypoints.Set{
		Top:    geometry.Point2D{X: 0.5, Y: 0.1},
		Bottom: geometry.Point2D{X: 0.5, Y: 0.9},
		Left:   geometry.Point2D{X: 0.1, Y: 0.5},
		Right:  geometry.Point2D{X: 0.9, Y: 0.5},
		Center: geometry.Point2D{X: 0.5, Y: 0.5},
	}
}

func geometricFallback(width, height int, name string, now time.Time) Annotation {
	return Annotation{
		ImageSize:     [2]int{width, height},
		CoordsNorm:    GeometricLayout(),
		FullImageName: name,
		Timestamp:     now.Format(timestampLayout),
		DebugInfo:     map[string]any{"method": "geometric_fallback"},
		Annotator:     AnnotatorGeometricFallback,
	}
}

func roundConfidence(c float64) float64 {
	return math.Round(c*1000) / 1000
}
