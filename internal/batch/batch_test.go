package batch

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"watch-keypoints/internal/keypoints"
	"watch-keypoints/internal/pipeline"
	"watch-keypoints/pkg/geometry"
)

var predicted = keypoints.Set{
	Top:    geometry.Point2D{X: 0.48, Y: 0.12},
	Bottom: geometry.Point2D{X: 0.52, Y: 0.88},
	Left:   geometry.Point2D{X: 0.11, Y: 0.49},
	Right:  geometry.Point2D{X: 0.89, Y: 0.51},
	Center: geometry.Point2D{X: 0.5, Y: 0.5},
}

// widthPredictor picks its outcome from the image width: 100 succeeds, 120
// takes the OBB fallback, anything else fails.
type widthPredictor struct {
	calls   int
	timeout time.Duration
	panic   bool
}

func (p *widthPredictor) PredictTimeout(_ context.Context, img image.Image, timeout time.Duration) pipeline.Result {
	p.calls++
	p.timeout = timeout
	if p.panic {
		panic("onnx runtime crashed")
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	kps := predicted
	switch w {
	case 100:
		return pipeline.Result{Success: true, Keypoints: &kps, Confidence: 0.87654, ImageWidth: w, ImageHeight: h,
			DebugInfo: map[string]any{"method": pipeline.MethodHomography}}
	case 120:
		return pipeline.Result{Success: true, Keypoints: &kps, Confidence: 0.5, ImageWidth: w, ImageHeight: h,
			DebugInfo: map[string]any{"method": pipeline.MethodFallbackMatches}}
	default:
		return pipeline.Result{ImageWidth: w, ImageHeight: h, ErrorMessage: "YOLO detection failed: yolo_error: boom",
			DebugInfo: map[string]any{"phase": "yolo", "reason": "yolo_error: boom"}}
	}
}

func (p *widthPredictor) Version() string { return pipeline.Version }

func writeImage(t *testing.T, path string, width int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, imaging.Save(imaging.New(width, 80, color.NRGBA{R: 40, G: 40, B: 40, A: 255}), path))
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func readAnnotations(t *testing.T, path string) map[string]json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}
