// Package loftr runs a LoFTR dense matcher exported to ONNX through OpenCV's
// dnn module.
//
// The export takes two grayscale inputs named image0 and image1 shaped
// [1, 1, H, W] with values in [0,1] and sides divisible by 8, and produces
// keypoints0, keypoints1 and confidence.
package loftr

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/edaniels/golog"
	"gocv.io/x/gocv"

	"watch-keypoints/internal/cvutil"
	"watch-keypoints/internal/match"
	"watch-keypoints/pkg/geometry"
)

// Granularity is the side multiple LoFTR's coarse level requires.
const Granularity = 8

var outputNames = []string{"keypoints0", "keypoints1", "confidence"}

// WeightsPath returns the checkpoint file for a weights variant.
func WeightsPath(modelsDir, weights string) string {
	return filepath.Join(modelsDir, "loftr_"+weights+".onnx")
}

// Model is a match.Model backed by a gocv.Net.
type Model struct {
	mu      sync.Mutex
	net     gocv.Net
	path    string
	weights string
	maxDim  int
	logger  golog.Logger
}

var _ match.Model = (*Model)(nil)

// New loads loftr_<weights>.onnx from modelsDir. Inputs are downscaled so the
// longer side is at most maxDim.
func New(modelsDir, weights string, maxDim int, logger golog.Logger) (*Model, error) {
	if weights != "indoor" && weights != "outdoor" {
		return nil, fmt.Errorf("unknown LoFTR weights %q (want indoor or outdoor)", weights)
	}
	path := WeightsPath(modelsDir, weights)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("LoFTR checkpoint not found: %s", path)
	}
	if maxDim < Granularity {
		return nil, fmt.Errorf("max dimension %d below %d", maxDim, Granularity)
	}

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load LoFTR network from %s", path)
	}
	logger.Infof("Loaded LoFTR (%s weights) from %s", weights, path)
	return &Model{net: net, path: path, weights: weights, maxDim: maxDim, logger: logger}, nil
}

// fitDims returns the network input size for a w x h image: scaled down to
// fit maxDim and rounded down to a multiple of Granularity.
func fitDims(w, h, maxDim int) (int, int) {
	scale := math.Min(1, float64(maxDim)/float64(max(w, h)))
	round := func(v int) int {
		s := int(float64(v)*scale) / Granularity * Granularity
		return max(s, Granularity)
	}
	return round(w), round(h)
}

// blob resizes im to the network size and returns it as a [1,1,H,W] tensor
// along with the per-axis factors mapping network pixels back to im.
func (m *Model) blob(im *match.Intensity) (gocv.Mat, float64, float64, error) {
	gray, err := cvutil.FloatGray(im.Pix, im.Width, im.Height)
	if err != nil {
		return gocv.Mat{}, 0, 0, err
	}
	defer gray.Close()

	w, h := fitDims(im.Width, im.Height, m.maxDim)
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationArea)

	blob := gocv.BlobFromImage(resized, 1.0, image.Pt(w, h), gocv.NewScalar(0, 0, 0, 0), false, false)
	return blob, float64(im.Width) / float64(w), float64(im.Height) / float64(h), nil
}

// Predict matches query against template. Keypoints are returned in the
// pixel coordinates of the inputs.
func (m *Model) Predict(query, template *match.Intensity) ([]match.Match, error) {
	if query == nil || template == nil {
		return nil, errors.New("missing input image")
	}
	b0, sx0, sy0, err := m.blob(query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer b0.Close()
	b1, sx1, sy1, err := m.blob(template)
	if err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	defer b1.Close()

	k0, k1, conf, err := m.forward(b0, b1)
	if err != nil {
		return nil, err
	}
	matches, err := collect(k0, k1, conf, scale{sx0, sy0}, scale{sx1, sy1})
	if err != nil {
		return nil, err
	}
	m.logger.Debugw("loftr", "matches", len(matches))
	return matches, nil
}

func (m *Model) forward(b0, b1 gocv.Mat) (k0, k1, conf []float32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.net.SetInput(b0, "image0")
	m.net.SetInput(b1, "image1")
	outs := m.net.ForwardLayers(outputNames)
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()
	if len(outs) != len(outputNames) {
		return nil, nil, nil, fmt.Errorf("LoFTR returned %d outputs, want %d", len(outs), len(outputNames))
	}

	vals := make([][]float32, len(outs))
	for i, out := range outs {
		if out.Empty() {
			continue
		}
		ptr, err := out.DataPtrFloat32()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("reading %s: %w", outputNames[i], err)
		}
		vals[i] = append([]float32(nil), ptr...)
	}
	return vals[0], vals[1], vals[2], nil
}

type scale struct{ x, y float64 }

// collect zips flat [N,2] keypoint buffers with their confidences, mapping
// network pixels back through the given scales.
func collect(k0, k1, conf []float32, s0, s1 scale) ([]match.Match, error) {
	n := len(conf)
	if len(k0) != 2*n || len(k1) != 2*n {
		return nil, fmt.Errorf("LoFTR output sizes disagree: %d, %d keypoint values for %d confidences",
			len(k0), len(k1), n)
	}
	out := make([]match.Match, n)
	for i := range out {
		out[i] = match.Match{
			Query:      geometry.Point2D{X: float64(k0[2*i]) * s0.x, Y: float64(k0[2*i+1]) * s0.y},
			Template:   geometry.Point2D{X: float64(k1[2*i]) * s1.x, Y: float64(k1[2*i+1]) * s1.y},
			Confidence: float64(conf[i]),
		}
	}
	return out, nil
}

// Version identifies the weights.
func (m *Model) Version() string {
	return "loftr-" + m.weights
}

// Info describes the loaded model.
func (m *Model) Info() map[string]any {
	return map[string]any{
		"weights":       m.weights,
		"checkpoint":    m.path,
		"runtime":       "opencv-dnn",
		"max_dimension": m.maxDim,
	}
}

// Close releases the network.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
