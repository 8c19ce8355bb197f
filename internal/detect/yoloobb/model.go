// Package yoloobb runs an oriented-bounding-box YOLO model exported to ONNX
// through OpenCV's dnn module.
package yoloobb

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/edaniels/golog"
	"gocv.io/x/gocv"

	"watch-keypoints/internal/cvutil"
	"watch-keypoints/internal/detect"
)

// Options configures the detector.
type Options struct {
	// InputSize is the square network input side.
	InputSize int
	// IOUThreshold suppresses overlapping boxes.
	IOUThreshold float64
	// MinScore drops raw candidates before suppression.
	MinScore float64
}

// DefaultOptions matches the usual Ultralytics export.
func DefaultOptions() Options {
	return Options{InputSize: 640, IOUThreshold: 0.45, MinScore: 0.01}
}

// Model is a detect.Model backed by a gocv.Net. The net is not safe for
// concurrent use, so Predict serializes callers.
type Model struct {
	mu     sync.Mutex
	net    gocv.Net
	path   string
	opts   Options
	logger golog.Logger
}

var _ detect.Model = (*Model)(nil)

// New loads the ONNX checkpoint at path.
func New(path string, opts Options, logger golog.Logger) (*Model, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("YOLO checkpoint not found: %s", path)
	}
	if opts.InputSize <= 0 {
		opts.InputSize = DefaultOptions().InputSize
	}
	if opts.IOUThreshold <= 0 {
		opts.IOUThreshold = DefaultOptions().IOUThreshold
	}

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO network from %s", path)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, err
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, err
	}

	logger.Infof("Loaded YOLO-OBB model from %s (input %d)", path, opts.InputSize)
	return &Model{net: net, path: path, opts: opts, logger: logger}, nil
}

// Predict returns the boxes that survive suppression, in original-image
// pixels, sorted by descending confidence.
func (m *Model) Predict(img image.Image) ([]detect.OrientedBox, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("empty image")
	}
	b := img.Bounds()
	lb := newLetterbox(b.Dx(), b.Dy(), m.opts.InputSize)

	mat, err := cvutil.ImageToMat(lb.apply(img))
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(lb.Size, lb.Size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	data, dims, err := m.forward(blob)
	if err != nil {
		return nil, err
	}

	raw, err := decode(data, dims, m.opts.MinScore)
	if err != nil {
		return nil, err
	}
	kept := nms(raw, m.opts.IOUThreshold)
	for i := range kept {
		kept[i] = lb.unmap(kept[i])
	}
	m.logger.Debugw("yolo-obb", "candidates", len(raw), "kept", len(kept))
	return kept, nil
}

func (m *Model) forward(blob gocv.Mat) ([]float32, []int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, nil, errors.New("YOLO forward pass returned no output")
	}

	ptr, err := out.DataPtrFloat32()
	if err != nil {
		return nil, nil, fmt.Errorf("reading YOLO output: %w", err)
	}
	data := make([]float32, len(ptr))
	copy(data, ptr)
	return data, out.Size(), nil
}

// Version identifies the checkpoint.
func (m *Model) Version() string {
	return "yolo-obb:" + filepath.Base(m.path)
}

// Info describes the loaded model.
func (m *Model) Info() map[string]any {
	return map[string]any{
		"checkpoint":    m.path,
		"runtime":       "opencv-dnn",
		"input_size":    m.opts.InputSize,
		"iou_threshold": m.opts.IOUThreshold,
		"min_score":     m.opts.MinScore,
	}
}

// Close releases the network.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
