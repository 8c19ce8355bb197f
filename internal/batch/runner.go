package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edaniels/golog"

	"watch-keypoints/internal/pipeline"
	"watch-keypoints/internal/raster"
)

// Predictor is the part of the pipeline the runner needs.
type Predictor interface {
	PredictTimeout(ctx context.Context, img image.Image, timeout time.Duration) pipeline.Result
	Version() string
}

// Outcome describes how an annotation was produced.
type Outcome struct {
	Annotator string
	Method    string
	// Error is the pipeline's error message when it produced no keypoints.
	Error string
	// ErrorKind groups errors for the summary histogram.
	ErrorKind   string
	ImageSHA256 string
}

// Runner applies the three-tier strategy: full pipeline, the pipeline's own
// OBB fallback, then a fixed geometric layout.
type Runner struct {
	predictor Predictor
	timeout   time.Duration
	logger    golog.Logger
	now       func() time.Time
}

// NewRunner creates a Runner. A positive timeout bounds each prediction.
func NewRunner(predictor Predictor, timeout time.Duration, logger golog.Logger) *Runner {
	return &Runner{predictor: predictor, timeout: timeout, logger: logger, now: time.Now}
}

// Run predicts keypoints for the image at path. It always returns an annotation.
func (r *Runner) Run(path string) (ann Annotation, out Outcome) {
	name := filepath.Base(path)
	out.ImageSHA256 = fileSHA256(path)

	img, err := raster.Load(path)
	if err != nil {
		r.logger.Errorf("failed to load image %s: %v", path, err)
		out.Annotator = AnnotatorGeometricFallback
		out.Error = fmt.Sprintf("Image load failed: %s", path)
		out.ErrorKind = pipeline.ReasonImageLoadFailed
		return geometricFallback(unreadableImageSize, unreadableImageSize, name, r.now()), out
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("exception during prediction for %s: %v", name, rec)
			ann = geometricFallback(w, h, name, r.now())
			out.Annotator = AnnotatorGeometricFallback
			out.Error = fmt.Sprintf("Pipeline error: %v", rec)
			out.ErrorKind = pipeline.ReasonPipelineError
		}
	}()

	res := r.predictor.PredictTimeout(context.Background(), img, r.timeout)

	if !res.Success || res.Keypoints == nil {
		r.logger.Warnf("pipeline failed for %s: %s", name, res.ErrorMessage)
		out.Annotator = AnnotatorGeometricFallback
		out.Error = res.ErrorMessage
		out.ErrorKind = res.Reason()
		if out.ErrorKind == "" {
			out.ErrorKind = "unknown_error"
		}
		return geometricFallback(w, h, name, r.now()), out
	}

	out.Method = res.Method()
	out.Annotator = AnnotatorPipeline
	method := strings.ToLower(out.Method)
	if strings.Contains(method, "pipeline_fallback") || strings.Contains(method, "obb") {
		out.Annotator = AnnotatorPipelineFallback
	}

	debug := res.DebugInfo
	if debug == nil {
		debug = map[string]any{}
	}
	return Annotation{
		ImageSize:     [2]int{w, h},
		CoordsNorm:    *res.Keypoints,
		FullImageName: name,
		Confidence:    roundConfidence(res.Confidence),
		Timestamp:     r.now().Format(timestampLayout),
		DebugInfo:     debug,
		Annotator:     out.Annotator,
	}, out
}

func fileSHA256(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}
