// Package pipeline chains detection, dense matching, homography estimation
// and keypoint projection into a single Predict call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"sync"
	"time"

	"github.com/edaniels/golog"

	"watch-keypoints/internal/config"
	"watch-keypoints/internal/detect"
	"watch-keypoints/internal/homography"
	"watch-keypoints/internal/keypoints"
	"watch-keypoints/internal/match"
	"watch-keypoints/internal/raster"
	"watch-keypoints/internal/template"
	"watch-keypoints/pkg/geometry"
)

// Version identifies the prediction method in batch records.
const Version = "yolo-loftr-homography-v1.0"

// Estimator fits a homography from query (phase-1) points to template points.
// It must follow homography.EstimateWithOptions' return conventions.
type Estimator func(query, template []geometry.Point2D, opts homography.Options) (*homography.Matrix, int, float64)

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithEstimator replaces the RANSAC estimator.
func WithEstimator(e Estimator) Option {
	return func(p *Pipeline) { p.estimate = e }
}

// Pipeline owns the detector, matcher and template for its lifetime.
// Predict calls are serialized.
type Pipeline struct {
	mu sync.Mutex

	aligner     *detect.Aligner
	matcher     *match.Matcher
	template    *template.Template
	templatePix *match.Intensity
	estimate    Estimator
	logger      golog.Logger
	detectModel detect.Model
	matchModel  match.Model

	paddingFactor       float64
	matchThreshold      float64
	homographyOpts      homography.Options
	seed                int64
	obbPadding          float64
	confidenceThreshold float64
}

// New builds a pipeline from already constructed models and template.
func New(cfg *config.Config, detectModel detect.Model, matchModel match.Model, tmpl *template.Template, logger golog.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: nil config")
	}
	if detectModel == nil || matchModel == nil {
		return nil, errors.New("pipeline: detector and matcher models are required")
	}
	if tmpl == nil || tmpl.Image == nil {
		return nil, errors.New("pipeline: template is required")
	}

	hopts := homography.DefaultOptions()
	hopts.RansacThreshold = cfg.Homography.RansacThreshold
	hopts.MinInliers = cfg.Homography.MinInliers
	if cfg.Homography.MaxIterations > 0 {
		hopts.MaxIterations = cfg.Homography.MaxIterations
	}

	p := &Pipeline{
		aligner:             detect.NewAligner(detectModel, tmpl.Size, cfg.Detector.ConfThreshold, logger),
		matcher:             match.NewMatcher(matchModel, logger),
		template:            tmpl,
		templatePix:         match.NewIntensity(tmpl.Image),
		estimate:            homography.EstimateWithOptions,
		logger:              logger,
		detectModel:         detectModel,
		matchModel:          matchModel,
		paddingFactor:       cfg.Detector.PaddingFactor,
		matchThreshold:      cfg.Matcher.MatchThreshold,
		homographyOpts:      hopts,
		seed:                cfg.Homography.Seed,
		obbPadding:          keypoints.DefaultOBBPadding,
		confidenceThreshold: cfg.ConfidenceThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}

	logger.Infow("pipeline ready",
		"template", tmpl.Model,
		"template_size", fmt.Sprintf("%.0fx%.0f", tmpl.Size.Width, tmpl.Size.Height),
		"detector", detectModel.Version(),
		"matcher", matchModel.Version())
	return p, nil
}

// Version returns the pipeline version string.
func (p *Pipeline) Version() string {
	return Version
}

// Info describes the pipeline and its effective thresholds.
func (p *Pipeline) Info() map[string]any {
	return map[string]any{
		"type":                 "homography_keypoints",
		"version":              Version,
		"description":          "YOLO + LoFTR + Homography pipeline for watch keypoint detection",
		"confidence_threshold": p.confidenceThreshold,
		"template_model":       p.template.Model,
		"steps":                []string{"yolo_obb_detection", "loftr_matching", "ransac_homography", "keypoint_projection"},
		"detector":             p.detectModel.Info(),
		"matcher":              p.matchModel.Info(),
		"config": map[string]any{
			"yolo_conf_threshold":   p.aligner.ConfThreshold(),
			"loftr_match_threshold": p.matchThreshold,
			"ransac_threshold":      p.homographyOpts.RansacThreshold,
			"min_inliers":           p.homographyOpts.MinInliers,
			"padding_factor":        p.paddingFactor,
		},
	}
}

// PredictFile loads the image at path and runs Predict.
func (p *Pipeline) PredictFile(path string) Result {
	img, err := raster.Load(path)
	if err != nil {
		p.logger.Errorf("failed to load image %s: %v", path, err)
		return failed(0, 0, fmt.Sprintf("Image load failed: %s", path), map[string]any{
			"stage":  string(StageLoadImage),
			"reason": ReasonImageLoadFailed,
			"path":   path,
		})
	}
	return p.Predict(img)
}

// PredictContext runs Predict and returns a failed result as soon as ctx is
// done. See PredictTimeout.
func (p *Pipeline) PredictContext(ctx context.Context, img image.Image) Result {
	return p.PredictTimeout(ctx, img, 0)
}

// PredictTimeout waits for the pipeline under ctx, then runs every stage on
// img. A positive timeout bounds the run itself and starts once the pipeline
// is acquired. A call abandoned while waiting never runs. A run that is
// abandoned is not interrupted; it finishes in the background and holds the
// pipeline until then.
func (p *Pipeline) PredictTimeout(ctx context.Context, img image.Image, timeout time.Duration) Result {
	w, h := imageSize(img)
	cancelled := func(err error) Result {
		p.logger.Warnf("prediction abandoned: %v", err)
		return failed(w, h, fmt.Sprintf("Prediction cancelled: %v", err), map[string]any{
			"stage":  string(StageFailed),
			"reason": ReasonCancelled,
			"error":  err.Error(),
		})
	}
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	started := make(chan struct{})
	done := make(chan Result, 1)
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		close(started)
		done <- p.predictLocked(img)
	}()

	select {
	case <-started:
	case <-ctx.Done():
		return cancelled(ctx.Err())
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case res := <-done:
		return res
	case <-runCtx.Done():
		return cancelled(runCtx.Err())
	}
}

// Predict runs every stage on img and always returns exactly one Result.
func (p *Pipeline) Predict(img image.Image) Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.predictLocked(img)
}

func (p *Pipeline) predictLocked(img image.Image) (res Result) {
	w, h := imageSize(img)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("pipeline panic: %v", r)
			res = pipelineError(w, h, StageFailed, fmt.Errorf("panic: %v", r))
		}
	}()

	if w <= 0 || h <= 0 {
		p.logger.Error("failed to load image: empty image")
		return failed(0, 0, "Image load failed: empty image", map[string]any{
			"stage":  string(StageLoadImage),
			"reason": ReasonImageLoadFailed,
		})
	}
	p.logger.Infof("loaded image: %dx%d", w, h)

	res, err := p.run(img, w, h)
	if err != nil {
		p.logger.Errorf("pipeline error: %v", err)
		return pipelineError(w, h, StageFailed, err)
	}
	return res
}

func (p *Pipeline) run(img image.Image, w, h int) (Result, error) {
	// Detect
	al := p.aligner.DetectAndAlign(img, p.paddingFactor)
	if al.Failed() {
		p.logger.Warnf("YOLO detection failed: %s", al.Reason)
		return failed(w, h, "YOLO detection failed: "+al.Reason, map[string]any{
			"stage":  string(StageDetect),
			"phase":  "yolo",
			"reason": al.Reason,
		}), nil
	}

	// Match
	corr, err := p.matcher.Match(match.NewIntensity(al.Phase1), p.templatePix, p.matchThreshold)
	if err != nil {
		return Result{}, err
	}
	if !corr.Enough() {
		p.logger.Warnf("insufficient LoFTR matches (%d < %d), using OBB-based fallback", corr.Len(), match.MinCorrespondences)
		if al.OBB == nil {
			p.logger.Error("no OBB data available for fallback")
			return failed(w, h, "Insufficient LoFTR matches and no OBB data for fallback", map[string]any{
				"stage":       string(StageMatch),
				"phase":       "loftr",
				"reason":      ReasonNoOBBAfterMatching,
				"num_matches": corr.Len(),
			}), nil
		}
		debug := p.detectionDebug(al, corr.Len())
		debug["stage"] = string(StageMatch)
		debug["method"] = MethodFallbackMatches
		debug["fallback_reason"] = fmt.Sprintf("insufficient_loftr_matches (%d < %d)", corr.Len(), match.MinCorrespondences)
		return p.fallback(al, w, h, debug), nil
	}

	// Homography
	opts := p.homographyOpts
	if p.seed != 0 {
		opts.Rand = rand.New(rand.NewSource(p.seed))
	}
	H, inliers, hconf := p.estimate(corr.Query, corr.Template, opts)
	if H == nil {
		p.logger.Warnf("homography failed (%d inliers < %d), using OBB-based fallback", inliers, opts.MinInliers)
		if al.OBB == nil {
			p.logger.Error("no OBB data available for fallback")
			return failed(w, h, "Homography failed and no OBB data for fallback", map[string]any{
				"stage":       string(StageHomography),
				"phase":       "homography",
				"reason":      ReasonNoOBBAfterHomography,
				"num_matches": corr.Len(),
				"inliers":     inliers,
			}), nil
		}
		debug := p.detectionDebug(al, corr.Len())
		debug["stage"] = string(StageHomography)
		debug["homography_inliers"] = inliers
		debug["method"] = MethodFallbackHomography
		debug["fallback_reason"] = fmt.Sprintf("insufficient_inliers (%d < %d)", inliers, opts.MinInliers)
		return p.fallback(al, w, h, debug), nil
	}

	// Project
	if al.OBB == nil || al.OBB.Chain == nil {
		p.logger.Error("no transform chain for projection")
		return pipelineError(w, h, StageProject, errors.New("no transform chain for projection")), nil
	}
	p.logger.Infof("projecting keypoints: template=%.0fx%.0f, phase1=%.0fx%.0f, original=%dx%d",
		p.template.Size.Width, p.template.Size.Height, al.OBB.Phase1Size.Width, al.OBB.Phase1Size.Height, w, h)
	proj, err := keypoints.Project(*H, p.template.Keypoints, p.template.Size,
		geometry.NewSize(float64(w), float64(h)), al.OBB.Chain, p.logger)
	if err != nil {
		p.logger.Errorf("projection failed: %v", err)
		return pipelineError(w, h, StageProject, err), nil
	}

	debug := p.detectionDebug(al, corr.Len())
	debug["stage"] = string(StageDone)
	debug["homography_inliers"] = inliers
	debug["method"] = MethodHomography
	if proj.Singular {
		debug["projection_fallback"] = ProjectionSingular
	}
	p.logger.Infof("prediction successful: %d inliers, conf=%.3f", inliers, hconf)

	kps := proj.Keypoints
	return Result{
		Success:     true,
		Keypoints:   &kps,
		Confidence:  hconf,
		ImageWidth:  w,
		ImageHeight: h,
		DebugInfo:   debug,
	}, nil
}

func (p *Pipeline) fallback(al detect.Alignment, w, h int, debug map[string]any) Result {
	kps := keypoints.EstimateFromOBB(*al.OBB, p.obbPadding, p.logger)
	return Result{
		Success:     true,
		Keypoints:   &kps,
		Confidence:  al.Confidence,
		ImageWidth:  w,
		ImageHeight: h,
		DebugInfo:   debug,
	}
}

func (p *Pipeline) detectionDebug(al detect.Alignment, matches int) map[string]any {
	debug := map[string]any{
		"yolo_detections": al.NumDetections,
		"yolo_confidence": al.Confidence,
		"loftr_matches":   matches,
		"template_model":  p.template.Model,
	}
	if al.OBB != nil {
		debug["yolo_used_whole_image"] = al.OBB.UsedWholeImage
		debug["yolo_box_height_ratio"] = al.OBB.BoxHeightRatio
	}
	return debug
}

func pipelineError(w, h int, stage Stage, err error) Result {
	return failed(w, h, fmt.Sprintf("Pipeline error: %v", err), map[string]any{
		"stage":  string(stage),
		"reason": ReasonPipelineError,
		"error":  err.Error(),
	})
}

func imageSize(img image.Image) (int, int) {
	if img == nil {
		return 0, 0
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}
