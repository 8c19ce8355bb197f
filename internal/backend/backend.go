// Package backend builds the inference pipeline from configuration: the
// oriented-box detector, the matcher backend and the reference template.
package backend

import (
	"errors"
	"fmt"
	"io"

	"github.com/edaniels/golog"

	"watch-keypoints/internal/config"
	"watch-keypoints/internal/detect"
	"watch-keypoints/internal/detect/yoloobb"
	"watch-keypoints/internal/match"
	"watch-keypoints/internal/match/loftr"
	"watch-keypoints/internal/match/orb"
	"watch-keypoints/internal/pipeline"
	"watch-keypoints/internal/template"
)

// Backends owns the loaded models. Close releases them.
type Backends struct {
	Detector detect.Model
	Matcher  match.Model
	Template *template.Template

	closers []io.Closer
}

// Open loads every model named by cfg. On error, anything already loaded is
// released.
func Open(cfg *config.Config, logger golog.Logger) (_ *Backends, err error) {
	b := &Backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	b.Template, err = template.Load(cfg.Template.TemplatesDir, cfg.Template.Model)
	if err != nil {
		return nil, err
	}
	logger.Infof("Loaded template %q (%.0fx%.0f)", b.Template.Model, b.Template.Size.Width, b.Template.Size.Height)

	det, err := yoloobb.New(cfg.Detector.CheckpointPath, yoloobb.Options{
		InputSize:    cfg.Detector.InputSize,
		IOUThreshold: cfg.Detector.IOUThreshold,
		MinScore:     cfg.Detector.ConfThreshold,
	}, logger)
	if err != nil {
		return nil, err
	}
	b.Detector = det
	b.closers = append(b.closers, det)

	switch cfg.Matcher.Backend {
	case "loftr":
		m, err := loftr.New(cfg.Matcher.ModelsDir, cfg.Matcher.Weights, cfg.Matcher.MaxDimension, logger)
		if err != nil {
			return nil, err
		}
		b.Matcher = m
		b.closers = append(b.closers, m)
	case "orb":
		m, err := orb.New(cfg.Matcher.MaxFeatures, cfg.Matcher.RatioTest, logger)
		if err != nil {
			return nil, err
		}
		b.Matcher = m
	default:
		return nil, fmt.Errorf("unknown matcher backend %q", cfg.Matcher.Backend)
	}
	logger.Infof("Matcher backend: %s", b.Matcher.Version())
	return b, nil
}

// Close releases the models.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// NewPipeline loads the backends and wraps them in a Pipeline. The returned
// Backends must be closed once the pipeline is no longer used.
func NewPipeline(cfg *config.Config, logger golog.Logger) (*pipeline.Pipeline, *Backends, error) {
	b, err := Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	p, err := pipeline.New(cfg, b.Detector, b.Matcher, b.Template, logger)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return p, b, nil
}
