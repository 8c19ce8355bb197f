package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edaniels/golog"

	"watch-keypoints/internal/monitor"
	"watch-keypoints/internal/store"
)

// Options control a batch run.
type Options struct {
	// Force reprocesses everything and clears stored progress.
	Force bool
	// Resume skips images already recorded in the progress store.
	Resume bool
	// WatchID restricts the run to one watch directory.
	WatchID        string
	CheckpointFreq int
}

// Publisher receives progress events.
type Publisher interface {
	Publish(ev monitor.Event)
}

// Driver processes scanned images strictly one at a time.
type Driver struct {
	scanner    *Scanner
	runner     *Runner
	saver      *Saver
	store      *store.Store
	publisher  Publisher
	configHash string
	opts       Options
	logger     golog.Logger
}

// NewDriver wires the batch components. publisher may be nil.
func NewDriver(scanner *Scanner, runner *Runner, saver *Saver, st *store.Store, publisher Publisher, configHash string, opts Options, logger golog.Logger) *Driver {
	if opts.CheckpointFreq <= 0 {
		opts.CheckpointFreq = 10
	}
	return &Driver{
		scanner:    scanner,
		runner:     runner,
		saver:      saver,
		store:      st,
		publisher:  publisher,
		configHash: configHash,
		opts:       opts,
		logger:     logger,
	}
}

// Run scans, predicts and saves until every image is done or ctx is
// cancelled. Cancellation takes effect between images; buffered predictions
// are saved before returning either way.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := newSummary()

	items, skipped, err := d.scanner.Scan(!d.opts.Force, d.opts.WatchID)
	if err != nil {
		return nil, err
	}
	summary.SkippedExisting = skipped
	if len(items) == 0 {
		d.logger.Info("no images to process")
		return summary, nil
	}

	switch {
	case d.opts.Force:
		d.logger.Infof("force mode: reprocessing all %d images", len(items))
		if err := d.store.Reset(ctx); err != nil {
			return nil, err
		}
	case d.opts.Resume:
		done, err := d.store.ProcessedIDs(ctx)
		if err != nil {
			return nil, err
		}
		remaining := items[:0]
		for _, it := range items {
			if !done[it.ImageID] {
				remaining = append(remaining, it)
			}
		}
		items = remaining
		d.logger.Infof("resuming: %d images remaining", len(items))
	}

	summary.Total = len(items)
	if len(items) == 0 {
		d.logger.Info("all images already processed")
		return summary, nil
	}

	version := d.runner.predictor.Version()
	runID, err := d.store.StartRun(ctx, len(items), skipped, version, d.configHash)
	if err != nil {
		return nil, err
	}
	d.publish(monitor.Event{Type: "start", Total: len(items)})
	d.logger.Infof("processing %d images", len(items))

	var errs []error
	for idx, it := range items {
		n := idx + 1
		if ctx.Err() != nil {
			d.logger.Info("processing interrupted")
			summary.Interrupted = true
			break
		}

		d.logger.Infof("[%d/%d] processing %s", n, len(items), it.Path)
		ann, out := d.runner.Run(it.Path)
		d.saver.Add(it.WatchID, it.ImageID, ann)
		summary.add(out)

		rec := store.Record{
			ImageID:         it.ImageID,
			WatchID:         it.WatchID,
			Annotator:       out.Annotator,
			Success:         out.Annotator == AnnotatorPipeline,
			Confidence:      ann.Confidence,
			ImageSHA256:     out.ImageSHA256,
			PipelineVersion: version,
			ConfigHash:      d.configHash,
			Error:           out.Error,
		}
		// Progress writes use a fresh context so an interrupt never loses the
		// record of an image that was already predicted.
		if err := d.store.MarkProcessed(context.WithoutCancel(ctx), rec); err != nil {
			d.logger.Errorf("failed to record progress for %s: %v", it.ImageID, err)
			errs = append(errs, err)
		}
		d.logger.Infof("[%d/%d] %s (confidence: %.3f)", n, len(items), out.Annotator, ann.Confidence)

		d.publish(monitor.Event{
			Type:       "image",
			Index:      n,
			Total:      len(items),
			ImageID:    it.ImageID,
			WatchID:    it.WatchID,
			Annotator:  out.Annotator,
			Method:     out.Method,
			Confidence: ann.Confidence,
			Error:      out.Error,
			Counts:     summary.counts(),
		})

		if n%d.opts.CheckpointFreq == 0 {
			if err := d.saver.SaveAll(); err != nil {
				errs = append(errs, err)
			}
			elapsed := time.Since(start)
			d.logger.Infow("checkpoint saved",
				"processed", n,
				"total", len(items),
				"successful", summary.Successful,
				"pipeline_fallback", summary.PipelineFallback,
				"geometric_fallback", summary.GeometricFallback,
				"elapsed", FormatDuration(elapsed),
				"eta", FormatDuration(elapsed/time.Duration(n)*time.Duration(len(items)-n)))
		}
	}

	d.logger.Info("saving final predictions")
	if err := d.saver.SaveAll(); err != nil {
		errs = append(errs, err)
	}
	if err := d.store.FinishRun(context.WithoutCancel(ctx), runID); err != nil {
		errs = append(errs, err)
	}
	summary.Elapsed = time.Since(start)
	d.publish(monitor.Event{Type: "summary", Index: summary.Processed, Total: summary.Total, Counts: summary.counts()})

	if len(errs) > 0 {
		return summary, fmt.Errorf("batch finished with errors: %w", errors.Join(errs...))
	}
	return summary, nil
}

func (d *Driver) publish(ev monitor.Event) {
	if d.publisher != nil {
		d.publisher.Publish(ev)
	}
}
