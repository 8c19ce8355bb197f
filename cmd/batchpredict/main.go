// Command batchpredict runs the keypoint pipeline over a directory of watch
// photos and writes per-watch annotation files.
//
// Images are processed one at a time. Progress is kept in a SQLite database so
// an interrupted run resumes where it stopped; -force starts over.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/edaniels/golog"

	"watch-keypoints/internal/backend"
	"watch-keypoints/internal/batch"
	"watch-keypoints/internal/config"
	"watch-keypoints/internal/monitor"
	"watch-keypoints/internal/pipeline"
	"watch-keypoints/internal/store"
	"watch-keypoints/internal/version"
)

type options struct {
	configPath     string
	imagesDir      string
	labelsDir      string
	outputDir      string
	force          bool
	resume         bool
	watchID        string
	checkpointFreq int
	timeout        time.Duration
	monitorAddr    string
	stats          bool
	debug          bool
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to config.yaml (defaults are used when empty)")
	flag.StringVar(&opts.imagesDir, "images", "", "Override batch.images_dir")
	flag.StringVar(&opts.labelsDir, "labels", "", "Override batch.labels_dir")
	flag.StringVar(&opts.outputDir, "output", "", "Override batch.output_dir")
	flag.BoolVar(&opts.force, "force", false, "Reprocess everything and clear saved progress")
	flag.BoolVar(&opts.resume, "resume", true, "Skip images recorded in the progress database")
	flag.StringVar(&opts.watchID, "watch-id", "", "Only process this watch")
	flag.IntVar(&opts.checkpointFreq, "checkpoint-freq", 0, "Save every N images (overrides batch.checkpoint_freq)")
	flag.DurationVar(&opts.timeout, "timeout", -1, "Per-image prediction deadline (overrides batch.image_timeout)")
	flag.StringVar(&opts.monitorAddr, "monitor", "", "Serve live progress over websocket on this address (e.g. :8090)")
	flag.BoolVar(&opts.stats, "stats", false, "Print progress database statistics and exit")
	flag.BoolVar(&opts.debug, "debug", false, "Verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String(pipeline.Version))
		return 0
	}

	var logger golog.Logger
	if opts.debug {
		logger = golog.NewDebugLogger("batchpredict")
	} else {
		logger = golog.NewLogger("batchpredict")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	applyFlags(cfg, opts)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open progress database: %v\n", err)
		return 1
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.stats {
		if err := printStats(ctx, st); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read progress: %v\n", err)
			return 1
		}
		return 0
	}

	logger.Infof("%s", version.String(pipeline.Version))
	p, models, err := backend.NewPipeline(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize pipeline: %v\n", err)
		return 1
	}
	defer models.Close()

	var publisher batch.Publisher
	if cfg.Batch.MonitorAddr != "" {
		hub := monitor.NewHub(logger)
		go hub.Run(ctx)
		srv := startMonitor(cfg.Batch.MonitorAddr, hub, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("Monitor shutdown: %v", err)
			}
		}()
		publisher = hub
	}

	driver := batch.NewDriver(
		batch.NewScanner(cfg.Batch.ImagesDir, cfg.Batch.LabelsDir, cfg.Batch.OutputDir, logger),
		batch.NewRunner(p, cfg.Batch.ImageTimeout, logger),
		batch.NewSaver(cfg.Batch.OutputDir, logger),
		st, publisher, cfg.Hash(),
		batch.Options{
			Force:          opts.force,
			Resume:         opts.resume,
			WatchID:        opts.watchID,
			CheckpointFreq: cfg.Batch.CheckpointFreq,
		},
		logger)

	summary, err := driver.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Batch prediction failed: %v\n", err)
		return 1
	}
	summary.Write(os.Stdout, cfg.Batch.OutputDir)
	if summary.Interrupted {
		logger.Warn("Interrupted; run again to resume")
		return 130
	}
	return 0
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.imagesDir != "" {
		cfg.Batch.ImagesDir = opts.imagesDir
	}
	if opts.labelsDir != "" {
		cfg.Batch.LabelsDir = opts.labelsDir
	}
	if opts.outputDir != "" {
		cfg.Batch.OutputDir = opts.outputDir
	}
	if opts.checkpointFreq > 0 {
		cfg.Batch.CheckpointFreq = opts.checkpointFreq
	}
	if opts.timeout >= 0 {
		cfg.Batch.ImageTimeout = opts.timeout
	}
	if opts.monitorAddr != "" {
		cfg.Batch.MonitorAddr = opts.monitorAddr
	}
}

func startMonitor(addr string, hub *monitor.Hub, logger golog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("Progress monitor listening on ws://%s/ws", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Progress monitor: %v", err)
		}
	}()
	return srv
}

func printStats(ctx context.Context, st *store.Store) error {
	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Processed:           %d\n", stats.Processed)
	fmt.Printf("Successful:          %d\n", stats.Successful)
	fmt.Printf("Pipeline fallback:   %d\n", stats.PipelineFallback)
	fmt.Printf("Geometric fallback:  %d\n", stats.GeometricFallback)

	failures, err := st.Failures(ctx)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		return nil
	}
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Printf("\nFailures (%d):\n", len(ids))
	for _, id := range ids {
		fmt.Printf("  %s: %s\n", id, failures[id])
	}
	return nil
}
