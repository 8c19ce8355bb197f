// Command predict runs the keypoint pipeline on one image and prints the
// result as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/edaniels/golog"

	"watch-keypoints/internal/backend"
	"watch-keypoints/internal/config"
	"watch-keypoints/internal/keypoints"
	"watch-keypoints/internal/pipeline"
	"watch-keypoints/internal/raster"
	"watch-keypoints/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config.yaml (defaults are used when empty)")
	imagePath := flag.String("image", "", "Path to the watch photo")
	overlayPath := flag.String("overlay", "", "Write the image with predicted keypoints drawn to this path")
	debug := flag.Bool("debug", false, "Verbose stage logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String(pipeline.Version))
		return 0
	}
	if *imagePath == "" && flag.NArg() > 0 {
		*imagePath = flag.Arg(0)
	}
	if *imagePath == "" {
		fmt.Println("Usage: predict -image <photo> [-config config.yaml] [-overlay out.png] [-debug]")
		return 1
	}

	var logger golog.Logger
	if *debug {
		logger = golog.NewDebugLogger("predict")
	} else {
		logger = golog.NewLogger("predict")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	p, models, err := backend.NewPipeline(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize pipeline: %v\n", err)
		return 1
	}
	defer models.Close()

	res := p.PredictFile(*imagePath)
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		return 1
	}
	fmt.Println(string(out))

	if res.Success && res.Confidence < cfg.ConfidenceThreshold {
		logger.Warnf("Confidence %.3f below review threshold %.2f", res.Confidence, cfg.ConfidenceThreshold)
	}

	if *overlayPath != "" && res.Keypoints != nil {
		if err := writeOverlay(*imagePath, *overlayPath, *res.Keypoints); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write overlay: %v\n", err)
			return 1
		}
		logger.Infof("Overlay written to %s", *overlayPath)
	}

	if !res.Success {
		return 2
	}
	return 0
}

func writeOverlay(imagePath, outPath string, kps keypoints.Set) error {
	img, err := raster.Load(imagePath)
	if err != nil {
		return err
	}
	markers := make([]raster.Marker, 0, len(keypoints.Names))
	for _, name := range keypoints.Names {
		pt, _ := kps.Get(name)
		markers = append(markers, raster.Marker{Name: name, Point: pt})
	}
	return raster.Save(raster.DrawMarkers(img, markers), outPath)
}
