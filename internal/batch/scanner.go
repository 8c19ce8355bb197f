package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"

	"watch-keypoints/internal/filename"
)

// Item is one image scheduled for prediction.
type Item struct {
	Path    string
	ImageID string
	WatchID string
}

// Scanner lists face and tiltface images under ImagesDir/<watch_id>/.
type Scanner struct {
	ImagesDir string
	LabelsDir string
	OutputDir string
	logger    golog.Logger
}

// NewScanner creates a Scanner.
func NewScanner(imagesDir, labelsDir, outputDir string, logger golog.Logger) *Scanner {
	return &Scanner{ImagesDir: imagesDir, LabelsDir: labelsDir, OutputDir: outputDir, logger: logger}
}

// Scan returns the images to process in directory order, and the number of
// images skipped because an annotation already exists. With skipExisting
// false nothing is skipped. A non-empty watchID restricts the scan to that
// watch directory. Only the first file of each image id is kept.
func (s *Scanner) Scan(skipExisting bool, watchID string) ([]Item, int, error) {
	s.logger.Infof("scanning images in %s", s.ImagesDir)

	watchDirs, err := os.ReadDir(s.ImagesDir)
	if err != nil {
		return nil, 0, fmt.Errorf("images directory not found: %w", err)
	}

	existing := map[string]bool{}
	if skipExisting {
		existing = s.ExistingIDs()
		s.logger.Infof("found %d already annotated images", len(existing))
	}

	var items []Item
	seen := make(map[string]bool)
	skipped := 0
	for _, dir := range watchDirs {
		if !dir.IsDir() {
			continue
		}
		if watchID != "" && dir.Name() != watchID {
			continue
		}

		files, err := filepath.Glob(filepath.Join(s.ImagesDir, dir.Name(), "*.jpg"))
		if err != nil {
			return nil, 0, err
		}
		for _, path := range files {
			meta, ok := filename.Parse(path)
			if !ok {
				continue
			}
			id := meta.ImageID()
			if existing[id] {
				skipped++
				continue
			}
			if seen[id] {
				s.logger.Debugf("skipping %s, image %s already scheduled", filepath.Base(path), id)
				continue
			}
			seen[id] = true
			items = append(items, Item{Path: path, ImageID: id, WatchID: dir.Name()})
		}
	}

	s.logger.Infof("found %d images to process", len(items))
	return items, skipped, nil
}

// ExistingIDs collects the image ids present in LabelsDir/*.json and
// OutputDir/*.json. Unreadable files are logged and skipped.
func (s *Scanner) ExistingIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, dir := range []string{s.LabelsDir, s.OutputDir} {
		if dir == "" {
			continue
		}
		files, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err != nil {
			continue
		}
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				s.logger.Warnf("failed to read %s: %v", path, err)
				continue
			}
			var entries map[string]json.RawMessage
			if err := json.Unmarshal(data, &entries); err != nil {
				s.logger.Warnf("failed to read %s: %v", path, err)
				continue
			}
			for id := range entries {
				ids[id] = true
			}
		}
	}
	return ids
}
