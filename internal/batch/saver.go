package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
)

// Saver buffers predictions per watch and merges them into
// <OutputDir>/<watch_id>.json.
type Saver struct {
	OutputDir string
	pending   map[string]map[string]Annotation
	logger    golog.Logger
}

// NewSaver creates a Saver.
func NewSaver(outputDir string, logger golog.Logger) *Saver {
	return &Saver{
		OutputDir: outputDir,
		pending:   make(map[string]map[string]Annotation),
		logger:    logger,
	}
}

// Add buffers an annotation.
func (s *Saver) Add(watchID, imageID string, ann Annotation) {
	if s.pending[watchID] == nil {
		s.pending[watchID] = make(map[string]Annotation)
	}
	s.pending[watchID][imageID] = ann
}

// Pending returns the number of buffered annotations.
func (s *Saver) Pending() int {
	n := 0
	for _, anns := range s.pending {
		n += len(anns)
	}
	return n
}

// SaveAll writes every buffered watch. New entries replace existing entries
// with the same image id; other entries in the file are kept unchanged.
// Watches that were written are removed from the buffer.
func (s *Saver) SaveAll() error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var errs []error
	for watchID, anns := range s.pending {
		if err := s.saveWatch(watchID, anns); err != nil {
			s.logger.Errorf("failed to save predictions for %s: %v", watchID, err)
			errs = append(errs, err)
			continue
		}
		delete(s.pending, watchID)
	}
	return errors.Join(errs...)
}

func (s *Saver) saveWatch(watchID string, anns map[string]Annotation) error {
	path := filepath.Join(s.OutputDir, watchID+".json")

	merged := make(map[string]json.RawMessage)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &merged); err != nil {
			s.logger.Warnf("failed to load existing annotations from %s: %v", path, err)
			merged = make(map[string]json.RawMessage)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	for id, ann := range anns {
		raw, err := json.Marshal(ann)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", id, err)
		}
		merged[id] = raw
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return err
	}
	s.logger.Infof("saved %d predictions to %s", len(anns), path)
	return nil
}
