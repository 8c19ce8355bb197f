// Package template loads the reference watch-face template: an image plus its
// five annotated keypoints.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"watch-keypoints/internal/keypoints"
	"watch-keypoints/internal/raster"
	"watch-keypoints/pkg/geometry"
)

// ErrInvalidAnnotations is returned when annotations.json is malformed.
var ErrInvalidAnnotations = errors.New("invalid template annotations")

// AnnotationsFile is the sidecar file name inside a template directory.
const AnnotationsFile = "annotations.json"

// imageNames are tried in order.
var imageNames = []string{"template.jpeg", "template.jpg"}

// Annotations is the on-disk format of annotations.json.
type Annotations struct {
	ImageSize  []float64            `json:"image_size"`
	CoordsNorm map[string][]float64 `json:"coords_norm"`
}

// Template is a loaded reference template. It is not modified after Load.
type Template struct {
	Model     string
	Image     image.Image
	Size      geometry.Size
	Keypoints keypoints.Set
}

// Load reads <dir>/<model>/annotations.json and the template image next to it.
func Load(dir, model string) (*Template, error) {
	modelDir := filepath.Join(dir, model)
	if st, err := os.Stat(modelDir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("template directory not found: %s. Available templates: %s",
			modelDir, availableList(dir))
	}

	annPath := filepath.Join(modelDir, AnnotationsFile)
	ann, err := LoadAnnotations(annPath)
	if err != nil {
		return nil, err
	}
	size, kps, err := ann.Validate()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", annPath, err)
	}

	var img image.Image
	for _, name := range imageNames {
		p := filepath.Join(modelDir, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		img, err = raster.Load(p)
		if err != nil {
			return nil, fmt.Errorf("failed to load template image: %w", err)
		}
		break
	}
	if img == nil {
		return nil, fmt.Errorf("template image not found: %s/template.jpeg or template.jpg", modelDir)
	}

	return &Template{
		Model:     model,
		Image:     img,
		Size:      size,
		Keypoints: kps,
	}, nil
}

// LoadAnnotations reads an annotations.json file without validating it.
func LoadAnnotations(path string) (*Annotations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("annotations file not found: %w", err)
	}

	var ann Annotations
	if err := json.Unmarshal(data, &ann); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAnnotations, path, err)
	}
	return &ann, nil
}

// Save writes the annotations as indented JSON.
func (a *Annotations) Save(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the annotations and returns the template size and keypoints.
func (a *Annotations) Validate() (geometry.Size, keypoints.Set, error) {
	if len(a.ImageSize) == 0 {
		return geometry.Size{}, keypoints.Set{}, fmt.Errorf("%w: missing 'image_size'", ErrInvalidAnnotations)
	}
	if len(a.ImageSize) != 2 || a.ImageSize[0] <= 0 || a.ImageSize[1] <= 0 {
		return geometry.Size{}, keypoints.Set{}, fmt.Errorf("%w: image_size must be [width, height] > 0, got %v",
			ErrInvalidAnnotations, a.ImageSize)
	}
	if a.CoordsNorm == nil {
		return geometry.Size{}, keypoints.Set{}, fmt.Errorf("%w: missing 'coords_norm'", ErrInvalidAnnotations)
	}

	var missing []string
	var set keypoints.Set
	for _, name := range keypoints.Names {
		v, ok := a.CoordsNorm[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if len(v) != 2 {
			return geometry.Size{}, keypoints.Set{}, fmt.Errorf("%w: %s must be [x, y], got %v", ErrInvalidAnnotations, name, v)
		}
		p := geometry.Point2D{X: v[0], Y: v[1]}
		if !p.In01() {
			return geometry.Size{}, keypoints.Set{}, fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalidAnnotations, name, v)
		}
		set, _ = set.With(name, p)
	}
	if len(missing) > 0 {
		return geometry.Size{}, keypoints.Set{}, fmt.Errorf("%w: missing required keypoints: %s",
			ErrInvalidAnnotations, strings.Join(missing, ", "))
	}
	return geometry.NewSize(a.ImageSize[0], a.ImageSize[1]), set, nil
}

// Available lists template models under dir that have an annotations file.
func Available(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Name(), AnnotationsFile)); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func availableList(dir string) string {
	names, err := Available(dir)
	if err != nil {
		return "unknown"
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
