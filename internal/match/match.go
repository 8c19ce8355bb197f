// Package match finds point correspondences between the phase-1 image and the
// template with a pluggable dense matching model.
package match

import (
	"fmt"
	"image"

	"github.com/edaniels/golog"

	"watch-keypoints/internal/raster"
	"watch-keypoints/pkg/geometry"
)

// MinCorrespondences is the number of pairs needed to attempt a homography.
const MinCorrespondences = 4

// Intensity is a single-channel image with values in [0,1], row-major.
type Intensity struct {
	Pix    []float32
	Width  int
	Height int
}

// NewIntensity converts img to luma normalized to [0,1].
func NewIntensity(img image.Image) *Intensity {
	pix, w, h := raster.Intensity(img)
	return &Intensity{Pix: pix, Width: w, Height: h}
}

// At returns the value at (x, y).
func (im *Intensity) At(x, y int) float32 {
	return im.Pix[y*im.Width+x]
}

// Match is one correspondence in pixel coordinates of the two images.
type Match struct {
	Query      geometry.Point2D
	Template   geometry.Point2D
	Confidence float64
}

// Model is a dense matcher. Implementations return every correspondence they
// produce; thresholding happens in the Matcher.
type Model interface {
	Predict(query, template *Intensity) ([]Match, error)
	Version() string
	Info() map[string]any
}

// Correspondences holds parallel slices of matched points and confidences.
type Correspondences struct {
	Query      []geometry.Point2D
	Template   []geometry.Point2D
	Confidence []float64
}

// Len returns the number of pairs.
func (c Correspondences) Len() int {
	return len(c.Query)
}

// Enough reports whether a homography can be attempted.
func (c Correspondences) Enough() bool {
	return c.Len() >= MinCorrespondences
}

// Matcher wraps a Model with confidence filtering.
type Matcher struct {
	model  Model
	logger golog.Logger
}

// NewMatcher creates a Matcher around model.
func NewMatcher(model Model, logger golog.Logger) *Matcher {
	return &Matcher{model: model, logger: logger}
}

// Model returns the wrapped model.
func (m *Matcher) Model() Model {
	return m.model
}

// FindCorrespondences converts both images to intensity and matches them.
func (m *Matcher) FindCorrespondences(query, template image.Image, threshold float64) (Correspondences, error) {
	return m.Match(NewIntensity(query), NewIntensity(template), threshold)
}

// Match runs the model and keeps the pairs whose confidence is strictly
// greater than threshold. Fewer than four pairs is a normal outcome.
func (m *Matcher) Match(query, template *Intensity, threshold float64) (Correspondences, error) {
	matches, err := m.model.Predict(query, template)
	if err != nil {
		return Correspondences{}, fmt.Errorf("matcher %s: %w", m.model.Version(), err)
	}

	var out Correspondences
	for _, mt := range matches {
		if mt.Confidence > threshold {
			out.Query = append(out.Query, mt.Query)
			out.Template = append(out.Template, mt.Template)
			out.Confidence = append(out.Confidence, mt.Confidence)
		}
	}
	m.logger.Debugf("matcher: %d raw matches, %d above %.2f", len(matches), out.Len(), threshold)
	return out, nil
}
