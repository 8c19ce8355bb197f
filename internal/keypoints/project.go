package keypoints

import (
	"errors"
	"fmt"

	"github.com/edaniels/golog"

	"watch-keypoints/internal/homography"
	"watch-keypoints/internal/transform"
	"watch-keypoints/pkg/geometry"
)

// Projection is the outcome of projecting template keypoints onto a query image.
type Projection struct {
	Keypoints Set
	// Singular is set when H could not be inverted and DefaultCentered was used.
	Singular bool
}

// Project maps normalized template keypoints into normalized original-image
// coordinates: template px -> H^-1 -> phase-1 px -> inverse chain -> original px.
// A singular H yields DefaultCentered with Singular set. Errors are only
// returned for malformed transform chains.
func Project(
	h homography.Matrix,
	template Set,
	templateSize geometry.Size,
	originalSize geometry.Size,
	chain transform.Chain,
	logger golog.Logger,
) (Projection, error) {
	hInv, err := h.Inverse()
	if err != nil {
		if errors.Is(err, homography.ErrSingular) {
			logger.Warnw("singular homography, using centered default keypoints", "error", err)
			return Projection{Keypoints: DefaultCentered(), Singular: true}, nil
		}
		return Projection{}, err
	}

	var out Set
	for i, tp := range template.Points() {
		tpx := tp.Denormalize(templateSize)
		phase1 := hInv.Apply(tpx)
		orig, err := transform.Inverse(chain, phase1)
		if err != nil {
			return Projection{}, fmt.Errorf("projecting %s: %w", Names[i], err)
		}
		norm := orig.Normalize(originalSize).Clamp01()
		logger.Debugf("  %s: template=(%.1f,%.1f) -> phase1=(%.1f,%.1f) -> orig=(%.1f,%.1f) -> norm=(%.3f,%.3f)",
			Names[i], tpx.X, tpx.Y, phase1.X, phase1.Y, orig.X, orig.Y, norm.X, norm.Y)
		out, _ = out.With(Names[i], norm)
	}
	return Projection{Keypoints: out}, nil
}
