// Package keypoints defines the five canonical watch-face keypoints and the two
// ways of placing them on a query image: projection through a homography and
// a purely geometric estimate from an oriented box.
package keypoints

import (
	"encoding/json"
	"fmt"

	"watch-keypoints/pkg/geometry"
)

// Names lists the canonical keypoints in their fixed order.
var Names = []string{"top", "bottom", "left", "right", "center"}

// Set holds the five canonical keypoints in normalized [0,1] coordinates.
type Set struct {
	Top    geometry.Point2D
	Bottom geometry.Point2D
	Left   geometry.Point2D
	Right  geometry.Point2D
	Center geometry.Point2D
}

// DefaultCentered is the last-resort layout used when a homography cannot be inverted.
func DefaultCentered() Set {
	return Set{
		Top:    geometry.Point2D{X: 0.5, Y: 0.2},
		Bottom: geometry.Point2D{X: 0.5, Y: 0.8},
		Left:   geometry.Point2D{X: 0.2, Y: 0.5},
		Right:  geometry.Point2D{X: 0.8, Y: 0.5},
		Center: geometry.Point2D{X: 0.5, Y: 0.5},
	}
}

// Get returns the keypoint with the given canonical name.
func (s Set) Get(name string) (geometry.Point2D, bool) {
	switch name {
	case "top":
		return s.Top, true
	case "bottom":
		return s.Bottom, true
	case "left":
		return s.Left, true
	case "right":
		return s.Right, true
	case "center":
		return s.Center, true
	}
	return geometry.Point2D{}, false
}

// With returns a copy of s with the named keypoint replaced.
func (s Set) With(name string, p geometry.Point2D) (Set, error) {
	switch name {
	case "top":
		s.Top = p
	case "bottom":
		s.Bottom = p
	case "left":
		s.Left = p
	case "right":
		s.Right = p
	case "center":
		s.Center = p
	default:
		return s, fmt.Errorf("unknown keypoint %q", name)
	}
	return s, nil
}

// Points returns the keypoints in Names order.
func (s Set) Points() []geometry.Point2D {
	return []geometry.Point2D{s.Top, s.Bottom, s.Left, s.Right, s.Center}
}

// Clamp returns s with every coordinate clamped to [0,1].
func (s Set) Clamp() Set {
	return Set{
		Top:    s.Top.Clamp01(),
		Bottom: s.Bottom.Clamp01(),
		Left:   s.Left.Clamp01(),
		Right:  s.Right.Clamp01(),
		Center: s.Center.Clamp01(),
	}
}

// Valid reports whether every coordinate lies in [0,1].
func (s Set) Valid() bool {
	for _, p := range s.Points() {
		if !p.In01() {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as {"top": [x, y], ...}.
func (s Set) MarshalJSON() ([]byte, error) {
	m := make(map[string][2]float64, len(Names))
	for i, p := range s.Points() {
		m[Names[i]] = [2]float64{p.X, p.Y}
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes {"top": [x, y], ...}; all five names are required.
func (s *Set) UnmarshalJSON(data []byte) error {
	var m map[string][2]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out Set
	for _, name := range Names {
		v, ok := m[name]
		if !ok {
			return fmt.Errorf("missing keypoint %q", name)
		}
		out, _ = out.With(name, geometry.Point2D{X: v[0], Y: v[1]})
	}
	*s = out
	return nil
}
