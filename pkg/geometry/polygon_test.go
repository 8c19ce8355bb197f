package geometry

import (
	"math"
	"testing"
)

func TestRectCornersArea(t *testing.T) {
	for _, deg := range []float64{0, 30, -75, 180} {
		corners := RectCorners(Point2D{X: 3, Y: -2}, 4, 2, deg)
		if got := PolygonArea(corners); math.Abs(got-8) > 1e-9 {
			t.Errorf("deg=%v: area %v, want 8", deg, got)
		}
		if c := Centroid(corners); c.Distance(Point2D{X: 3, Y: -2}) > 1e-9 {
			t.Errorf("deg=%v: centroid %v", deg, c)
		}
	}
}

func TestConvexIoU(t *testing.T) {
	square := RectCorners(Point2D{X: 5, Y: 5}, 10, 10, 0)
	shifted := RectCorners(Point2D{X: 10, Y: 10}, 10, 10, 0)
	diamond := RectCorners(Point2D{X: 5, Y: 5}, 10, 10, 45)
	far := RectCorners(Point2D{X: 100, Y: 100}, 10, 10, 0)

	reversed := make([]Point2D, len(square))
	for i, p := range square {
		reversed[len(square)-1-i] = p
	}

	tests := []struct {
		name string
		a, b []Point2D
		want float64
	}{
		{"identical", square, square, 1},
		{"reversed winding", square, reversed, 1},
		{"quarter overlap", square, shifted, 25.0 / 175.0},
		{"rotated 45", square, diamond, 1 / math.Sqrt2},
		{"disjoint", square, far, 0},
	}
	for _, tt := range tests {
		if got := ConvexIoU(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: IoU %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIntersectPolygonsInvalid(t *testing.T) {
	if got := IntersectPolygons([]Point2D{{X: 0, Y: 0}, {X: 1, Y: 1}}, RectCorners(Point2D{}, 1, 1, 0)); got != nil {
		t.Errorf("expected nil for degenerate subject, got %v", got)
	}
}

func TestRectCornersFollowRotationAbout(t *testing.T) {
	c := Point2D{X: 40, Y: 25}
	for _, deg := range []float64{-60, -15, 30, 75} {
		corners := RectCorners(c, 20, 8, deg)
		undo := RotationAbout(c, -deg)
		a, b, d := undo.Apply(corners[0]), undo.Apply(corners[1]), undo.Apply(corners[2])
		if math.Abs(a.Y-b.Y) > 1e-9 || math.Abs(math.Abs(a.X-b.X)-20) > 1e-9 {
			t.Errorf("deg=%v: width edge %v-%v not horizontal after undoing the rotation", deg, a, b)
		}
		if math.Abs(b.X-d.X) > 1e-9 || math.Abs(math.Abs(b.Y-d.Y)-8) > 1e-9 {
			t.Errorf("deg=%v: height edge %v-%v not vertical after undoing the rotation", deg, b, d)
		}
	}
}
