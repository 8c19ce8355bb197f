package geometry

import (
	"math"
	"testing"
)

func TestRotationAboutKeepsCenter(t *testing.T) {
	c := Point2D{X: 120, Y: 80}
	for _, deg := range []float64{-170, -45, 0, 15, 90, 181} {
		got := RotationAbout(c, deg).Apply(c)
		if got.Distance(c) > 1e-9 {
			t.Errorf("deg=%v: center moved to %v", deg, got)
		}
	}
}

func TestRotationAboutDirection(t *testing.T) {
	// +90 degrees in image coordinates (y down) takes a point to the right of
	// the center to a point above it.
	c := Point2D{X: 0, Y: 0}
	got := RotationAbout(c, 90).Apply(Point2D{X: 10, Y: 0})
	if math.Abs(got.X) > 1e-9 || math.Abs(got.Y+10) > 1e-9 {
		t.Errorf("got %v, want (0,-10)", got)
	}
}

func TestAffineInverseCompose(t *testing.T) {
	m := Scale(2, 3).Compose(RotationAbout(Point2D{X: 5, Y: 7}, 33)).Compose(Translation(-4, 9))
	inv, ok := m.Inverse()
	if !ok {
		t.Fatal("expected invertible transform")
	}
	p := Point2D{X: 13.5, Y: -2.25}
	back := inv.Apply(m.Apply(p))
	if back.Distance(p) > 1e-9 {
		t.Errorf("round trip: got %v, want %v", back, p)
	}

	if _, ok := Scale(0, 1).Inverse(); ok {
		t.Error("expected singular transform")
	}
}

func TestNormalizeClamp(t *testing.T) {
	s := NewSize(200, 100)
	p := Point2D{X: 250, Y: -10}.Normalize(s)
	if p.In01() {
		t.Fatalf("%v should be outside the unit square", p)
	}
	c := p.Clamp01()
	if c.X != 1 || c.Y != 0 {
		t.Errorf("clamp: got %v", c)
	}
	if got := (Point2D{X: math.NaN(), Y: 0.5}).Clamp01(); got.X != 0 {
		t.Errorf("NaN should clamp to 0, got %v", got)
	}
	if got := (Point2D{X: 0.5, Y: 0.25}).Denormalize(s); got.X != 100 || got.Y != 25 {
		t.Errorf("denormalize: got %v", got)
	}
}

func TestCollinear(t *testing.T) {
	if !Collinear(Point2D{0, 0}, Point2D{1, 1}, Point2D{5, 5}, 1e-9) {
		t.Error("points on y=x should be collinear")
	}
	if Collinear(Point2D{0, 0}, Point2D{10, 0}, Point2D{0, 10}, 1e-3) {
		t.Error("right triangle should not be collinear")
	}
}
