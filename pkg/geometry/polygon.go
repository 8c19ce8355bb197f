package geometry

import "math"

// RectCorners returns the four corners of a width x height rectangle centered
// on center and rotated by degrees, in a consistent winding order. The angle
// follows RotationAbout: positive is counter-clockwise on screen.
func RectCorners(center Point2D, width, height, degrees float64) []Point2D {
	rad := degrees * math.Pi / 180
	u := Point2D{X: math.Cos(rad), Y: -math.Sin(rad)}.Scale(width / 2)
	v := Point2D{X: math.Sin(rad), Y: math.Cos(rad)}.Scale(height / 2)
	return []Point2D{
		center.Add(u).Add(v),
		center.Sub(u).Add(v),
		center.Sub(u).Sub(v),
		center.Add(u).Sub(v),
	}
}

// SignedArea returns the shoelace area of polygon: positive when the vertices
// run counter-clockwise in a y-up frame.
func SignedArea(polygon []Point2D) float64 {
	if len(polygon) < 3 {
		return 0
	}
	var sum float64
	for i, p := range polygon {
		q := polygon[(i+1)%len(polygon)]
		sum += p.X*q.Y - q.X*p.Y
	}
	return sum / 2
}

// PolygonArea returns the unsigned area of polygon.
func PolygonArea(polygon []Point2D) float64 {
	return math.Abs(SignedArea(polygon))
}

// ccw returns polygon with counter-clockwise winding, copying when it has to
// reverse.
func ccw(polygon []Point2D) []Point2D {
	if SignedArea(polygon) >= 0 {
		return polygon
	}
	out := make([]Point2D, len(polygon))
	for i, p := range polygon {
		out[len(polygon)-1-i] = p
	}
	return out
}

// IntersectPolygons computes the intersection of two convex polygons using
// the Sutherland-Hodgman algorithm. Either winding order is accepted.
// Returns nil if there is no intersection or if inputs are invalid.
func IntersectPolygons(subject, clip []Point2D) []Point2D {
	if len(subject) < 3 || len(clip) < 3 {
		return nil
	}
	clip = ccw(clip)

	output := make([]Point2D, len(subject))
	copy(output, ccw(subject))

	for i := 0; i < len(clip); i++ {
		if len(output) == 0 {
			return nil
		}
		output = clipPolygonByEdge(output, clip[i], clip[(i+1)%len(clip)])
	}

	if len(output) < 3 {
		return nil
	}
	return output
}

// ConvexIoU returns the intersection-over-union of two convex polygons.
func ConvexIoU(a, b []Point2D) float64 {
	inter := PolygonArea(IntersectPolygons(a, b))
	if inter == 0 {
		return 0
	}
	union := PolygonArea(a) + PolygonArea(b) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clipPolygonByEdge(polygon []Point2D, edgeStart, edgeEnd Point2D) []Point2D {
	var clipped []Point2D

	for i := 0; i < len(polygon); i++ {
		current := polygon[i]
		next := polygon[(i+1)%len(polygon)]

		currentInside := isInsideEdge(current, edgeStart, edgeEnd)
		nextInside := isInsideEdge(next, edgeStart, edgeEnd)

		if currentInside {
			clipped = append(clipped, current)
			if !nextInside {
				if p, ok := lineIntersection(current, next, edgeStart, edgeEnd); ok {
					clipped = append(clipped, p)
				}
			}
		} else if nextInside {
			if p, ok := lineIntersection(current, next, edgeStart, edgeEnd); ok {
				clipped = append(clipped, p)
			}
		}
	}

	return clipped
}

// isInsideEdge reports whether p lies left of the directed edge.
func isInsideEdge(p, edgeStart, edgeEnd Point2D) bool {
	return (edgeEnd.X-edgeStart.X)*(p.Y-edgeStart.Y)-
		(edgeEnd.Y-edgeStart.Y)*(p.X-edgeStart.X) >= 0
}

// lineIntersection intersects segment p1-p2 with the line through e1-e2.
func lineIntersection(p1, p2, e1, e2 Point2D) (Point2D, bool) {
	denom := (p1.X-p2.X)*(e1.Y-e2.Y) - (p1.Y-p2.Y)*(e1.X-e2.X)
	if math.Abs(denom) < 1e-10 {
		return Point2D{}, false
	}

	t := ((p1.X-e1.X)*(e1.Y-e2.Y) - (p1.Y-e1.Y)*(e1.X-e2.X)) / denom
	return Point2D{
		X: p1.X + t*(p2.X-p1.X),
		Y: p1.Y + t*(p2.Y-p1.Y),
	}, true
}
