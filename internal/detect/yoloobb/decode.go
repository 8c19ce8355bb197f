package yoloobb

import (
	"fmt"
	"math"
	"sort"

	"watch-keypoints/internal/detect"
	"watch-keypoints/pkg/geometry"
)

// endToEndWidth is the row width of exports with built-in NMS:
// cx, cy, w, h, score, class, angle.
const endToEndWidth = 7

// decode turns a raw network output into boxes in network-input pixels.
//
// Ultralytics angles are radians, clockwise-positive in image coordinates.
// They are negated into OpenCV's counter-clockwise degrees, the convention
// OrientedBox uses.
//
// Two layouts are understood. The raw head is [1, 4+nc+1, N] with the box in
// the first four rows, one score row per class and the angle in radians in
// the last row. End-to-end exports are [1, N, 7].
func decode(data []float32, dims []int, minScore float64) ([]detect.OrientedBox, error) {
	if len(dims) == 2 {
		dims = append([]int{1}, dims...)
	}
	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	if len(data) < dims[1]*dims[2] {
		return nil, fmt.Errorf("output buffer %d smaller than shape %v", len(data), dims)
	}

	rows, cols := dims[1], dims[2]
	switch {
	case rows < cols && rows >= 6:
		return decodeRaw(data, rows, cols, minScore), nil
	case cols == endToEndWidth:
		return decodeEndToEnd(data, rows, minScore), nil
	}
	return nil, fmt.Errorf("unexpected output shape %v", dims)
}

func toOpenCVDegrees(rad float64) float64 {
	return -rad * 180 / math.Pi
}

func decodeRaw(data []float32, channels, n int, minScore float64) []detect.OrientedBox {
	at := func(c, i int) float64 { return float64(data[c*n+i]) }
	numClasses := channels - 5

	var boxes []detect.OrientedBox
	for i := 0; i < n; i++ {
		best, cls := 0.0, 0
		for c := 0; c < numClasses; c++ {
			if s := at(4+c, i); s > best {
				best, cls = s, c
			}
		}
		if best <= minScore {
			continue
		}
		boxes = append(boxes, detect.OrientedBox{
			CenterX:     at(0, i),
			CenterY:     at(1, i),
			Width:       at(2, i),
			Height:      at(3, i),
			RotationDeg: toOpenCVDegrees(at(channels-1, i)),
			Confidence:  best,
			ClassID:     cls,
		})
	}
	return boxes
}

func decodeEndToEnd(data []float32, n int, minScore float64) []detect.OrientedBox {
	var boxes []detect.OrientedBox
	for i := 0; i < n; i++ {
		row := data[i*endToEndWidth : (i+1)*endToEndWidth]
		score := float64(row[4])
		if score <= minScore {
			continue
		}
		boxes = append(boxes, detect.OrientedBox{
			CenterX:     float64(row[0]),
			CenterY:     float64(row[1]),
			Width:       float64(row[2]),
			Height:      float64(row[3]),
			Confidence:  score,
			ClassID:     int(row[5]),
			RotationDeg: toOpenCVDegrees(float64(row[6])),
		})
	}
	return boxes
}

// hull is the axis-aligned rectangle enclosing a rotated box.
type hull struct{ x0, y0, x1, y1 float64 }

func boundingHull(b detect.OrientedBox) hull {
	rad := b.RotationDeg * math.Pi / 180
	c, s := math.Abs(math.Cos(rad)), math.Abs(math.Sin(rad))
	hw := (b.Width*c + b.Height*s) / 2
	hh := (b.Width*s + b.Height*c) / 2
	return hull{b.CenterX - hw, b.CenterY - hh, b.CenterX + hw, b.CenterY + hh}
}

func (h hull) overlaps(o hull) bool {
	return h.x0 < o.x1 && o.x0 < h.x1 && h.y0 < o.y1 && o.y0 < h.y1
}

type candidate struct {
	box     detect.OrientedBox
	hull    hull
	corners []geometry.Point2D
}

func newCandidate(b detect.OrientedBox) candidate {
	return candidate{
		box:     b,
		hull:    boundingHull(b),
		corners: geometry.RectCorners(b.Center(), b.Width, b.Height, b.RotationDeg),
	}
}

// rotatedIoU is the exact overlap of two rotated boxes.
func rotatedIoU(a, b candidate) float64 {
	if !a.hull.overlaps(b.hull) {
		return 0
	}
	return geometry.ConvexIoU(a.corners, b.corners)
}

// nms keeps the highest-scoring boxes, dropping any box that overlaps a kept
// box of the same class by more than iouThreshold. The result is sorted by
// descending confidence.
func nms(boxes []detect.OrientedBox, iouThreshold float64) []detect.OrientedBox {
	sorted := make([]detect.OrientedBox, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	var kept []candidate
	for _, b := range sorted {
		c := newCandidate(b)
		suppressed := false
		for _, k := range kept {
			if k.box.ClassID == b.ClassID && rotatedIoU(c, k) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}

	out := make([]detect.OrientedBox, len(kept))
	for i, k := range kept {
		out[i] = k.box
	}
	return out
}
