package detect

import (
	"errors"
	"fmt"
	"image"
	"sort"

	"github.com/edaniels/golog"

	"watch-keypoints/internal/raster"
	"watch-keypoints/internal/transform"
	"watch-keypoints/pkg/geometry"
)

// Aligner runs a detector and canonicalizes its best detection.
type Aligner struct {
	model         Model
	templateSize  geometry.Size
	confThreshold float64
	logger        golog.Logger
}

// NewAligner creates an Aligner producing phase-1 images sized relative to templateSize.
func NewAligner(model Model, templateSize geometry.Size, confThreshold float64, logger golog.Logger) *Aligner {
	return &Aligner{
		model:         model,
		templateSize:  templateSize,
		confThreshold: confThreshold,
		logger:        logger,
	}
}

// ConfThreshold returns the minimum detection confidence.
func (a *Aligner) ConfThreshold() float64 {
	return a.confThreshold
}

// DetectAndAlign detects the watch face and returns the phase-1 image, which
// is template size times paddingFactor on each axis. With no usable detection
// the whole image is resized instead. Any error or panic from the model or the
// image operations gives a failed Alignment with no OBB data.
func (a *Aligner) DetectAndAlign(img image.Image, paddingFactor float64) (res Alignment) {
	defer func() {
		if r := recover(); r != nil {
			res = failedAlignment(fmt.Errorf("panic: %v", r))
		}
	}()

	if img == nil {
		return failedAlignment(errors.New("nil image"))
	}
	bounds := img.Bounds()
	imgW, imgH := bounds.Dx(), bounds.Dy()
	if imgW <= 0 || imgH <= 0 {
		return failedAlignment(fmt.Errorf("empty image %dx%d", imgW, imgH))
	}
	padW := int(a.templateSize.Width * paddingFactor)
	padH := int(a.templateSize.Height * paddingFactor)
	if padW <= 0 || padH <= 0 {
		return failedAlignment(fmt.Errorf("invalid phase-1 size %dx%d", padW, padH))
	}

	boxes, err := a.model.Predict(img)
	if err != nil {
		return failedAlignment(err)
	}

	kept := make([]OrientedBox, 0, len(boxes))
	for _, b := range boxes {
		if b.Confidence > a.confThreshold {
			kept = append(kept, b)
		}
	}

	if len(kept) == 0 {
		a.logger.Infow("no detections, using whole image", "width", imgW, "height", imgH)
		obb := &OBBData{
			Box:            WholeImageBox(imgW, imgH),
			ImageWidth:     imgW,
			ImageHeight:    imgH,
			UsedWholeImage: true,
			BoxHeightRatio: 1.0,
		}
		return a.wholeImage(img, obb, padW, padH, 0, 0)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Confidence > kept[j].Confidence })
	best := kept[0]
	if len(kept) > 1 {
		a.logger.Debugf("%d detections, using the most confident (%.3f)", len(kept), best.Confidence)
	}

	ratio := best.MaxSide() / float64(imgH)
	obb := &OBBData{
		Box:            best,
		ImageWidth:     imgW,
		ImageHeight:    imgH,
		BoxHeightRatio: ratio,
	}

	if ratio < MinBoxRatio {
		a.logger.Infof("box too small (%.1f%% of image height), using whole image", ratio*100)
		obb.UsedWholeImage = true
		return a.wholeImage(img, obb, padW, padH, len(kept), best.Confidence)
	}

	side := int(best.MaxSide() * CropMargin)
	half := side / 2
	x1 := max(0, int(best.CenterX-float64(half)))
	y1 := max(0, int(best.CenterY-float64(half)))
	x2 := min(imgW, int(best.CenterX+float64(half)))
	y2 := min(imgH, int(best.CenterY+float64(half)))
	if x2 <= x1 || y2 <= y1 {
		return failedAlignment(fmt.Errorf("empty crop (%d,%d)-(%d,%d) for box at (%.1f,%.1f)",
			x1, y1, x2, y2, best.CenterX, best.CenterY))
	}

	crop := raster.Crop(img, image.Rect(x1, y1, x2, y2))
	cropCenter := geometry.Point2D{X: best.CenterX - float64(x1), Y: best.CenterY - float64(y1)}
	rotated := raster.RotateAbout(crop, cropCenter, -best.RotationDeg)
	phase1 := raster.Resize(rotated, padW, padH)

	cropW, cropH := x2-x1, y2-y1
	obb.Chain = transform.CropRotateResize{
		Crop:        transform.CropBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		CropCenter:  cropCenter,
		RotationDeg: best.RotationDeg,
		ScaleX:      float64(padW) / float64(cropW),
		ScaleY:      float64(padH) / float64(cropH),
	}
	obb.Phase1Size = geometry.NewSize(float64(padW), float64(padH))

	a.logger.Infof("aligned: box=(%.1f,%.1f %.1fx%.1f rot=%.1f) conf=%.3f crop=%dx%d",
		best.CenterX, best.CenterY, best.Width, best.Height, best.RotationDeg, best.Confidence, cropW, cropH)

	return Alignment{
		Phase1:        phase1,
		NumDetections: len(kept),
		Confidence:    best.Confidence,
		OBB:           obb,
	}
}

func (a *Aligner) wholeImage(img image.Image, obb *OBBData, padW, padH, n int, conf float64) Alignment {
	b := img.Bounds()
	obb.Chain = transform.ResizeOnly{
		ScaleX: float64(padW) / float64(b.Dx()),
		ScaleY: float64(padH) / float64(b.Dy()),
	}
	obb.Phase1Size = geometry.NewSize(float64(padW), float64(padH))
	return Alignment{
		Phase1:        raster.Resize(img, padW, padH),
		NumDetections: n,
		Confidence:    conf,
		OBB:           obb,
	}
}

func failedAlignment(err error) Alignment {
	return Alignment{Reason: "yolo_error: " + err.Error()}
}
