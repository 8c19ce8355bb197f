// Package cvutil converts between Go images and gocv matrices.
package cvutil

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"golang.org/x/image/draw"
)

// ImageToMat converts an image to a BGR Mat. The caller closes the result.
func ImageToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return gocv.Mat{}, fmt.Errorf("empty image")
	}

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*w || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

// MatToImage converts a BGR Mat back to an RGBA image.
func MatToImage(mat gocv.Mat) (*image.RGBA, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(mat, &rgba, gocv.ColorBGRToRGBA)

	w, h := rgba.Cols(), rgba.Rows()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(out.Pix, rgba.ToBytes())
	return out, nil
}

// FloatGray builds a single-channel float32 Mat from row-major intensities.
func FloatGray(pix []float32, width, height int) (gocv.Mat, error) {
	if width*height != len(pix) || len(pix) == 0 {
		return gocv.Mat{}, fmt.Errorf("intensity buffer %d does not match %dx%d", len(pix), width, height)
	}
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV32F)
	for y := 0; y < height; y++ {
		row := pix[y*width : (y+1)*width]
		for x, v := range row {
			mat.SetFloatAt(y, x, v)
		}
	}
	return mat, nil
}

// ByteGray builds an 8-bit single-channel Mat from intensities in [0,1].
func ByteGray(pix []float32, width, height int) (gocv.Mat, error) {
	if width*height != len(pix) || len(pix) == 0 {
		return gocv.Mat{}, fmt.Errorf("intensity buffer %d does not match %dx%d", len(pix), width, height)
	}
	buf := make([]byte, len(pix))
	for i, v := range pix {
		buf[i] = ToByte(v)
	}
	return gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8U, buf)
}

// ToByte maps an intensity in [0,1] to 0..255 with rounding and clamping.
func ToByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}
