package ai

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"detectionapi/internal/model"
)

const (
	annotationThickness = 2
	annotationFontScale = 0.5
	labelOffset         = 10
)

var annotationColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}

// Annotate draws each detection's box and label onto a copy of img.
// The returned Mat is owned by the caller; img is not modified.
func Annotate(img gocv.Mat, detections model.DetectionSet) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.Mat{}, fmt.Errorf("%w: empty image", ErrImageDecode)
	}

	out := img.Clone()
	height := out.Rows()

	for _, det := range detections {
		if err := gocv.Rectangle(&out, det.Box.Rect(), annotationColor, annotationThickness); err != nil {
			out.Close()
			return gocv.Mat{}, fmt.Errorf("failed to draw rectangle: %w", err)
		}

		if err := gocv.PutText(&out, det.Label, labelOrigin(det.Box, height), gocv.FontHersheySimplex, annotationFontScale, annotationColor, annotationThickness); err != nil {
			out.Close()
			return gocv.Mat{}, fmt.Errorf("failed to draw text: %w", err)
		}
	}

	return out, nil
}

// labelOrigin places the label baseline above the box, kept inside the image.
func labelOrigin(box model.BoundingBox, height int) image.Point {
	y := box.Y1 - labelOffset
	if y < labelOffset {
		y = min(box.Y1+2*labelOffset, height-1)
	}
	return image.Pt(box.X1, y)
}
