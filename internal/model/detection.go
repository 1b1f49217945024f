package model

import "image"

// BoundingBox holds pixel corner coordinates of a detected object.
type BoundingBox struct {
	X1 int `json:"x1" firestore:"x1"`
	Y1 int `json:"y1" firestore:"y1"`
	X2 int `json:"x2" firestore:"x2"`
	Y2 int `json:"y2" firestore:"y2"`
}

// Clamp clips the box to a width x height image.
func (b BoundingBox) Clamp(width, height int) BoundingBox {
	return BoundingBox{
		X1: clamp(b.X1, 0, width),
		Y1: clamp(b.Y1, 0, height),
		X2: clamp(b.X2, 0, width),
		Y2: clamp(b.Y2, 0, height),
	}
}

// Valid reports whether the box is non-degenerate and lies inside a width x height image.
func (b BoundingBox) Valid(width, height int) bool {
	return b.X1 >= 0 && b.Y1 >= 0 &&
		b.X1 < b.X2 && b.Y1 < b.Y2 &&
		b.X2 <= width && b.Y2 <= height
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Detection represents one recognized object instance.
type Detection struct {
	Label      string      `json:"object" firestore:"object"`
	Confidence float64     `json:"confidence,omitempty" firestore:"confidence,omitempty"`
	Box        BoundingBox `json:"coordinates" firestore:"coordinates"`
}

// DetectionSet is the ordered output of a detector for a single image.
type DetectionSet []Detection

// NonNil returns the set itself, or an empty set when it is nil, so JSON encodes [] and not null.
func (s DetectionSet) NonNil() DetectionSet {
	if s == nil {
		return DetectionSet{}
	}
	return s
}

// Labels returns the label of every detection, in order.
func (s DetectionSet) Labels() []string {
	labels := make([]string, 0, len(s))
	for _, d := range s {
		labels = append(labels, d.Label)
	}
	return labels
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
