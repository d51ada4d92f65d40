package export

import (
	"image"
	"math"
)

// Rect is a face bounding box as reported by the detector, in source pixel coordinates.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Width returns Right-Left. It is negative for inverted boxes.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns Bottom-Top. It is negative for inverted boxes.
func (r Rect) Height() int { return r.Bottom - r.Top }

// FromImage converts an image.Rectangle, such as a crop region, to a Rect.
func FromImage(r image.Rectangle) Rect {
	return Rect{Left: r.Min.X, Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y}
}

// IsSmall reports whether both sides of the face are below minSize.
// A face that is narrow but tall (or the reverse) is not small.
func IsSmall(r Rect, minSize int) bool {
	return r.Width() < minSize && r.Height() < minSize
}

// Expand grows the face box by floor(side*rate) on each side and clamps the
// result to bounds. The returned rectangle may be empty when the face lies
// entirely outside the frame.
func Expand(r Rect, rate float64, bounds image.Rectangle) image.Rectangle {
	mw := int(math.Floor(float64(r.Width()) * rate))
	mh := int(math.Floor(float64(r.Height()) * rate))

	head := image.Rectangle{
		Min: image.Point{X: r.Left - mw, Y: r.Top - mh},
		Max: image.Point{X: r.Right + mw, Y: r.Bottom + mh},
	}

	// Clamp each edge independently; Intersect would canonicalize inverted boxes.
	if head.Min.X < bounds.Min.X {
		head.Min.X = bounds.Min.X
	}
	if head.Max.X > bounds.Max.X {
		head.Max.X = bounds.Max.X
	}
	if head.Min.Y < bounds.Min.Y {
		head.Min.Y = bounds.Min.Y
	}
	if head.Max.Y > bounds.Max.Y {
		head.Max.Y = bounds.Max.Y
	}

	if head.Min.X >= head.Max.X || head.Min.Y >= head.Max.Y {
		return image.Rectangle{}
	}
	return head
}
