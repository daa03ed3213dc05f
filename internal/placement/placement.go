package placement

import "errors"

var (
	// ErrOutsideImage means the point landed in the letterbox margin
	// around the rendered image content.
	ErrOutsideImage = errors.New("point outside rendered image content")

	// ErrDegenerateGeometry means the container or image has a zero or
	// negative dimension, typically because layout has not happened yet.
	ErrDegenerateGeometry = errors.New("degenerate container or image geometry")
)

// Point is a position in container pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle in container pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether the point lies within the rectangle, edges inclusive.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// RelativePosition is a placement expressed as percentages of the rendered
// image content, independent of container size and letterboxing. Both values
// are in [0, 100].
type RelativePosition struct {
	XPercent float64 `json:"xPercent"`
	YPercent float64 `json:"yPercent"`
}

// ToPixels converts the relative position back to container pixels given the
// rendered content rect it was computed against.
func (p RelativePosition) ToPixels(content Rect) Point {
	return Point{
		X: content.X + content.Width*p.XPercent/100,
		Y: content.Y + content.Height*p.YPercent/100,
	}
}

// Fit computes the rect the image content occupies inside the container under
// "contain" scaling: the image is scaled to fit entirely within the container,
// preserving aspect ratio, centered on both axes. The margin outside the
// returned rect is letterbox.
func Fit(containerW, containerH, naturalW, naturalH float64) (Rect, error) {
	if containerW <= 0 || containerH <= 0 || naturalW <= 0 || naturalH <= 0 {
		return Rect{}, ErrDegenerateGeometry
	}

	imageAspect := naturalW / naturalH
	containerAspect := containerW / containerH

	var renderedW, renderedH float64
	if imageAspect > containerAspect {
		// Image relatively wider: spans full container width.
		renderedW = containerW
		renderedH = containerW / imageAspect
	} else {
		// Image relatively taller (or equal): spans full container height.
		renderedH = containerH
		renderedW = containerH * imageAspect
	}

	return Rect{
		X:      (containerW - renderedW) / 2,
		Y:      (containerH - renderedH) / 2,
		Width:  renderedW,
		Height: renderedH,
	}, nil
}

// MapToImage converts a container-relative pointer position into a position
// relative to the rendered image content, as percentages. Points landing in
// the letterbox margin are rejected with ErrOutsideImage rather than clamped,
// so a drop outside the photo never triggers a generation.
func MapToImage(pointerX, pointerY, containerW, containerH, naturalW, naturalH float64) (RelativePosition, error) {
	content, err := Fit(containerW, containerH, naturalW, naturalH)
	if err != nil {
		return RelativePosition{}, err
	}

	imageX := pointerX - content.X
	imageY := pointerY - content.Y

	if imageX < 0 || imageX > content.Width || imageY < 0 || imageY > content.Height {
		return RelativePosition{}, ErrOutsideImage
	}

	return RelativePosition{
		XPercent: imageX / content.Width * 100,
		YPercent: imageY / content.Height * 100,
	}, nil
}
