package thumb

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// MaxEdge is the longest edge of a generated thumbnail, sized for the
// history strip.
const MaxEdge = 160

// Scale decodes an image payload and re-encodes it as a PNG whose longest
// edge is at most maxEdge, preserving aspect ratio. Payloads already small
// enough are re-encoded at their original size.
func Scale(payload []byte, maxEdge int) ([]byte, error) {
	if maxEdge <= 0 {
		maxEdge = MaxEdge
	}

	src, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("empty image %dx%d", w, h)
	}

	tw, th := w, h
	if w > maxEdge || h > maxEdge {
		if w >= h {
			tw = maxEdge
			th = h * maxEdge / w
		} else {
			th = maxEdge
			tw = w * maxEdge / h
		}
		if tw < 1 {
			tw = 1
		}
		if th < 1 {
			th = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
