// Package imaging turns a captured challenge region into a set of cleaned,
// binarized bitmaps that a text recognizer can read.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Default region used when the caller's box is unusable.
const (
	DefaultRegionWidth  = 300
	DefaultRegionHeight = 80
)

// Box is a bounding box in frame pixel coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts b to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

func boxFromRect(r image.Rectangle) Box {
	return Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// CapturedRegion is an encoded screenshot frame plus the box that contains
// the challenge image. It is treated as read-only.
type CapturedRegion struct {
	Frame []byte
	Box   Box
}

// FullFrame returns a region whose box is the whole frame. Used when the
// frame already is the challenge image.
func FullFrame(frame []byte) (CapturedRegion, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return CapturedRegion{}, &DecodeError{Err: err}
	}
	return CapturedRegion{Frame: frame, Box: Box{Width: cfg.Width, Height: cfg.Height}}, nil
}

// DecodeError means the frame bytes are not a decodable image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode captured frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var errEmptyFrame = errors.New("empty frame")

func decode(frame []byte) (image.Image, error) {
	if len(frame) == 0 {
		return nil, &DecodeError{Err: errEmptyFrame}
	}
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &DecodeError{Err: errEmptyFrame}
	}
	return img, nil
}

// effectiveRect clamps box to bounds. A degenerate box, or one that does not
// overlap the frame, is replaced by a centered default-sized region; if even
// that is empty the whole frame is used. The bool reports a substitution.
func effectiveRect(box Box, bounds image.Rectangle) (image.Rectangle, bool) {
	if !box.Empty() {
		r := box.Rect().Intersect(bounds)
		if !r.Empty() {
			return r, false
		}
	}

	cx := bounds.Min.X + bounds.Dx()/2
	cy := bounds.Min.Y + bounds.Dy()/2
	r := image.Rect(
		cx-DefaultRegionWidth/2, cy-DefaultRegionHeight/2,
		cx+DefaultRegionWidth/2, cy+DefaultRegionHeight/2,
	).Intersect(bounds)
	if r.Empty() {
		return bounds, true
	}
	return r, true
}

// crop copies r out of src into a new image anchored at the origin.
func crop(src image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}
