// Package render provides the drawing surface used by the transform stage.
//
// A Surface mirrors the small subset of a 2D canvas context that the stage
// needs: resizing (which resets drawing state), a global opacity, a
// compositing operation, image compositing, a stroked rectangle with a blurred
// shadow, and read-back of the pixels. Canvas is a software implementation on
// top of image.RGBA.
package render

import (
	"errors"
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Op is a compositing operation.
type Op int

const (
	// SourceOver draws the source on top of the destination.
	SourceOver Op = iota
	// Lighter adds source and destination, saturating each channel.
	Lighter
)

func (o Op) String() string {
	switch o {
	case SourceOver:
		return "source-over"
	case Lighter:
		return "lighter"
	default:
		return "unknown"
	}
}

// ErrInvalidSize is returned for non-positive surface dimensions.
var ErrInvalidSize = errors.New("invalid surface size")

// Options configures a new surface.
type Options struct {
	// Opaque surfaces have no alpha channel: they clear to black and every
	// pixel stays fully opaque after drawing.
	Opaque bool
}

// Stroke describes a rectangle outline and its shadow.
type Stroke struct {
	Color       color.NRGBA
	Width       float64
	ShadowColor color.NRGBA
	ShadowBlur  float64
}

// Surface is a 2D drawing target.
type Surface interface {
	// Resize sets the surface dimensions, clears it and resets the drawing
	// state (opacity 1, SourceOver).
	Resize(width, height int) error
	Size() (width, height int)
	SetGlobalAlpha(alpha float64)
	SetCompositeOperation(op Op)
	DrawImage(src image.Image, x, y int)
	StrokeRect(r image.Rectangle, s Stroke)
	// Snapshot returns a copy of the current pixels.
	Snapshot() *image.RGBA
	Close() error
}

// Factory creates surfaces. The transform stage receives one so tests can
// substitute their own backend.
type Factory func(width, height int, opts Options) (Surface, error)

// NewCanvasSurface is a Factory backed by Canvas.
func NewCanvasSurface(width, height int, opts Options) (Surface, error) {
	return NewCanvas(width, height, opts)
}

// ParseColor parses a CSS hex color ("#rgb" or "#rrggbb") into an opaque
// NRGBA color.
func ParseColor(s string) (color.NRGBA, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return color.NRGBA{}, err
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
}
