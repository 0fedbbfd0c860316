package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
)

// shadowExtent is how many standard deviations of the shadow blur are drawn.
const shadowExtent = 3

// Canvas is a software Surface over a premultiplied image.RGBA.
// It is not safe for concurrent use.
type Canvas struct {
	img   *image.RGBA
	opts  Options
	alpha float64
	op    Op
}

// NewCanvas allocates a width x height canvas.
func NewCanvas(width, height int, opts Options) (*Canvas, error) {
	c := &Canvas{opts: opts}
	if err := c.Resize(width, height); err != nil {
		return nil, err
	}
	return c, nil
}

// Resize implements Surface. The pixel buffer is reused when the size is
// unchanged.
func (c *Canvas) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if c.img == nil || c.img.Rect.Dx() != width || c.img.Rect.Dy() != height {
		c.img = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	c.clear()
	c.alpha = 1
	c.op = SourceOver
	return nil
}

func (c *Canvas) clear() {
	bg := color.RGBA{}
	if c.opts.Opaque {
		bg = color.RGBA{A: 0xff}
	}
	draw.Draw(c.img, c.img.Rect, image.NewUniform(bg), image.Point{}, draw.Src)
}

// Size implements Surface.
func (c *Canvas) Size() (int, int) {
	if c.img == nil {
		return 0, 0
	}
	return c.img.Rect.Dx(), c.img.Rect.Dy()
}

// SetGlobalAlpha implements Surface. Values outside 0..1 are ignored, as a
// canvas context does.
func (c *Canvas) SetGlobalAlpha(alpha float64) {
	if alpha < 0 || alpha > 1 || math.IsNaN(alpha) {
		return
	}
	c.alpha = alpha
}

// GlobalAlpha returns the current opacity.
func (c *Canvas) GlobalAlpha() float64 { return c.alpha }

// SetCompositeOperation implements Surface.
func (c *Canvas) SetCompositeOperation(op Op) { c.op = op }

// CompositeOperation returns the current compositing operation.
func (c *Canvas) CompositeOperation() Op { return c.op }

// DrawImage implements Surface. src is placed with its top-left corner at
// (x, y) and clipped to the canvas.
func (c *Canvas) DrawImage(src image.Image, x, y int) {
	if c.img == nil || src == nil {
		return
	}
	sb := src.Bounds()
	dst := sb.Sub(sb.Min).Add(image.Pt(x, y)).Intersect(c.img.Rect)
	if dst.Empty() {
		return
	}

	rgba, fast := src.(*image.RGBA)
	for dy := dst.Min.Y; dy < dst.Max.Y; dy++ {
		sy := sb.Min.Y + dy - y
		for dx := dst.Min.X; dx < dst.Max.X; dx++ {
			sx := sb.Min.X + dx - x
			var r, g, b, a float64
			if fast {
				i := rgba.PixOffset(sx, sy)
				p := rgba.Pix[i : i+4 : i+4]
				r, g, b, a = float64(p[0]), float64(p[1]), float64(p[2]), float64(p[3])
			} else {
				r16, g16, b16, a16 := src.At(sx, sy).RGBA()
				r, g, b, a = float64(r16>>8), float64(g16>>8), float64(b16>>8), float64(a16>>8)
			}
			c.blend(dx, dy, r, g, b, a, c.alpha)
		}
	}
}

// StrokeRect implements Surface. The outline is centred on the rectangle
// edges. The shadow, when its color is visible and the blur is positive, is
// painted first with a Gaussian falloff away from the outline.
func (c *Canvas) StrokeRect(r image.Rectangle, s Stroke) {
	if c.img == nil || s.Width <= 0 {
		return
	}
	half := s.Width / 2
	sigma := s.ShadowBlur / 2
	withShadow := s.ShadowColor.A > 0 && sigma > 0

	extent := half + 1
	if withShadow {
		extent = math.Max(extent, half+shadowExtent*sigma)
	}

	minX, minY := float64(r.Min.X), float64(r.Min.Y)
	maxX, maxY := float64(r.Max.X), float64(r.Max.Y)
	ext := int(math.Ceil(extent))
	area := r.Inset(-ext).Intersect(c.img.Rect)
	if area.Empty() {
		return
	}
	inner := r.Inset(ext)

	paint := func(x, y int) {
		px, py := float64(x)+0.5, float64(y)+0.5
		d := outlineDistance(px, py, minX, minY, maxX, maxY)
		if d > extent {
			return
		}
		if withShadow {
			cov := 0.5 * math.Erfc((d-half)/(sigma*math.Sqrt2))
			c.paint(x, y, s.ShadowColor, cov)
		}
		if cov := clamp01(half + 0.5 - d); cov > 0 {
			c.paint(x, y, s.Color, cov)
		}
	}

	for y := area.Min.Y; y < area.Max.Y; y++ {
		if y >= inner.Min.Y && y < inner.Max.Y && !inner.Empty() {
			// Rows in the interior band only touch the left and right edges.
			for x := area.Min.X; x < min(inner.Min.X, area.Max.X); x++ {
				paint(x, y)
			}
			for x := max(inner.Max.X, area.Min.X); x < area.Max.X; x++ {
				paint(x, y)
			}
			continue
		}
		for x := area.Min.X; x < area.Max.X; x++ {
			paint(x, y)
		}
	}
}

// Snapshot implements Surface.
func (c *Canvas) Snapshot() *image.RGBA {
	if c.img == nil {
		return nil
	}
	out := image.NewRGBA(c.img.Rect)
	copy(out.Pix, c.img.Pix)
	return out
}

// Close implements Surface. Drawing after Close is a no-op.
func (c *Canvas) Close() error {
	c.img = nil
	return nil
}

// paint composites a solid color at the given coverage.
func (c *Canvas) paint(x, y int, col color.NRGBA, coverage float64) {
	a := float64(col.A) / 255
	c.blend(x, y, float64(col.R)*a, float64(col.G)*a, float64(col.B)*a, float64(col.A), c.alpha*coverage)
}

// blend composites one premultiplied source pixel, scaled by k, onto (x, y).
func (c *Canvas) blend(x, y int, r, g, b, a, k float64) {
	if k <= 0 {
		return
	}
	r, g, b, a = r*k, g*k, b*k, a*k

	i := c.img.PixOffset(x, y)
	p := c.img.Pix[i : i+4 : i+4]
	dr, dg, db, da := float64(p[0]), float64(p[1]), float64(p[2]), float64(p[3])

	switch c.op {
	case Lighter:
		dr, dg, db, da = dr+r, dg+g, db+b, da+a
	default:
		inv := 1 - a/255
		dr, dg, db, da = r+dr*inv, g+dg*inv, b+db*inv, a+da*inv
	}

	if c.opts.Opaque {
		da = 255
	}
	p[0], p[1], p[2], p[3] = to8(dr), to8(dg), to8(db), to8(da)
}

// outlineDistance returns the distance from (px, py) to the outline of the
// rectangle [minX,maxX]x[minY,maxY].
func outlineDistance(px, py, minX, minY, maxX, maxY float64) float64 {
	if px >= minX && px <= maxX && py >= minY && py <= maxY {
		return math.Min(math.Min(px-minX, maxX-px), math.Min(py-minY, maxY-py))
	}
	dx := math.Max(math.Max(minX-px, 0), px-maxX)
	dy := math.Max(math.Max(minY-py, 0), py-maxY)
	return math.Hypot(dx, dy)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func to8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
