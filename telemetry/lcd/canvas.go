// Package lcd is the glue between the dashboard and the round 360x360
// panel. Widgets draw into a small band buffer that is flushed in bounded
// submits, so no full framebuffer is ever needed.
package lcd

import (
	"errors"
	"image/color"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/pixel"
)

const (
	Width  = 360
	Height = 360
	// MaxSubmit is the largest single bitmap transfer, in bytes.
	MaxSubmit = 4096
)

// ErrNoDMA is returned by a Panel when it cannot get a transfer buffer for
// a multi-row bitmap. The canvas then falls back to single-row submits.
var ErrNoDMA = errors.New("lcd: no dma buffer")

// Panel is the display driver surface the canvas needs. st7789-style
// drivers from tinygo.org/x/drivers have this shape.
type Panel interface {
	Size() (w, h int16)
	DrawRGBBitmap8(x, y int16, data []uint8, w, h int16) error
	FillRectangle(x, y, w, h int16, c color.RGBA) error
}

// Backlight dims the panel. Level 0 is off.
type Backlight interface {
	SetBacklight(level uint8)
}

// Rect is a screen rectangle.
type Rect struct {
	X, Y, W, H int16
}

// Contains reports whether (x, y) is inside r.
func (r Rect) Contains(x, y int16) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// Stats are the canvas counters.
type Stats struct {
	Submits  uint32
	RowMode  bool
	Failures uint32
}

// rowScratch backs single-row submits when no band buffer can be used.
var rowScratch = pixel.NewImage[pixel.RGB565BE](Width, 1)

// Canvas is a band-clipped drawing target. It implements drivers.Displayer
// so tinyfont and other Displayer users can draw into it; pixels outside
// the current band are dropped.
type Canvas struct {
	panel Panel
	band  pixel.Image[pixel.RGB565BE]
	img   pixel.Image[pixel.RGB565BE]
	clip  Rect
	bg    color.RGBA

	rowMode bool
	stats   Stats
}

var _ drivers.Displayer = (*Canvas)(nil)

// NewCanvas returns a canvas drawing to p. A band buffer of MaxSubmit
// bytes is allocated once and reshaped to each widget's width.
func NewCanvas(p Panel) *Canvas {
	return &Canvas{
		panel: p,
		band:  pixel.NewImage[pixel.RGB565BE](MaxSubmit/2, 1),
	}
}

// NewRowCanvas returns a canvas that only ever submits one row at a time
// from the static scratch row.
func NewRowCanvas(p Panel) *Canvas {
	return &Canvas{panel: p, rowMode: true}
}

// Size implements drivers.Displayer.
func (c *Canvas) Size() (x, y int16) { return Width, Height }

// SetPixel implements drivers.Displayer. Only pixels inside the current
// band are kept.
func (c *Canvas) SetPixel(x, y int16, col color.RGBA) {
	if !c.clip.Contains(x, y) {
		return
	}
	c.img.Set(int(x-c.clip.X), int(y-c.clip.Y), pixel.NewColor[pixel.RGB565BE](col.R, col.G, col.B))
}

// Display implements drivers.Displayer. Flushing happens in Draw.
func (c *Canvas) Display() error { return nil }

// Fill paints r with a solid color directly on the panel.
func (c *Canvas) Fill(r Rect, col color.RGBA) error {
	r = clipScreen(r)
	if r.W <= 0 || r.H <= 0 {
		return nil
	}
	c.stats.Submits++
	if err := c.panel.FillRectangle(r.X, r.Y, r.W, r.H, col); err != nil {
		c.stats.Failures++
		return err
	}
	return nil
}

// Draw repaints r: for each band of rows it clears to bg, lets paint draw
// with absolute coordinates and submits the band. An error aborts the
// remaining bands; the caller retries the whole widget later.
func (c *Canvas) Draw(r Rect, bg color.RGBA, paint func(d drivers.Displayer)) error {
	r = clipScreen(r)
	if r.W <= 0 || r.H <= 0 {
		return nil
	}
	c.bg = bg
	rows := int16(1)
	if !c.rowMode {
		rows = int16(MaxSubmit / (2 * int(r.W)))
		if rows < 1 {
			rows = 1
		}
	}
	for y := r.Y; y < r.Y+r.H; y += rows {
		h := rows
		if y+h > r.Y+r.H {
			h = r.Y + r.H - y
		}
		err := c.drawBand(Rect{X: r.X, Y: y, W: r.W, H: h}, paint)
		if errors.Is(err, ErrNoDMA) && !c.rowMode {
			c.rowMode = true
			c.stats.RowMode = true
			return c.Draw(Rect{X: r.X, Y: y, W: r.W, H: r.Y + r.H - y}, bg, paint)
		}
		if err != nil {
			c.stats.Failures++
			return err
		}
	}
	return nil
}

func (c *Canvas) drawBand(b Rect, paint func(d drivers.Displayer)) error {
	if c.rowMode {
		c.img = rowScratch.Rescale(int(b.W), 1)
	} else {
		c.img = c.band.Rescale(int(b.W), int(b.H))
	}
	c.img.FillSolidColor(pixel.NewColor[pixel.RGB565BE](c.bg.R, c.bg.G, c.bg.B))
	c.clip = b
	paint(c)
	c.clip = Rect{}
	c.stats.Submits++
	return c.panel.DrawRGBBitmap8(b.X, b.Y, c.img.RawBuffer(), b.W, b.H)
}

// Stats returns a copy of the counters.
func (c *Canvas) Stats() Stats {
	st := c.stats
	st.RowMode = c.rowMode
	return st
}

func clipScreen(r Rect) Rect {
	if r.X < 0 {
		r.W += r.X
		r.X = 0
	}
	if r.Y < 0 {
		r.H += r.Y
		r.Y = 0
	}
	if r.X+r.W > Width {
		r.W = Width - r.X
	}
	if r.Y+r.H > Height {
		r.H = Height - r.Y
	}
	return r
}
