package sim

import (
	"bytes"
	"image/color"
	"io"
	"sort"

	"github.com/harveysanders/miatadash/telemetry/lcd"
	"github.com/harveysanders/miatadash/telemetry/leds"
	"github.com/harveysanders/miatadash/telemetry/touch"
)

// Strip keeps the last frame written to the bar.
type Strip struct {
	Last   leds.Frame
	Writes uint32
}

func (s *Strip) WriteColors(buf []color.RGBA) error {
	copy(s.Last[:], buf)
	s.Writes++
	return nil
}

// Panel is a 360x360 RGB565 framebuffer.
type Panel struct {
	px      [lcd.Width * lcd.Height]uint16
	Submits uint32
	Fills   uint32
	// Backlight is the last level set.
	Backlight uint8
}

func (p *Panel) Size() (int16, int16) { return lcd.Width, lcd.Height }

func (p *Panel) DrawRGBBitmap8(x, y int16, data []uint8, w, h int16) error {
	p.Submits++
	i := 0
	for row := int(y); row < int(y+h); row++ {
		for col := int(x); col < int(x+w); col++ {
			if i+1 >= len(data) {
				return nil
			}
			p.px[row*lcd.Width+col] = uint16(data[i])<<8 | uint16(data[i+1])
			i += 2
		}
	}
	return nil
}

func (p *Panel) FillRectangle(x, y, w, h int16, c color.RGBA) error {
	p.Fills++
	v := uint16(c.R&0xF8)<<8 | uint16(c.G&0xFC)<<3 | uint16(c.B)>>3
	for row := int(y); row < int(y+h); row++ {
		for col := int(x); col < int(x+w); col++ {
			p.px[row*lcd.Width+col] = v
		}
	}
	return nil
}

func (p *Panel) SetBacklight(level uint8) { p.Backlight = level }

// At returns the pixel at x, y as RGBA.
func (p *Panel) At(x, y int) color.RGBA {
	v := p.px[y*lcd.Width+x]
	r, g, b := uint8(v>>11)<<3, uint8(v>>5&0x3F)<<2, uint8(v&0x1F)<<3
	return color.RGBA{r | r>>5, g | g>>6, b | b>>5, 255}
}

// Thumb averages the framebuffer down to cols x rows cells.
func (p *Panel) Thumb(cols, rows int) [][]color.RGBA {
	out := make([][]color.RGBA, rows)
	cw, ch := lcd.Width/cols, lcd.Height/rows
	for r := range out {
		out[r] = make([]color.RGBA, cols)
		for c := range out[r] {
			var sr, sg, sb, n int
			// Sample a sparse grid; the exact average does not matter.
			for y := r * ch; y < (r+1)*ch; y += 3 {
				for x := c * cw; x < (c+1)*cw; x += 3 {
					px := p.At(x, y)
					sr, sg, sb = sr+int(px.R), sg+int(px.G), sb+int(px.B)
					n++
				}
			}
			if n > 0 {
				out[r][c] = color.RGBA{uint8(sr / n), uint8(sg / n), uint8(sb / n), 255}
			}
		}
	}
	return out
}

// Touch feeds scripted gestures.
type Touch struct {
	queue []touch.Gesture
}

// Push queues g for the next poll.
func (t *Touch) Push(g touch.Gesture) { t.queue = append(t.queue, g) }

func (t *Touch) Poll(nowMs uint32) (touch.Event, bool) {
	if len(t.queue) == 0 {
		return touch.Event{}, false
	}
	g := t.queue[0]
	t.queue = t.queue[1:]
	return touch.Event{Gesture: g, X: lcd.Width / 2, Y: lcd.Height / 2, AtMs: nowMs}, true
}

// Flash is NOR flash in memory: writes only clear bits, erase sets them.
type Flash struct {
	Data []byte
}

const eraseBlock = 4096

// NewFlash returns erased flash of n erase blocks.
func NewFlash(blocks int) *Flash {
	f := &Flash{Data: bytes.Repeat([]byte{0xFF}, blocks*eraseBlock)}
	return f
}

func (f *Flash) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.Data)) {
		return 0, io.EOF
	}
	return copy(p, f.Data[off:]), nil
}

func (f *Flash) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(f.Data)) {
		return 0, io.ErrShortWrite
	}
	for i, b := range p {
		f.Data[off+int64(i)] &= b
	}
	return len(p), nil
}

func (f *Flash) Size() int64           { return int64(len(f.Data)) }
func (f *Flash) WriteBlockSize() int64 { return 256 }
func (f *Flash) EraseBlockSize() int64 { return eraseBlock }

func (f *Flash) EraseBlocks(start, n int64) error {
	from, to := start*eraseBlock, (start+n)*eraseBlock
	if to > int64(len(f.Data)) {
		return io.ErrShortWrite
	}
	for i := from; i < to; i++ {
		f.Data[i] = 0xFF
	}
	return nil
}

// Card is an SD card that keeps files in memory.
type Card struct {
	Files map[string]*bytes.Buffer
}

// NewCard returns an empty card.
func NewCard() *Card { return &Card{Files: map[string]*bytes.Buffer{}} }

type cardFile struct{ *bytes.Buffer }

func (cardFile) Close() error { return nil }

func (c *Card) Create(name string) (io.WriteCloser, error) {
	b := &bytes.Buffer{}
	c.Files[name] = b
	return cardFile{b}, nil
}

func (c *Card) List() ([]string, error) {
	names := make([]string, 0, len(c.Files))
	for n := range c.Files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Console is the serial port: the bench types into In and reads Out.
type Console struct {
	In  bytes.Buffer
	Out bytes.Buffer
}

func (c *Console) Buffered() int               { return c.In.Len() }
func (c *Console) ReadByte() (byte, error)     { return c.In.ReadByte() }
func (c *Console) Write(p []byte) (int, error) { return c.Out.Write(p) }
