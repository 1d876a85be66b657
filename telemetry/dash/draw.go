package dash

import (
	"image/color"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinydraw"
	"tinygo.org/x/tinyfont"

	"github.com/harveysanders/miatadash/telemetry/lcd"
)

type align uint8

const (
	alignLeft align = iota
	alignCenter
	alignRight
)

// text draws s vertically centered in r.
func text(d drivers.Displayer, f face, r lcd.Rect, a align, s string, c color.RGBA) {
	x := r.X
	if a != alignLeft {
		_, w := tinyfont.LineWidth(f.font, s)
		switch a {
		case alignCenter:
			x += (r.W - int16(w)) / 2
		case alignRight:
			x += r.W - int16(w)
		}
	}
	y := r.Y + (r.H+f.cap)/2
	tinyfont.WriteLine(d, f.font, x, y, s, c)
}

func fillRect(d drivers.Displayer, r lcd.Rect, c color.RGBA) {
	tinydraw.FilledRectangle(d, r.X, r.Y, r.W, r.H, c)
}

// outline draws a border t pixels thick inside r.
func outline(d drivers.Displayer, r lcd.Rect, c color.RGBA, t int16) {
	for i := int16(0); i < t; i++ {
		tinydraw.Rectangle(d, r.X+i, r.Y+i, r.W-2*i, r.H-2*i, c)
	}
}
