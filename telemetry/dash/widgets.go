package dash

import (
	"image/color"
	"strconv"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinydraw"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/freesans"
	"tinygo.org/x/tinyfont/proggy"

	"github.com/harveysanders/miatadash/telemetry/lcd"
	"github.com/harveysanders/miatadash/telemetry/settings"
	"github.com/harveysanders/miatadash/telemetry/signal"
)

var (
	colorBG      = color.RGBA{0, 0, 0, 255}
	colorFG      = color.RGBA{255, 255, 255, 255}
	colorDim     = color.RGBA{90, 90, 90, 255}
	colorAccent  = color.RGBA{0, 170, 255, 255}
	colorCaution = color.RGBA{255, 160, 0, 255}
	colorWarn    = color.RGBA{255, 0, 0, 255}
)

// Widget style bits. A style change always repaints.
const (
	styleImperial uint8 = 1 << iota
	styleCaution
	styleWarn
	styleSelected
	styleEditing
	styleNoData uint8 = 0x80
)

const kmhToMph = 0.621371

// face is a font plus the height of its capitals, used to center text.
type face struct {
	font tinyfont.Fonter
	cap  int16
}

var (
	faceLarge  = face{&freesans.Bold24pt7b, 34}
	faceMedium = face{&freesans.Bold18pt7b, 25}
	faceText   = face{&freesans.Regular12pt7b, 17}
	faceSmall  = face{&proggy.TinySZ8pt7b, 9}
)

// view is what widgets read while one frame is drawn.
type view struct {
	s       *signal.Snapshot
	set     *settings.Settings
	sel     settings.ID
	editing bool
	buf     []byte
}

func (v *view) base() uint8 {
	var st uint8
	if v.set.Units == settings.Imperial {
		st |= styleImperial
	}
	if !v.s.Connected {
		st |= styleNoData
	}
	return st
}

type memo struct {
	q     [2]int32
	style uint8
	valid bool
}

// widget is a fixed rectangle that repaints when its quantized value or
// its style changes. A zero delta ignores that value.
type widget struct {
	rect  lcd.Rect
	delta [2]float32
	read  func(v *view) (a, b float32, style uint8)
	paint func(d drivers.Displayer, w *widget, v *view)

	cur, last memo
}

func (w *widget) sample(v *view) {
	a, b, style := w.read(v)
	w.cur = memo{q: [2]int32{quant(a, w.delta[0]), quant(b, w.delta[1])}, style: style}
}

func (w *widget) dirty() bool {
	return !w.last.valid || w.cur.q != w.last.q || w.cur.style != w.last.style
}

// value returns the quantized value i that was sampled for this frame.
func (w *widget) value(i int) float32 { return float32(w.cur.q[i]) * w.delta[i] }

func quant(x, delta float32) int32 {
	if delta == 0 {
		return 0
	}
	x /= delta
	if x < 0 {
		return int32(x - 0.5)
	}
	return int32(x + 0.5)
}

func buildLayouts() [numScreens][]widget {
	var l [numScreens][]widget
	l[Overview] = []widget{
		title(Overview),
		gauge(lcd.Rect{X: 80, Y: 70, W: 200, H: 46}, faceMedium, 50, 0, labelFixed("RPM"), readRPM),
		gauge(lcd.Rect{X: 80, Y: 118, W: 200, H: 72}, faceLarge, 1, 0, labelSpeed, readSpeed),
		gearWidget(lcd.Rect{X: 140, Y: 192, W: 80, H: 50}),
		gauge(lcd.Rect{X: 56, Y: 244, W: 84, H: 48}, faceText, 1, 0, labelTemp("CLT"), readCoolant),
		gauge(lcd.Rect{X: 140, Y: 244, W: 80, H: 48}, faceText, 0.1, 1, labelPressure("OIL"), readOilPressure),
		gauge(lcd.Rect{X: 220, Y: 244, W: 84, H: 48}, faceText, 0.1, 1, labelFixed("VOLTS"), readVoltage),
		badge(),
	}
	l[RPMSpeed] = []widget{
		title(RPMSpeed),
		rpmBar(lcd.Rect{X: 50, Y: 74, W: 260, H: 22}),
		gauge(lcd.Rect{X: 80, Y: 100, W: 200, H: 66}, faceLarge, 50, 0, labelFixed("RPM"), readRPM),
		gauge(lcd.Rect{X: 80, Y: 168, W: 200, H: 66}, faceLarge, 1, 0, labelSpeed, readSpeed),
		gearWidget(lcd.Rect{X: 140, Y: 236, W: 80, H: 56}),
		badge(),
	}
	l[TPMS] = []widget{
		title(TPMS),
		tire(lcd.Rect{X: 62, Y: 84, W: 112, H: 96}, signal.FrontLeft, "FL"),
		tire(lcd.Rect{X: 186, Y: 84, W: 112, H: 96}, signal.FrontRight, "FR"),
		tire(lcd.Rect{X: 62, Y: 188, W: 112, H: 96}, signal.RearLeft, "RL"),
		tire(lcd.Rect{X: 186, Y: 188, W: 112, H: 96}, signal.RearRight, "RR"),
		badge(),
	}
	l[Engine] = []widget{
		title(Engine),
		gauge(lcd.Rect{X: 56, Y: 72, W: 124, H: 54}, faceMedium, 1, 0, labelTemp("COOLANT"), readCoolant),
		gauge(lcd.Rect{X: 180, Y: 72, W: 124, H: 54}, faceMedium, 1, 0, labelTemp("OIL"), readOilTemp),
		gauge(lcd.Rect{X: 56, Y: 128, W: 124, H: 54}, faceMedium, 0.1, 1, labelPressure("OIL"), readOilPressure),
		gauge(lcd.Rect{X: 180, Y: 128, W: 124, H: 54}, faceMedium, 1, 0, labelFixed("FUEL %"), readFuel),
		gauge(lcd.Rect{X: 56, Y: 184, W: 124, H: 54}, faceMedium, 0.1, 1, labelFixed("VOLTS"), readVoltage),
		gauge(lcd.Rect{X: 180, Y: 184, W: 124, H: 54}, faceMedium, 1, 0, labelFixed("TPS %"), readThrottle),
		lamps(lcd.Rect{X: 60, Y: 244, W: 240, H: 40}),
		badge(),
	}
	l[GForce] = []widget{
		title(GForce),
		gPlot(lcd.Rect{X: 105, Y: 70, W: 150, H: 150}),
		gauge(lcd.Rect{X: 56, Y: 226, W: 124, H: 54}, faceMedium, 0.05, 2, labelFixed("LAT G"), readLatG),
		gauge(lcd.Rect{X: 180, Y: 226, W: 124, H: 54}, faceMedium, 0.05, 2, labelFixed("LONG G"), readLongG),
		badge(),
	}
	menu := []widget{title(Settings)}
	for id := settings.ID(0); id < settings.NumIDs; id++ {
		menu = append(menu, menuRow(lcd.Rect{X: 50, Y: 76 + int16(id)*24, W: 260, H: 24}, id))
	}
	l[Settings] = menu
	return l
}

// Readers. Values are in display units.

func readRPM(v *view) (float32, uint8) {
	st := v.base()
	if v.s.RPM >= v.set.ShiftRPM {
		st |= styleWarn
	} else if uint32(v.s.RPM)*100 >= uint32(v.set.ShiftRPM)*80 {
		st |= styleCaution
	}
	return float32(v.s.RPM), st
}

func readSpeed(v *view) (float32, uint8) {
	x := float32(v.s.Speed)
	if v.set.Units == settings.Imperial {
		x *= kmhToMph
	}
	return x, v.base()
}

func temp(v *view, c int16) float32 {
	if v.set.Units == settings.Imperial {
		return float32(c)*9/5 + 32
	}
	return float32(c)
}

func readCoolant(v *view) (float32, uint8) {
	st := v.base()
	if v.s.Coolant >= v.set.CoolantWarn {
		st |= styleWarn
	}
	return temp(v, v.s.Coolant), st
}

func readOilTemp(v *view) (float32, uint8) {
	return temp(v, v.s.OilTemp), v.base()
}

func pressure(v *view, kpa10 uint16) float32 {
	if v.set.Units == settings.Imperial {
		return float32(signal.KPaToPSI(kpa10)) / 10
	}
	return float32(kpa10) / 10
}

func readOilPressure(v *view) (float32, uint8) {
	st := v.base()
	if v.s.EngineRunning && v.s.Warnings.Has(signal.WarnOil) {
		st |= styleWarn
	}
	return pressure(v, v.s.OilPressure), st
}

func readVoltage(v *view) (float32, uint8) {
	st := v.base()
	switch {
	case v.s.Voltage < 1150:
		st |= styleWarn
	case v.s.Voltage < 1230:
		st |= styleCaution
	}
	return float32(v.s.Voltage) / 100, st
}

func readFuel(v *view) (float32, uint8) {
	st := v.base()
	if v.s.Fuel < 12 {
		st |= styleCaution
	}
	return float32(v.s.Fuel), st
}

func readThrottle(v *view) (float32, uint8) { return float32(v.s.Throttle), v.base() }
func readLatG(v *view) (float32, uint8)     { return v.s.AccelComp[0], v.base() }
func readLongG(v *view) (float32, uint8)    { return v.s.AccelComp[1], v.base() }

// TireWarn reports whether a corner is below the low-pressure threshold.
func TireWarn(s *signal.Snapshot, set *settings.Settings, corner int) bool {
	return signal.KPaToPSI(s.TirePressure[corner]) < set.TireLowPSI
}

// Labels.

func labelFixed(s string) func(v *view) string {
	return func(*view) string { return s }
}

func labelSpeed(v *view) string {
	if v.set.Units == settings.Imperial {
		return "MPH"
	}
	return "KM/H"
}

func labelTemp(name string) func(v *view) string {
	f, c := name+" F", name+" C"
	return func(v *view) string {
		if v.set.Units == settings.Imperial {
			return f
		}
		return c
	}
}

func labelPressure(name string) func(v *view) string {
	psi, kpa := name+" PSI", name+" KPA"
	return func(v *view) string {
		if v.set.Units == settings.Imperial {
			return psi
		}
		return kpa
	}
}

// Widgets.

func styleColor(st uint8) color.RGBA {
	switch {
	case st&styleNoData != 0:
		return colorDim
	case st&styleWarn != 0:
		return colorWarn
	case st&styleCaution != 0:
		return colorCaution
	}
	return colorFG
}

func title(s Screen) widget {
	name := s.String()
	return widget{
		rect: lcd.Rect{X: 80, Y: 40, W: 200, H: 26},
		read: func(*view) (float32, float32, uint8) { return 0, 0, 0 },
		paint: func(d drivers.Displayer, w *widget, _ *view) {
			text(d, faceText, w.rect, alignCenter, name, colorAccent)
		},
	}
}

// gauge is a small label over a centered number.
func gauge(r lcd.Rect, f face, delta float32, prec int, label func(v *view) string, read func(v *view) (float32, uint8)) widget {
	return widget{
		rect:  r,
		delta: [2]float32{delta},
		read: func(v *view) (float32, float32, uint8) {
			x, st := read(v)
			return x, 0, st
		},
		paint: func(d drivers.Displayer, w *widget, v *view) {
			top := lcd.Rect{X: r.X, Y: r.Y, W: r.W, H: 12}
			text(d, faceSmall, top, alignCenter, label(v), colorDim)
			v.buf = strconv.AppendFloat(v.buf[:0], float64(w.value(0)), 'f', prec, 32)
			body := lcd.Rect{X: r.X, Y: r.Y + 12, W: r.W, H: r.H - 12}
			text(d, f, body, alignCenter, string(v.buf), styleColor(w.cur.style))
		},
	}
}

func gearWidget(r lcd.Rect) widget {
	return widget{
		rect:  r,
		delta: [2]float32{1},
		read: func(v *view) (float32, float32, uint8) {
			return float32(v.s.Gear), 0, v.base()
		},
		paint: func(d drivers.Displayer, w *widget, v *view) {
			g := int8(w.cur.q[0])
			v.buf = v.buf[:0]
			switch {
			case g < 0:
				v.buf = append(v.buf, 'R')
			case g == 0:
				v.buf = append(v.buf, 'N')
			default:
				v.buf = strconv.AppendInt(v.buf, int64(g), 10)
			}
			text(d, faceLarge, r, alignCenter, string(v.buf), styleColor(w.cur.style))
		},
	}
}

func rpmBar(r lcd.Rect) widget {
	return widget{
		rect:  r,
		delta: [2]float32{50, 100},
		read: func(v *view) (float32, float32, uint8) {
			x, st := readRPM(v)
			return x, float32(v.set.RedlineRPM), st
		},
		paint: func(d drivers.Displayer, w *widget, _ *view) {
			rpm, redline := w.value(0), w.value(1)
			if redline <= 0 {
				return
			}
			fill := int16(float32(r.W) * rpm / redline)
			if fill > r.W {
				fill = r.W
			}
			outline(d, r, colorDim, 1)
			fillRect(d, lcd.Rect{X: r.X + 2, Y: r.Y + 2, W: fill - 4, H: r.H - 4}, styleColor(w.cur.style))
		},
	}
}

func tire(r lcd.Rect, corner int, name string) widget {
	return widget{
		rect:  r,
		delta: [2]float32{0.1},
		read: func(v *view) (float32, float32, uint8) {
			st := v.base()
			if TireWarn(v.s, v.set, corner) {
				st |= styleWarn
			}
			return pressure(v, v.s.TirePressure[corner]), 0, st
		},
		paint: func(d drivers.Displayer, w *widget, v *view) {
			c := styleColor(w.cur.style)
			border := colorDim
			if w.cur.style&styleWarn != 0 {
				border = c
			}
			outline(d, r, border, 3)
			text(d, faceSmall, lcd.Rect{X: r.X, Y: r.Y + 6, W: r.W, H: 12}, alignCenter, name, colorDim)
			prec := 1
			if w.cur.style&styleImperial == 0 {
				prec = 0
			}
			v.buf = strconv.AppendFloat(v.buf[:0], float64(w.value(0)), 'f', prec, 32)
			text(d, faceMedium, lcd.Rect{X: r.X, Y: r.Y + 20, W: r.W, H: r.H - 28}, alignCenter, string(v.buf), c)
		},
	}
}

var lampNames = [...]struct {
	w    signal.Warnings
	name string
}{
	{signal.WarnCheckEngine, "CEL"},
	{signal.WarnABS, "ABS"},
	{signal.WarnOil, "OIL"},
	{signal.WarnBattery, "BAT"},
}

func lamps(r lcd.Rect) widget {
	return widget{
		rect:  r,
		delta: [2]float32{1},
		read: func(v *view) (float32, float32, uint8) {
			return float32(v.s.Warnings), 0, v.base()
		},
		paint: func(d drivers.Displayer, w *widget, _ *view) {
			warn := signal.Warnings(w.cur.q[0])
			cell := r.W / int16(len(lampNames))
			for i, l := range lampNames {
				c := colorDim
				if warn.Has(l.w) {
					c = colorWarn
				}
				text(d, faceText, lcd.Rect{X: r.X + int16(i)*cell, Y: r.Y, W: cell, H: r.H}, alignCenter, l.name, c)
			}
		},
	}
}

// gPlot draws a friction circle with the current lateral/longitudinal g
// as a dot. The ring is 1 g.
func gPlot(r lcd.Rect) widget {
	return widget{
		rect:  r,
		delta: [2]float32{0.05, 0.05},
		read: func(v *view) (float32, float32, uint8) {
			return v.s.AccelComp[0], v.s.AccelComp[1], v.base()
		},
		paint: func(d drivers.Displayer, w *widget, _ *view) {
			cx, cy := r.X+r.W/2, r.Y+r.H/2
			radius := r.W/2 - 6
			tinydraw.Circle(d, cx, cy, radius, colorDim)
			tinydraw.Circle(d, cx, cy, radius/2, colorDim)
			tinydraw.Line(d, r.X, cy, r.X+r.W-1, cy, colorDim)
			tinydraw.Line(d, cx, r.Y, cx, r.Y+r.H-1, colorDim)
			gx, gy := clampG(w.value(0)), clampG(w.value(1))
			x := cx + int16(gx*float32(radius))
			y := cy - int16(gy*float32(radius))
			fillRect(d, lcd.Rect{X: x - 4, Y: y - 4, W: 9, H: 9}, styleColor(w.cur.style))
		},
	}
}

func clampG(g float32) float32 {
	if g > 1.1 {
		return 1.1
	}
	if g < -1.1 {
		return -1.1
	}
	return g
}

func menuRow(r lcd.Rect, id settings.ID) widget {
	return widget{
		rect:  r,
		delta: [2]float32{1},
		read: func(v *view) (float32, float32, uint8) {
			var st uint8
			if v.sel == id {
				st |= styleSelected
				if v.editing {
					st |= styleEditing
				}
			}
			return float32(v.set.Value(id)), 0, st
		},
		paint: func(d drivers.Displayer, w *widget, v *view) {
			name, val := colorFG, colorFG
			if w.cur.style&styleSelected != 0 {
				fillRect(d, lcd.Rect{X: r.X, Y: r.Y + 2, W: 4, H: r.H - 4}, colorAccent)
				name = colorAccent
			}
			if w.cur.style&styleEditing != 0 {
				val = colorCaution
			}
			half := lcd.Rect{X: r.X + 10, Y: r.Y, W: r.W - 10, H: r.H}
			text(d, faceSmall, half, alignLeft, id.String(), name)
			v.buf = v.set.AppendValue(v.buf[:0], id)
			text(d, faceSmall, half, alignRight, string(v.buf), val)
		},
	}
}

// badge shows NO DATA while the bus is silent.
func badge() widget {
	r := lcd.Rect{X: 105, Y: 296, W: 150, H: 28}
	return widget{
		rect: r,
		read: func(v *view) (float32, float32, uint8) {
			return 0, 0, v.base() & styleNoData
		},
		paint: func(d drivers.Displayer, w *widget, _ *view) {
			if w.cur.style&styleNoData == 0 {
				return
			}
			fillRect(d, r, colorWarn)
			text(d, faceText, r, alignCenter, "NO DATA", colorFG)
		},
	}
}
