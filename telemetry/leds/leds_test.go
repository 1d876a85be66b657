package leds

import (
	"errors"
	"image/color"
	"testing"

	"github.com/harveysanders/miatadash/telemetry/signal"
)

func running(rpm uint16, mode Mode, nowMs uint32) Input {
	return Input{
		RPM:        rpm,
		ShiftRPM:   6500,
		RedlineRPM: 7200,
		Mode:       mode,
		Scale:      255,
		Running:    true,
		Connected:  true,
		NowMs:      nowMs,
	}
}

func isRed(c color.RGBA) bool { return c.R > 0 && c.G == 0 && c.B == 0 }

func TestIdleToShift(t *testing.T) {
	steps := []struct {
		rpm        uint16
		nowMs      uint32
		minLit     int
		maxLit     int
		wantAllRed bool
	}{
		{800, 0, 0, 0, false},
		{3500, 50, 8, 9, false},
		{6500, 100, 18, 18, true},
		{7200, 150, 20, 20, true},
	}
	for _, st := range steps {
		f := Compute(running(st.rpm, CenterOut, st.nowMs))
		lit := f.Lit()
		if lit < st.minLit || lit > st.maxLit {
			t.Errorf("rpm %d: lit %d, want %d..%d", st.rpm, lit, st.minLit, st.maxLit)
		}
		if st.wantAllRed {
			for i, c := range f {
				if (c != color.RGBA{}) && !isRed(c) {
					t.Errorf("rpm %d: pixel %d = %v, want red", st.rpm, i, c)
				}
			}
		}
	}

	// The shift light pulses: two phases of the 5 Hz period differ.
	on := Compute(running(7200, CenterOut, 0))
	off := Compute(running(7200, CenterOut, 100))
	if on.Lit() != NumPixels || off.Lit() != NumPixels {
		t.Fatalf("pulse phases lit %d/%d, want all", on.Lit(), off.Lit())
	}
	if on[0] == off[0] {
		t.Fatalf("pulse phases identical: %v", on[0])
	}
}

func TestLitCountIsMonotonic(t *testing.T) {
	for m := CenterOut; m < numModes; m++ {
		prev := 0
		for rpm := uint16(IdleRPM); rpm <= 7200; rpm += 7 {
			in := running(rpm, m, 0)
			in.ShiftRPM = 0
			n := Compute(in).Lit()
			if n < prev {
				t.Fatalf("%v: lit count fell from %d to %d at rpm %d", m, prev, n, rpm)
			}
			prev = n
		}
	}
}

func TestModesAtHalf(t *testing.T) {
	// norm 0.5 at redline 7200 is 4000 rpm
	lit := func(m Mode) []int {
		in := running(4000, m, 0)
		in.ShiftRPM = 0
		f := Compute(in)
		var idx []int
		for i, c := range f {
			if c.R|c.G|c.B != 0 {
				idx = append(idx, i)
			}
		}
		return idx
	}
	tests := []struct {
		mode Mode
		want []int
	}{
		{CenterOut, []int{0, 1, 2, 3, 4, 15, 16, 17, 18, 19}},
		{LeftRight, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{RightLeft, []int{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}},
		{CenterIn, []int{5, 6, 7, 8, 9, 10, 11, 12, 13, 14}},
	}
	for _, tt := range tests {
		got := lit(tt.mode)
		if len(got) != len(tt.want) {
			t.Errorf("%v: lit %v, want %v", tt.mode, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%v: lit %v, want %v", tt.mode, got, tt.want)
				break
			}
		}
	}
}

func TestHalfPixelEdge(t *testing.T) {
	// 10.5 of 20 pixels: ten full and a half-bright eleventh.
	rpm := uint16(IdleRPM + (7200-IdleRPM)*21/40)
	in := running(rpm, LeftRight, 0)
	in.ShiftRPM = 0
	f := Compute(in)
	if f.Lit() != 11 {
		t.Fatalf("lit = %d, want 11", f.Lit())
	}
	if f[10].G >= f[9].G {
		t.Fatalf("edge pixel %v not dimmer than %v", f[10], f[9])
	}
}

func TestDarkRules(t *testing.T) {
	tests := []struct {
		name                     string
		running, connected, demo bool
		wantDark                 bool
	}{
		{"running", true, true, false, false},
		{"engine off", false, true, false, true},
		{"disconnected", true, false, false, true},
		{"demo overrides", false, false, true, false},
	}
	for _, tt := range tests {
		in := running(5000, CenterOut, 0)
		in.Running, in.Connected, in.Demo = tt.running, tt.connected, tt.demo
		if dark := Compute(in).Lit() == 0; dark != tt.wantDark {
			t.Errorf("%s: dark = %v, want %v", tt.name, dark, tt.wantDark)
		}
	}
}

func TestBrightnessScale(t *testing.T) {
	if got := BrightnessScale(100, nil); got != 255 {
		t.Errorf("100%% = %d", got)
	}
	if got := BrightnessScale(150, nil); got != 255 {
		t.Errorf("150%% = %d, want clamped 255", got)
	}
	if got := BrightnessScale(80, func() uint8 { return 50 }); got != 50 {
		t.Errorf("knob cap = %d, want 50", got)
	}
	if got := BrightnessScale(20, func() uint8 { return 255 }); got != 51 {
		t.Errorf("20%% with open knob = %d, want 51", got)
	}
}

func TestPulseSurvivesLowBrightness(t *testing.T) {
	for _, sc := range []uint8{1, 3, 10} {
		for _, now := range []uint32{0, PulsePeriodMs / 2} {
			in := running(7200, LeftRight, now)
			in.Scale = sc
			f := Compute(in)
			if f.Lit() != NumPixels || !isRed(f[0]) {
				t.Errorf("scale %d at %d ms: %d lit, first %v", sc, now, f.Lit(), f[0])
			}
		}
	}
}

type fakeStrip struct {
	writes int
	err    error
	last   []color.RGBA
}

func (s *fakeStrip) WriteColors(buf []color.RGBA) error {
	s.writes++
	s.last = append(s.last[:0], buf...)
	return s.err
}

type fixedParams Params

func (p fixedParams) LEDParams() Params { return Params(p) }

var defaultParams = fixedParams{Mode: CenterOut, Brightness: 100, ShiftRPM: 6500, RedlineRPM: 7200}

func TestRendererRecoversFromWriteErrors(t *testing.T) {
	var cache signal.Cache
	cache.Update(signal.GroupEngine|signal.GroupStatus, 10, func(s *signal.Snapshot) {
		s.RPM, s.EngineRunning, s.Connected = 5000, true, true
	})
	strip := &fakeStrip{err: errors.New("glitch")}
	r := NewRenderer(Config{Source: &cache, Params: defaultParams, Strip: strip})
	r.Tick(10)
	r.Tick(15)
	if got := r.Stats().WriteErrors; got != 2 {
		t.Fatalf("WriteErrors = %d", got)
	}
	strip.err = nil
	r.Tick(20)
	if strip.writes != 3 {
		t.Fatalf("writes = %d", strip.writes)
	}
	f := r.Frame()
	if f.Lit() == 0 || len(strip.last) != NumPixels {
		t.Fatalf("frame after recovery lit %d, strip got %d pixels", f.Lit(), len(strip.last))
	}
}

func TestRendererBlankAndSettingsPropagation(t *testing.T) {
	var cache signal.Cache
	cache.Update(signal.GroupEngine|signal.GroupStatus, 0, func(s *signal.Snapshot) {
		s.RPM, s.EngineRunning, s.Connected = 4000, true, true
	})
	params := defaultParams
	blank := false
	r := NewRenderer(Config{
		Source: &cache,
		Params: paramsFunc(func() Params { return Params(params) }),
		Blank:  func() bool { return blank },
	})
	r.Tick(0)
	f := r.Frame()
	before := f[0]

	params.Brightness = 50
	r.Tick(5)
	f = r.Frame()
	if f[0].G >= before.G {
		t.Fatalf("brightness change not applied on next frame: %v -> %v", before, f[0])
	}

	blank = true
	r.Tick(10)
	f = r.Frame()
	if f.Lit() != 0 {
		t.Fatalf("blanked bar lit %d", f.Lit())
	}
}

type paramsFunc func() Params

func (f paramsFunc) LEDParams() Params { return f() }

func TestLastSourceStampFollowsCache(t *testing.T) {
	var cache signal.Cache
	r := NewRenderer(Config{Source: &cache, Params: defaultParams})
	for ms := uint32(1); ms < 100; ms += 3 {
		cache.Update(signal.GroupEngine, ms, func(s *signal.Snapshot) { s.RPM = uint16(1000 + ms) })
		r.Tick(ms + 1)
		if got := r.LastSourceStamp(); got != ms {
			t.Fatalf("tick at %d used stamp %d, want %d", ms+1, got, ms)
		}
	}
}
