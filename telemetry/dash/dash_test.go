package dash

import (
	"errors"
	"image/color"
	"testing"

	"github.com/harveysanders/miatadash/telemetry/lcd"
	"github.com/harveysanders/miatadash/telemetry/settings"
	"github.com/harveysanders/miatadash/telemetry/signal"
	"github.com/harveysanders/miatadash/telemetry/swc"
	"github.com/harveysanders/miatadash/telemetry/touch"
)

type bitmap struct {
	x, y, w, h int16
	data       []byte
}

type fakePanel struct {
	bitmaps []bitmap
	fills   []color.RGBA
	fail    error
}

func (p *fakePanel) Size() (int16, int16) { return lcd.Width, lcd.Height }

func (p *fakePanel) DrawRGBBitmap8(x, y int16, data []uint8, w, h int16) error {
	if p.fail != nil {
		return p.fail
	}
	p.bitmaps = append(p.bitmaps, bitmap{x, y, w, h, append([]byte(nil), data...)})
	return nil
}

func (p *fakePanel) FillRectangle(x, y, w, h int16, c color.RGBA) error {
	if p.fail != nil {
		return p.fail
	}
	p.fills = append(p.fills, c)
	return nil
}

// pixels counts RGB565 big-endian pixels of value px drawn inside r.
func (p *fakePanel) pixels(r lcd.Rect, px uint16) int {
	n := 0
	for _, b := range p.bitmaps {
		if b.x != r.X || b.y < r.Y || b.y >= r.Y+r.H {
			continue
		}
		for i := 0; i+1 < len(b.data); i += 2 {
			if uint16(b.data[i])<<8|uint16(b.data[i+1]) == px {
				n++
			}
		}
	}
	return n
}

type fakeBacklight struct{ level uint8 }

func (b *fakeBacklight) SetBacklight(level uint8) { b.level = level }

const red565 = 0xF800

type rig struct {
	cache signal.Cache
	set   *settings.Manager
	panel *fakePanel
	bl    *fakeBacklight
	rt    *Runtime
}

func newRig(t *testing.T) *rig {
	t.Helper()
	g := &rig{panel: &fakePanel{}, bl: &fakeBacklight{}, set: settings.Open(settings.Config{})}
	g.cache.Update(signal.GroupStatus|signal.GroupEngine, 0, func(s *signal.Snapshot) {
		s.Connected = true
		s.RPM = 900
		s.Voltage = 1400
	})
	g.rt = New(Config{
		Source:    &g.cache,
		Settings:  g.set,
		Surface:   lcd.NewCanvas(g.panel),
		Backlight: g.bl,
	})
	return g
}

func TestScreenRing(t *testing.T) {
	g := newRig(t)
	rt := g.rt
	for i := 0; i < int(ringLen); i++ {
		rt.PushTouch(touch.Event{Gesture: touch.SwipeLeft})
	}
	rt.Tick(0)
	if rt.Screen() != Overview {
		t.Fatalf("after a full ring: %v", rt.Screen())
	}
	rt.PushTouch(touch.Event{Gesture: touch.SwipeRight})
	rt.Tick(33)
	if rt.Screen() != GForce {
		t.Fatalf("right from overview: %v", rt.Screen())
	}

	tests := []struct {
		b    swc.Button
		want Screen
	}{
		{swc.SeekUp, Overview},
		{swc.Mode, RPMSpeed},
		{swc.SeekDown, Overview},
		{swc.Cancel, GForce},
	}
	for _, tt := range tests {
		rt.PushButton(swc.Event{Button: tt.b})
		rt.PushButton(swc.Event{Button: tt.b, Release: true})
		rt.Tick(66)
		if rt.Screen() != tt.want {
			t.Fatalf("%v: screen %v, want %v", tt.b, rt.Screen(), tt.want)
		}
	}
}

func TestSettingsEnterAndLeave(t *testing.T) {
	g := newRig(t)
	rt := g.rt
	rt.PushTouch(touch.Event{Gesture: touch.SwipeLeft})
	rt.PushTouch(touch.Event{Gesture: touch.LongPress})
	rt.Tick(0)
	if rt.Screen() != Settings {
		t.Fatalf("long press: %v", rt.Screen())
	}
	rt.PushTouch(touch.Event{Gesture: touch.LongPress})
	rt.Tick(20)
	if rt.Screen() != Settings {
		t.Fatalf("long press inside settings: %v", rt.Screen())
	}
	rt.PushTouch(touch.Event{Gesture: touch.SwipeRight})
	rt.Tick(33)
	if rt.Screen() != RPMSpeed {
		t.Fatalf("exit returned to %v, want %v", rt.Screen(), RPMSpeed)
	}

	// Holding MODE opens settings from the screen it was pressed on.
	rt.PushButton(swc.Event{Button: swc.Mode})
	rt.PushButton(swc.Event{Button: swc.Mode, Repeat: true})
	rt.PushButton(swc.Event{Button: swc.Mode, Repeat: true})
	rt.Tick(66)
	if rt.Screen() != Settings {
		t.Fatalf("mode hold: %v", rt.Screen())
	}
	if _, editing := rt.Menu(); editing {
		t.Fatal("repeat toggled edit mode")
	}
	rt.PushButton(swc.Event{Button: swc.Cancel})
	rt.Tick(99)
	if rt.Screen() != RPMSpeed {
		t.Fatalf("cancel returned to %v", rt.Screen())
	}

	rt.PushTouch(touch.Event{Gesture: touch.LongPress})
	rt.PushButton(swc.Event{Button: swc.SeekUp})
	rt.Tick(132)
	if rt.Screen() != RPMSpeed {
		t.Fatalf("seek left settings for %v", rt.Screen())
	}
}

func TestModeTapAdvancesOnRelease(t *testing.T) {
	g := newRig(t)
	rt := g.rt
	rt.PushButton(swc.Event{Button: swc.Mode})
	rt.Tick(0)
	if rt.Screen() != Overview {
		t.Fatalf("press advanced to %v before release", rt.Screen())
	}
	rt.PushButton(swc.Event{Button: swc.Mode, Release: true})
	rt.Tick(33)
	if rt.Screen() != RPMSpeed {
		t.Fatalf("tap: %v", rt.Screen())
	}

	// A hold goes straight to settings without showing the next screen.
	rt.PushButton(swc.Event{Button: swc.Mode})
	rt.Tick(66)
	if rt.Screen() != RPMSpeed {
		t.Fatalf("held press showed %v", rt.Screen())
	}
	rt.PushButton(swc.Event{Button: swc.Mode, Repeat: true})
	rt.Tick(99)
	if rt.Screen() != Settings {
		t.Fatalf("hold: %v", rt.Screen())
	}
	rt.PushButton(swc.Event{Button: swc.Cancel})
	rt.Tick(100)
	if rt.Screen() != RPMSpeed {
		t.Fatalf("settings opened from %v", rt.Screen())
	}
	rt.PushTouch(touch.Event{Gesture: touch.LongPress})
	rt.PushButton(swc.Event{Button: swc.Mode, Release: true})
	rt.Tick(132)
	if rt.Screen() != Settings {
		t.Fatalf("release after hold moved to %v", rt.Screen())
	}
	if _, editing := rt.Menu(); editing {
		t.Fatal("hold release toggled edit mode")
	}
}

func TestHeldButtonDoesNotWake(t *testing.T) {
	g := newRig(t)
	rt := g.rt
	rt.PushButton(swc.Event{Button: swc.Mute})
	rt.Tick(0)
	for ms := uint32(500); ms <= 800; ms += 100 {
		rt.PushButton(swc.Event{Button: swc.Mute, Repeat: true})
		rt.Tick(ms)
	}
	rt.PushButton(swc.Event{Button: swc.Mute, Release: true})
	rt.Tick(900)
	if !rt.Sleeping() {
		t.Fatal("holding mute woke the display")
	}
}

func TestSleepTimerStartsAtFirstTick(t *testing.T) {
	g := newRig(t)
	rt := g.rt
	first := uint32(g.set.Get().ScreenTimeoutS)*1000 + 5000
	rt.Tick(first)
	if rt.Sleeping() {
		t.Fatal("slept on the first frame")
	}
}

func TestBrightnessEditClamps(t *testing.T) {
	g := newRig(t)
	rt := g.rt
	rt.PushTouch(touch.Event{Gesture: touch.LongPress})
	rt.Tick(0)
	if sel, _ := rt.Menu(); sel != settings.IDBrightness {
		t.Fatalf("selection %v", sel)
	}
	rt.PushTouch(touch.Event{Gesture: touch.SingleClick})
	for i := 0; i < 5; i++ {
		rt.PushButton(swc.Event{Button: swc.VolUp})
	}
	rt.Tick(33)
	if got := g.set.Get().Brightness; got != 100 {
		t.Fatalf("brightness %d, want 100", got)
	}
	rt.PushTouch(touch.Event{Gesture: touch.SingleClick})
	rt.PushTouch(touch.Event{Gesture: touch.SwipeDown})
	rt.Tick(66)
	if sel, editing := rt.Menu(); editing || sel != settings.IDShiftRPM {
		t.Fatalf("menu = %v editing %v", sel, editing)
	}
	if !g.set.Pending() {
		t.Fatal("edit not pending commit")
	}
}

func TestMuteSleepAndTouchWake(t *testing.T) {
	g := newRig(t)
	rt := g.rt
	rt.Tick(0)
	if g.bl.level != 255 {
		t.Fatalf("backlight %d", g.bl.level)
	}

	rt.PushButton(swc.Event{Button: swc.Mute})
	rt.Tick(33)
	if !rt.Sleeping() {
		t.Fatal("mute did not sleep")
	}
	if g.bl.level != 0 || g.panel.fills[len(g.panel.fills)-1] != colorBG {
		t.Fatal("screen not blanked")
	}
	fills, draws := len(g.panel.fills), rt.Stats().Draws
	rt.Tick(66)
	if len(g.panel.fills) != fills || rt.Stats().Draws != draws {
		t.Fatal("drawing while asleep")
	}

	rt.PushTouch(touch.Event{Gesture: touch.SingleClick})
	rt.Tick(99)
	if rt.Sleeping() || rt.Screen() != Overview {
		t.Fatalf("after touch: sleeping %v screen %v", rt.Sleeping(), rt.Screen())
	}
	if rt.Stats().Draws == draws || g.bl.level != 255 {
		t.Fatal("wake did not repaint within the tick")
	}
}

func TestSleepTimeoutAndEngineStart(t *testing.T) {
	g := newRig(t)
	rt := g.rt
	timeout := uint32(g.set.Get().ScreenTimeoutS) * 1000
	rt.Tick(0)
	rt.Tick(timeout - 1)
	if rt.Sleeping() {
		t.Fatal("slept early")
	}
	rt.Tick(timeout)
	if !rt.Sleeping() {
		t.Fatal("did not sleep after timeout")
	}

	g.cache.Update(signal.GroupStatus, timeout+10, func(s *signal.Snapshot) { s.EngineRunning = true })
	rt.Tick(timeout + 33)
	if rt.Sleeping() {
		t.Fatal("engine start did not wake")
	}
	rt.Tick(3 * timeout)
	if rt.Sleeping() {
		t.Fatal("slept with the engine running")
	}
}

func TestMemoRepaintsOnVisibleChange(t *testing.T) {
	g := newRig(t)
	rt := g.rt
	g.set.Mutate(0, func(s *settings.Settings) { s.Units = settings.Metric })
	rt.Tick(0)
	base := rt.Stats().Draws
	rt.Tick(33)
	if rt.Stats().Draws != base {
		t.Fatalf("unchanged frame drew %d widgets", rt.Stats().Draws-base)
	}

	g.cache.Update(signal.GroupEngine, 40, func(s *signal.Snapshot) { s.RPM = 910 })
	rt.Tick(66)
	if rt.Stats().Draws != base {
		t.Fatal("10 rpm change repainted")
	}
	g.cache.Update(signal.GroupEngine, 80, func(s *signal.Snapshot) { s.RPM = 1000 })
	rt.Tick(99)
	if got := rt.Stats().Draws - base; got != 1 {
		t.Fatalf("rpm change repainted %d widgets, want 1", got)
	}
	g.cache.Update(signal.GroupVehicle, 120, func(s *signal.Snapshot) { s.Speed = 1 })
	rt.Tick(132)
	if got := rt.Stats().Draws - base; got != 2 {
		t.Fatalf("speed change repainted %d widgets total, want 2", got)
	}
}

func TestTPMSWarningCorner(t *testing.T) {
	g := newRig(t)
	g.cache.Update(signal.GroupTPMS, 0, func(s *signal.Snapshot) {
		s.TirePressure = [4]uint16{
			signal.PSIToKPa(321), signal.PSIToKPa(320), signal.PSIToKPa(275), signal.PSIToKPa(322),
		}
	})
	rt := g.rt
	rt.PushTouch(touch.Event{Gesture: touch.SwipeLeft})
	rt.PushTouch(touch.Event{Gesture: touch.SwipeLeft})
	rt.Tick(0)
	if rt.Screen() != TPMS {
		t.Fatalf("screen %v", rt.Screen())
	}
	corners := rt.layouts[TPMS][1:5]
	for i := range corners {
		red := g.panel.pixels(corners[i].rect, red565)
		if i == signal.RearLeft && red == 0 {
			t.Errorf("rear-left not in warning color")
		}
		if i != signal.RearLeft && red != 0 {
			t.Errorf("corner %d has %d warning pixels", i, red)
		}
	}
}

func TestNoDataBadge(t *testing.T) {
	g := newRig(t)
	rt := g.rt
	rt.Tick(0)
	badgeRect := rt.layouts[Overview][len(rt.layouts[Overview])-1].rect
	if g.panel.pixels(badgeRect, red565) != 0 {
		t.Fatal("badge shown while connected")
	}
	g.cache.Update(signal.GroupStatus, 500, func(s *signal.Snapshot) { s.Connected = false })
	rt.Tick(533)
	if g.panel.pixels(badgeRect, red565) == 0 {
		t.Fatal("NO DATA not shown")
	}
	g.panel.bitmaps = nil
	g.cache.Update(signal.GroupStatus, 600, func(s *signal.Snapshot) { s.Connected = true })
	rt.Tick(633)
	if len(g.panel.bitmaps) == 0 || g.panel.pixels(badgeRect, red565) != 0 {
		t.Fatal("badge not cleared on reconnect")
	}
}

func TestDisplayErrorSkipsFrame(t *testing.T) {
	g := newRig(t)
	rt := g.rt
	rt.Tick(0)
	g.panel.fail = errors.New("spi short transfer")
	g.cache.Update(signal.GroupEngine, 10, func(s *signal.Snapshot) { s.RPM = 3000 })
	rt.Tick(33)
	if rt.Stats().Skipped != 1 {
		t.Fatalf("skipped %d", rt.Stats().Skipped)
	}
	g.panel.fail = nil
	draws := rt.Stats().Draws
	rt.Tick(66)
	if rt.Stats().Draws == draws {
		t.Fatal("failed widget not retried")
	}
}
