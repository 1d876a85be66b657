package app

import (
	"bytes"
	"image/color"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/harveysanders/miatadash/telemetry/canbus"
	"github.com/harveysanders/miatadash/telemetry/lcd"
	"github.com/harveysanders/miatadash/telemetry/settings"
	"github.com/harveysanders/miatadash/telemetry/touch"
)

type nopController struct{}

func (nopController) Begin() error                { return nil }
func (nopController) Received() bool              { return false }
func (nopController) Rx() (canbus.Frame, error)   { return canbus.Frame{}, io.EOF }

type fakeStrip struct {
	writes int
	last   []color.RGBA
}

func (s *fakeStrip) WriteColors(buf []color.RGBA) error {
	s.writes++
	s.last = append(s.last[:0], buf...)
	return nil
}

type fakePanel struct {
	fills []color.RGBA
	draws int
}

func (p *fakePanel) Size() (int16, int16) { return lcd.Width, lcd.Height }

func (p *fakePanel) DrawRGBBitmap8(x, y int16, data []uint8, w, h int16) error {
	p.draws++
	return nil
}

func (p *fakePanel) FillRectangle(x, y, w, h int16, c color.RGBA) error {
	p.fills = append(p.fills, c)
	return nil
}

type fakeTouch struct{ queue []touch.Event }

func (t *fakeTouch) Poll(nowMs uint32) (touch.Event, bool) {
	if len(t.queue) == 0 {
		return touch.Event{}, false
	}
	ev := t.queue[0]
	t.queue = t.queue[1:]
	ev.AtMs = nowMs
	return ev, true
}

type memFlash struct{ data []byte }

func newMemFlash() *memFlash {
	f := &memFlash{data: make([]byte, 2*4096)}
	for i := range f.data {
		f.data[i] = 0xFF
	}
	return f
}

func (f *memFlash) ReadAt(p []byte, off int64) (int, error) { return copy(p, f.data[off:]), nil }

func (f *memFlash) WriteAt(p []byte, off int64) (int, error) {
	for i, b := range p {
		f.data[off+int64(i)] &= b
	}
	return len(p), nil
}

func (f *memFlash) Size() int64           { return int64(len(f.data)) }
func (f *memFlash) WriteBlockSize() int64 { return 256 }
func (f *memFlash) EraseBlockSize() int64 { return 4096 }

func (f *memFlash) EraseBlocks(start, n int64) error {
	for i := start * 4096; i < (start+n)*4096; i++ {
		f.data[i] = 0xFF
	}
	return nil
}

type memFile struct{ bytes.Buffer }

func (*memFile) Close() error { return nil }

type memFS struct{ files map[string]*memFile }

func (fs *memFS) Create(name string) (io.WriteCloser, error) {
	f := &memFile{}
	fs.files[name] = f
	return f, nil
}

func (fs *memFS) List() ([]string, error) {
	var names []string
	for n := range fs.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

type console struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (c *console) Buffered() int            { return c.in.Len() }
func (c *console) ReadByte() (byte, error)  { return c.in.ReadByte() }
func (c *console) Write(p []byte) (int, error) { return c.out.Write(p) }

type bench struct {
	*App
	strip *fakeStrip
	panel *fakePanel
	touch *fakeTouch
	flash *memFlash
	fs    *memFS
	con   *console
	logs  *bytes.Buffer
}

func newBench(t *testing.T, flash *memFlash) *bench {
	t.Helper()
	if flash == nil {
		flash = newMemFlash()
	}
	b := &bench{
		strip: &fakeStrip{},
		panel: &fakePanel{},
		touch: &fakeTouch{},
		flash: flash,
		fs:    &memFS{files: map[string]*memFile{}},
		con:   &console{},
		logs:  &bytes.Buffer{},
	}
	b.App = New(Config{
		Controller: nopController{},
		Strip:      b.strip,
		Surface:    lcd.NewCanvas(b.panel),
		Touch:      b.touch,
		Flash:      flash,
		FS:         b.fs,
		Console:    b.con,
		Logger:     slog.New(slog.NewTextHandler(b.logs, nil)),
	})
	b.Start(0)
	return b
}

func engineFrame(rpm, speedKmh uint16) canbus.Frame {
	raw, sp := rpm*4, speedKmh*10
	return canbus.Frame{ID: canbus.IDEngine, Len: 8, Data: [8]byte{byte(raw >> 8), byte(raw), byte(sp >> 8), byte(sp)}}
}

func swcFrame(raw byte) canbus.Frame {
	return canbus.Frame{ID: canbus.IDSWCAudio, Len: 1, Data: [8]byte{raw}}
}

// run steps every millisecond in [from, to), sending an engine frame at
// rpm every 20 ms when rpm is non-zero.
func (b *bench) run(from, to uint32, rpm uint16) {
	for now := from; now < to; now++ {
		if rpm != 0 && now%20 == 0 {
			b.Ingest.Enqueue(engineFrame(rpm, 60))
		}
		b.Step(now, b.con)
	}
}

func (b *bench) lit() int { return b.LEDs.Frame().Lit() }

func TestCANToLEDLatency(t *testing.T) {
	b := newBench(t, nil)
	for now := uint32(0); now < 1000; now++ {
		if now%10 != 0 {
			b.Step(now, nil)
			continue
		}
		b.Ingest.Enqueue(engineFrame(uint16(1000+now*6), 80))
		b.Step(now, nil)
		if got := b.LEDs.LastSourceStamp(); got != now {
			t.Fatalf("frame at %d ms: LEDs published data from %d ms", now, got)
		}
	}
	if b.lit() == 0 {
		t.Fatal("LED bar dark at high rpm")
	}
}

func TestMuteSleepsAndTouchRestores(t *testing.T) {
	b := newBench(t, nil)
	b.run(0, 400, 3500)
	if b.lit() == 0 || b.Dash.Sleeping() {
		t.Fatalf("before mute: lit %d sleeping %v", b.lit(), b.Dash.Sleeping())
	}

	b.Ingest.Enqueue(swcFrame(1 << 5))
	b.run(400, 440, 3500)
	if !b.Dash.Sleeping() {
		t.Fatal("MUTE did not sleep the display")
	}
	if b.lit() != 0 {
		t.Fatalf("LEDs lit while asleep: %d", b.lit())
	}
	if b.panel.fills[len(b.panel.fills)-1] != (color.RGBA{0, 0, 0, 255}) {
		t.Fatal("screen not blacked out")
	}

	b.run(440, 500, 3500)
	b.touch.queue = append(b.touch.queue, touch.Event{Gesture: touch.SingleClick})
	draws := b.panel.draws
	b.run(500, 534, 3500)
	if b.Dash.Sleeping() || b.Dash.Screen().String() != "Overview" {
		t.Fatalf("after touch: sleeping %v screen %v", b.Dash.Sleeping(), b.Dash.Screen())
	}
	if b.panel.draws == draws {
		t.Fatal("nothing drawn within one tick of waking")
	}
}

func TestHoldingMuteStaysAsleep(t *testing.T) {
	b := newBench(t, nil)
	b.run(0, 400, 3500)
	for now := uint32(400); now < 1200; now += 100 {
		b.Ingest.Enqueue(swcFrame(1 << 5))
		b.run(now, now+100, 3500)
		if now > 450 && !b.Dash.Sleeping() {
			t.Fatalf("awake at %d ms while MUTE is held", now+100)
		}
	}
	b.Ingest.Enqueue(swcFrame(0))
	b.run(1200, 1600, 3500)
	if !b.Dash.Sleeping() {
		t.Fatal("releasing MUTE woke the display")
	}
	if b.lit() != 0 {
		t.Fatalf("LEDs lit while asleep: %d", b.lit())
	}
}

func TestDisconnectAndReconnect(t *testing.T) {
	b := newBench(t, nil)
	b.run(0, 400, 3500)
	if b.lit() == 0 {
		t.Fatal("not lit while running")
	}
	b.run(400, 1000, 0)
	if b.lit() != 0 {
		t.Fatal("LEDs lit without data")
	}
	status := string(b.AppendStatus(nil))
	if !strings.Contains(status, "can=silent") {
		t.Fatalf("status %q", status)
	}

	b.Ingest.Enqueue(engineFrame(3500, 60))
	b.Step(1000, nil)
	if b.lit() == 0 {
		t.Fatal("first frame after reconnect did not restore the LEDs")
	}
}

func TestDemoLightsLEDsWithoutBus(t *testing.T) {
	b := newBench(t, nil)
	b.Settings.Mutate(0, func(s *settings.Settings) { s.DemoMode = true })
	maxLit := 0
	for now := uint32(0); now < 10000; now++ {
		b.Step(now, nil)
		if n := b.lit(); n > maxLit {
			maxLit = n
		}
	}
	if maxLit == 0 {
		t.Fatal("demo never lit the bar")
	}
}

func TestSettingsEditPersists(t *testing.T) {
	flash := newMemFlash()
	b := newBench(t, flash)
	b.run(0, 100, 0)

	b.touch.queue = append(b.touch.queue,
		touch.Event{Gesture: touch.LongPress},
		touch.Event{Gesture: touch.SingleClick},
	)
	b.run(100, 200, 0)
	if sel, editing := b.Dash.Menu(); sel != settings.IDBrightness || !editing {
		t.Fatalf("menu = %v editing %v", sel, editing)
	}

	now := uint32(200)
	for i := 0; i < 5; i++ {
		b.Ingest.Enqueue(swcFrame(1 << 0))
		b.run(now, now+60, 0)
		b.Ingest.Enqueue(swcFrame(0))
		b.run(now+60, now+120, 0)
		now += 120
	}
	if got := b.Settings.Get().Brightness; got != 100 {
		t.Fatalf("brightness %d, want 100", got)
	}
	b.touch.queue = append(b.touch.queue, touch.Event{Gesture: touch.SingleClick})
	b.run(now, now+100, 0)
	if _, editing := b.Dash.Menu(); editing {
		t.Fatal("still editing")
	}
	b.run(now+100, now+2200, 0)
	if b.Settings.Pending() {
		t.Fatal("not committed after 2 s of quiet")
	}

	if got := settings.Open(settings.Config{Device: flash}).Get().Brightness; got != 100 {
		t.Fatalf("after power cycle brightness %d", got)
	}
}

func TestCorruptSettingsBootsWithDefaults(t *testing.T) {
	flash := newMemFlash()
	m := settings.Open(settings.Config{Device: flash})
	m.Mutate(0, func(s *settings.Settings) { s.ShiftRPM = 6000 })
	if err := m.Flush(); err != nil {
		t.Fatal(err)
	}
	for off := 0; off < len(flash.data); off += 4096 {
		if flash.data[off] != 0xFF {
			flash.data[off+17] ^= 0x01
		}
	}

	b := newBench(t, flash)
	if *b.Settings.Get() != settings.Defaults() {
		t.Fatalf("loaded %+v", *b.Settings.Get())
	}
	if n := strings.Count(b.logs.String(), "settings:"); n != 1 || !strings.Contains(b.logs.String(), "settings:invalid-record") {
		t.Fatalf("settings diagnostics:\n%s", b.logs.String())
	}
	b.run(0, 400, 3000)
	if b.lit() == 0 {
		t.Fatal("not operational after corrupt boot")
	}
}

func TestShellControlsLogAndLive(t *testing.T) {
	b := newBench(t, nil)
	b.con.in.WriteString("start\r\nSTATUS\nLIVE\n")
	b.run(0, 500, 2000)
	out := b.con.out.String()
	for _, want := range []string{"OK logging\n", "OK can=up", "OK live on\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("console missing %q:\n%s", want, out)
		}
	}
	if rows := strings.Count(out, "\n"); rows < 4 {
		t.Fatalf("no live rows:\n%s", out)
	}
	if len(b.Feed.C) == 0 {
		t.Fatal("uplink feed empty while live")
	}

	b.con.out.Reset()
	b.con.in.WriteString("LIVE\nSTOP\nLIST\nBOGUS\n")
	b.run(500, 600, 2000)
	want := "OK live off\nOK stopped\nOK LOG00001.CSV\nERR unknown command\n"
	if got := b.con.out.String(); got != want {
		t.Fatalf("console = %q, want %q", got, want)
	}
	f := b.fs.files["LOG00001.CSV"].String()
	if !strings.HasPrefix(f, "timestamp_ms,rpm,") || strings.Count(f, "\n") < 5 {
		t.Fatalf("log file:\n%s", f)
	}
}
