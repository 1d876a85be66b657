// Package dash is the dashboard runtime: a ring of screens navigated by
// touch gestures and steering-wheel buttons, a settings menu and a sleep
// policy. Widgets repaint only when their value moves by a visible amount.
package dash

import (
	"image/color"
	"io"
	"log/slog"

	"tinygo.org/x/drivers"

	"github.com/harveysanders/miatadash/telemetry/lcd"
	"github.com/harveysanders/miatadash/telemetry/settings"
	"github.com/harveysanders/miatadash/telemetry/signal"
	"github.com/harveysanders/miatadash/telemetry/swc"
	"github.com/harveysanders/miatadash/telemetry/touch"
)

// TickMs is the dashboard period (~30 Hz).
const TickMs = 33

// Screen is a dashboard page.
type Screen uint8

const (
	Overview Screen = iota
	RPMSpeed
	TPMS
	Engine
	GForce
	Settings
	numScreens

	// ringLen screens take part in left/right navigation.
	ringLen = Settings
)

var screenNames = [numScreens]string{
	Overview: "Overview",
	RPMSpeed: "RPM / Speed",
	TPMS:     "Tires",
	Engine:   "Engine",
	GForce:   "G-Force",
	Settings: "Settings",
}

func (s Screen) String() string {
	if s < numScreens {
		return screenNames[s]
	}
	return "unknown"
}

func (s Screen) next() Screen { return (s + 1) % ringLen }
func (s Screen) prev() Screen { return (s + ringLen - 1) % ringLen }

// Surface is where widgets are painted. *lcd.Canvas implements it.
type Surface interface {
	Draw(r lcd.Rect, bg color.RGBA, paint func(d drivers.Displayer)) error
	Fill(r lcd.Rect, c color.RGBA) error
}

// Store is the settings surface the runtime needs. *settings.Manager
// implements it.
type Store interface {
	Get() *settings.Settings
	Mutate(nowMs uint32, fn func(s *settings.Settings)) bool
}

// Config configures a Runtime.
type Config struct {
	Source    signal.Reader
	Settings  Store
	Surface   Surface
	Backlight lcd.Backlight
	Logger    *slog.Logger
}

// Stats are the runtime counters.
type Stats struct {
	Frames  uint32
	Draws   uint32
	Skipped uint32 // frames abandoned on a display error
}

type inputKind uint8

const (
	inputTouch inputKind = iota
	inputButton
)

type input struct {
	kind    inputKind
	gesture touch.Gesture
	button  swc.Button
	repeat  bool
	release bool
}

const queueLen = 8

// Runtime drives the dashboard. All methods must be called from the main
// loop.
type Runtime struct {
	cfg Config
	log *slog.Logger

	snap    signal.Snapshot
	running bool

	screen Screen
	// back is where SETTINGS returns to.
	back Screen
	// modePending is set between a MODE press and its release or first
	// repeat: a tap advances the screen, a hold opens SETTINGS.
	modePending bool
	sel         settings.ID
	editing     bool

	ticked    bool
	sleeping  bool
	blanked   bool
	lastInput uint32
	needClear bool
	backlight int16

	queue      [queueLen]input
	head, size int

	layouts [numScreens][]widget
	view    view
	failing bool
	stats   Stats
}

// New returns a runtime showing the overview screen. The first Tick paints
// the whole screen.
func New(cfg Config) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}
	r := &Runtime{
		cfg:       cfg,
		log:       logger,
		needClear: true,
		backlight: -1,
		layouts:   buildLayouts(),
	}
	r.view.buf = make([]byte, 0, 32)
	return r
}

// PushTouch queues a gesture for the next Tick.
func (r *Runtime) PushTouch(e touch.Event) {
	if e.Gesture == touch.None {
		return
	}
	r.push(input{kind: inputTouch, gesture: e.Gesture})
}

// PushButton queues a steering-wheel button event for the next Tick.
func (r *Runtime) PushButton(e swc.Event) {
	if e.Button == swc.None {
		return
	}
	r.push(input{kind: inputButton, button: e.Button, repeat: e.Repeat, release: e.Release})
}

// push drops the oldest event when the queue is full.
func (r *Runtime) push(in input) {
	if r.size == queueLen {
		r.head = (r.head + 1) % queueLen
		r.size--
	}
	r.queue[(r.head+r.size)%queueLen] = in
	r.size++
}

// Activity resets the sleep timer without acting on anything, e.g. for a
// serial command.
func (r *Runtime) Activity(nowMs uint32) { r.lastInput = nowMs }

// Screen returns the active screen. While asleep it is the screen that
// will be restored.
func (r *Runtime) Screen() Screen { return r.screen }

// Sleeping reports whether the display is asleep. The LED bar stays dark
// while it is.
func (r *Runtime) Sleeping() bool { return r.sleeping }

// Menu returns the settings menu selection and whether it is being edited.
func (r *Runtime) Menu() (settings.ID, bool) { return r.sel, r.editing }

// Stats returns a copy of the counters.
func (r *Runtime) Stats() Stats { return r.stats }

// Tick runs one dashboard frame: read the cache, apply queued input, run
// the sleep policy and repaint what changed.
func (r *Runtime) Tick(nowMs uint32) {
	r.stats.Frames++
	if !r.ticked {
		// The sleep timer starts with the first frame, not at boot.
		r.ticked = true
		r.lastInput = nowMs
	}
	if s, ok := r.cfg.Source.Load(); ok {
		r.snap = s
	}
	started := r.snap.EngineRunning && !r.running
	r.running = r.snap.EngineRunning
	if started && r.sleeping {
		r.wake(nowMs)
	}

	for r.size > 0 {
		in := r.queue[r.head]
		r.head = (r.head + 1) % queueLen
		r.size--
		r.handle(in, nowMs)
	}

	set := r.cfg.Settings.Get()
	if r.running {
		r.lastInput = nowMs
	}
	if !r.sleeping && set.ScreenTimeoutS > 0 && nowMs-r.lastInput >= uint32(set.ScreenTimeoutS)*1000 {
		r.sleep()
	}
	r.render(set)
}

func (r *Runtime) handle(in input, nowMs uint32) {
	if in.kind == inputButton && (in.repeat || in.release) {
		if r.sleeping {
			// A held button must not undo the sleep its press caused.
			return
		}
		if in.release {
			if in.button == swc.Mode && r.modePending {
				r.finishMode()
			}
			return
		}
	}
	r.lastInput = nowMs
	if r.modePending && (in.kind != inputButton || in.button != swc.Mode) {
		r.finishMode()
	}
	if r.sleeping {
		// Any input wakes; the event itself is consumed.
		r.wake(nowMs)
		return
	}
	if in.kind == inputTouch {
		r.handleTouch(in.gesture, nowMs)
		return
	}
	r.handleButton(in.button, in.repeat, nowMs)
}

func (r *Runtime) handleTouch(g touch.Gesture, nowMs uint32) {
	if r.screen == Settings {
		switch g {
		case touch.SwipeUp:
			r.menuStep(true, nowMs)
		case touch.SwipeDown:
			r.menuStep(false, nowMs)
		case touch.SingleClick:
			r.editing = !r.editing
		case touch.SwipeLeft, touch.SwipeRight:
			r.leaveSettings()
		}
		return
	}
	switch g {
	case touch.SwipeLeft:
		r.show(r.screen.next())
	case touch.SwipeRight:
		r.show(r.screen.prev())
	case touch.LongPress:
		r.enterSettings(r.screen)
	}
}

func (r *Runtime) handleButton(b swc.Button, repeat bool, nowMs uint32) {
	if b == swc.Mute {
		if !repeat {
			r.sleep()
		}
		return
	}
	if r.screen == Settings {
		switch b {
		case swc.VolUp:
			r.menuStep(true, nowMs)
		case swc.VolDown:
			r.menuStep(false, nowMs)
		case swc.SeekUp, swc.SeekDown:
			r.leaveSettings()
		case swc.Mode:
			if !repeat {
				r.editing = !r.editing
			}
		case swc.Cancel:
			if r.editing {
				r.editing = false
			} else {
				r.leaveSettings()
			}
		}
		return
	}
	switch b {
	case swc.Mode:
		if !repeat {
			r.modePending = true
		} else if r.modePending {
			r.modePending = false
			r.enterSettings(r.screen)
		}
	case swc.SeekUp:
		r.show(r.screen.next())
	case swc.SeekDown, swc.Cancel:
		r.show(r.screen.prev())
	}
}

// menuStep moves the selection up or down the list, or in edit mode
// raises or lowers the selected value.
func (r *Runtime) menuStep(up bool, nowMs uint32) {
	step := 1
	if up {
		step = -1
	}
	if r.editing {
		id := r.sel
		r.cfg.Settings.Mutate(nowMs, func(s *settings.Settings) { s.Adjust(id, -step) })
		return
	}
	n := int(settings.NumIDs)
	r.sel = settings.ID(((int(r.sel)+step)%n + n) % n)
}

// finishMode completes a MODE tap.
func (r *Runtime) finishMode() {
	r.modePending = false
	if r.screen != Settings {
		r.show(r.screen.next())
	}
}

func (r *Runtime) enterSettings(from Screen) {
	r.back = from
	r.editing = false
	r.show(Settings)
}

func (r *Runtime) leaveSettings() {
	r.editing = false
	r.show(r.back)
}

func (r *Runtime) show(s Screen) {
	if s == r.screen {
		return
	}
	r.log.Debug("dash:screen", slog.String("screen", s.String()))
	r.screen = s
	r.needClear = true
}

func (r *Runtime) sleep() {
	if r.sleeping {
		return
	}
	r.log.Info("dash:sleep", slog.String("screen", r.screen.String()))
	r.modePending = false
	r.sleeping = true
	r.blanked = false
}

func (r *Runtime) wake(nowMs uint32) {
	r.log.Info("dash:wake", slog.String("screen", r.screen.String()))
	r.sleeping = false
	r.lastInput = nowMs
	r.needClear = true
}

func (r *Runtime) setBacklight(level uint8) {
	if r.cfg.Backlight == nil || r.backlight == int16(level) {
		return
	}
	r.cfg.Backlight.SetBacklight(level)
	r.backlight = int16(level)
}

var fullScreen = lcd.Rect{W: lcd.Width, H: lcd.Height}

func (r *Runtime) render(set *settings.Settings) {
	if r.sleeping {
		if r.blanked {
			return
		}
		r.setBacklight(0)
		if err := r.cfg.Surface.Fill(fullScreen, colorBG); err != nil {
			r.displayError(err)
			return
		}
		r.blanked = true
		r.displayOK()
		return
	}
	if r.needClear {
		if err := r.cfg.Surface.Fill(fullScreen, colorBG); err != nil {
			r.displayError(err)
			return
		}
		r.needClear = false
		for i := range r.layouts[r.screen] {
			r.layouts[r.screen][i].last.valid = false
		}
	}
	r.setBacklight(255)

	v := &r.view
	v.s, v.set = &r.snap, set
	v.sel, v.editing = r.sel, r.editing
	for i := range r.layouts[r.screen] {
		w := &r.layouts[r.screen][i]
		w.sample(v)
		if !w.dirty() {
			continue
		}
		err := r.cfg.Surface.Draw(w.rect, colorBG, func(d drivers.Displayer) {
			w.paint(d, w, v)
		})
		if err != nil {
			// Memos stay stale so the widget is retried next frame.
			r.displayError(err)
			return
		}
		w.last = w.cur
		w.last.valid = true
		r.stats.Draws++
	}
	r.displayOK()
}

func (r *Runtime) displayError(err error) {
	r.stats.Skipped++
	if !r.failing {
		r.failing = true
		r.log.Error("dash:display-error", slog.String("err", err.Error()))
	}
}

func (r *Runtime) displayOK() {
	if r.failing {
		r.failing = false
		r.log.Info("dash:display-recovered", slog.Uint64("skipped", uint64(r.stats.Skipped)))
	}
}
