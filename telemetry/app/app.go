// Package app wires the telemetry components into one cooperative main
// loop. Hardware is injected through interfaces, so the same scheduler
// runs on the board, in the bench simulator and in tests.
package app

import (
	"errors"
	"io"
	"log/slog"
	"strconv"

	"tinygo.org/x/tinyfs"

	"github.com/harveysanders/miatadash/telemetry/canbus"
	"github.com/harveysanders/miatadash/telemetry/dash"
	"github.com/harveysanders/miatadash/telemetry/demo"
	"github.com/harveysanders/miatadash/telemetry/imu"
	"github.com/harveysanders/miatadash/telemetry/lcd"
	"github.com/harveysanders/miatadash/telemetry/leds"
	"github.com/harveysanders/miatadash/telemetry/mqtt"
	"github.com/harveysanders/miatadash/telemetry/sdlog"
	"github.com/harveysanders/miatadash/telemetry/settings"
	"github.com/harveysanders/miatadash/telemetry/shell"
	"github.com/harveysanders/miatadash/telemetry/signal"
	"github.com/harveysanders/miatadash/telemetry/swc"
	"github.com/harveysanders/miatadash/telemetry/touch"
)

const (
	// IMUPeriodMs is how often the accelerometer path runs.
	IMUPeriodMs = 10
	// LivePeriodMs is the LIVE serial row period.
	LivePeriodMs = 200
	// FlushEveryMs bounds how long rows may sit in the SD buffer.
	FlushEveryMs = 1000
)

// Gestures is a touch controller. *touch.Device implements it.
type Gestures interface {
	Poll(nowMs uint32) (touch.Event, bool)
}

// Positioner reports the latest GPS fix in micro-degrees. ok is false when
// no new sentence arrived since the last call.
type Positioner interface {
	Position() (lat, lon int32, fix, ok bool)
}

// Config holds the hardware seams. Every field except Surface and Strip
// may be nil; the matching component then stays idle.
type Config struct {
	Controller canbus.Controller
	ReadInISR  bool
	Strip      leds.Strip
	Knob       func() uint8
	Surface    dash.Surface
	Backlight  lcd.Backlight
	Touch      Gestures
	Accel      imu.Accelerometer
	GPS        Positioner
	Flash      tinyfs.BlockDevice
	FS         sdlog.FS
	// Console carries the serial shell.
	Console io.Writer
	Logger  *slog.Logger
	// Seed drives the demo generator.
	Seed int64
}

// Stats summarizes the loop.
type Stats struct {
	Steps      uint32
	LEDTicks   uint32
	DashTicks  uint32
	Flushes    uint32
	FlushSkips uint32 // flush windows lost to input
}

// App is the scheduler. Step must be called from a single goroutine.
type App struct {
	cfg Config
	log *slog.Logger

	Cache    signal.Cache
	Ingest   *canbus.Ingest
	Settings *settings.Manager
	LEDs     *leds.Renderer
	Dash     *dash.Runtime
	IMU      *imu.Sensor
	SD       *sdlog.Logger
	Shell    *shell.Shell
	Feed     *mqtt.Feed

	overlay  demo.Overlay
	swc      [2]*swc.Debouncer
	inputNow bool

	now       uint32
	nextLED   uint32
	nextDash  uint32
	nextIMU   uint32
	lastFlush uint32
	lastLive  uint32
	live      bool
	started   bool

	row   []byte
	stats Stats
}

// New builds every component. Call Start once before stepping.
func New(cfg Config) *App {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}
	a := &App{cfg: cfg, log: logger, row: make([]byte, 0, 256)}

	a.Settings = settings.Open(settings.Config{Device: cfg.Flash, Logger: logger})
	a.overlay = demo.Overlay{
		Source:  &a.Cache,
		Gen:     demo.NewGenerator(cfg.Seed),
		Enabled: func() bool { return a.Settings.Get().DemoMode },
		Now:     func() uint32 { return a.now },
	}
	a.Ingest = canbus.New(canbus.Config{
		Controller: cfg.Controller,
		Cache:      &a.Cache,
		Logger:     logger,
		ReadInISR:  cfg.ReadInISR,
	})
	a.swc = [2]*swc.Debouncer{swc.NewDebouncer(swc.Audio), swc.NewDebouncer(swc.Cruise)}
	a.Ingest.Subscribe(canbus.IDSWCAudio, a.onSWC)
	a.Ingest.Subscribe(canbus.IDSWCCruise, a.onSWC)

	a.Dash = dash.New(dash.Config{
		Source:    &a.overlay,
		Settings:  a.Settings,
		Surface:   cfg.Surface,
		Backlight: cfg.Backlight,
		Logger:    logger,
	})
	a.LEDs = leds.NewRenderer(leds.Config{
		Source: &a.overlay,
		Params: a.Settings,
		Strip:  cfg.Strip,
		Logger: logger,
		Knob:   cfg.Knob,
		Blank:  a.Dash.Sleeping,
	})
	if cfg.Accel != nil {
		a.IMU = imu.New(imu.Config{Device: cfg.Accel, Cache: &a.Cache, Logger: logger, IntervalMs: IMUPeriodMs})
	}
	a.SD = sdlog.New(sdlog.Config{FS: cfg.FS, Source: &a.overlay, Logger: logger})
	if cfg.Console != nil {
		a.Shell = shell.New(a, cfg.Console)
	}
	a.Feed = mqtt.NewFeed(0)
	return a
}

// Start brings up the bus and begins a fresh log file when a card is
// present. Failures leave the system running degraded.
func (a *App) Start(nowMs uint32) {
	a.now = nowMs
	if err := a.Ingest.Start(); err != nil {
		a.log.Error("app:can-degraded", slog.String("err", err.Error()))
	}
	if a.cfg.FS != nil {
		if err := a.SD.Start(nowMs); err != nil {
			a.log.Error("app:log-start-failed", slog.String("err", err.Error()))
		}
	}
	a.nextLED, a.nextDash, a.nextIMU, a.lastFlush = nowMs, nowMs, nowMs, nowMs
	a.started = true
	a.log.Info("app:started",
		slog.Bool("can", !a.Ingest.Degraded()),
		slog.Bool("sd", a.cfg.FS != nil),
		slog.Bool("imu", a.IMU != nil),
	)
}

func (a *App) onSWC(id uint32, data []byte, nowMs uint32) {
	d := a.swc[0]
	if id == canbus.IDSWCCruise {
		d = a.swc[1]
	}
	if ev, ok := d.Sample(data[0], nowMs); ok {
		a.inputNow = true
		a.Dash.PushButton(ev)
	}
}

func due(nowMs, at uint32) bool { return int32(nowMs-at) >= 0 }

// Step runs one pass of the main loop. console may be nil.
func (a *App) Step(nowMs uint32, console shell.ByteReader) {
	if !a.started {
		a.Start(nowMs)
	}
	a.now = nowMs
	a.stats.Steps++
	a.inputNow = false

	// Bus first so a frame decoded now reaches the LEDs in this pass.
	frames := a.Ingest.Poll(nowMs)
	if frames > 0 || due(nowMs, a.nextLED) {
		a.LEDs.Tick(nowMs)
		a.stats.LEDTicks++
		a.nextLED = nowMs + leds.RefreshMs
	}

	for _, d := range a.swc {
		if ev, ok := d.Tick(nowMs); ok {
			a.inputNow = true
			a.Dash.PushButton(ev)
		}
	}
	if a.cfg.Touch != nil {
		if ev, ok := a.cfg.Touch.Poll(nowMs); ok {
			a.inputNow = true
			a.Dash.PushTouch(ev)
		}
	}
	if console != nil && a.Shell != nil && console.Buffered() > 0 {
		a.inputNow = true
		a.Dash.Activity(nowMs)
		a.Shell.Poll(console)
	}

	if a.IMU != nil && due(nowMs, a.nextIMU) {
		a.IMU.Tick(nowMs)
		a.nextIMU = nowMs + IMUPeriodMs
	}
	if a.cfg.GPS != nil {
		if lat, lon, fix, ok := a.cfg.GPS.Position(); ok {
			s := a.Cache.Begin()
			s.Lat, s.Lon, s.Fix = lat, lon, fix
			a.Cache.Commit(signal.GroupPosition, nowMs)
		}
	}

	if due(nowMs, a.nextDash) {
		a.Dash.Tick(nowMs)
		a.stats.DashTicks++
		a.nextDash = nowMs + dash.TickMs
	}

	a.SD.Sample(nowMs)
	a.Feed.Offer(nowMs, &a.overlay)
	a.liveRow(nowMs)

	// Background work only runs in passes without input.
	if a.inputNow {
		if a.Settings.Pending() || a.SD.Pending() > 0 {
			a.stats.FlushSkips++
		}
		return
	}
	a.Settings.Tick(nowMs)
	if n := a.SD.Pending(); n > 0 && (n >= sdlog.BufferSize/2 || nowMs-a.lastFlush >= FlushEveryMs) {
		a.SD.Flush()
		a.lastFlush = nowMs
		a.stats.Flushes++
	}
}

func (a *App) liveRow(nowMs uint32) {
	if !a.live || a.cfg.Console == nil || nowMs-a.lastLive < LivePeriodMs {
		return
	}
	a.lastLive = nowMs
	a.row = a.AppendDump(a.row[:0])
	a.cfg.Console.Write(a.row)
}

// Stats returns the loop counters.
func (a *App) Stats() Stats { return a.stats }

// Shell target.

func (a *App) StartLog() error {
	if a.cfg.FS == nil {
		return sdlog.ErrNoCard
	}
	return a.SD.Start(a.now)
}

func (a *App) PauseLog() error {
	if a.SD.State() != sdlog.Running {
		return errors.New("not logging")
	}
	a.SD.Pause()
	return nil
}

func (a *App) ResumeLog() error {
	if a.SD.State() != sdlog.Paused {
		return errors.New("not paused")
	}
	a.SD.Resume()
	return nil
}

func (a *App) StopLog() error { return a.SD.Stop() }

// ToggleLive flips the serial and MQTT live streams together.
func (a *App) ToggleLive() bool {
	a.live = !a.live
	a.lastLive = a.now - LivePeriodMs
	a.Feed.SetEnabled(a.live)
	a.log.Info("app:live", slog.Bool("on", a.live))
	return a.live
}

func (a *App) AppendDump(b []byte) []byte {
	s, _ := a.overlay.Load()
	return sdlog.AppendRow(b, a.now, &s)
}

func (a *App) AppendStatus(b []byte) []byte {
	s, _ := a.overlay.Load()
	st := a.Ingest.Stats()
	b = append(b, "can="...)
	if a.Ingest.Degraded() {
		b = append(b, "degraded"...)
	} else if s.Connected {
		b = append(b, "up"...)
	} else {
		b = append(b, "silent"...)
	}
	b = append(b, " frames="...)
	b = strconv.AppendUint(b, uint64(st.Frames), 10)
	b = append(b, " rpm="...)
	b = strconv.AppendUint(b, uint64(s.RPM), 10)
	b = append(b, " screen="...)
	b = append(b, a.Dash.Screen().String()...)
	if a.Dash.Sleeping() {
		b = append(b, " (asleep)"...)
	}
	b = append(b, " log="...)
	b = append(b, a.SD.State().String()...)
	if name := a.SD.Current(); name != "" {
		b = append(b, ' ')
		b = append(b, name...)
	}
	b = append(b, " rows="...)
	b = strconv.AppendUint(b, uint64(a.SD.Stats().Rows), 10)
	b = append(b, " live="...)
	b = strconv.AppendBool(b, a.live)
	if a.Settings.Get().DemoMode {
		b = append(b, " demo"...)
	}
	return b
}

func (a *App) Files() ([]string, error) { return a.SD.Files() }
