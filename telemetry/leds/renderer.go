package leds

import (
	"image/color"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/harveysanders/miatadash/telemetry/signal"
)

// RefreshMs is the renderer period (200 Hz).
const RefreshMs = 5

// Strip is the pixel output. ws2812.Device satisfies it.
type Strip interface {
	WriteColors(buf []color.RGBA) error
}

// Params are the settings the renderer reads every frame.
type Params struct {
	Mode Mode
	// Brightness is a percentage, 0-100.
	Brightness uint8
	ShiftRPM   uint16
	RedlineRPM uint16
	Demo       bool
}

// ParamsSource returns the current parameters. It is called once per
// frame so settings changes show up on the next refresh.
type ParamsSource interface {
	LEDParams() Params
}

// Config configures a Renderer.
type Config struct {
	Source signal.Reader
	Params ParamsSource
	Strip  Strip
	Logger *slog.Logger
	// Knob optionally caps brightness (0-255), e.g. from the A6 pot.
	Knob func() uint8
	// Blank forces the bar off while it returns true (display sleep).
	Blank func() bool
}

// Stats are the renderer counters.
type Stats struct {
	Frames      uint32
	WriteErrors uint32
	StaleReads  uint32
}

// Renderer owns the pixel buffers. Tick must be called from one goroutine.
type Renderer struct {
	cfg Config
	log *slog.Logger

	frames [2]Frame
	front  atomic.Uint32

	snap      signal.Snapshot
	lastStamp uint32
	reported  bool
	stats     Stats
}

// NewRenderer returns a renderer. The bar starts dark.
func NewRenderer(cfg Config) *Renderer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}
	return &Renderer{cfg: cfg, log: logger}
}

// BrightnessScale combines the settings percentage with the optional knob.
func BrightnessScale(pct uint8, knob func() uint8) uint8 {
	if pct > 100 {
		pct = 100
	}
	s := uint8(uint16(pct) * 255 / 100)
	if knob != nil {
		if k := knob(); k < s {
			s = k
		}
	}
	return s
}

// Tick renders and publishes one frame. A failed strip write is counted
// and the next frame simply overwrites it.
func (r *Renderer) Tick(nowMs uint32) {
	if s, ok := r.cfg.Source.Load(); ok {
		r.snap = s
	} else {
		r.stats.StaleReads++
	}
	var p Params
	if r.cfg.Params != nil {
		p = r.cfg.Params.LEDParams()
	}
	in := Input{
		RPM:        r.snap.RPM,
		ShiftRPM:   p.ShiftRPM,
		RedlineRPM: p.RedlineRPM,
		Mode:       p.Mode,
		Scale:      BrightnessScale(p.Brightness, r.cfg.Knob),
		Running:    r.snap.EngineRunning,
		Connected:  r.snap.Connected,
		Demo:       p.Demo,
		NowMs:      nowMs,
	}
	if r.cfg.Blank != nil && r.cfg.Blank() {
		in.Scale = 0
	}

	back := 1 - r.front.Load()
	r.frames[back] = Compute(in)
	r.front.Store(back)
	r.lastStamp = r.snap.Stamp(signal.GroupEngine)
	r.stats.Frames++

	if r.cfg.Strip == nil {
		return
	}
	if err := r.cfg.Strip.WriteColors(r.frames[back][:]); err != nil {
		r.stats.WriteErrors++
		if !r.reported {
			r.reported = true
			r.log.Warn("leds:write-failed", slog.String("err", err.Error()))
		}
		return
	}
	r.reported = false
}

// Frame returns the last committed frame.
func (r *Renderer) Frame() Frame {
	return r.frames[r.front.Load()]
}

// LastSourceStamp returns the engine-group timestamp of the snapshot used
// by the last published frame.
func (r *Renderer) LastSourceStamp() uint32 { return r.lastStamp }

// Stats returns a copy of the counters.
func (r *Renderer) Stats() Stats { return r.stats }
