// Package touch reads gestures from the CST816-class capacitive touch
// controller on the shared I2C bus.
package touch

import (
	"io"
	"log/slog"
	"sync/atomic"

	"tinygo.org/x/drivers"
)

const (
	// Address is the controller's 7-bit I2C address.
	Address = 0x15
	// regGesture is followed by finger count and the 12-bit X and Y.
	regGesture = 0x01
	// TimeoutMs drops a read that took longer than this.
	TimeoutMs = 50
)

// Gesture is a controller gesture code.
type Gesture uint8

const (
	None        Gesture = 0x00
	SwipeUp     Gesture = 0x01
	SwipeDown   Gesture = 0x02
	SwipeLeft   Gesture = 0x03
	SwipeRight  Gesture = 0x04
	SingleClick Gesture = 0x05
	DoubleClick Gesture = 0x0B
	LongPress   Gesture = 0x0C
)

func (g Gesture) String() string {
	switch g {
	case None:
		return "none"
	case SwipeUp:
		return "swipe-up"
	case SwipeDown:
		return "swipe-down"
	case SwipeLeft:
		return "swipe-left"
	case SwipeRight:
		return "swipe-right"
	case SingleClick:
		return "click"
	case DoubleClick:
		return "double-click"
	case LongPress:
		return "long-press"
	}
	return "unknown"
}

// Event is one decoded gesture.
type Event struct {
	Gesture Gesture
	X, Y    int16
	AtMs    uint32
}

// Config configures a Device.
type Config struct {
	Bus    drivers.I2C
	Logger *slog.Logger
	// Now returns milliseconds; used to detect slow reads. Optional.
	Now func() uint32
}

// Device is the touch controller. OnInterrupt may be called from an
// interrupt; everything else runs on the main loop.
type Device struct {
	bus drivers.I2C
	log *slog.Logger
	now func() uint32

	pending atomic.Bool
	reg     [1]byte
	buf     [6]byte
	last    Event

	errors   uint32
	timeouts uint32
	failing  bool
}

// New returns a Device on cfg.Bus.
func New(cfg Config) *Device {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}
	return &Device{bus: cfg.Bus, log: logger, now: cfg.Now, reg: [1]byte{regGesture}}
}

// OnInterrupt is the INT pin handler. It only sets a flag.
func (d *Device) OnInterrupt() { d.pending.Store(true) }

// Poll reads the controller if an interrupt is pending and returns a
// gesture event. On a bus error or a slow read the frame is dropped and
// the previous state is kept; only the first error of a run is logged.
func (d *Device) Poll(nowMs uint32) (Event, bool) {
	if !d.pending.Swap(false) || d.bus == nil {
		return Event{}, false
	}
	var start uint32
	if d.now != nil {
		start = d.now()
	}
	err := d.bus.Tx(Address, d.reg[:], d.buf[:])
	if err == nil && d.now != nil && d.now()-start >= TimeoutMs {
		d.timeouts++
		return Event{}, false
	}
	if err != nil {
		d.errors++
		if !d.failing {
			d.failing = true
			d.log.Warn("touch:read-failed", slog.String("err", err.Error()))
		}
		return Event{}, false
	}
	if d.failing {
		d.failing = false
		d.log.Info("touch:recovered", slog.Uint64("errors", uint64(d.errors)))
	}
	g := Gesture(d.buf[0])
	ev := Event{
		Gesture: g,
		X:       int16(d.buf[2]&0x0F)<<8 | int16(d.buf[3]),
		Y:       int16(d.buf[4]&0x0F)<<8 | int16(d.buf[5]),
		AtMs:    nowMs,
	}
	d.last = ev
	if g == None {
		return Event{}, false
	}
	return ev, true
}

// Last returns the most recent successfully read state.
func (d *Device) Last() Event { return d.last }

// Errors returns the read error and timeout counts.
func (d *Device) Errors() (errs, timeouts uint32) { return d.errors, d.timeouts }
