// Package swc turns raw steering-wheel-control bytes from CAN IDs 0x240
// and 0x250 into debounced button events with auto-repeat.
package swc

// Button is a logical steering-wheel button.
type Button uint8

const (
	None Button = iota
	VolUp
	VolDown
	Mode
	SeekUp
	SeekDown
	Mute
	CruiseOnOff
	Cancel
	ResPlus
	SetMinus
)

var buttonNames = [...]string{
	None:        "none",
	VolUp:       "vol+",
	VolDown:     "vol-",
	Mode:        "mode",
	SeekUp:      "seek+",
	SeekDown:    "seek-",
	Mute:        "mute",
	CruiseOnOff: "cruise",
	Cancel:      "cancel",
	ResPlus:     "res+",
	SetMinus:    "set-",
}

func (b Button) String() string {
	if int(b) < len(buttonNames) {
		return buttonNames[b]
	}
	return "unknown"
}

// Source identifies which SWC frame a byte came from.
type Source uint8

const (
	Audio  Source = iota // 0x240
	Cruise               // 0x250
)

// bit order per source; index is the bit number in byte 0.
var bitmaps = [2][6]Button{
	Audio:  {VolUp, VolDown, Mode, SeekUp, SeekDown, Mute},
	Cruise: {CruiseOnOff, Cancel, ResPlus, SetMinus, None, None},
}

// Decode maps a raw byte to a button. When several bits are set the lowest
// set bit wins.
func Decode(src Source, raw byte) Button {
	if int(src) >= len(bitmaps) {
		return None
	}
	for bit, b := range bitmaps[src] {
		if raw&(1<<bit) != 0 && b != None {
			return b
		}
	}
	return None
}

const (
	DebounceMs     = 50
	RepeatDelayMs  = 500
	RepeatPeriodMs = 100
	// ReleaseMs releases a held button when its source goes quiet.
	ReleaseMs = 250
)

// Event is a logical button event.
type Event struct {
	Button Button
	Repeat bool
	// Release ends a press. It trails the last frame carrying the button
	// by DebounceMs so a bounce never ends a press early.
	Release bool
	AtMs    uint32
}

// Debouncer debounces one SWC source.
type Debouncer struct {
	src Source

	held       Button
	pressedAt  uint32
	lastEmit   uint32
	lastSample uint32

	lastButton     Button
	releasedAt     uint32
	hasReleased    bool
	releasePending bool
}

// NewDebouncer returns a debouncer for src.
func NewDebouncer(src Source) *Debouncer {
	return &Debouncer{src: src}
}

// Sample feeds one raw byte received at nowMs. It returns an event when a
// new press is accepted, an auto-repeat is due or a release has settled.
func (d *Debouncer) Sample(raw byte, nowMs uint32) (Event, bool) {
	d.lastSample = nowMs
	b := Decode(d.src, raw)
	if b == d.held {
		if b == None {
			return d.released(nowMs)
		}
		return d.repeat(nowMs)
	}
	if b == None {
		d.release(nowMs)
		return Event{}, false
	}
	// A bounce: the same button comes back inside the debounce window.
	if d.hasReleased && b == d.lastButton && nowMs-d.releasedAt < DebounceMs {
		d.held = b
		d.releasePending = false
		return Event{}, false
	}
	if d.held != None && nowMs-d.pressedAt < DebounceMs {
		// Chatter between two buttons; keep the first.
		return Event{}, false
	}
	d.held = b
	d.lastButton = b
	d.pressedAt = nowMs
	d.lastEmit = nowMs
	d.hasReleased = false
	d.releasePending = false
	return Event{Button: b, AtMs: nowMs}, true
}

// Tick advances time without a new sample. It produces auto-repeat and
// release events and releases the button if the source has gone quiet.
func (d *Debouncer) Tick(nowMs uint32) (Event, bool) {
	if d.held == None {
		return d.released(nowMs)
	}
	if nowMs-d.lastSample >= ReleaseMs {
		d.release(nowMs)
		return Event{}, false
	}
	return d.repeat(nowMs)
}

// Held returns the currently held button.
func (d *Debouncer) Held() Button { return d.held }

func (d *Debouncer) repeat(nowMs uint32) (Event, bool) {
	if d.held == None || nowMs-d.pressedAt < RepeatDelayMs {
		return Event{}, false
	}
	due := d.lastEmit + RepeatPeriodMs
	if d.lastEmit == d.pressedAt {
		due = d.pressedAt + RepeatDelayMs
	}
	if nowMs-due > 1<<31 { // nowMs < due
		return Event{}, false
	}
	d.lastEmit = nowMs
	return Event{Button: d.held, Repeat: true, AtMs: nowMs}, true
}

func (d *Debouncer) release(nowMs uint32) {
	if d.held != None {
		d.releasedAt = nowMs
		d.hasReleased = true
		d.releasePending = true
	}
	d.held = None
}

func (d *Debouncer) released(nowMs uint32) (Event, bool) {
	if !d.releasePending || nowMs-d.releasedAt < DebounceMs {
		return Event{}, false
	}
	d.releasePending = false
	return Event{Button: d.lastButton, Release: true, AtMs: nowMs}, true
}
