package sim

import (
	"log/slog"

	"github.com/harveysanders/miatadash/telemetry/app"
	"github.com/harveysanders/miatadash/telemetry/canbus"
	"github.com/harveysanders/miatadash/telemetry/lcd"
	"github.com/harveysanders/miatadash/telemetry/swc"
)

// holdMs is how long a bench button press keeps its SWC byte on the bus.
const holdMs = 120

// busController is a CAN controller with nothing attached; frames are
// injected through Ingest.Enqueue instead.
type busController struct{}

func (busController) Begin() error              { return nil }
func (busController) Received() bool            { return false }
func (busController) Rx() (canbus.Frame, error) { return canbus.Frame{}, nil }

// Rig is the whole core running against simulated hardware.
type Rig struct {
	App     *app.App
	Car     *Car
	Strip   *Strip
	Panel   *Panel
	Touch   *Touch
	Flash   *Flash
	Card    *Card
	Console *Console

	now     uint32
	pressID uint32
	pressB  byte
	until   uint32
}

// NewRig builds a rig. A nil logger discards.
func NewRig(seed int64, logger *slog.Logger) *Rig {
	r := &Rig{
		Car:     NewCar(),
		Strip:   &Strip{},
		Panel:   &Panel{},
		Touch:   &Touch{},
		Flash:   NewFlash(2),
		Card:    NewCard(),
		Console: &Console{},
	}
	r.App = app.New(app.Config{
		Controller: busController{},
		Strip:      r.Strip,
		Surface:    lcd.NewCanvas(r.Panel),
		Backlight:  r.Panel,
		Touch:      r.Touch,
		Flash:      r.Flash,
		FS:         r.Card,
		Console:    r.Console,
		Logger:     logger,
		Seed:       seed,
	})
	r.App.Start(0)
	return r
}

// Now returns the simulated clock.
func (r *Rig) Now() uint32 { return r.now }

// Run advances the simulation to nowMs one millisecond at a time.
func (r *Rig) Run(nowMs uint32) {
	for r.now < nowMs {
		r.now++
		r.Car.Advance(r.now, r.App.Ingest.Enqueue)
		if r.pressID != 0 && r.now%20 == 0 {
			b := r.pressB
			if r.now >= r.until {
				b = 0
			}
			r.App.Ingest.Enqueue(SWCFrame(r.pressID, b))
			if b == 0 {
				r.pressID = 0
			}
		}
		r.App.Step(r.now, r.Console)
	}
}

// Press holds a steering-wheel button briefly. Holding for longer than
// the repeat delay is done with Hold.
func (r *Rig) Press(b swc.Button) { r.Hold(b, holdMs) }

// Hold keeps b on the bus for ms milliseconds.
func (r *Rig) Hold(b swc.Button, ms uint32) {
	id, raw, ok := encodeButton(b)
	if !ok {
		return
	}
	r.pressID, r.pressB, r.until = id, raw, r.now+ms
	r.App.Ingest.Enqueue(SWCFrame(id, raw))
}

// Type sends a shell line over the console.
func (r *Rig) Type(line string) {
	r.Console.In.WriteString(line)
	r.Console.In.WriteByte('\n')
}

// encodeButton finds the SWC frame bit for b.
func encodeButton(b swc.Button) (id uint32, raw byte, ok bool) {
	for bit := 0; bit < 8; bit++ {
		if swc.Decode(swc.Audio, 1<<bit) == b {
			return canbus.IDSWCAudio, 1 << bit, true
		}
		if swc.Decode(swc.Cruise, 1<<bit) == b {
			return canbus.IDSWCCruise, 1 << bit, true
		}
	}
	return 0, 0, false
}
