// Package demo generates simulated vehicle signals for bench use and for
// exercising the renderers without a running engine.
package demo

import (
	"math"
	"math/rand"

	"github.com/harveysanders/miatadash/telemetry/signal"
)

// Generator produces a smooth RPM sweep with correlated speed, gear and
// throttle, and plausible temperatures and tire data.
type Generator struct {
	rnd *rand.Rand
	// Redline is the sweep ceiling; the sweep overshoots it slightly so
	// the shift light gets exercised.
	Redline uint16
}

// NewGenerator returns a generator with a fixed seed so runs repeat.
func NewGenerator(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed)), Redline: 7200}
}

// Fill writes one sample at nowMs into s. Motion and position are left
// alone; they come from real sensors even in demo mode.
func (g *Generator) Fill(nowMs uint32, s *signal.Snapshot) {
	t := float64(nowMs) / 1000

	sw := math.Sin(t * 0.3)
	span := float64(g.Redline) - 850 + 200
	rpm := 850 + span*sw*sw + g.rnd.Float64()*30
	s.RPM = uint16(rpm)

	tps := (rpm - 850) / (span) * 100
	if tps < 0 {
		tps = 0
	}
	if tps > 100 {
		tps = 100
	}
	s.Throttle = uint8(tps)
	s.Brake = 0
	if tps < 5 {
		s.Brake = 20
	}

	s.Speed = uint16(tps / 100 * 200)
	switch {
	case s.Speed > 160:
		s.Gear = 6
	case s.Speed > 120:
		s.Gear = 5
	case s.Speed > 85:
		s.Gear = 4
	case s.Speed > 50:
		s.Gear = 3
	case s.Speed > 25:
		s.Gear = 2
	case s.Speed > 3:
		s.Gear = 1
	default:
		s.Gear = 0
	}

	s.Coolant = int16(88 + g.rnd.Intn(4))
	s.OilTemp = int16(95 + tps/10)
	s.OilPressure = uint16(1500 + tps*35) // kPa x10
	s.Fuel = 64
	s.Voltage = uint16(1380 + g.rnd.Intn(40))

	for i := range s.TirePressure {
		s.TirePressure[i] = 2210 + uint16(g.rnd.Intn(20)) // ~32 psi
		s.TireTemp[i] = int16(30 + tps/20)
	}
	s.Warnings = 0
	s.EngineRunning = true
	s.Connected = true
}

// demoGroups are the groups the generator owns.
const demoGroups = signal.GroupEngine | signal.GroupVehicle | signal.GroupTemps |
	signal.GroupFluids | signal.GroupTPMS | signal.GroupWarnings | signal.GroupStatus

// Overlay is a signal.Reader that substitutes generated values for the
// vehicle groups while Enabled returns true.
type Overlay struct {
	Source  signal.Reader
	Gen     *Generator
	Enabled func() bool
	Now     func() uint32
}

// Load implements signal.Reader.
func (o *Overlay) Load() (signal.Snapshot, bool) {
	s, ok := o.Source.Load()
	if o.Enabled == nil || !o.Enabled() {
		return s, ok
	}
	var now uint32
	if o.Now != nil {
		now = o.Now()
	}
	o.Gen.Fill(now, &s)
	for i := 0; i < signal.NumGroups; i++ {
		if demoGroups&(1<<i) != 0 {
			s.Updated[i] = now
		}
	}
	return s, true
}
