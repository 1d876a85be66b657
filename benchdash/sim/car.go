// Package sim is the simulated hardware behind benchdash: a drivable car
// that emits real CAN frames, and in-memory stand-ins for the strip, the
// panel, the touch controller, flash, the SD card and the serial port.
package sim

import (
	"encoding/binary"

	"github.com/harveysanders/miatadash/telemetry/canbus"
)

// Frame periods, in milliseconds.
const (
	enginePeriod = 10
	gearPeriod   = 50
	slowPeriod   = 100
	tpmsPeriod   = 1000
)

// gear ratios times final drive, and km/h per 1000 rpm in each gear.
var kmhPer1000 = [7]float64{0, 7.9, 13.4, 19.0, 24.5, 29.8, 35.2}

// Car is a crude NC drivetrain: throttle drives rpm, rpm and gear give
// speed, and the gear box shifts when asked.
type Car struct {
	// Throttle is the pedal position, 0-100.
	Throttle float64
	Gear     int
	RPM      float64
	Coolant  float64
	// TirePSI is per corner, psi.
	TirePSI [4]float64
	Running bool
	// Silent stops all frames, as if the bus were unplugged.
	Silent bool

	last uint32
	init bool
}

// NewCar returns a warm car idling in neutral.
func NewCar() *Car {
	return &Car{
		Gear:    0,
		RPM:     850,
		Coolant: 88,
		TirePSI: [4]float64{32, 32, 31.5, 31.5},
		Running: true,
	}
}

// Speed returns km/h.
func (c *Car) Speed() float64 {
	if c.Gear <= 0 || c.Gear >= len(kmhPer1000) {
		return 0
	}
	return c.RPM / 1000 * kmhPer1000[c.Gear]
}

// ShiftUp selects the next gear and drops rpm to match road speed.
func (c *Car) ShiftUp() {
	if c.Gear >= 6 {
		return
	}
	v := c.Speed()
	c.Gear++
	if v > 0 {
		c.RPM = v / kmhPer1000[c.Gear] * 1000
	}
	c.clamp()
}

// ShiftDown selects the previous gear.
func (c *Car) ShiftDown() {
	if c.Gear <= 0 {
		return
	}
	v := c.Speed()
	c.Gear--
	if c.Gear > 0 && v > 0 {
		c.RPM = v / kmhPer1000[c.Gear] * 1000
	}
	c.clamp()
}

func (c *Car) clamp() {
	switch {
	case !c.Running:
		c.RPM = 0
	case c.RPM < 850:
		c.RPM = 850
	case c.RPM > 7400:
		c.RPM = 7400
	}
}

// Advance moves the model to nowMs and emits every frame that came due.
func (c *Car) Advance(nowMs uint32, emit func(canbus.Frame)) {
	if !c.init {
		c.last, c.init = nowMs, true
	}
	for c.last < nowMs {
		c.last++
		c.step(c.last, emit)
	}
}

func (c *Car) step(t uint32, emit func(canbus.Frame)) {
	// rpm chases a throttle-dependent target; higher gears respond slower.
	target := 850 + c.Throttle/100*6600
	rate := 0.004 / (1 + float64(c.Gear)*0.4)
	if target < c.RPM {
		rate = 0.003
	}
	c.RPM += (target - c.RPM) * rate
	c.clamp()
	if c.Coolant < 92 && c.Running {
		c.Coolant += 0.0002
	}

	if c.Silent {
		return
	}
	if t%enginePeriod == 0 {
		emit(EngineFrame(uint16(c.RPM), uint16(c.Speed()), uint8(c.Throttle)))
	}
	if t%gearPeriod == 0 {
		emit(GearFrame(int8(c.Gear)))
		brake := uint8(0)
		if c.Throttle == 0 && c.Speed() > 0 {
			brake = 15
		}
		emit(BrakeFrame(brake))
	}
	if t%slowPeriod == 0 {
		emit(TempsFrame(int16(c.Coolant), int16(c.Coolant)+8, 0))
		emit(FluidsFrame(60, 1390, uint16(1500+c.RPM/2)))
	}
	if t%tpmsPeriod == 0 {
		for i, psi := range c.TirePSI {
			emit(TPMSFrame(i, uint16(psi*68.948), 30))
		}
	}
}

// EngineFrame encodes 0x201.
func EngineFrame(rpm, kmh uint16, throttle uint8) canbus.Frame {
	f := canbus.Frame{ID: canbus.IDEngine, Len: 8}
	binary.BigEndian.PutUint16(f.Data[0:2], rpm*4)
	binary.BigEndian.PutUint16(f.Data[2:4], kmh*10)
	f.Data[6] = throttle * 2
	return f
}

// BrakeFrame encodes 0x212.
func BrakeFrame(pct uint8) canbus.Frame {
	return canbus.Frame{ID: canbus.IDBrake, Len: 8, Data: [8]byte{pct}}
}

// GearFrame encodes 0x231; -1 is reverse.
func GearFrame(g int8) canbus.Frame {
	b := byte(g)
	if g < 0 {
		b = 0x0F
	}
	return canbus.Frame{ID: canbus.IDGear, Len: 8, Data: [8]byte{b}}
}

// TempsFrame encodes 0x420 with the raw warning byte.
func TempsFrame(coolant, oil int16, warnings byte) canbus.Frame {
	return canbus.Frame{ID: canbus.IDTemps, Len: 8, Data: [8]byte{byte(coolant + 40), byte(oil + 40), 0, 0, warnings}}
}

// FluidsFrame encodes 0x430. voltage is V x100, oil pressure kPa x10.
func FluidsFrame(fuel uint8, voltage, oilPress uint16) canbus.Frame {
	f := canbus.Frame{ID: canbus.IDFluids, Len: 8}
	f.Data[0] = fuel
	binary.BigEndian.PutUint16(f.Data[2:4], voltage)
	binary.BigEndian.PutUint16(f.Data[4:6], oilPress)
	return f
}

// TPMSFrame encodes one corner's frame. kpa10 is kPa x10.
func TPMSFrame(corner int, kpa10 uint16, tempC int16) canbus.Frame {
	f := canbus.Frame{ID: canbus.IDTPMSFront + uint32(corner), Len: 8}
	binary.BigEndian.PutUint16(f.Data[0:2], kpa10)
	f.Data[2] = byte(tempC + 40)
	f.Data[7] = canbus.TPMSChecksum(f.Data[:])
	return f
}

// SWCFrame encodes a steering-wheel byte on id (0x240 or 0x250).
func SWCFrame(id uint32, raw byte) canbus.Frame {
	return canbus.Frame{ID: id, Len: 1, Data: [8]byte{raw}}
}
