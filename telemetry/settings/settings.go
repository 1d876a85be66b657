// Package settings holds the persisted driver configuration: the value
// model, its fixed-size flash record and the copy-on-write manager that
// publishes changes and commits them after a quiet period.
package settings

import (
	"strconv"

	"github.com/harveysanders/miatadash/telemetry/leds"
)

// Units selects the display units for speed, pressure and temperature.
type Units uint8

const (
	Metric   Units = iota // km/h, kPa, °C
	Imperial              // mph, psi, °F
)

// Settings is the persisted configuration. Values are published as
// immutable copies; never modify one obtained from Manager.Get.
type Settings struct {
	Brightness     uint8  // LED brightness, percent
	ShiftRPM       uint16 // shift light threshold
	RedlineRPM     uint16
	TireLowPSI     uint16 // psi x10
	CoolantWarn    int16  // °C
	ScreenTimeoutS uint16 // 0 never sleeps
	Units          Units
	LEDSequence    leds.Mode
	DemoMode       bool
}

// Defaults returns the factory configuration.
func Defaults() Settings {
	return Settings{
		Brightness:     80,
		ShiftRPM:       6500,
		RedlineRPM:     7200,
		TireLowPSI:     280,
		CoolantWarn:    105,
		ScreenTimeoutS: 120,
		Units:          Imperial,
		LEDSequence:    leds.CenterOut,
		DemoMode:       false,
	}
}

// ID names one editable setting, in menu order.
type ID uint8

const (
	IDBrightness ID = iota
	IDShiftRPM
	IDRedlineRPM
	IDTireLow
	IDCoolantWarn
	IDScreenTimeout
	IDUnits
	IDLEDSequence
	IDDemoMode
	NumIDs
)

type field struct {
	name     string
	step     int
	min, max int
}

var fields = [NumIDs]field{
	IDBrightness:    {"Brightness", 5, 0, 100},
	IDShiftRPM:      {"Shift RPM", 100, 3000, 9000},
	IDRedlineRPM:    {"Redline", 100, 4000, 9000},
	IDTireLow:       {"Tire low", 5, 150, 400},
	IDCoolantWarn:   {"Coolant warn", 1, 80, 130},
	IDScreenTimeout: {"Screen timeout", 10, 0, 600},
	IDUnits:         {"Units", 1, 0, 1},
	IDLEDSequence:   {"LED sequence", 1, 0, 3},
	IDDemoMode:      {"Demo mode", 1, 0, 1},
}

func (id ID) String() string {
	if id < NumIDs {
		return fields[id].name
	}
	return "unknown"
}

// Value returns the raw value of one setting.
func (s *Settings) Value(id ID) int {
	switch id {
	case IDBrightness:
		return int(s.Brightness)
	case IDShiftRPM:
		return int(s.ShiftRPM)
	case IDRedlineRPM:
		return int(s.RedlineRPM)
	case IDTireLow:
		return int(s.TireLowPSI)
	case IDCoolantWarn:
		return int(s.CoolantWarn)
	case IDScreenTimeout:
		return int(s.ScreenTimeoutS)
	case IDUnits:
		return int(s.Units)
	case IDLEDSequence:
		return int(s.LEDSequence)
	case IDDemoMode:
		if s.DemoMode {
			return 1
		}
	}
	return 0
}

func (s *Settings) set(id ID, v int) {
	f := fields[id]
	if v < f.min {
		v = f.min
	}
	if v > f.max {
		v = f.max
	}
	switch id {
	case IDBrightness:
		s.Brightness = uint8(v)
	case IDShiftRPM:
		s.ShiftRPM = uint16(v)
	case IDRedlineRPM:
		s.RedlineRPM = uint16(v)
	case IDTireLow:
		s.TireLowPSI = uint16(v)
	case IDCoolantWarn:
		s.CoolantWarn = int16(v)
	case IDScreenTimeout:
		s.ScreenTimeoutS = uint16(v)
	case IDUnits:
		s.Units = Units(v)
	case IDLEDSequence:
		s.LEDSequence = leds.Mode(v)
	case IDDemoMode:
		s.DemoMode = v != 0
	}
}

// Adjust moves one setting by steps increments, clamping at its limits.
// Enumerations and toggles wrap instead.
func (s *Settings) Adjust(id ID, steps int) {
	if id >= NumIDs || steps == 0 {
		return
	}
	f := fields[id]
	v := s.Value(id)
	switch id {
	case IDUnits, IDLEDSequence, IDDemoMode:
		n := f.max - f.min + 1
		v = ((v-f.min+steps)%n+n)%n + f.min
	default:
		v += steps * f.step
	}
	s.set(id, v)
	s.Sanitize()
}

// Sanitize clamps every field into range and keeps the shift point at or
// below redline.
func (s *Settings) Sanitize() {
	for id := ID(0); id < NumIDs; id++ {
		s.set(id, s.Value(id))
	}
	if s.ShiftRPM > s.RedlineRPM {
		s.ShiftRPM = s.RedlineRPM
	}
}

// AppendValue appends the display form of one setting to b.
func (s *Settings) AppendValue(b []byte, id ID) []byte {
	switch id {
	case IDBrightness:
		b = strconv.AppendUint(b, uint64(s.Brightness), 10)
		return append(b, '%')
	case IDTireLow:
		b = strconv.AppendUint(b, uint64(s.TireLowPSI/10), 10)
		b = append(b, '.')
		b = strconv.AppendUint(b, uint64(s.TireLowPSI%10), 10)
		return append(b, " psi"...)
	case IDCoolantWarn:
		b = strconv.AppendInt(b, int64(s.CoolantWarn), 10)
		return append(b, " C"...)
	case IDScreenTimeout:
		if s.ScreenTimeoutS == 0 {
			return append(b, "never"...)
		}
		b = strconv.AppendUint(b, uint64(s.ScreenTimeoutS), 10)
		return append(b, " s"...)
	case IDUnits:
		if s.Units == Metric {
			return append(b, "km/h"...)
		}
		return append(b, "mph"...)
	case IDLEDSequence:
		return append(b, s.LEDSequence.String()...)
	case IDDemoMode:
		if s.DemoMode {
			return append(b, "on"...)
		}
		return append(b, "off"...)
	}
	return strconv.AppendInt(b, int64(s.Value(id)), 10)
}

// LEDParams returns the renderer view of the settings.
func (s *Settings) LEDParams() leds.Params {
	return leds.Params{
		Mode:       s.LEDSequence,
		Brightness: s.Brightness,
		ShiftRPM:   s.ShiftRPM,
		RedlineRPM: s.RedlineRPM,
		Demo:       s.DemoMode,
	}
}
