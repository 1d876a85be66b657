package canbus

import (
	"encoding/binary"

	"github.com/harveysanders/miatadash/telemetry/signal"
)

// Known CAN identifiers. The decode table below is the contract; values
// other than the SWC IDs are installation specific.
const (
	IDEngine    = 0x201
	IDBrake     = 0x212
	IDGear      = 0x231
	IDTemps     = 0x420
	IDFluids    = 0x430
	IDTPMSFront = 0x4F0 // FL; FR, RL and RR follow
	IDSWCAudio  = 0x240
	IDSWCCruise = 0x250
)

// Decoder decodes one CAN ID into the writer's snapshot.
type Decoder struct {
	ID     uint32
	MinLen uint8
	// Groups stamped when the frame is applied.
	Groups signal.Groups
	// Control marks control-plane IDs: they are handed to subscribers and
	// never written to the cache.
	Control bool
	// Valid reports whether the payload passes integrity checks. Nil means
	// length is the only check.
	Valid func(d []byte) bool
	// Decode writes the fields. d is at least MinLen long.
	Decode func(d []byte, s *signal.Snapshot)
}

// DefaultTable is the Miata NC decode table.
var DefaultTable = []Decoder{
	{ID: IDEngine, MinLen: 8, Groups: signal.GroupEngine | signal.GroupVehicle, Decode: decodeEngine},
	{ID: IDBrake, MinLen: 8, Groups: signal.GroupVehicle, Decode: decodeBrake},
	{ID: IDGear, MinLen: 8, Groups: signal.GroupVehicle, Decode: decodeGear},
	{ID: IDTemps, MinLen: 8, Groups: signal.GroupTemps | signal.GroupWarnings, Decode: decodeTemps},
	{ID: IDFluids, MinLen: 8, Groups: signal.GroupFluids, Decode: decodeFluids},
	{ID: IDTPMSFront + signal.FrontLeft, MinLen: 8, Groups: signal.GroupTPMS, Valid: validTPMS, Decode: tpmsDecoder(signal.FrontLeft)},
	{ID: IDTPMSFront + signal.FrontRight, MinLen: 8, Groups: signal.GroupTPMS, Valid: validTPMS, Decode: tpmsDecoder(signal.FrontRight)},
	{ID: IDTPMSFront + signal.RearLeft, MinLen: 8, Groups: signal.GroupTPMS, Valid: validTPMS, Decode: tpmsDecoder(signal.RearLeft)},
	{ID: IDTPMSFront + signal.RearRight, MinLen: 8, Groups: signal.GroupTPMS, Valid: validTPMS, Decode: tpmsDecoder(signal.RearRight)},
	{ID: IDSWCAudio, MinLen: 1, Control: true},
	{ID: IDSWCCruise, MinLen: 1, Control: true},
}

// Engine frame: rpm x0.25 in bytes 0..1, speed x0.1 km/h in bytes 2..3,
// throttle x0.5 % in byte 6.
func decodeEngine(d []byte, s *signal.Snapshot) {
	s.RPM = binary.BigEndian.Uint16(d[0:2]) / 4
	s.Speed = binary.BigEndian.Uint16(d[2:4]) / 10
	t := d[6] / 2
	if t > 100 {
		t = 100
	}
	s.Throttle = t
}

func decodeBrake(d []byte, s *signal.Snapshot) {
	b := d[0]
	if b > 100 {
		b = 100
	}
	s.Brake = b
}

func decodeGear(d []byte, s *signal.Snapshot) {
	switch g := d[0] & 0x0F; {
	case g == 0x0F:
		s.Gear = -1
	case g <= 6:
		s.Gear = int8(g)
	default:
		s.Gear = 0
	}
}

// Warning bits in byte 4 of the temps frame.
const (
	bitCheckEngine = 1 << 6
	bitOil         = 1 << 7
	bitBattery     = 1 << 0
	bitABS         = 1 << 3
)

func decodeTemps(d []byte, s *signal.Snapshot) {
	s.Coolant = int16(d[0]) - 40
	s.OilTemp = int16(d[1]) - 40
	var w signal.Warnings
	if d[4]&bitCheckEngine != 0 {
		w |= signal.WarnCheckEngine
	}
	if d[4]&bitOil != 0 {
		w |= signal.WarnOil
	}
	if d[4]&bitBattery != 0 {
		w |= signal.WarnBattery
	}
	if d[4]&bitABS != 0 {
		w |= signal.WarnABS
	}
	s.Warnings = w
}

func decodeFluids(d []byte, s *signal.Snapshot) {
	f := uint16(d[0])
	if f > 100 {
		f = 100
	}
	s.Fuel = f
	s.Voltage = binary.BigEndian.Uint16(d[2:4])
	s.OilPressure = binary.BigEndian.Uint16(d[4:6])
}

// validTPMS checks the additive checksum in byte 7.
func validTPMS(d []byte) bool {
	return TPMSChecksum(d) == d[7]
}

func tpmsDecoder(corner int) func(d []byte, s *signal.Snapshot) {
	return func(d []byte, s *signal.Snapshot) {
		s.TirePressure[corner] = binary.BigEndian.Uint16(d[0:2])
		s.TireTemp[corner] = int16(d[2]) - 40
	}
}

// TPMSChecksum returns the byte-7 checksum for a TPMS payload.
func TPMSChecksum(d []byte) byte {
	var sum byte
	for _, b := range d[:7] {
		sum += b
	}
	return sum
}
