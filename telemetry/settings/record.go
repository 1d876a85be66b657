package settings

import (
	"encoding/binary"
	"errors"

	"github.com/sigurn/crc16"

	"github.com/harveysanders/miatadash/telemetry/leds"
)

const (
	// Magic is the ASCII "NCDS" word that leads every record.
	Magic   uint32 = 0x4E434453
	Version uint16 = 1
	// RecordSize is the fixed on-flash size including the CRC trailer.
	RecordSize = 32
)

var (
	ErrShort   = errors.New("settings: short record")
	ErrMagic   = errors.New("settings: bad magic")
	ErrVersion = errors.New("settings: unsupported version")
	ErrCRC     = errors.New("settings: crc mismatch")
)

// Record layout, little endian:
//
//	0  magic        u32
//	4  version      u16
//	6  size         u16
//	8  generation   u32
//	12 brightness   u8
//	13 units        u8
//	14 led sequence u8
//	15 demo mode    u8
//	16 shift rpm    u16
//	18 redline rpm  u16
//	20 tire low     u16
//	22 coolant warn i16
//	24 timeout      u16
//	26 reserved     [4]u8
//	30 crc16        u16 over bytes 0..29
const crcOffset = RecordSize - 2

// Encode serializes s with the given generation number.
func Encode(s Settings, generation uint32) [RecordSize]byte {
	var b [RecordSize]byte
	le := binary.LittleEndian
	le.PutUint32(b[0:], Magic)
	le.PutUint16(b[4:], Version)
	le.PutUint16(b[6:], RecordSize)
	le.PutUint32(b[8:], generation)
	b[12] = s.Brightness
	b[13] = uint8(s.Units)
	b[14] = uint8(s.LEDSequence)
	if s.DemoMode {
		b[15] = 1
	}
	le.PutUint16(b[16:], s.ShiftRPM)
	le.PutUint16(b[18:], s.RedlineRPM)
	le.PutUint16(b[20:], s.TireLowPSI)
	le.PutUint16(b[22:], uint16(s.CoolantWarn))
	le.PutUint16(b[24:], s.ScreenTimeoutS)
	le.PutUint16(b[crcOffset:], CRC16(b[:crcOffset]))
	return b
}

// Decode parses a record. Out-of-range values in an otherwise valid record
// are clamped.
func Decode(b []byte) (s Settings, generation uint32, err error) {
	if len(b) < RecordSize {
		return s, 0, ErrShort
	}
	le := binary.LittleEndian
	if le.Uint32(b[0:]) != Magic {
		return s, 0, ErrMagic
	}
	if le.Uint16(b[crcOffset:]) != CRC16(b[:crcOffset]) {
		return s, 0, ErrCRC
	}
	if le.Uint16(b[4:]) != Version || le.Uint16(b[6:]) != RecordSize {
		return s, 0, ErrVersion
	}
	generation = le.Uint32(b[8:])
	s.Brightness = b[12]
	s.Units = Units(b[13])
	s.LEDSequence = leds.Mode(b[14])
	s.DemoMode = b[15] != 0
	s.ShiftRPM = le.Uint16(b[16:])
	s.RedlineRPM = le.Uint16(b[18:])
	s.TireLowPSI = le.Uint16(b[20:])
	s.CoolantWarn = int16(le.Uint16(b[22:]))
	s.ScreenTimeoutS = le.Uint16(b[24:])
	s.Sanitize()
	return s, generation, nil
}

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// CRC16 is CRC-16/CCITT-FALSE: polynomial 0x1021, initial value 0xFFFF,
// no reflection, no final xor.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
