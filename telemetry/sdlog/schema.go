package sdlog

import (
	"strconv"

	"github.com/harveysanders/miatadash/telemetry/signal"
)

// Columns is the CSV schema, in order.
var Columns = []string{
	"timestamp_ms",
	"rpm",
	"speed",
	"gear",
	"throttle",
	"brake",
	"coolant",
	"oil_temp",
	"oil_press",
	"fuel",
	"voltage",
	"gx",
	"gy",
	"gz",
	"lat",
	"lon",
}

// AppendHeader appends the header line.
func AppendHeader(b []byte) []byte {
	for i, c := range Columns {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, c...)
	}
	return append(b, '\n')
}

// AppendRow appends one CSV line for s. Oil pressure is kPa, voltage is
// volts, g values are gravity compensated and position is in degrees.
func AppendRow(b []byte, nowMs uint32, s *signal.Snapshot) []byte {
	b = strconv.AppendUint(b, uint64(nowMs), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(s.RPM), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(s.Speed), 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(s.Gear), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(s.Throttle), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(s.Brake), 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(s.Coolant), 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(s.OilTemp), 10)
	b = append(b, ',')
	b = appendFixed(b, int64(s.OilPressure), 1)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(s.Fuel), 10)
	b = append(b, ',')
	b = appendFixed(b, int64(s.Voltage), 2)
	for _, g := range s.AccelComp {
		b = append(b, ',')
		b = strconv.AppendFloat(b, float64(g), 'f', 3, 32)
	}
	b = append(b, ',')
	if s.Fix {
		b = appendFixed(b, int64(s.Lat), 6)
	}
	b = append(b, ',')
	if s.Fix {
		b = appendFixed(b, int64(s.Lon), 6)
	}
	return append(b, '\n')
}

// appendFixed formats v / 10^decimals without going through floats.
func appendFixed(b []byte, v int64, decimals int) []byte {
	if v < 0 {
		b = append(b, '-')
		v = -v
	}
	div := int64(1)
	for i := 0; i < decimals; i++ {
		div *= 10
	}
	b = strconv.AppendInt(b, v/div, 10)
	if decimals == 0 {
		return b
	}
	b = append(b, '.')
	frac := v % div
	for d := div / 10; d > 1 && frac < d; d /= 10 {
		b = append(b, '0')
	}
	return strconv.AppendInt(b, frac, 10)
}
