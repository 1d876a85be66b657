// Package i2cbus serializes transactions on the I2C bus shared by the
// touch controller, the IMU and the IO expander.
package i2cbus

import (
	"sync"

	"tinygo.org/x/drivers"
)

// Stats counts transactions per bus.
type Stats struct {
	Tx     uint32
	Errors uint32
}

// Bus wraps a drivers.I2C with a lock so that one device's write-then-read
// never interleaves with another's. It is itself a drivers.I2C and can be
// handed to any driver.
type Bus struct {
	mu    sync.Mutex
	bus   drivers.I2C
	stats Stats
}

var _ drivers.I2C = (*Bus)(nil)

// New guards bus.
func New(bus drivers.I2C) *Bus {
	return &Bus{bus: bus}
}

// Tx performs one locked transaction.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Tx++
	err := b.bus.Tx(addr, w, r)
	if err != nil {
		b.stats.Errors++
	}
	return err
}

// ReadRegister writes reg and reads len(buf) bytes back.
func (b *Bus) ReadRegister(addr uint16, reg uint8, buf []byte) error {
	return b.Tx(addr, []byte{reg}, buf)
}

// Stats returns a copy of the counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
