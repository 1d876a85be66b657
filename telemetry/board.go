//go:build tinygo

package main

import (
	"errors"
	"image/color"
	"io"
	"machine"
	"os"
	"sync/atomic"
	"time"

	"github.com/sparques/pwm"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/gps"
	"tinygo.org/x/drivers/mcp2515"
	"tinygo.org/x/drivers/mpu6050"
	"tinygo.org/x/tinyfs"
	"tinygo.org/x/tinyfs/fatfs"

	"github.com/harveysanders/miatadash/telemetry/canbus"
	"github.com/harveysanders/miatadash/telemetry/lcd"
)

// Pico 2 W wiring.
const (
	canSCK  = machine.GP2
	canSDO  = machine.GP3
	canSDI  = machine.GP4
	canCS   = machine.GP5
	canINT  = machine.GP6
	stripIO = machine.GP15

	i2cSDA   = machine.GP8
	i2cSCL   = machine.GP9
	touchINT = machine.GP7

	lcdSCK = machine.GP10
	lcdSDO = machine.GP11
	lcdSDI = machine.GP12
	lcdCS  = machine.GP13
	lcdDC  = machine.GP14
	lcdRST = machine.GP16
	lcdBL  = machine.GP17

	// The SD card shares SPI0 with the CAN controller.
	sdCS = machine.GP21

	gpsTX = machine.GP0
	gpsRX = machine.GP1

	knobADC = machine.ADC0
)

// canController adapts the MCP2515 driver to canbus.Controller.
type canController struct {
	dev *mcp2515.Device
}

func (c canController) Begin() error {
	return c.dev.Begin(mcp2515.CAN500kBps, mcp2515.Clock8MHz)
}

func (c canController) Received() bool { return c.dev.Received() }

func (c canController) Rx() (canbus.Frame, error) {
	msg, err := c.dev.Rx()
	if err != nil {
		return canbus.Frame{}, err
	}
	f := canbus.Frame{ID: msg.ID, Len: msg.Dlc}
	copy(f.Data[:], msg.Data)
	return f, nil
}

// accel adapts the MPU6050 to imu.Accelerometer.
type accel struct {
	dev *mpu6050.Device
}

func (a accel) ReadAcceleration() (x, y, z int32, err error) {
	if err := a.dev.Update(drivers.Acceleration); err != nil {
		return 0, 0, 0, err
	}
	x, y, z = a.dev.Acceleration()
	return x, y, z, nil
}

const gpsBackoff = 100 * time.Millisecond

// gpsReceiver parses NMEA in its own goroutine; the main loop only picks
// up the latest fix.
type gpsReceiver struct {
	dev    gps.Device
	parser gps.Parser

	lat, lon atomic.Int32
	fix      atomic.Bool
	fresh    atomic.Bool
}

func (g *gpsReceiver) run() {
	for {
		s, err := g.dev.NextSentence()
		if err != nil {
			// A dead or noisy UART must not starve the main loop.
			time.Sleep(gpsBackoff)
			continue
		}
		fix, err := g.parser.Parse(s)
		if err != nil {
			continue
		}
		if fix.Valid {
			g.lat.Store(int32(fix.Latitude * 1e6))
			g.lon.Store(int32(fix.Longitude * 1e6))
		}
		g.fix.Store(fix.Valid)
		g.fresh.Store(true)
	}
}

func (g *gpsReceiver) Position() (lat, lon int32, fix, ok bool) {
	if !g.fresh.Swap(false) {
		return 0, 0, false, false
	}
	return g.lat.Load(), g.lon.Load(), g.fix.Load(), true
}

// cardFS exposes a mounted FAT volume as sdlog.FS.
type cardFS struct {
	fs *fatfs.FATFS
}

func (c cardFS) Create(name string) (io.WriteCloser, error) {
	return c.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
}

func (c cardFS) List() ([]string, error) {
	dir, err := c.fs.Open("/")
	if err != nil {
		return nil, err
	}
	defer dir.Close()
	infos, err := dir.Readdir(-1)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if !fi.IsDir() {
			names = append(names, fi.Name())
		}
	}
	return names, nil
}

func mountCard(dev tinyfs.BlockDevice) (*fatfs.FATFS, error) {
	fs := fatfs.New(dev)
	fs.Configure(&fatfs.Config{SectorSize: 512})
	if err := fs.Mount(); err != nil {
		return nil, errors.New("mount:" + err.Error())
	}
	return fs, nil
}

// backlight dims the panel through a PWM slice.
type backlight struct {
	group pwm.Group
	ch    uint8
}

func newBacklight(pin machine.Pin) (*backlight, error) {
	pin.Configure(machine.PinConfig{Mode: machine.PinPWM})
	g := pwm.Get(pin)
	// 1 kHz is above visible flicker.
	if err := g.Configure(machine.PWMConfig{Period: 1e6}); err != nil {
		return nil, err
	}
	ch, err := g.Channel(pin)
	if err != nil {
		return nil, err
	}
	g.Set(ch, 0)
	return &backlight{group: g, ch: ch}, nil
}

func (b *backlight) SetBacklight(level uint8) {
	b.group.Set(b.ch, b.group.Top()*uint32(level)/255)
}

// spiPanel drives the round panel's controller over 4-wire SPI. The
// controller takes the usual CASET/RASET/RAMWR window commands.
type spiPanel struct {
	spi *machine.SPI
	cs  machine.Pin
	dc  machine.Pin
	rst machine.Pin

	win  [4]byte
	fill [lcd.Width * 2]byte
}

var (
	_ lcd.Panel         = (*spiPanel)(nil)
	_ lcd.CommandWriter = (*spiPanel)(nil)
	_ lcd.Prober        = (*spiPanel)(nil)
)

func (p *spiPanel) reset() {
	p.cs.High()
	p.rst.Low()
	sleepMs(10)
	p.rst.High()
	sleepMs(120)
}

func (p *spiPanel) Command(cmd byte, data []byte) error {
	p.cs.Low()
	defer p.cs.High()
	p.dc.Low()
	if err := p.spi.Tx([]byte{cmd}, nil); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	p.dc.High()
	return p.spi.Tx(data, nil)
}

// ReadID issues RDDID (0x04) and returns the three ID bytes.
func (p *spiPanel) ReadID() (uint32, error) {
	var id [4]byte
	p.cs.Low()
	defer p.cs.High()
	p.dc.Low()
	if err := p.spi.Tx([]byte{0x04}, nil); err != nil {
		return 0, err
	}
	p.dc.High()
	// First byte is a dummy clock.
	if err := p.spi.Tx(nil, id[:]); err != nil {
		return 0, err
	}
	return uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3]), nil
}

func (p *spiPanel) Size() (int16, int16) { return lcd.Width, lcd.Height }

func (p *spiPanel) window(x, y, w, h int16) error {
	x1, y1 := x+w-1, y+h-1
	p.win = [4]byte{byte(x >> 8), byte(x), byte(x1 >> 8), byte(x1)}
	if err := p.Command(0x2A, p.win[:]); err != nil {
		return err
	}
	p.win = [4]byte{byte(y >> 8), byte(y), byte(y1 >> 8), byte(y1)}
	if err := p.Command(0x2B, p.win[:]); err != nil {
		return err
	}
	return nil
}

func (p *spiPanel) DrawRGBBitmap8(x, y int16, data []uint8, w, h int16) error {
	if err := p.window(x, y, w, h); err != nil {
		return err
	}
	return p.Command(0x2C, data)
}

func (p *spiPanel) FillRectangle(x, y, w, h int16, c color.RGBA) error {
	if w <= 0 || h <= 0 {
		return nil
	}
	if err := p.window(x, y, w, h); err != nil {
		return err
	}
	px := uint16(c.R&0xF8)<<8 | uint16(c.G&0xFC)<<3 | uint16(c.B)>>3
	row := p.fill[:int(w)*2]
	for i := 0; i < len(row); i += 2 {
		row[i], row[i+1] = byte(px>>8), byte(px)
	}
	p.cs.Low()
	defer p.cs.High()
	p.dc.Low()
	if err := p.spi.Tx([]byte{0x2C}, nil); err != nil {
		return err
	}
	p.dc.High()
	for r := int16(0); r < h; r++ {
		if err := p.spi.Tx(row, nil); err != nil {
			return err
		}
	}
	return nil
}

// knob reads the brightness potentiometer scaled to 0-255.
func knob(adc machine.ADC) func() uint8 {
	return func() uint8 { return uint8(adc.Get() >> 8) }
}
