//go:build tinygo

// Command telemetry is the in-car firmware: CAN in, shift light and round
// dashboard out, with SD logging and a serial shell.
package main

import (
	"log/slog"
	"machine"
	"runtime"
	"time"

	"tinygo.org/x/drivers/gps"
	"tinygo.org/x/drivers/mcp2515"
	"tinygo.org/x/drivers/mpu6050"
	"tinygo.org/x/drivers/sdcard"
	"tinygo.org/x/drivers/ws2812"

	"github.com/harveysanders/miatadash/telemetry/app"
	"github.com/harveysanders/miatadash/telemetry/cyw43439"
	"github.com/harveysanders/miatadash/telemetry/i2cbus"
	"github.com/harveysanders/miatadash/telemetry/lcd"
	"github.com/harveysanders/miatadash/telemetry/mqtt"
	"github.com/harveysanders/miatadash/telemetry/touch"
)

// Set with -ldflags "-X main.brokerAddr=host:port".
var brokerAddr = "10.0.0.9:1883"

var boot = time.Now()

func nowMs() uint32 { return uint32(time.Since(boot).Milliseconds()) }

func sleepMs(ms int) { time.Sleep(time.Duration(ms) * time.Millisecond) }

func main() {
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// CAN controller on SPI0.
	machine.SPI0.Configure(machine.SPIConfig{
		Frequency: 10_000_000,
		SCK:       canSCK,
		SDO:       canSDO,
		SDI:       canSDI,
		Mode:      0,
	})
	can := mcp2515.New(machine.SPI0, canCS)
	can.Configure()
	canINT.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	stripIO.Configure(machine.PinConfig{Mode: machine.PinOutput})
	strip := ws2812.New(stripIO)

	machine.InitADC()
	pot := machine.ADC{Pin: knobADC}
	pot.Configure(machine.ADCConfig{})

	// Touch and IMU share I2C0.
	err := machine.I2C0.Configure(machine.I2CConfig{
		SDA:       i2cSDA,
		SCL:       i2cSCL,
		Frequency: 400_000,
	})
	if err != nil {
		printErrForever(logger, "i2c:configure-failed", slog.String("err", err.Error()))
	}
	bus := i2cbus.New(machine.I2C0)
	touchDev := touch.New(touch.Config{Bus: bus, Logger: logger, Now: nowMs})
	touchINT.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	touchINT.SetInterrupt(machine.PinFalling, func(machine.Pin) { touchDev.OnInterrupt() })

	cfg := app.Config{
		Controller: canController{dev: can},
		Strip:      &strip,
		Knob:       knob(pot),
		Touch:      touchDev,
		Flash:      machine.Flash,
		Console:    machine.Serial,
		Logger:     logger,
		Seed:       time.Now().UnixNano(),
	}

	imu := mpu6050.New(bus, mpu6050.DefaultAddress)
	if err := imu.Configure(mpu6050.Config{}); err != nil {
		logger.Warn("imu:absent", slog.String("err", err.Error()))
	} else {
		cfg.Accel = accel{dev: imu}
	}

	machine.UART0.Configure(machine.UARTConfig{BaudRate: 9600, TX: gpsTX, RX: gpsRX})
	rx := &gpsReceiver{dev: gps.NewUART(machine.UART0), parser: gps.NewParser()}
	go rx.run()
	cfg.GPS = rx

	// Panel on SPI1.
	machine.SPI1.Configure(machine.SPIConfig{
		Frequency: 40_000_000,
		SCK:       lcdSCK,
		SDO:       lcdSDO,
		SDI:       lcdSDI,
		Mode:      0,
	})
	for _, p := range []machine.Pin{lcdCS, lcdDC, lcdRST} {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	}
	panel := &spiPanel{spi: machine.SPI1, cs: lcdCS, dc: lcdDC, rst: lcdRST}
	panel.reset()
	rev := lcd.Probe(panel)
	if err := lcd.Run(panel, lcd.Table(rev), nil); err != nil {
		logger.Error("lcd:init-failed", slog.String("err", err.Error()))
	}
	cfg.Surface = lcd.NewCanvas(panel)
	if bl, err := newBacklight(lcdBL); err != nil {
		logger.Warn("lcd:backlight-pwm", slog.String("err", err.Error()))
	} else {
		cfg.Backlight = bl
	}

	// Card init drops SPI0 to its own clock, which the MCP2515 tolerates.
	sd := sdcard.New(machine.SPI0, canSCK, canSDO, canSDI, sdCS)
	if err := sd.Configure(); err != nil {
		logger.Warn("sd:absent", slog.String("err", err.Error()))
	} else if fs, err := mountCard(&sd); err != nil {
		logger.Warn("sd:mount-failed", slog.String("err", err.Error()))
	} else {
		cfg.FS = cardFS{fs: fs}
	}

	a := app.New(cfg)
	canINT.SetInterrupt(machine.PinFalling, func(machine.Pin) { a.Ingest.OnInterrupt() })
	a.Start(nowMs())

	if cyw43439.Configured() {
		go uplink(logger, a.Feed)
	}

	for {
		// INT is level triggered; catch frames left behind by a full drain.
		if !canINT.Get() {
			a.Ingest.OnInterrupt()
		}
		a.Step(nowMs(), machine.Serial)
		runtime.Gosched()
	}
}

// uplink runs the MQTT live stream. It never returns; failures are
// printed forever like any other fatal network error.
func uplink(logger *slog.Logger, feed *mqtt.Feed) {
	stack, err := cyw43439.Up(cyw43439.Config{
		Hostname: "miatadash",
		Logger:   logger,
	})
	if err != nil {
		printErrForever(logger, "wifi:up-failed", slog.String("err", err.Error()))
	}
	c := mqtt.Client{
		ID:         "miatadash",
		Topic:      mqtt.DefaultTopic,
		Logger:     logger,
		Timeout:    5 * time.Second,
		TCPBufSize: 2030, // MTU - ethhdr - iphdr - tcphdr
	}
	if err := c.Run(stack, brokerAddr, feed.C); err != nil {
		printErrForever(logger, "mqtt:stopped", slog.String("err", err.Error()))
	}
}

// printErrForever logs msg at 1 Hz so it is seen even if the serial
// monitor attaches late. It blocks forever.
func printErrForever(logger *slog.Logger, msg string, args ...any) {
	for {
		logger.Error(msg, args...)
		time.Sleep(time.Second)
	}
}
