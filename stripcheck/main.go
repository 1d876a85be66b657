//go:build tinygo

// Command stripcheck is the bench self-test for the shift-light bar: it
// sweeps the rpm range through every fill mode while the brightness pot
// scales the output, and pulses the debug LED as a heartbeat.
package main

import (
	"machine"
	"strconv"
	"time"

	"tinygo.org/x/drivers/ws2812"

	"github.com/harveysanders/miatadash/telemetry/leds"
)

const (
	shiftRPM   = 6500
	redlineRPM = 7200
	stepRPM    = 50
	stepDelay  = 10 * time.Millisecond
)

func main() {
	led := machine.GP21

	// GP20/GP21 are driven by PWM slice 2 on the RP2040/RP2350. The slowest
	// PWM rate is ~7 Hz, so we run a 200 Hz carrier and step the duty in
	// software to breathe.
	pwm := machine.PWM2
	err := pwm.Configure(machine.PWMConfig{
		Period: uint64(5 * time.Millisecond),
	})
	if err != nil {
		println("could not configure PWM:", err.Error())
		return
	}
	ch, err := pwm.Channel(led)
	if err != nil {
		println("could not get channel for pin:", err.Error())
		return
	}

	machine.InitADC()
	pot := machine.ADC{Pin: machine.ADC0}
	pot.Configure(machine.ADCConfig{})

	pin := machine.GP15
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	strip := ws2812.New(pin)

	start := time.Now()
	// Preallocated so the sweep does not churn the heap.
	printBuf := make([]byte, 0, 64)
	var failures uint32
	for mode := leds.CenterOut; ; mode = mode.Next() {
		printBuf = append(printBuf[:0], "mode "...)
		printBuf = append(printBuf, mode.String()...)
		printBuf = append(printBuf, " failures "...)
		printBuf = strconv.AppendUint(printBuf, uint64(failures), 10)
		println(string(printBuf))

		for rpm := uint16(0); rpm <= redlineRPM+500; rpm += stepRPM {
			scale := uint8(pot.Get() >> 8)
			f := leds.Compute(leds.Input{
				RPM:        rpm,
				ShiftRPM:   shiftRPM,
				RedlineRPM: redlineRPM,
				Mode:       mode,
				Scale:      scale,
				Running:    true,
				Connected:  true,
				NowMs:      uint32(time.Since(start).Milliseconds()),
			})
			if err := strip.WriteColors(f[:]); err != nil {
				failures++
			}
			// Heartbeat tracks how full the bar is.
			pwm.Set(ch, pwm.Top()/leds.NumPixels*uint32(f.Lit()))
			time.Sleep(stepDelay)
		}
	}
}
