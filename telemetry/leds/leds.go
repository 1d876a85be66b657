// Package leds is the shift-light renderer: it maps engine RPM to a
// 20-pixel WS2812B bar.
package leds

import (
	"image/color"
)

// NumPixels is the bar length.
const NumPixels = 20

// IdleRPM is where the bar starts filling.
const IdleRPM = 800

// Ramp breakpoints over the normalized rpm.
const (
	yellowAt = 0.55
	orangeAt = 0.80
	redAt    = 0.95
	// PulseAt is where the shift light starts pulsing.
	PulseAt = redAt
	// PulsePeriodMs gives the 5 Hz shift pulse.
	PulsePeriodMs = 200
)

// Mode is the fill pattern.
type Mode uint8

const (
	CenterOut Mode = iota // from pixels 0 and 19 inward
	LeftRight             // 0 -> 19
	RightLeft             // 19 -> 0
	CenterIn              // from the center outward
	numModes
)

var modeNames = [numModes]string{"center-out", "left-right", "right-left", "center-in"}

func (m Mode) String() string {
	if m < numModes {
		return modeNames[m]
	}
	return "unknown"
}

// Next returns the following mode, wrapping around.
func (m Mode) Next() Mode { return (m + 1) % numModes }

// Prev returns the preceding mode, wrapping around.
func (m Mode) Prev() Mode { return (m + numModes - 1) % numModes }

// Frame is one committed bar image.
type Frame [NumPixels]color.RGBA

// Lit returns the number of pixels that are not black.
func (f Frame) Lit() int {
	n := 0
	for _, c := range f {
		if c.R|c.G|c.B != 0 {
			n++
		}
	}
	return n
}

var (
	green  = color.RGBA{G: 255, A: 255}
	yellow = color.RGBA{R: 255, G: 255, A: 255}
	orange = color.RGBA{R: 255, G: 128, A: 255}
	red    = color.RGBA{R: 255, A: 255}
)

// Input is everything one frame depends on.
type Input struct {
	RPM        uint16
	ShiftRPM   uint16
	RedlineRPM uint16
	Mode       Mode
	// Scale is the global brightness, 0-255.
	Scale     uint8
	Running   bool
	Connected bool
	Demo      bool
	NowMs     uint32
}

// Norm returns (rpm-idle)/(redline-idle) clamped to [0, 1].
func Norm(rpm, redline uint16) float32 {
	if redline <= IdleRPM {
		if rpm >= redline {
			return 1
		}
		return 0
	}
	if rpm <= IdleRPM {
		return 0
	}
	n := float32(rpm-IdleRPM) / float32(redline-IdleRPM)
	if n > 1 {
		n = 1
	}
	return n
}

// Fill returns the number of fully lit pixels and the brightness of the
// leading edge pixel. Left-right and right-left run at half-pixel
// resolution, so their edge is either off or half on.
func Fill(norm float32, m Mode) (full int, edge float32) {
	if m == LeftRight || m == RightLeft {
		half := int(norm*2*NumPixels + 0.5)
		if half >= 2*NumPixels {
			return NumPixels, 0
		}
		return half / 2, float32(half%2) * 0.5
	}
	u := norm * NumPixels
	full = int(u)
	if full >= NumPixels {
		return NumPixels, 0
	}
	return full, u - float32(full)
}

// position returns the pixel index that is lit k-th in mode m.
func position(m Mode, k int) int {
	switch m {
	case RightLeft:
		return NumPixels - 1 - k
	case CenterOut:
		if k%2 == 0 {
			return k / 2
		}
		return NumPixels - 1 - k/2
	case CenterIn:
		if k%2 == 0 {
			return NumPixels/2 - 1 - k/2
		}
		return NumPixels/2 + k/2
	default:
		return k
	}
}

func lerp(a, b color.RGBA, t float32) color.RGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(float32(x) + (float32(y)-float32(x))*t + 0.5)
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}

// Ramp returns the bar color for a normalized rpm. Above PulseAt the red
// pulses at 5 Hz between full and quarter intensity.
func Ramp(norm float32, nowMs uint32) color.RGBA {
	switch {
	case norm < yellowAt:
		return lerp(green, yellow, norm/yellowAt)
	case norm < orangeAt:
		return lerp(yellow, orange, (norm-yellowAt)/(orangeAt-yellowAt))
	case norm < redAt:
		return lerp(orange, red, (norm-orangeAt)/(redAt-orangeAt))
	}
	if nowMs%PulsePeriodMs < PulsePeriodMs/2 {
		return red
	}
	return scale(red, 64)
}

func scale(c color.RGBA, s uint8) color.RGBA {
	return color.RGBA{
		R: scaleChannel(c.R, s),
		G: scaleChannel(c.G, s),
		B: scaleChannel(c.B, s),
		A: 255,
	}
}

// scaleChannel never rounds a lit channel to off at a non-zero scale, so
// the dim half of the pulse survives the lowest brightness settings.
func scaleChannel(v, s uint8) uint8 {
	out := uint8(uint16(v) * uint16(s) / 255)
	if out == 0 && v != 0 && s != 0 {
		return 1
	}
	return out
}

// Compute renders one frame. The bar is dark unless the engine is running
// on a connected bus, or demo mode is on.
func Compute(in Input) Frame {
	var f Frame
	if (!in.Running || !in.Connected) && !in.Demo {
		return f
	}
	if in.Scale == 0 {
		return f
	}
	norm := Norm(in.RPM, in.RedlineRPM)
	c := Ramp(norm, in.NowMs)
	if in.ShiftRPM > 0 && in.RPM >= in.ShiftRPM && norm < PulseAt {
		c = red
	}
	c = scale(c, in.Scale)
	full, edge := Fill(norm, in.Mode)
	for k := 0; k < full; k++ {
		f[position(in.Mode, k)] = c
	}
	if full < NumPixels && edge > 0 {
		f[position(in.Mode, full)] = scale(c, uint8(edge*255))
	}
	return f
}
