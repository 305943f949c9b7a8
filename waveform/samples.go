package waveform

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// nsamples returns the buffer length for a sweep at a sample rate
func nsamples(sweeptime float64, rate int) int {
	n := int(sweeptime * float64(rate))
	if n < 2 {
		n = 2
	}
	return n
}

// clampWindow bounds a window length to 0..max
func clampWindow(w, max int) int {
	if w < 0 {
		return 0
	}
	if w > max {
		return max
	}
	return w
}

// ETLRamp renders one sweep of the tunable lens drive: hold at the ramp
// floor through the delay window, rise linearly over the rising window,
// fall back over the falling window, then hold the floor again.  The
// percentages are fractions of the sweep in 0..100.
func ETLRamp(delayPct, risePct, fallPct, amplitude, offset, sweeptime float64, rate int) []float64 {
	n := nsamples(sweeptime, rate)
	buf := make([]float64, n)

	// the windows come from unchecked state parameters; clamp each so the
	// three never address past the buffer
	nDelay := clampWindow(int(float64(n)*delayPct/100), n)
	nRise := clampWindow(int(float64(n)*risePct/100), n-nDelay)
	nFall := clampWindow(int(float64(n)*fallPct/100), n-nDelay-nRise)

	// normalized shape in 0..1, scaled and offset onto the floor below
	if nRise > 0 {
		floats.Span(buf[nDelay:nDelay+nRise], 0, 1)
	}
	if nFall > 0 {
		floats.Span(buf[nDelay+nRise:nDelay+nRise+nFall], 1, 0)
	}
	floats.Scale(amplitude, buf)
	floats.AddConst(offset-amplitude/2, buf)
	return buf
}

// Sawtooth renders one sweep of the galvo drive: an asymmetric sawtooth
// with the given frequency in Hz, peak amplitude, DC offset, duty cycle
// in 0..100 (the rising fraction of each period), and phase in radians.
func Sawtooth(frequency, amplitude, offset, dutyPct, phase, sweeptime float64, rate int) []float64 {
	n := nsamples(sweeptime, rate)
	buf := make([]float64, n)
	width := dutyPct / 100
	for i := 0; i < n; i++ {
		t := float64(i) / float64(rate)
		x := frequency*t + phase/(2*math.Pi)
		x -= math.Floor(x)
		var y float64
		switch {
		case width <= 0:
			y = 1 - 2*x
		case width >= 1:
			y = 2*x - 1
		case x < width:
			y = 2*x/width - 1
		default:
			y = 1 - 2*(x-width)/(1-width)
		}
		buf[i] = y
	}
	floats.Scale(amplitude, buf)
	floats.AddConst(offset, buf)
	return buf
}

// Pulse renders one sweep of a gate signal: low through the delay
// window, high at amplitude for the pulse window, low for the rest.
// The percentages are fractions of the sweep in 0..100.
func Pulse(delayPct, pulsePct, amplitude, sweeptime float64, rate int) []float64 {
	n := nsamples(sweeptime, rate)
	buf := make([]float64, n)
	start := clampWindow(int(float64(n)*delayPct/100), n)
	width := clampWindow(int(float64(n)*pulsePct/100), n-start)
	for i := start; i < start+width; i++ {
		buf[i] = amplitude
	}
	return buf
}
