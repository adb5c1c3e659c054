package waveform

import (
	"math"
)

// Sine generates exactly one period of a sine wave with peak-to-peak amplitude
// equal to amplitude. The sample count is floor(fs/f).
func Sine(freqHz, amplitude, fsHz float64) (Sampled, error) {
	if err := requirePositive("frequency", freqHz); err != nil {
		return Sampled{}, err
	}
	if err := requireFinite("amplitude", amplitude); err != nil {
		return Sampled{}, err
	}
	if err := requirePositive("sampling rate", fsHz); err != nil {
		return Sampled{}, err
	}

	period := 1 / freqHz
	n := floorCount(period * fsHz)
	if err := requireCount(n); err != nil {
		return Sampled{}, err
	}

	t := timeAxis(n, fsHz)
	v := make([]float64, n)
	for i, ti := range t {
		v[i] = (amplitude / 2) * math.Sin(2*math.Pi*freqHz*ti)
	}

	return Sampled{Time: t, Values: v}, nil
}

// sineFixed renders a unit sine of n samples starting at t=0
func sineFixed(freqHz float64, n int, fsHz float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = math.Sin(2 * math.Pi * freqHz * float64(i) / fsHz)
	}
	return v
}
