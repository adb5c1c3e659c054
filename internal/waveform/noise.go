package waveform

import (
	"math"
)

// Noise generates zero mean white Gaussian noise with the given variance.
//
// With WithLegacyNoise the variance is instead interpreted as a frequency in
// GHz and a unit sine wave is returned, matching waveform files produced by
// earlier releases.
func Noise(variance float64, numSamples int, fsHz float64, opts ...Option) (Sampled, error) {
	o := newOptions(opts)
	if o.legacyNoise {
		return Sine(variance*1e9, 1, fsHz)
	}

	if err := requireFinite("variance", variance); err != nil {
		return Sampled{}, err
	}
	if variance < 0 {
		return Sampled{}, invalid("variance", variance, "must not be negative")
	}
	if err := requirePositive("sampling rate", fsHz); err != nil {
		return Sampled{}, err
	}
	if err := requireCount(numSamples); err != nil {
		return Sampled{}, err
	}

	return Sampled{Time: timeAxis(numSamples, fsHz), Values: gaussian(variance, numSamples, o)}, nil
}

func gaussian(variance float64, n int, o *options) []float64 {
	sigma := math.Sqrt(variance)
	v := make([]float64, n)
	for i := range v {
		v[i] = sigma * o.rng.NormFloat64()
	}
	return v
}
