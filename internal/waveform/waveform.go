// Package waveform synthesizes the sampled test waveforms played by the AWG.
//
// The synthesis functions in this package take SI units (Hz, s, V). The Spec
// types carry the user facing units (GHz, ns, MHz for the PRBS repetition
// rate) and convert before calling them.
package waveform

import (
	"fmt"
	"math"
	"math/rand/v2"
)

const (
	// DefaultSamplingRateGHz is the AWG sampling rate used when none is configured
	DefaultSamplingRateGHz = 7.2

	// MaxSamples bounds the size of a single generated waveform
	MaxSamples = 1 << 27

	// countTolerance absorbs floating point error when converting durations to sample counts
	countTolerance = 1e-9
)

// Sampled is a time-domain waveform: Time[i] in seconds and Values[i] share an index
type Sampled struct {
	Time   []float64
	Values []float64
}

// Len returns the number of samples
func (s Sampled) Len() int {
	return len(s.Values)
}

// Duration returns the time span covered by the samples
func (s Sampled) Duration() float64 {
	if len(s.Time) == 0 {
		return 0
	}
	return s.Time[len(s.Time)-1] - s.Time[0]
}

// Peak returns the largest absolute sample value
func (s Sampled) Peak() float64 {
	var peak float64
	for _, v := range s.Values {
		peak = max(peak, math.Abs(v))
	}
	return peak
}

// InvalidParameterError is returned when a waveform parameter is missing,
// non-finite, out of range, or yields a non-positive sample count
type InvalidParameterError struct {
	Field string
	Value any
	msg   string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("waveform: invalid %s (%v): %s", e.Field, e.Value, e.msg)
}

func invalid(field string, value any, msg string) *InvalidParameterError {
	return &InvalidParameterError{Field: field, Value: value, msg: msg}
}

// Option configures the random source and compatibility switches of the synthesizer
type Option func(*options)

type options struct {
	rng         *rand.Rand
	legacyNoise bool
}

// WithSeed makes PRBS seeds and noise samples reproducible
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithRand sets the random source used for PRBS seeds and noise
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		o.rng = r
	}
}

// WithLegacyNoise reproduces the historical Noise behavior, which rendered a
// sine wave using the variance value as a frequency in GHz.
func WithLegacyNoise() Option {
	return func(o *options) {
		o.legacyNoise = true
	}
}

func newOptions(opts []Option) *options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &o
}

func requirePositive(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(field, v, "must be a finite number")
	}
	if v <= 0 {
		return invalid(field, v, "must be positive")
	}
	return nil
}

func requireFinite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(field, v, "must be a finite number")
	}
	return nil
}

func requireCount(n int) error {
	if n <= 0 {
		return invalid("sample count", n, "must be positive")
	}
	if n > MaxSamples {
		return invalid("sample count", n, fmt.Sprintf("exceeds limit of %d", MaxSamples))
	}
	return nil
}

// floorCount is floor(x) tolerant to values a rounding error below an integer.
// Counts beyond MaxSamples saturate at MaxSamples+1 so requireCount rejects them.
func floorCount(x float64) int {
	return saturate(math.Floor(x + countTolerance))
}

// ceilCount is the number of grid points in [0, x) tolerant to rounding error
func ceilCount(x float64) int {
	return saturate(math.Ceil(x - countTolerance))
}

func saturate(x float64) int {
	switch {
	case math.IsNaN(x) || x > MaxSamples:
		return MaxSamples + 1
	case x < 0:
		return 0
	}
	return int(x)
}

func timeAxis(n int, fsHz float64) []float64 {
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) / fsHz
	}
	return t
}
