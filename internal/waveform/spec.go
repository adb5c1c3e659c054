package waveform

import (
	"fmt"
	"math"
	"strings"
)

const (
	KindSine    Kind = "sine"
	KindPRBS    Kind = "prbs"
	KindLFM     Kind = "lfm"
	KindStepLFM Kind = "steplfm"
	KindNoise   Kind = "noise"
)

// Kind names a waveform family
type Kind string

var validKinds = map[Kind]struct{}{
	KindSine:    {},
	KindPRBS:    {},
	KindLFM:     {},
	KindStepLFM: {},
	KindNoise:   {},
}

// ParseKind converts a case-insensitive name into a Kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "step-lfm" || k == "step_lfm" {
		k = KindStepLFM
	}
	if _, ok := validKinds[k]; !ok {
		return "", fmt.Errorf("waveform: unknown kind '%s'", s)
	}
	return k, nil
}

// Spec is one fully parametrized waveform. Implementations carry user units
// (GHz, ns, V, MHz for the PRBS repetition rate) and are immutable.
type Spec interface {
	Kind() Kind

	// Generate synthesizes the waveform at its natural length
	Generate(samplingRateGHz float64, opts ...Option) (Sampled, error)

	// WithSweepValue returns a copy with the swept parameter set to v
	WithSweepValue(v float64) Spec

	// SweepValue returns the current value of the swept parameter
	SweepValue() float64

	// Label is a short human readable description, e.g. "sine 1.50 GHz"
	Label() string

	// render produces exactly n samples for combined waveforms
	render(n int, fsHz float64, o *options) ([]float64, error)
}

// SineSpec is a single period sine; the swept parameter is the frequency
type SineSpec struct {
	FrequencyGHz float64 `yaml:"frequency" json:"frequencyGHz"` // Tone frequency in GHz
	AmplitudeV   float64 `yaml:"amplitude" json:"amplitudeV"`   // Peak-to-peak amplitude in V
}

func (s SineSpec) Kind() Kind { return KindSine }

func (s SineSpec) Generate(samplingRateGHz float64, _ ...Option) (Sampled, error) {
	return Sine(s.FrequencyGHz*1e9, s.AmplitudeV, samplingRateGHz*1e9)
}

func (s SineSpec) WithSweepValue(v float64) Spec {
	s.FrequencyGHz = v
	return s
}

func (s SineSpec) SweepValue() float64 { return s.FrequencyGHz }

func (s SineSpec) Label() string {
	return fmt.Sprintf("sine %.2f GHz", s.FrequencyGHz)
}

func (s SineSpec) render(n int, fsHz float64, _ *options) ([]float64, error) {
	if err := requirePositive("frequency", s.FrequencyGHz); err != nil {
		return nil, err
	}
	return sineFixed(s.FrequencyGHz*1e9, n, fsHz), nil
}

// PRBSSpec is a pseudo random binary sequence; the swept parameter is the order
type PRBSSpec struct {
	Order             int     `yaml:"order" json:"order"`                      // LFSR length
	RepetitionRateMHz float64 `yaml:"repetitionRate" json:"repetitionRateMHz"` // Bit rate in MHz
	MaxBits           int     `yaml:"maxBits" json:"maxBits,omitempty"`        // Optional cap on the bit count, 0 for a full period
}

func (s PRBSSpec) Kind() Kind { return KindPRBS }

func (s PRBSSpec) Generate(samplingRateGHz float64, opts ...Option) (Sampled, error) {
	return PRBS(s.Order, s.RepetitionRateMHz*1e6, samplingRateGHz*1e9, s.MaxBits, opts...)
}

func (s PRBSSpec) WithSweepValue(v float64) Spec {
	s.Order = int(math.Round(v))
	return s
}

func (s PRBSSpec) SweepValue() float64 { return float64(s.Order) }

func (s PRBSSpec) Label() string {
	return fmt.Sprintf("prbs order %d @ %.2f MHz", s.Order, s.RepetitionRateMHz)
}

func (s PRBSSpec) render(n int, fsHz float64, o *options) ([]float64, error) {
	w, err := PRBS(s.Order, s.RepetitionRateMHz*1e6, fsHz, s.MaxBits, WithRand(o.rng))
	if err != nil {
		return nil, err
	}
	return tile(w.Values, n), nil
}

// LFMSpec is a linear chirp; the swept parameter is the center frequency
type LFMSpec struct {
	CenterGHz    float64 `yaml:"centerFrequency" json:"centerGHz"` // Chirp center frequency in GHz
	BandwidthGHz float64 `yaml:"bandwidth" json:"bandwidthGHz"`    // Swept bandwidth in GHz
	PulseWidthNs float64 `yaml:"pulseWidth" json:"pulseWidthNs"`   // Chirp duration in ns
}

func (s LFMSpec) Kind() Kind { return KindLFM }

func (s LFMSpec) Generate(samplingRateGHz float64, _ ...Option) (Sampled, error) {
	return LFM(s.CenterGHz*1e9, s.BandwidthGHz*1e9, s.PulseWidthNs*1e-9, samplingRateGHz*1e9)
}

func (s LFMSpec) WithSweepValue(v float64) Spec {
	s.CenterGHz = v
	return s
}

func (s LFMSpec) SweepValue() float64 { return s.CenterGHz }

func (s LFMSpec) Label() string {
	return fmt.Sprintf("lfm %.2f GHz bw %.2f GHz", s.CenterGHz, s.BandwidthGHz)
}

func (s LFMSpec) render(n int, fsHz float64, _ *options) ([]float64, error) {
	if err := validateLFM(s.CenterGHz*1e9, s.BandwidthGHz*1e9, s.PulseWidthNs*1e-9, fsHz); err != nil {
		return nil, err
	}
	return chirp(timeAxis(n, fsHz), s.CenterGHz*1e9, s.BandwidthGHz*1e9, s.PulseWidthNs*1e-9), nil
}

// StepLFMSpec is a stepped frequency level code. It is not swept.
type StepLFMSpec struct {
	StartGHz float64 `yaml:"startFrequency" json:"startGHz"` // First step frequency in GHz
	StopGHz  float64 `yaml:"stopFrequency" json:"stopGHz"`   // Last step frequency in GHz
	StepGHz  float64 `yaml:"stepFrequency" json:"stepGHz"`   // Step increment in GHz
	DwellNs  float64 `yaml:"dwellTime" json:"dwellNs"`       // Time spent on each step in ns
}

func (s StepLFMSpec) Kind() Kind { return KindStepLFM }

func (s StepLFMSpec) Generate(samplingRateGHz float64, _ ...Option) (Sampled, error) {
	return StepLFM(s.StartGHz*1e9, s.StopGHz*1e9, s.StepGHz*1e9, s.DwellNs*1e-9, samplingRateGHz*1e9)
}

func (s StepLFMSpec) WithSweepValue(float64) Spec { return s }

func (s StepLFMSpec) SweepValue() float64 { return s.StartGHz }

func (s StepLFMSpec) Label() string {
	return fmt.Sprintf("steplfm %.2f-%.2f GHz", s.StartGHz, s.StopGHz)
}

func (s StepLFMSpec) render(n int, _ float64, _ *options) ([]float64, error) {
	return stepLevels(s.StartGHz*1e9, s.StopGHz*1e9, s.StepGHz*1e9, n)
}

// NoiseSpec is white Gaussian noise; the swept parameter is the variance
type NoiseSpec struct {
	Variance   float64 `yaml:"variance" json:"variance"`     // Noise power in V^2
	NumSamples int     `yaml:"numSamples" json:"numSamples"` // Length of the generated record
}

// DefaultNoiseSamples is the noise record length when none is configured (100 ns at 7.2 GS/s)
const DefaultNoiseSamples = 720

func (s NoiseSpec) Kind() Kind { return KindNoise }

func (s NoiseSpec) Generate(samplingRateGHz float64, opts ...Option) (Sampled, error) {
	n := s.NumSamples
	if n == 0 {
		n = DefaultNoiseSamples
	}
	return Noise(s.Variance, n, samplingRateGHz*1e9, opts...)
}

func (s NoiseSpec) WithSweepValue(v float64) Spec {
	s.Variance = v
	return s
}

func (s NoiseSpec) SweepValue() float64 { return s.Variance }

func (s NoiseSpec) Label() string {
	return fmt.Sprintf("noise variance %.3f", s.Variance)
}

func (s NoiseSpec) render(n int, _ float64, o *options) ([]float64, error) {
	if err := requireFinite("variance", s.Variance); err != nil {
		return nil, err
	}
	if s.Variance < 0 {
		return nil, invalid("variance", s.Variance, "must not be negative")
	}
	return gaussian(s.Variance, n, o), nil
}

// Combine sums fixed length renditions of the given waveforms. Sine components
// have unit amplitude, PRBS sequences are tiled or truncated to numSamples,
// chirps are evaluated on the n/fs grid, and stepped levels split numSamples
// across their steps.
func Combine(numSamples int, samplingRateGHz float64, specs []Spec, opts ...Option) (Sampled, error) {
	if err := requireCount(numSamples); err != nil {
		return Sampled{}, err
	}
	if err := requirePositive("sampling rate", samplingRateGHz); err != nil {
		return Sampled{}, err
	}
	if len(specs) == 0 {
		return Sampled{}, invalid("components", 0, "at least one waveform is required")
	}

	fsHz := samplingRateGHz * 1e9
	o := newOptions(opts)

	sum := make([]float64, numSamples)
	for _, spec := range specs {
		v, err := spec.render(numSamples, fsHz, o)
		if err != nil {
			return Sampled{}, fmt.Errorf("%s: %w", spec.Kind(), err)
		}
		for i := range sum {
			sum[i] += v[i]
		}
	}

	return Sampled{Time: timeAxis(numSamples, fsHz), Values: sum}, nil
}
