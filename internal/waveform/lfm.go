package waveform

import (
	"fmt"
	"math"
)

// LFM generates a linear frequency modulated chirp sweeping from
// center-bandwidth/2 to center+bandwidth/2 over pulseWidth seconds.
func LFM(centerHz, bandwidthHz, pulseWidthS, fsHz float64) (Sampled, error) {
	if err := validateLFM(centerHz, bandwidthHz, pulseWidthS, fsHz); err != nil {
		return Sampled{}, err
	}

	n := ceilCount(pulseWidthS * fsHz)
	if err := requireCount(n); err != nil {
		return Sampled{}, err
	}

	t := timeAxis(n, fsHz)
	return Sampled{Time: t, Values: chirp(t, centerHz, bandwidthHz, pulseWidthS)}, nil
}

// InstantaneousFrequency returns the instantaneous frequency of an LFM chirp at time t
func InstantaneousFrequency(centerHz, bandwidthHz, pulseWidthS, t float64) float64 {
	k := bandwidthHz / pulseWidthS
	f0 := centerHz - bandwidthHz/2
	return f0 + k*t
}

func chirp(t []float64, centerHz, bandwidthHz, pulseWidthS float64) []float64 {
	k := bandwidthHz / pulseWidthS
	f0 := centerHz - bandwidthHz/2

	v := make([]float64, len(t))
	for i, ti := range t {
		v[i] = math.Cos(2 * math.Pi * (f0*ti + (k/2)*ti*ti))
	}
	return v
}

func validateLFM(centerHz, bandwidthHz, pulseWidthS, fsHz float64) error {
	if err := requirePositive("center frequency", centerHz); err != nil {
		return err
	}
	if err := requireFinite("bandwidth", bandwidthHz); err != nil {
		return err
	}
	if bandwidthHz < 0 {
		return invalid("bandwidth", bandwidthHz, "must not be negative")
	}
	if err := requirePositive("pulse width", pulseWidthS); err != nil {
		return err
	}
	return requirePositive("sampling rate", fsHz)
}

// StepLFM generates a stepped frequency level code. Steps run from start to
// stop in increments of step; each step holds the constant level index+1 for
// dwell seconds, and the time axis continues across steps.
func StepLFM(startHz, stopHz, stepHz, dwellS, fsHz float64) (Sampled, error) {
	steps, err := stepCount(startHz, stopHz, stepHz)
	if err != nil {
		return Sampled{}, err
	}
	if err = requirePositive("dwell time", dwellS); err != nil {
		return Sampled{}, err
	}
	if err = requirePositive("sampling rate", fsHz); err != nil {
		return Sampled{}, err
	}

	perStep := ceilCount(dwellS * fsHz)
	if perStep <= 0 || steps > MaxSamples/perStep {
		return Sampled{}, invalid("sample count", steps*perStep, "must be positive and within limits")
	}

	t := make([]float64, 0, steps*perStep)
	v := make([]float64, 0, steps*perStep)
	for i := range steps {
		offset := float64(i) * dwellS
		level := float64(i + 1)
		for n := range perStep {
			t = append(t, float64(n)/fsHz+offset)
			v = append(v, level)
		}
	}

	return Sampled{Time: t, Values: v}, nil
}

// stepCount returns the number of frequency steps in [start, stop]
func stepCount(startHz, stopHz, stepHz float64) (int, error) {
	if err := requireFinite("start frequency", startHz); err != nil {
		return 0, err
	}
	if err := requireFinite("stop frequency", stopHz); err != nil {
		return 0, err
	}
	if err := requirePositive("step frequency", stepHz); err != nil {
		return 0, err
	}
	if stopHz < startHz {
		return 0, invalid("stop frequency", stopHz, "must not be below start frequency")
	}

	ratio := (stopHz - startHz) / stepHz
	if ratio >= MaxSamples {
		return 0, invalid("step count", ratio, fmt.Sprintf("exceeds limit of %d", MaxSamples))
	}

	// only frequencies inside [start, stop] get a level: a range that is not
	// a whole number of steps drops the partial last step instead of
	// overshooting stop
	steps := floorCount(ratio) + 1
	if err := requireCount(steps); err != nil {
		return 0, err
	}
	return steps, nil
}

// stepLevels splits n samples across the frequency steps; the last step takes the remainder
func stepLevels(startHz, stopHz, stepHz float64, n int) ([]float64, error) {
	steps, err := stepCount(startHz, stopHz, stepHz)
	if err != nil {
		return nil, err
	}

	perStep := n / steps
	v := make([]float64, 0, n)
	for i := range steps {
		count := perStep
		if i == steps-1 {
			count = n - len(v)
		}
		for range count {
			v = append(v, float64(i+1))
		}
	}
	return v, nil
}
