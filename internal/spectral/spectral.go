// Package spectral computes the frequency-domain views of generated waveforms
// that are plotted next to their time-domain traces.
package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"math/cmplx"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	MethodMagnitude   Method = "magnitude"
	MethodPeriodogram Method = "periodogram"
)

const (
	// referenceWatts is the 0 dBm reference used by the periodogram (50 mW)
	referenceWatts = 50e-3

	// powerFloor keeps log10 finite for empty bins
	powerFloor = 1e-10

	// padFactor is the minimum zero padding applied before the periodogram FFT
	padFactor = 4
)

var (
	ErrEmptyInput          = errors.New("spectral: empty input")
	ErrInvalidSamplingRate = errors.New("spectral: sampling rate must be positive and finite")
)

// Method selects a spectrum estimator
type Method string

// ParseMethod converts a case-insensitive name into a Method
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodMagnitude, MethodPeriodogram:
		return m, nil
	}
	return "", fmt.Errorf("spectral: unknown method '%s'", s)
}

// Unit returns the unit of the values produced by the method
func (m Method) Unit() string {
	if m == MethodPeriodogram {
		return "dBm"
	}
	return "|X|"
}

// Spectrum holds matching frequency (GHz) and value slices
type Spectrum struct {
	Method       Method
	FrequencyGHz []float64
	Values       []float64
}

// Len returns the number of bins
func (s Spectrum) Len() int {
	return len(s.Values)
}

// Peak returns the frequency and value of the largest bin, skipping DC
func (s Spectrum) Peak() (freqGHz, value float64) {
	if len(s.Values) == 0 {
		return 0, 0
	}

	idx := 0
	if len(s.Values) > 1 {
		idx = 1
	}
	for i := idx + 1; i < len(s.Values); i++ {
		if s.Values[i] > s.Values[idx] {
			idx = i
		}
	}
	return s.FrequencyGHz[idx], s.Values[idx]
}

// Analyze runs the selected estimator over the samples
func Analyze(method Method, samples []float64, fsHz float64) (Spectrum, error) {
	var (
		freq, values []float64
		err          error
	)

	switch method {
	case MethodMagnitude:
		freq, values, err = Magnitude(samples, fsHz)
	case MethodPeriodogram:
		freq, values, err = Periodogram(samples, fsHz)
	default:
		return Spectrum{}, fmt.Errorf("spectral: unknown method '%s'", method)
	}
	if err != nil {
		return Spectrum{}, err
	}

	return Spectrum{Method: method, FrequencyGHz: freq, Values: values}, nil
}

// Magnitude returns |FFT(samples)| over all N bins. Bin n is reported at
// n/(N/fs) expressed in GHz.
func Magnitude(samples []float64, fsHz float64) (freqGHz, mag []float64, err error) {
	if err = validate(samples, fsHz); err != nil {
		return nil, nil, err
	}

	n := len(samples)
	seq := make([]complex128, n)
	for i, v := range samples {
		seq[i] = complex(v, 0)
	}
	coeff := fourier.NewCmplxFFT(n).Coefficients(nil, seq)

	duration := float64(n) / fsHz
	freqGHz = make([]float64, n)
	mag = make([]float64, n)
	for i, c := range coeff {
		freqGHz[i] = float64(i) / duration / 1e9
		mag[i] = cmplx.Abs(c)
	}
	return freqGHz, mag, nil
}

// Periodogram estimates the one-sided power spectrum in dBm. The samples are
// mean-removed, weighted by a periodic Hann window and zero padded to the
// next power of two of at least four times their length.
func Periodogram(samples []float64, fsHz float64) (freqGHz, dBm []float64, err error) {
	if err = validate(samples, fsHz); err != nil {
		return nil, nil, err
	}

	n := len(samples)
	win := periodicHann(n)

	var mean, winSum float64
	for _, v := range samples {
		mean += v
	}
	mean /= float64(n)
	for _, w := range win {
		winSum += w
	}

	nfft := nextPow2(padFactor * n)
	seq := make([]float64, nfft)
	for i, v := range samples {
		seq[i] = (v - mean) * win[i]
	}
	coeff := fourier.NewFFT(nfft).Coefficients(nil, seq)

	scale := 1 / (winSum * winSum)
	freqGHz = make([]float64, len(coeff))
	dBm = make([]float64, len(coeff))
	for i, c := range coeff {
		p := real(c)*real(c) + imag(c)*imag(c)
		p *= scale

		// one-sided: fold negative frequencies except DC and Nyquist
		if i != 0 && !(nfft%2 == 0 && i == nfft/2) {
			p *= 2
		}

		freqGHz[i] = float64(i) * fsHz / float64(nfft) / 1e9
		dBm[i] = 10 * math.Log10((p+powerFloor)/referenceWatts)
	}
	return freqGHz, dBm, nil
}

// periodicHann returns the N-point periodic Hann window, the first N points of
// the symmetric window of length N+1
func periodicHann(n int) []float64 {
	if n == 1 {
		return []float64{1}
	}

	w := make([]float64, n+1)
	for i := range w {
		w[i] = 1
	}
	return window.Hann(w)[:n]
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func validate(samples []float64, fsHz float64) error {
	if len(samples) == 0 {
		return ErrEmptyInput
	}
	if fsHz <= 0 || math.IsNaN(fsHz) || math.IsInf(fsHz, 0) {
		return ErrInvalidSamplingRate
	}
	return nil
}
