// Package sweep expands start/stop/step ranges into ordered sweep points.
package sweep

import (
	"errors"
	"fmt"
	"math"
)

// Epsilon guards the final point of a range against floating point truncation.
// It is expressed in the native unit of the range and never exceeds half a step.
const Epsilon = 1e-4

// MaxPoints bounds the number of values a range may expand to
const MaxPoints = 1 << 20

// ErrInvalidRange is returned when a range cannot be expanded
var ErrInvalidRange = errors.New("invalid sweep range")

// RangeError describes why a range was rejected
type RangeError struct {
	Start, Stop, Step float64
	msg               string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("sweep.Range: %s (start=%g, stop=%g, step=%g)", e.msg, e.Start, e.Stop, e.Step)
}

func (e *RangeError) Unwrap() error {
	return ErrInvalidRange
}

// Range is an inclusive start/stop/step range, all in the same unit
type Range struct {
	Start float64 `yaml:"start" json:"start"` // First value of the sweep
	Stop  float64 `yaml:"stop" json:"stop"`   // Last value, inclusive within Epsilon
	Step  float64 `yaml:"step" json:"step"`   // Increment, must be positive
}

// Validate checks that the range can be expanded
func (r Range) Validate() error {
	for _, v := range []float64{r.Start, r.Stop, r.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &RangeError{Start: r.Start, Stop: r.Stop, Step: r.Step, msg: "non-finite bound"}
		}
	}
	if r.Step <= 0 {
		return &RangeError{Start: r.Start, Stop: r.Stop, Step: r.Step, msg: "step must be positive"}
	}
	if (r.Stop-r.Start)/r.Step >= MaxPoints {
		return &RangeError{Start: r.Start, Stop: r.Stop, Step: r.Step, msg: fmt.Sprintf("more than %d points", MaxPoints)}
	}
	return nil
}

// Count returns the number of points Expand would produce, or 0 for an invalid range
func (r Range) Count() int {
	if r.Validate() != nil || r.Stop < r.Start {
		return 0
	}

	limit := r.Stop + epsilon(r.Step)
	n := int(math.Floor((limit-r.Start)/r.Step)) + 1

	// guard the floor against values sitting exactly on the boundary
	for n > 0 && r.Start+float64(n-1)*r.Step > limit {
		n--
	}
	for r.Start+float64(n)*r.Step <= limit {
		n++
	}
	return n
}

// Expand enumerates the range. Values are computed as start + i*step so the
// first value equals start exactly and errors do not accumulate.
func (r Range) Expand() ([]float64, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	n := r.Count()
	if n == 0 {
		return []float64{}, nil
	}

	values := make([]float64, n)
	for i := range values {
		values[i] = r.Start + float64(i)*r.Step
	}
	return values, nil
}

// Expand is a shorthand for Range{start, stop, step}.Expand()
func Expand(start, stop, step float64) ([]float64, error) {
	return Range{Start: start, Stop: stop, Step: step}.Expand()
}

func epsilon(step float64) float64 {
	return min(Epsilon, step/2)
}
