package waveform

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/roman-kulish/awg-sweeper/internal/galois"
)

// LFSR is a Fibonacci linear feedback shift register. Each step emits the last
// register bit, shifts the register right and inserts the XOR of the tapped
// bits at the front.
type LFSR struct {
	state []uint8
	taps  []int // register indices
}

// NewLFSR builds a register of the given order seeded with seed. The seed must
// have exactly order bits and must not be all zero.
func NewLFSR(order int, seed []uint8) (*LFSR, error) {
	exponents, err := galois.Taps(order)
	if err != nil {
		return nil, err
	}
	if len(seed) != order {
		return nil, invalid("seed", seed, fmt.Sprintf("expected %d bits", order))
	}

	var nonZero bool
	for _, b := range seed {
		if b > 1 {
			return nil, invalid("seed", seed, "bits must be 0 or 1")
		}
		nonZero = nonZero || b == 1
	}
	if !nonZero {
		return nil, invalid("seed", seed, "must not be all zero")
	}

	// Register index j holds the bit inserted j steps ago, so the polynomial
	// term x^e feeds back from index order-1-e.
	taps := make([]int, len(exponents))
	for i, e := range exponents {
		taps[i] = order - 1 - e
	}

	state := make([]uint8, order)
	copy(state, seed)

	return &LFSR{state: state, taps: taps}, nil
}

// Next advances the register by one step and returns the emitted bit
func (l *LFSR) Next() uint8 {
	var feedback uint8
	for _, t := range l.taps {
		feedback ^= l.state[t]
	}

	out := l.state[len(l.state)-1]
	copy(l.state[1:], l.state[:len(l.state)-1])
	l.state[0] = feedback

	return out
}

// State returns a copy of the register contents
func (l *LFSR) State() []uint8 {
	s := make([]uint8, len(l.state))
	copy(s, l.state)
	return s
}

// RandomSeed draws a uniformly random non-zero seed of the given order
func RandomSeed(order int, rng *rand.Rand) []uint8 {
	seed := make([]uint8, order)
	for {
		var nonZero bool
		for i := range seed {
			seed[i] = uint8(rng.IntN(2))
			nonZero = nonZero || seed[i] == 1
		}
		if nonZero {
			return seed
		}
	}
}

// PRBSBits runs a randomly seeded LFSR for min(2^order-1, maxBits) steps.
// A maxBits of zero means one full period.
func PRBSBits(order, maxBits int, opts ...Option) ([]uint8, error) {
	if order < galois.MinOrder || order > galois.MaxOrder {
		return nil, &galois.InvalidOrderError{Order: order}
	}
	if maxBits < 0 {
		return nil, invalid("max bits", maxBits, "must not be negative")
	}

	length := (1 << order) - 1
	if maxBits > 0 {
		length = min(length, maxBits)
	}
	if err := requireCount(length); err != nil {
		return nil, err
	}

	o := newOptions(opts)
	lfsr, err := NewLFSR(order, RandomSeed(order, o.rng))
	if err != nil {
		return nil, err
	}

	bits := make([]uint8, length)
	for i := range bits {
		bits[i] = lfsr.Next()
	}
	return bits, nil
}

// Oversample returns the number of samples per PRBS bit, never less than one
// and never more than MaxSamples
func Oversample(repRateHz, fsHz float64) int {
	ratio := math.Round(fsHz / repRateHz)
	if math.IsNaN(ratio) || ratio < 1 {
		return 1
	}
	if ratio > MaxSamples {
		return MaxSamples
	}
	return int(ratio)
}

// PRBS generates a pseudo random binary sequence of 0/1 levels where every
// bit is held for round(fs/repRate) samples.
func PRBS(order int, repRateHz, fsHz float64, maxBits int, opts ...Option) (Sampled, error) {
	if order < galois.MinOrder || order > galois.MaxOrder {
		return Sampled{}, &galois.InvalidOrderError{Order: order}
	}
	if err := requirePositive("repetition rate", repRateHz); err != nil {
		return Sampled{}, err
	}
	if err := requirePositive("sampling rate", fsHz); err != nil {
		return Sampled{}, err
	}

	if ratio := math.Round(fsHz / repRateHz); math.IsInf(ratio, 0) || ratio > MaxSamples {
		return Sampled{}, invalid("oversample", ratio, fmt.Sprintf("exceeds limit of %d", MaxSamples))
	}

	oversample := Oversample(repRateHz, fsHz)
	length := (1 << order) - 1
	if maxBits > 0 {
		length = min(length, maxBits)
	}
	if length > 0 && length > MaxSamples/oversample {
		return Sampled{}, invalid("sample count", int64(length)*int64(oversample), fmt.Sprintf("exceeds limit of %d", MaxSamples))
	}

	bits, err := PRBSBits(order, maxBits, opts...)
	if err != nil {
		return Sampled{}, err
	}

	v := make([]float64, 0, len(bits)*oversample)
	for _, b := range bits {
		for range oversample {
			v = append(v, float64(b))
		}
	}

	return Sampled{Time: timeAxis(len(v), fsHz), Values: v}, nil
}

// tile repeats or truncates v to exactly n samples
func tile(v []float64, n int) []float64 {
	out := make([]float64, n)
	if len(v) == 0 {
		return out
	}
	for i := 0; i < n; i += len(v) {
		copy(out[i:], v)
	}
	return out
}
