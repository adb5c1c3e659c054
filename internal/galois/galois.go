// Package galois resolves linear feedback shift register taps from primitive
// polynomials over GF(2^n).
package galois

import (
	"fmt"
	"slices"
)

const (
	MinOrder = 2
	MaxOrder = 32
)

// primitivePolynomials holds one low-weight primitive polynomial per degree,
// listed as the exponents of the non-zero terms in descending order.
var primitivePolynomials = map[int][]int{
	2:  {2, 1, 0},
	3:  {3, 1, 0},
	4:  {4, 1, 0},
	5:  {5, 2, 0},
	6:  {6, 4, 3, 1, 0},
	7:  {7, 1, 0},
	8:  {8, 4, 3, 2, 0},
	9:  {9, 4, 0},
	10: {10, 3, 0},
	11: {11, 2, 0},
	12: {12, 6, 4, 1, 0},
	13: {13, 4, 3, 1, 0},
	14: {14, 5, 3, 1, 0},
	15: {15, 1, 0},
	16: {16, 5, 3, 2, 0},
	17: {17, 3, 0},
	18: {18, 5, 2, 1, 0},
	19: {19, 5, 2, 1, 0},
	20: {20, 3, 0},
	21: {21, 2, 0},
	22: {22, 1, 0},
	23: {23, 5, 0},
	24: {24, 4, 3, 1, 0},
	25: {25, 3, 0},
	26: {26, 6, 2, 1, 0},
	27: {27, 5, 2, 1, 0},
	28: {28, 3, 0},
	29: {29, 2, 0},
	30: {30, 6, 4, 1, 0},
	31: {31, 3, 0},
	32: {32, 7, 6, 2, 0},
}

// InvalidOrderError is returned when no primitive polynomial of the requested degree is known
type InvalidOrderError struct {
	Order int
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("galois: no primitive polynomial of order %d (supported %d..%d)", e.Order, MinOrder, MaxOrder)
}

// Polynomial returns the exponents of the non-zero terms of the primitive
// polynomial of the given order, highest first.
func Polynomial(order int) ([]int, error) {
	p, ok := primitivePolynomials[order]
	if !ok {
		return nil, &InvalidOrderError{Order: order}
	}
	return slices.Clone(p), nil
}

// Taps returns the tap positions for an LFSR of the given order in ascending
// order. A tap is an exponent e < order whose coefficient is set, so the
// implicit x^order term is excluded and x^0 is always present.
//
// For x^4 + x + 1 the taps are [0 1].
func Taps(order int) ([]int, error) {
	p, err := Polynomial(order)
	if err != nil {
		return nil, err
	}

	taps := p[1:]
	slices.Sort(taps)

	return taps, nil
}

// String renders the polynomial of the given order, e.g. "x^4 + x + 1".
func String(order int) string {
	p, err := Polynomial(order)
	if err != nil {
		return err.Error()
	}

	var s string
	for i, e := range p {
		if i > 0 {
			s += " + "
		}
		switch e {
		case 0:
			s += "1"
		case 1:
			s += "x"
		default:
			s += fmt.Sprintf("x^%d", e)
		}
	}
	return s
}
