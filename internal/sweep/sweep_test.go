package sweep

import (
	"errors"
	"math"
	"testing"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name  string
		r     Range
		count int
	}{
		{name: "exact multiple", r: Range{Start: 1, Stop: 2, Step: 0.5}, count: 3},
		{name: "decimal step", r: Range{Start: 0.1, Stop: 0.5, Step: 0.1}, count: 5},
		{name: "not a multiple", r: Range{Start: 0, Stop: 1, Step: 0.3}, count: 4},
		{name: "single point", r: Range{Start: 3, Stop: 3, Step: 1}, count: 1},
		{name: "frequency GHz", r: Range{Start: 1, Stop: 3.6, Step: 0.2}, count: 14},
		{name: "order", r: Range{Start: 7, Stop: 15, Step: 1}, count: 9},
		{name: "tiny step", r: Range{Start: 0, Stop: 0.001, Step: 0.00001}, count: 101},
		{name: "reversed", r: Range{Start: 2, Stop: 1, Step: 0.5}, count: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := tt.r.Expand()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(values) != tt.count {
				t.Fatalf("expected %d values, got %d: %v", tt.count, len(values), values)
			}
			if c := tt.r.Count(); c != tt.count {
				t.Errorf("Count() = %d, want %d", c, tt.count)
			}
			if tt.count == 0 {
				return
			}

			if values[0] != tt.r.Start {
				t.Errorf("first value %v != start %v", values[0], tt.r.Start)
			}
			for i := 1; i < len(values); i++ {
				if values[i] <= values[i-1] {
					t.Fatalf("sequence is not strictly increasing at %d: %v", i, values)
				}
			}

			last := values[len(values)-1]
			if math.Abs(last-tt.r.Stop) >= tt.r.Step {
				t.Errorf("last value %v is not within one step of stop %v", last, tt.r.Stop)
			}
			if last > tt.r.Stop+Epsilon {
				t.Errorf("last value %v overshoots stop %v", last, tt.r.Stop)
			}
		})
	}
}

func TestExpand_IncludesStopDespiteRounding(t *testing.T) {
	// 0.1 + 2*0.1 accumulates to 0.30000000000000004 which must still be included
	values, err := Expand(0.1, 0.3, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("expected 3 values, got %v", values)
	}
}

func TestExpand_InvalidStep(t *testing.T) {
	for _, step := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := Expand(0, 1, step)
		if !errors.Is(err, ErrInvalidRange) {
			t.Errorf("step %v: expected ErrInvalidRange, got %v", step, err)
		}

		var rangeErr *RangeError
		if !errors.As(err, &rangeErr) {
			t.Errorf("step %v: expected *RangeError, got %T", step, err)
		}
	}
}

func TestExpand_ReversedIsEmptyNotNil(t *testing.T) {
	values, err := Expand(5, 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if values == nil || len(values) != 0 {
		t.Fatalf("expected empty slice, got %#v", values)
	}
}

func TestExpand_TooManyPoints(t *testing.T) {
	for _, r := range []Range{
		{Start: 0, Stop: 1, Step: 1e-9},
		{Start: -1e300, Stop: 1e300, Step: 1},
	} {
		if _, err := r.Expand(); !errors.Is(err, ErrInvalidRange) {
			t.Errorf("%+v: expected ErrInvalidRange, got %v", r, err)
		}
		if c := r.Count(); c != 0 {
			t.Errorf("%+v: Count() = %d, want 0", r, c)
		}
	}

	if c := (Range{Start: 0, Stop: MaxPoints - 1, Step: 1}).Count(); c != MaxPoints {
		t.Errorf("expected the largest range to expand to %d points, got %d", MaxPoints, c)
	}
}
