package app

import (
	"flag"
	"io"
	"testing"

	"github.com/roman-kulish/awg-sweeper/internal/plot"
	"github.com/roman-kulish/awg-sweeper/internal/spectral"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("waveplot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseArgs(t *testing.T) {
	c, err := parseArgs(newFlagSet(), []string{"-i", "sine_000.csv", "-o", "sine", "-f", "jpg", "-fs", "3.6", "-method", "magnitude"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Format != plot.FormatJPEG {
		t.Errorf("expected jpeg, got %s", c.Format)
	}
	if c.SamplingRateGHz != 3.6 {
		t.Errorf("expected 3.6 GHz, got %g", c.SamplingRateGHz)
	}
	if c.Method != spectral.MethodMagnitude {
		t.Errorf("expected magnitude, got %s", c.Method)
	}
	if c.Width != plot.DefaultWidth || c.Height != plot.DefaultHeight {
		t.Errorf("expected default size, got %dx%d", c.Width, c.Height)
	}
}

func TestParseArgs_Errors(t *testing.T) {
	tests := map[string][]string{
		"no input":      {"-o", "out"},
		"no output":     {"-i", "in.csv"},
		"bad format":    {"-i", "in.csv", "-o", "out", "-f", "gif"},
		"bad method":    {"-i", "in.csv", "-o", "out", "-method", "welch"},
		"bad rate":      {"-i", "in.csv", "-o", "out", "-fs", "0"},
		"unknown flag":  {"-i", "in.csv", "-o", "out", "-db", "x.sqlite"},
		"not a number":  {"-i", "in.csv", "-o", "out", "-fs", "fast"},
		"negative rate": {"-i", "in.csv", "-o", "out", "-fs", "-7.2"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := parseArgs(newFlagSet(), args); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
