package app

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/roman-kulish/awg-sweeper/internal/plot"
	"github.com/roman-kulish/awg-sweeper/internal/spectral"
	"github.com/roman-kulish/awg-sweeper/internal/waveform"
)

type Config struct {
	InputPath       string // waveform file, or a run folder of them
	OutputPath      string
	Format          plot.Format
	SamplingRateGHz float64 // used for CSV input, parquet exports carry their own
	Method          spectral.Method
	Width           int
	Height          int
}

func NewConfig() *Config {
	return &Config{
		Format:          plot.FormatPNG,
		SamplingRateGHz: waveform.DefaultSamplingRateGHz,
		Method:          spectral.MethodPeriodogram,
		Width:           plot.DefaultWidth,
		Height:          plot.DefaultHeight,
	}
}

func NewConfigFromCLI() (*Config, error) {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	c, err := parseArgs(fs, os.Args[1:])
	if err != nil {
		fs.Usage()
		return nil, err
	}
	return c, nil
}

func parseArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var imageFormat, method string
	fs.StringVar(&c.InputPath, "i", "", "Path to a waveform CSV or parquet file, or a folder of them")
	fs.StringVar(&c.OutputPath, "o", "", "Path to the output file, without extension, or folder")
	fs.StringVar(&imageFormat, "f", string(plot.FormatPNG), "Output image format. [png, jpeg]")
	fs.Float64Var(&c.SamplingRateGHz, "fs", c.SamplingRateGHz, "Sampling rate of CSV waveforms in GHz")
	fs.StringVar(&method, "method", string(c.Method), "Spectrum estimator. [periodogram, magnitude]")
	fs.IntVar(&c.Width, "width", c.Width, "Image width in pixels")
	fs.IntVar(&c.Height, "height", c.Height, "Image height in pixels")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var err error
	if c.InputPath == "" {
		return nil, errors.New("input path is required")
	}
	if c.OutputPath == "" {
		return nil, errors.New("output path is required")
	}
	if c.SamplingRateGHz <= 0 {
		return nil, fmt.Errorf("sampling rate must be positive: %g", c.SamplingRateGHz)
	}
	if c.Format, err = plot.ParseFormat(imageFormat); err != nil {
		return nil, err
	}
	if c.Method, err = spectral.ParseMethod(method); err != nil {
		return nil, err
	}

	return c, nil
}
