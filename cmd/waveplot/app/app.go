package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roman-kulish/awg-sweeper/internal/plot"
	"github.com/roman-kulish/awg-sweeper/internal/record"
	"github.com/roman-kulish/awg-sweeper/internal/spectral"
	"github.com/roman-kulish/awg-sweeper/internal/waveform"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	stat, err := os.Stat(config.InputPath)
	if err != nil {
		return fmt.Errorf("input '%s': %w", config.InputPath, err)
	}

	renderer, err := plot.NewRenderer(plot.WithSize(config.Width, config.Height))
	if err != nil {
		return err
	}

	if !stat.IsDir() {
		output := fmt.Sprintf("%s.%s", config.OutputPath, config.Format.Extension())
		return renderFile(renderer, config, config.InputPath, output, logger)
	}

	entries, err := os.ReadDir(config.InputPath)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(config.OutputPath, 0o755); err != nil {
		return fmt.Errorf("output folder '%s': %w", config.OutputPath, err)
	}

	var rendered int
	for _, entry := range entries {
		if err = ctx.Err(); err != nil {
			return err
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".csv" && ext != ".parquet") {
			continue
		}

		base := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		output := filepath.Join(config.OutputPath, fmt.Sprintf("%s.%s", base, config.Format.Extension()))
		if err = renderFile(renderer, config, filepath.Join(config.InputPath, entry.Name()), output, logger); err != nil {
			return err
		}
		rendered++
	}

	if rendered == 0 {
		return fmt.Errorf("no waveform files in '%s'", config.InputPath)
	}
	return nil
}

func renderFile(renderer *plot.Renderer, config *Config, input, output string, logger *slog.Logger) error {
	w, title, fsGHz, err := load(input, config.SamplingRateGHz)
	if err != nil {
		return err
	}

	spec, err := spectral.Analyze(config.Method, w.Values, fsGHz*1e9)
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}

	img, err := renderer.Render(title, w, spec)
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}

	if err = plot.Save(output, img, config.Format); err != nil {
		return fmt.Errorf("saving '%s': %w", output, err)
	}

	peakFreq, peak := spec.Peak()
	logger.Info("rendered",
		slog.String("input", input),
		slog.String("output", output),
		slog.Int("samples", w.Len()),
		slog.Float64("peakGHz", peakFreq),
		slog.String("peak", fmt.Sprintf("%.2f %s", peak, config.Method.Unit())))

	return nil
}

// load reads a waveform file. Parquet exports carry their label and sampling
// rate; CSV files are titled by name and use the configured rate.
func load(path string, samplingRateGHz float64) (w waveform.Sampled, title string, fsGHz float64, err error) {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		s, info, err := record.LoadParquet(path)
		if err != nil {
			return w, "", 0, err
		}

		fsGHz = samplingRateGHz
		if info.SamplingRateGHz > 0 {
			fsGHz = info.SamplingRateGHz
		}
		title = info.Label
		if title == "" {
			title = filepath.Base(path)
		}
		return s, title, fsGHz, nil
	}

	values, err := record.LoadCSV(path)
	if err != nil {
		return w, "", 0, err
	}

	fsHz := samplingRateGHz * 1e9
	t := make([]float64, len(values))
	for i := range t {
		t[i] = float64(i) / fsHz
	}

	return waveform.Sampled{Time: t, Values: values}, filepath.Base(path), samplingRateGHz, nil
}
