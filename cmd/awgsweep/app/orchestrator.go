package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/roman-kulish/awg-sweeper/internal/awg"
	"github.com/roman-kulish/awg-sweeper/internal/metrics"
	"github.com/roman-kulish/awg-sweeper/internal/plot"
	"github.com/roman-kulish/awg-sweeper/internal/record"
	"github.com/roman-kulish/awg-sweeper/internal/sequencer"
	"github.com/roman-kulish/awg-sweeper/internal/spectral"
	"github.com/roman-kulish/awg-sweeper/internal/storage"
	"github.com/roman-kulish/awg-sweeper/internal/transfer"
	"github.com/roman-kulish/awg-sweeper/internal/waveform"
)

const combinedKind = "combined"

// Job is the generated waveform folder of one channel sweep, or of the
// combined waveform, together with the plan that plays it
type Job struct {
	Name     string
	LocalDir string
	Plan     sequencer.Plan
}

// WithRunID sets the run identifier stamped on stored and exported waveforms
func WithRunID(id uuid.UUID) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.runID = id
	}
}

// WithStartTime sets the time used to name the run folders
func WithStartTime(t time.Time) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.started = t
	}
}

// WithUploader enables the upload of every run folder before it is swept
func WithUploader(u *transfer.Uploader) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.uploader = u
	}
}

// WithRenderer enables a waveform and spectrum plot per generated file
func WithRenderer(r *plot.Renderer, f plot.Format, m spectral.Method) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.renderer = r
		o.plotFormat = f
		o.plotMethod = m
	}
}

// WithMetrics counts generated waveforms and observes the sweeps
func WithMetrics(m *metrics.Metrics) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.metrics = m
		o.observers = append(o.observers, m)
	}
}

// WithObserver registers an observer on every sequencer started by the orchestrator
func WithObserver(obs sequencer.Observer) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, obs)
	}
}

// WithWaveformOptions sets the synthesizer options, e.g. the random source
func WithWaveformOptions(opts ...waveform.Option) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.waveformOptions = opts
	}
}

// Orchestrator generates the waveform files of every enabled channel, and
// then uploads and sweeps them one channel at a time.
type Orchestrator struct {
	config  *Config
	session *awg.Session
	store   storage.Store

	runID   uuid.UUID
	started time.Time

	uploader   *transfer.Uploader
	renderer   *plot.Renderer
	plotFormat plot.Format
	plotMethod spectral.Method

	metrics         *metrics.Metrics
	observers       []sequencer.Observer
	waveformOptions []waveform.Option

	logger *slog.Logger
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(config *Config, session *awg.Session, store storage.Store, logger *slog.Logger, options ...func(*Orchestrator)) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger
	}

	o := Orchestrator{
		config:  config,
		session: session,
		store:   store,
		runID:   uuid.New(),
		started: time.Now(),
		logger:  logger,
	}

	for _, option := range options {
		option(&o)
	}

	return &o
}

// Generate synthesizes and persists the waveforms of every enabled channel
// and of the combined waveform. Every waveform is synthesized before the
// first file is written, so invalid parameters leave no output behind.
func (o *Orchestrator) Generate(ctx context.Context) ([]Job, error) {
	var batches []batch
	for _, ch := range o.config.Channels {
		if !ch.Enabled {
			continue
		}

		b, err := o.synthesizeChannel(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch.Channel, err)
		}
		batches = append(batches, b)
	}

	if o.config.Combined.Enabled {
		b, err := o.synthesizeCombined(o.config.Combined)
		if err != nil {
			return nil, fmt.Errorf("combined: %w", err)
		}
		batches = append(batches, b)
	}

	jobs := make([]Job, 0, len(batches))
	for _, b := range batches {
		for _, g := range b.waves {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			pt, err := o.persist(ctx, b.folder, g)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.job.Name, err)
			}
			b.job.Plan.Points = append(b.job.Plan.Points, pt)
		}

		o.logger.Info("generated waveforms",
			slog.String("job", b.job.Name),
			slog.Int("points", len(b.job.Plan.Points)),
			slog.String("folder", b.job.LocalDir))

		jobs = append(jobs, b.job)
	}

	return jobs, nil
}

// batch is a job together with its synthesized, not yet persisted waveforms
type batch struct {
	job    Job
	folder string
	waves  []generated
}

func (o *Orchestrator) synthesizeChannel(ctx context.Context, ch ChannelConfig) (batch, error) {
	spec, err := ch.Waveform.Spec()
	if err != nil {
		return batch{}, err
	}

	values := []float64{spec.SweepValue()}
	if ch.Sweep != nil {
		if values, err = ch.Sweep.Expand(); err != nil {
			return batch{}, fmt.Errorf("sweep: %w", err)
		}
		if len(values) == 0 {
			return batch{}, fmt.Errorf("sweep: empty range %g..%g", ch.Sweep.Start, ch.Sweep.Stop)
		}
	}

	amplitudes, err := ch.Amplitudes.Expand()
	if err != nil {
		return batch{}, fmt.Errorf("amplitudes: %w", err)
	}

	folder := record.ChannelFolder(ch.Channel, o.started)
	b := batch{
		job: Job{
			Name:     fmt.Sprintf("channel %d", ch.Channel),
			LocalDir: filepath.Join(o.config.Settings.OutputDirectory, folder),
			Plan: sequencer.Plan{
				Channel:     ch.Channel,
				Amplitudes:  amplitudes,
				SegmentSize: o.config.Sweep.SegmentSize,
			},
		},
		folder: folder,
	}

	for i, v := range values {
		if err = ctx.Err(); err != nil {
			return batch{}, err
		}

		s := spec.WithSweepValue(v)
		o.session.Note(fmt.Sprintf("Generate %s wave: %s", s.Kind(), s.Label()))

		w, err := s.Generate(o.config.Settings.SamplingRateGHz, o.waveformOptions...)
		if err != nil {
			return batch{}, fmt.Errorf("generate %s: %w", s.Label(), err)
		}

		sweepValue := v
		b.waves = append(b.waves, generated{
			channel:    ch.Channel,
			kind:       string(s.Kind()),
			label:      s.Label(),
			index:      i,
			sweepValue: &sweepValue,
			samples:    w,
		})
	}

	return b, nil
}

func (o *Orchestrator) synthesizeCombined(c CombinedConfig) (batch, error) {
	specs := make([]waveform.Spec, 0, len(c.Components))
	labels := make([]string, 0, len(c.Components))
	for i, comp := range c.Components {
		s, err := comp.Spec()
		if err != nil {
			return batch{}, fmt.Errorf("components[%d]: %w", i, err)
		}
		specs = append(specs, s)
		labels = append(labels, s.Label())
	}

	amplitudes, err := c.Amplitudes.Expand()
	if err != nil {
		return batch{}, fmt.Errorf("amplitudes: %w", err)
	}

	label := strings.Join(labels, " + ")
	o.session.Note(fmt.Sprintf("Generate combined wave: %s", label))

	w, err := waveform.Combine(c.NumSamples, o.config.Settings.SamplingRateGHz, specs, o.waveformOptions...)
	if err != nil {
		return batch{}, err
	}

	folder := record.CombinedFolder(o.started)
	return batch{
		job: Job{
			Name:     combinedKind,
			LocalDir: filepath.Join(o.config.Settings.OutputDirectory, folder),
			Plan: sequencer.Plan{
				Channel:     c.Channel,
				Amplitudes:  amplitudes,
				SegmentSize: o.config.Sweep.SegmentSize,
			},
		},
		folder: folder,
		waves: []generated{{
			kind:    combinedKind,
			label:   label,
			samples: w,
		}},
	}, nil
}

type generated struct {
	channel    int // 0 for the combined waveform
	kind       string
	label      string
	index      int
	sweepValue *float64
	samples    waveform.Sampled
}

// persist writes the CSV file imported by the instrument, the parquet export
// and the plot of one waveform, and records it in the run store
func (o *Orchestrator) persist(ctx context.Context, folder string, g generated) (sequencer.Point, error) {
	name := record.FileName(g.kind, g.index)
	localDir := filepath.Join(o.config.Settings.OutputDirectory, folder)

	file, err := record.SaveCSV(localDir, name, g.samples.Values)
	if err != nil {
		return sequencer.Point{}, err
	}

	exportDir := filepath.Join(o.config.Settings.DataDirectory, o.runID.String(), folder)
	if err = os.MkdirAll(exportDir, 0o755); err != nil {
		return sequencer.Point{}, fmt.Errorf("create export directory: %w", err)
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))

	var sweepValue float64
	if g.sweepValue != nil {
		sweepValue = *g.sweepValue
	}
	info := record.PointInfo{
		RunID:           o.runID.String(),
		Channel:         g.channel,
		Kind:            g.kind,
		Label:           g.label,
		SweepValue:      sweepValue,
		SamplingRateGHz: o.config.Settings.SamplingRateGHz,
	}
	if err = record.SaveParquet(filepath.Join(exportDir, base+".parquet"), g.samples, info); err != nil {
		return sequencer.Point{}, err
	}

	if o.renderer != nil {
		if err = o.plot(filepath.Join(exportDir, "plots", base+"."+o.plotFormat.Extension()), g); err != nil {
			return sequencer.Point{}, err
		}
	}

	remote := record.RemotePath(o.config.Transfer.RemoteBase, folder, name)
	err = o.store.StoreWaveform(ctx, o.runID, &storage.Waveform{
		Channel:    g.channel,
		Kind:       g.kind,
		Index:      g.index,
		SweepValue: g.sweepValue,
		Samples:    g.samples.Len(),
		File:       file,
		RemoteFile: remote,
	})
	if err != nil {
		return sequencer.Point{}, err
	}

	if o.metrics != nil {
		o.metrics.WaveformGenerated(g.kind)
	}
	o.session.Note(fmt.Sprintf("Successfully generated %s: %s", g.label, file))

	return sequencer.Point{
		Label:      g.label,
		File:       remote,
		Samples:    g.samples.Len(),
		SweepValue: sweepValue,
	}, nil
}

func (o *Orchestrator) plot(path string, g generated) error {
	spec, err := spectral.Analyze(o.plotMethod, g.samples.Values, o.config.Settings.SamplingRateGHz*1e9)
	if err != nil {
		return fmt.Errorf("plot %s: %w", g.label, err)
	}

	img, err := o.renderer.Render(g.label, g.samples, spec)
	if err != nil {
		return fmt.Errorf("plot %s: %w", g.label, err)
	}

	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plot directory: %w", err)
	}

	return plot.Save(path, img, o.plotFormat)
}

// Sweep uploads and plays the jobs in order. It stops at the first job that
// fails terminally and returns the reports collected so far.
func (o *Orchestrator) Sweep(ctx context.Context, jobs []Job) ([]*sequencer.Report, error) {
	if len(jobs) == 0 {
		return nil, errors.New("no waveforms to sweep")
	}

	reports := make([]*sequencer.Report, 0, len(jobs))
	for _, job := range jobs {
		if o.uploader != nil {
			res, err := o.uploader.Upload(ctx, job.LocalDir)
			if err != nil {
				return reports, fmt.Errorf("%s: upload: %w", job.Name, err)
			}
			o.logger.Info("uploaded waveforms",
				slog.String("job", job.Name),
				slog.String("remote", res.Remote),
				slog.Int("files", res.Files),
				slog.String("size", humanize.Bytes(uint64(res.Bytes))))
		}

		report, err := o.sweepJob(ctx, job)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, fmt.Errorf("%s: %w", job.Name, err)
		}
	}

	return reports, nil
}

func (o *Orchestrator) sweepJob(ctx context.Context, job Job) (*sequencer.Report, error) {
	options := []func(*sequencer.Sequencer){
		sequencer.WithLogger(o.logger.With(slog.String("job", job.Name))),
		sequencer.WithDwell(o.config.Sweep.Dwell.Duration()),
		sequencer.WithFailureThreshold(o.config.Sweep.FailureThreshold),
	}
	for _, obs := range o.observers {
		options = append(options, sequencer.WithObserver(obs))
	}

	o.logger.Info("starting sweep",
		slog.String("job", job.Name),
		slog.Int("channel", job.Plan.Channel),
		slog.Int("cycles", job.Plan.Cycles()))

	return sequencer.New(o.session, options...).Run(ctx, job.Plan)
}
