// Package sequencer plays a sweep plan on the instrument: for every waveform
// file and amplitude it defines a segment, imports the file, plays it for the
// dwell time and frees the segment again.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"go.uber.org/multierr"

	"github.com/roman-kulish/awg-sweeper/internal/awg"
	"github.com/roman-kulish/awg-sweeper/internal/scpi"
)

const (
	// DefaultDwell is how long each waveform is played at each amplitude
	DefaultDwell = 60 * time.Second

	// FailureThreshold defines the number of consecutive faulted cycles allowed
	FailureThreshold = 5

	// cleanupTimeout bounds the best-effort commands issued after cancellation
	cleanupTimeout = 10 * time.Second
)

var (
	// ErrTooManyFailures is returned when the number of consecutive faulted cycles reaches the threshold
	ErrTooManyFailures = errors.New("too many consecutive sweep failures")

	// ErrNotConnected is returned when a sweep is started without a connected session
	ErrNotConnected = awg.ErrNotConnected
)

// Device is the subset of the instrument session driven by the sequencer
type Device interface {
	Connected() bool
	SetOutputState(ctx context.Context, ch int, state string) (bool, error)
	DefineSegment(ctx context.Context, ch, id, n int) error
	DeleteSegment(ctx context.Context, ch, id int) error
	ImportFile(ctx context.Context, ch int, path string) error
	Abort(ctx context.Context, ch int) error
	SetAmplitude(ctx context.Context, ch int, v float64) (awg.Setting, error)
	Initiate(ctx context.Context, ch int) error
}

// Point is one generated waveform file
type Point struct {
	Label      string
	File       string // path on the instrument filesystem
	Samples    int
	SweepValue float64
}

// Plan describes the sweep of one channel
type Plan struct {
	Channel     int
	Points      []Point
	Amplitudes  []float64
	SegmentSize int // overrides the per point sample count when positive
}

// Cycles returns the number of (point, amplitude) cycles in the plan
func (p Plan) Cycles() int {
	return len(p.Points) * len(p.Amplitudes)
}

// Validate checks the plan before any device action is taken
func (p Plan) Validate() error {
	if p.Channel < 1 || p.Channel > awg.Channels {
		return &awg.InvalidParameterError{Parameter: "channel", Value: p.Channel}
	}
	if len(p.Points) == 0 {
		return &awg.InvalidParameterError{Parameter: "points", Value: 0}
	}
	if len(p.Amplitudes) == 0 {
		return &awg.InvalidParameterError{Parameter: "amplitudes", Value: 0}
	}
	if p.SegmentSize < 0 {
		return &awg.InvalidParameterError{Parameter: "segment size", Value: p.SegmentSize}
	}
	for i, pt := range p.Points {
		if pt.File == "" {
			return &awg.InvalidParameterError{Parameter: fmt.Sprintf("point %d file", i), Value: pt.File}
		}
		if p.SegmentSize == 0 && pt.Samples < 1 {
			return &awg.InvalidParameterError{Parameter: fmt.Sprintf("point %d samples", i), Value: pt.Samples}
		}
	}
	for _, a := range p.Amplitudes {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return &awg.InvalidParameterError{Parameter: "amplitude", Value: a}
		}
	}
	return nil
}

func (p Plan) segmentSize(pt Point) int {
	if p.SegmentSize > 0 {
		return p.SegmentSize
	}
	return pt.Samples
}

// Report summarizes a sweep
type Report struct {
	Channel  int
	Results  []PointResult
	Started  time.Time
	Finished time.Time
}

// Faults returns the number of faulted cycles
func (r *Report) Faults() int {
	var n int
	for _, res := range r.Results {
		if res.Failed() {
			n++
		}
	}
	return n
}

// Completed returns the number of cycles that played without a fault
func (r *Report) Completed() int {
	return len(r.Results) - r.Faults()
}

// WithLogger sets the logger for the sequencer
func WithLogger(logger *slog.Logger) func(s *Sequencer) {
	return func(s *Sequencer) {
		s.logger = logger.With(slog.String("component", "sequencer"))
	}
}

// WithDwell sets the time each waveform is played at each amplitude
func WithDwell(d time.Duration) func(s *Sequencer) {
	return func(s *Sequencer) {
		s.dwell = d
	}
}

// WithFailureThreshold sets the number of consecutive faulted cycles that aborts the sweep
func WithFailureThreshold(threshold uint8) func(s *Sequencer) {
	return func(s *Sequencer) {
		s.failureThreshold = threshold
	}
}

// WithObserver registers an observer of transitions and cycle results
func WithObserver(o Observer) func(s *Sequencer) {
	return func(s *Sequencer) {
		s.observers = append(s.observers, o)
	}
}

// Sequencer runs sweep plans against one device. A sequencer runs one plan
// at a time and owns the device for its duration.
type Sequencer struct {
	device Device

	dwell            time.Duration
	failureThreshold uint8
	observers        []Observer

	state State
	now   func() time.Time

	logger *slog.Logger
}

// New creates a sequencer with a discard logger
func New(device Device, options ...func(s *Sequencer)) *Sequencer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	s := Sequencer{
		device:           device,
		dwell:            DefaultDwell,
		failureThreshold: FailureThreshold,
		state:            StateIdle,
		now:              time.Now,
		logger:           logger,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// State returns the current state
func (s *Sequencer) State() State {
	return s.state
}

// Run plays the plan. Recoverable faults (transport failures, errors
// reported by the instrument and unreadable replies) are recorded in the report and the sweep
// continues with the next cycle; any other error ends the sweep. Output is
// switched off on every exit path.
func (s *Sequencer) Run(ctx context.Context, plan Plan) (*Report, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if !s.device.Connected() {
		s.logger.Warn("connect first")
		return nil, ErrNotConnected
	}

	ch := plan.Channel
	report := Report{Channel: ch, Started: s.now()}
	logger := s.logger.With(slog.Int("channel", ch))

	s.transition(ch, StateConnected, -1, 0)

	if _, err := s.device.SetOutputState(ctx, ch, "ON"); err != nil {
		err = multierr.Append(err, s.shutdown(ctx, ch, false))
		report.Finished = s.now()
		return &report, fmt.Errorf("enable output: %w", err)
	}
	s.transition(ch, StateEnabled, -1, 0)

	if err := s.device.DeleteSegment(ctx, ch, awg.DefaultSegment); err != nil {
		logger.Warn("initial segment cleanup failed", slog.String("error", err.Error()))
	}

	logger.Info("sweep started",
		slog.Int("points", len(plan.Points)),
		slog.Int("amplitudes", len(plan.Amplitudes)),
		slog.Duration("dwell", s.dwell),
	)

	var consecutive uint8
	for i, pt := range plan.Points {
		for _, amplitude := range plan.Amplitudes {
			result := PointResult{Channel: ch, Index: i, Point: pt, Amplitude: amplitude, Started: s.now()}

			setting, err := s.cycle(ctx, ch, i, plan.segmentSize(pt), pt, amplitude)
			result.Setting = setting
			result.Finished = s.now()

			if err != nil && ctx.Err() != nil {
				result.Err = ctx.Err()
				report.Results = append(report.Results, result)
				s.notify(result)

				err = multierr.Append(ctx.Err(), s.shutdown(ctx, ch, true))
				report.Finished = s.now()
				return &report, err
			}

			if err != nil && !Recoverable(err) {
				result.Err = err
				report.Results = append(report.Results, result)
				s.notify(result)

				err = multierr.Append(err, s.shutdown(ctx, ch, true))
				report.Finished = s.now()
				return &report, fmt.Errorf("point %d (%s) at %g V: %w", i, pt.Label, amplitude, err)
			}

			if err != nil {
				consecutive++
				result.Err = err
				report.Results = append(report.Results, result)
				s.notify(result)

				logger.Error("sweep cycle failed",
					slog.Int("point", i),
					slog.String("file", pt.File),
					slog.Float64("amplitude", amplitude),
					slog.String("error", err.Error()),
				)

				s.transition(ch, StateFaulted, i, amplitude)
				if derr := s.device.DeleteSegment(ctx, ch, awg.DefaultSegment); derr != nil {
					logger.Warn("segment cleanup after fault failed", slog.String("error", derr.Error()))
				}

				if consecutive >= s.failureThreshold {
					serr := s.shutdown(ctx, ch, false)
					report.Finished = s.now()
					return &report, multierr.Append(fmt.Errorf("%w: %w", ErrTooManyFailures, err), serr)
				}

				s.transition(ch, StateEnabled, i, amplitude)
				continue
			}

			consecutive = 0
			report.Results = append(report.Results, result)
			s.notify(result)
		}
	}

	err := s.shutdown(ctx, ch, false)
	report.Finished = s.now()

	logger.Info("sweep finished",
		slog.Int("cycles", len(report.Results)),
		slog.Int("faults", report.Faults()),
		slog.Duration("elapsed", report.Finished.Sub(report.Started)),
	)

	return &report, err
}

// cycle plays one waveform at one amplitude and frees its segment
func (s *Sequencer) cycle(ctx context.Context, ch, index, size int, pt Point, amplitude float64) (awg.Setting, error) {
	if err := s.device.DefineSegment(ctx, ch, awg.DefaultSegment, size); err != nil {
		return awg.Setting{}, fmt.Errorf("define segment: %w", err)
	}
	if err := s.device.ImportFile(ctx, ch, pt.File); err != nil {
		return awg.Setting{}, fmt.Errorf("import '%s': %w", pt.File, err)
	}
	if err := s.device.Abort(ctx, ch); err != nil {
		return awg.Setting{}, fmt.Errorf("abort: %w", err)
	}

	setting, err := s.device.SetAmplitude(ctx, ch, amplitude)
	if err != nil {
		return setting, fmt.Errorf("set amplitude: %w", err)
	}

	if err = s.device.Initiate(ctx, ch); err != nil {
		return setting, fmt.Errorf("initiate: %w", err)
	}
	s.transition(ch, StateRunning, index, amplitude)

	if err = s.hold(ctx); err != nil {
		return setting, err
	}

	if err = s.device.Abort(ctx, ch); err != nil {
		return setting, fmt.Errorf("abort: %w", err)
	}
	s.transition(ch, StateEnabled, index, amplitude)

	if err = s.device.DeleteSegment(ctx, ch, awg.DefaultSegment); err != nil {
		return setting, fmt.Errorf("delete segment: %w", err)
	}

	return setting, nil
}

// hold waits for the dwell time or until ctx is done
func (s *Sequencer) hold(ctx context.Context) error {
	if s.dwell <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(s.dwell)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown switches the output off and returns to idle. After a cancellation
// or a hard failure it also stops generation and frees the segment. Commands
// run on a detached context so they are still issued when ctx is done.
func (s *Sequencer) shutdown(ctx context.Context, ch int, interrupted bool) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	var err error
	if interrupted {
		err = multierr.Append(err, s.device.Abort(ctx, ch))
		err = multierr.Append(err, s.device.DeleteSegment(ctx, ch, awg.DefaultSegment))
	}
	if _, oerr := s.device.SetOutputState(ctx, ch, "OFF"); oerr != nil {
		err = multierr.Append(err, fmt.Errorf("disable output: %w", oerr))
	}

	s.transition(ch, StateIdle, -1, 0)

	if err != nil {
		s.logger.Warn("cleanup incomplete", slog.Int("channel", ch), slog.String("error", err.Error()))
	}
	return err
}

func (s *Sequencer) transition(ch int, to State, point int, amplitude float64) {
	if s.state == to {
		return
	}

	t := Transition{Channel: ch, From: s.state, To: to, Point: point, Amplitude: amplitude, At: s.now()}
	s.state = to

	s.logger.Debug("state changed", slog.String("from", t.From.String()), slog.String("to", t.To.String()))

	for _, o := range s.observers {
		o.OnTransition(t)
	}
}

func (s *Sequencer) notify(r PointResult) {
	for _, o := range s.observers {
		o.OnPoint(r)
	}
}

// Recoverable reports whether err is an isolated device fault after which the
// sweep may continue
func Recoverable(err error) bool {
	var transportErr *scpi.TransportError
	var instrumentErr *awg.InstrumentError
	var responseErr *awg.ResponseError
	return errors.As(err, &transportErr) || errors.As(err, &instrumentErr) || errors.As(err, &responseErr)
}
