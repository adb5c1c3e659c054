package storage

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/roman-kulish/awg-sweeper/internal/cmdlog"
	"github.com/roman-kulish/awg-sweeper/internal/sequencer"
)

// DefaultBatchSize is the number of command entries buffered before a flush
const DefaultBatchSize = 64

// WithRecorderLogger sets the logger used to report storage failures
func WithRecorderLogger(logger *slog.Logger) func(r *RunRecorder) {
	return func(r *RunRecorder) {
		r.logger = logger.With(slog.String("run", r.runID.String()))
	}
}

// WithBatchSize sets the number of command entries buffered before a flush
func WithBatchSize(n int) func(r *RunRecorder) {
	return func(r *RunRecorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// RunRecorder persists the command log and sweep results of one run. It
// satisfies cmdlog.Recorder and sequencer.Observer; storage failures are
// logged and never interrupt the sweep.
type RunRecorder struct {
	ctx   context.Context
	store Store
	runID uuid.UUID

	mu        sync.Mutex
	pending   []cmdlog.Entry
	batchSize int

	logger *slog.Logger
}

var (
	_ cmdlog.Recorder    = (*RunRecorder)(nil)
	_ sequencer.Observer = (*RunRecorder)(nil)
)

// NewRunRecorder creates a recorder writing to store under runID. Writes use
// a context detached from ctx cancellation so the tail of an interrupted run
// is still stored.
func NewRunRecorder(ctx context.Context, store Store, runID uuid.UUID, options ...func(r *RunRecorder)) *RunRecorder {
	r := RunRecorder{
		ctx:       context.WithoutCancel(ctx),
		store:     store,
		runID:     runID,
		batchSize: DefaultBatchSize,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

func (r *RunRecorder) Record(e cmdlog.Entry) {
	r.mu.Lock()
	r.pending = append(r.pending, e)
	full := len(r.pending) >= r.batchSize
	r.mu.Unlock()

	if full {
		_ = r.Flush()
	}
}

// Flush writes buffered command entries
func (r *RunRecorder) Flush() error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := r.store.StoreCommands(r.ctx, r.runID, batch); err != nil {
		r.logger.Error("storing commands failed", slog.Int("entries", len(batch)), slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (r *RunRecorder) OnTransition(sequencer.Transition) {}

func (r *RunRecorder) OnPoint(res sequencer.PointResult) {
	// commands of the cycle land before the cycle itself
	_ = r.Flush()

	if err := r.store.StorePoint(r.ctx, r.runID, res); err != nil {
		r.logger.Error("storing point failed",
			slog.Int("channel", res.Channel),
			slog.Int("point", res.Index),
			slog.String("error", err.Error()),
		)
	}
}
