package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/awg-sweeper/internal/cmdlog"
	"github.com/roman-kulish/awg-sweeper/internal/sequencer"
)

// Store records sweep runs: the run itself, every instrument command, the
// generated waveform files and the outcome of every sweep cycle.
type Store interface {
	// CreateRun registers a new run.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - run: Run metadata; ID and StartTime are required
	//   - config: Optional run configuration. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - error: If the insert fails or context is cancelled
	CreateRun(ctx context.Context, run *Run, config any) error

	// FinishRun stamps the end time and final status of a run.
	FinishRun(ctx context.Context, id uuid.UUID, end time.Time, status string) error

	// Run retrieves a run by its ID.
	Run(ctx context.Context, id uuid.UUID) (*Run, error)

	// Runs returns all runs ordered by start time.
	Runs(ctx context.Context) ([]*Run, error)

	// StoreCommands saves command log entries of a run in a single transaction.
	StoreCommands(ctx context.Context, runID uuid.UUID, entries []cmdlog.Entry) error

	// StoreWaveform saves the description of a generated waveform file.
	StoreWaveform(ctx context.Context, runID uuid.UUID, w *Waveform) error

	// StorePoint saves the outcome of one sweep cycle.
	StorePoint(ctx context.Context, runID uuid.UUID, r sequencer.PointResult) error

	// ReadPoints returns an iterator over the stored sweep cycles of a run.
	// The reader must be closed after use.
	ReadPoints(ctx context.Context, runID uuid.UUID, options ...func(*PointReader)) (*PointReader, error)

	// Close releases all database connections and resources.
	// It is safe to call Close multiple times.
	Close() error
}
