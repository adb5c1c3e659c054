package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// WithChannel limits the reader to one channel
func WithChannel(ch int) func(*PointReader) {
	return func(r *PointReader) {
		r.channel = ch
	}
}

// PointReader iterates over the stored sweep cycles of a run in insertion
// order. A reader must be used from a single goroutine.
type PointReader struct {
	runID   uuid.UUID
	channel int // 0 reads all channels

	rows    *sql.Rows
	current *Point
	err     error
}

func newPointReader(ctx context.Context, db *sql.DB, runID uuid.UUID, options ...func(*PointReader)) (*PointReader, error) {
	if db == nil {
		return nil, errors.New("database connection required")
	}

	r := PointReader{runID: runID}
	for _, option := range options {
		option(&r)
	}

	rows, err := db.QueryContext(ctx, selectPointsSQL, runID.String(), r.channel, r.channel)
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}
	r.rows = rows

	return &r, nil
}

// Next advances to the next point. It returns false at the end of the data
// or on error; Error distinguishes the two.
func (r *PointReader) Next(ctx context.Context) bool {
	if r.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		r.err = err
		return false
	}
	if !r.rows.Next() {
		r.err = r.rows.Err()
		return false
	}

	var p Point
	var actual sql.NullFloat64
	var errText sql.NullString

	if err := r.rows.Scan(
		&p.Channel,
		&p.Index,
		&p.Label,
		&p.File,
		&p.Amplitude,
		&actual,
		&p.StartTime,
		&p.EndTime,
		&errText,
	); err != nil {
		r.err = fmt.Errorf("scanning point: %w", err)
		return false
	}

	p.ActualAmplitude = fromNullFloat(actual)
	p.Error = fromNullString(errText)
	r.current = &p

	return true
}

// Current returns the point read by the last call to Next
func (r *PointReader) Current() *Point {
	return r.current
}

func (r *PointReader) Error() error {
	return r.err
}

func (r *PointReader) Close() error {
	return r.rows.Close()
}
