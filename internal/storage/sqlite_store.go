package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/awg-sweeper/internal/cmdlog"
	"github.com/roman-kulish/awg-sweeper/internal/sequencer"
)

// SqliteStore implements Store on a SQLite database file
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*SqliteStore)(nil)

// NewSqliteStore creates a store backed by the SQLite database at dbPath.
// Connections are opened and the schema initialized on first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

// newSqliteStoreWithDB wraps an open connection, used for both reads and writes
func newSqliteStoreWithDB(db *sql.DB) *SqliteStore {
	s := SqliteStore{writeDB: db, readDB: db}
	s.writeDBOnce.Do(func() {})
	s.readDBOnce.Do(func() {})
	return &s
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	// the schema must exist before a read-only connection can be used
	if _, err := s.getWriteDB(); err != nil {
		return nil, err
	}

	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateRun(ctx context.Context, run *Run, config any) (err error) {
	var configData sql.NullString

	if config != nil {
		switch c := config.(type) {
		case string:
			configData = nullString(c)

		case []byte:
			configData = nullString(string(c))

		default:
			var p []byte
			if p, err = json.Marshal(c); err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			configData = nullString(string(p))
		}
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertRunSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var identity sql.NullString
	if run.Identity != nil {
		identity = nullString(*run.Identity)
	}

	if _, err = stmt.ExecContext(ctx, run.ID.String(), run.StartTime.UTC(), run.Resource, identity, configData); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	run.Status = StatusRunning
	if configData.Valid {
		run.Config = &configData.String
	}
	return nil
}

func (s *SqliteStore) FinishRun(ctx context.Context, id uuid.UUID, end time.Time, status string) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, finishRunSQL, end.UTC(), status, id.String())
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

func (s *SqliteStore) Run(ctx context.Context, id uuid.UUID) (run *Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, selectRunSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if run, err = scanRun(stmt.QueryRowContext(ctx, id.String())); err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return run, nil
}

func (s *SqliteStore) Runs(ctx context.Context) (runs []*Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectRunsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var run *Run
		if run, err = scanRun(rows); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var id string
	var end sql.NullTime
	var identity, config sql.NullString

	if err := row.Scan(&id, &run.StartTime, &end, &run.Resource, &identity, &run.Status, &config); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing run ID: %w", err)
	}
	run.ID = parsed

	if end.Valid {
		run.EndTime = &end.Time
	}
	run.Identity = fromNullString(identity)
	run.Config = fromNullString(config)

	return &run, nil
}

func (s *SqliteStore) StoreCommands(ctx context.Context, runID uuid.UUID, entries []cmdlog.Entry) (err error) {
	if len(entries) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	query, values := commandsBatch(runID, entries)
	if _, err = tx.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("batch inserting commands: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// commandsBatch builds a single multi-row insert for entries
func commandsBatch(runID uuid.UUID, entries []cmdlog.Entry) (string, []any) {
	const valuesPlaceholder = "(?, ?, ?, ?, ?, ?, ?)"

	values := make([]any, 0, len(entries)*7)

	var sb strings.Builder
	sb.WriteString(insertCommandSQL)

	for i, e := range entries {
		var duration sql.NullFloat64
		if e.Duration != nil {
			duration = sql.NullFloat64{Float64: e.DurationMs(), Valid: true}
		}

		var response sql.NullString
		if e.Response != nil {
			response = sql.NullString{String: *e.Response, Valid: true}
		}

		var systemError sql.NullString
		if e.SystemError != nil {
			systemError = sql.NullString{String: *e.SystemError, Valid: true}
		}

		values = append(values,
			runID.String(),
			e.Timestamp.UTC(),
			e.Command,
			duration,
			response,
			nullError(e.Err),
			systemError,
		)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(valuesPlaceholder)
	}

	return sb.String(), values
}

func (s *SqliteStore) StoreWaveform(ctx context.Context, runID uuid.UUID, w *Waveform) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	var sweepValue sql.NullFloat64
	if w.SweepValue != nil {
		sweepValue = nullFloat(*w.SweepValue)
	}

	_, err = db.ExecContext(ctx, insertWaveformSQL,
		runID.String(),
		w.Channel,
		w.Kind,
		w.Index,
		sweepValue,
		w.Samples,
		w.File,
		nullString(w.RemoteFile),
	)
	if err != nil {
		return fmt.Errorf("inserting waveform: %w", err)
	}
	return nil
}

func (s *SqliteStore) StorePoint(ctx context.Context, runID uuid.UUID, r sequencer.PointResult) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	var actual sql.NullFloat64
	if r.Setting.Parameter != "" {
		actual = nullFloat(r.Setting.Actual)
	}

	_, err = db.ExecContext(ctx, insertPointSQL,
		runID.String(),
		r.Channel,
		r.Index,
		r.Point.Label,
		r.Point.File,
		r.Amplitude,
		actual,
		r.Started.UTC(),
		r.Finished.UTC(),
		nullError(r.Err),
	)
	if err != nil {
		return fmt.Errorf("inserting point: %w", err)
	}
	return nil
}

func (s *SqliteStore) ReadPoints(ctx context.Context, runID uuid.UUID, options ...func(*PointReader)) (*PointReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newPointReader(ctx, db, runID, options...)
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
		}

		if s.readDB != nil && s.readDB != s.writeDB {
			readErr = s.readDB.Close()
		}

		s.writeDB, s.readDB = nil, nil
		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
