package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/roman-kulish/awg-sweeper/internal/awg"
	"github.com/roman-kulish/awg-sweeper/internal/cmdlog"
	"github.com/roman-kulish/awg-sweeper/internal/sequencer"
)

var (
	testRunID = uuid.MustParse("6f1c2f1e-8a4b-4c55-9d0e-2a7f5b3c1d20")
	testStart = time.Date(2024, 1, 31, 9, 15, 0, 0, time.UTC)
)

func newMockStore(t *testing.T) (*SqliteStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return newSqliteStoreWithDB(db), mock
}

func TestCreateRun(t *testing.T) {
	store, mock := newMockStore(t)

	identity := "Keysight Technologies,M8190A,MY00000001,5.7.0.0"
	run := Run{ID: testRunID, StartTime: testStart, Resource: "TCPIP0::192.0.2.10::inst0::INSTR", Identity: &identity}

	mock.ExpectPrepare(regexp.QuoteMeta(insertRunSQL)).
		ExpectExec().
		WithArgs(testRunID.String(), testStart, run.Resource, identity, `{"dwell":"60s"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.CreateRun(context.Background(), &run, map[string]string{"dwell": "60s"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, run.Status)
	}
	if run.Config == nil || *run.Config != `{"dwell":"60s"}` {
		t.Errorf("unexpected config %v", run.Config)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateRun_NoConfig(t *testing.T) {
	store, mock := newMockStore(t)

	run := Run{ID: testRunID, StartTime: testStart, Resource: "TCPIP0::192.0.2.10::inst0::INSTR"}

	mock.ExpectPrepare(regexp.QuoteMeta(insertRunSQL)).
		ExpectExec().
		WithArgs(testRunID.String(), testStart, run.Resource, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.CreateRun(context.Background(), &run, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Config != nil {
		t.Errorf("expected no config, got %s", *run.Config)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFinishRun(t *testing.T) {
	end := testStart.Add(time.Hour)

	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "updated", affected: 1},
		{name: "unknown run", affected: 0, wantErr: sql.ErrNoRows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)

			mock.ExpectExec(regexp.QuoteMeta(finishRunSQL)).
				WithArgs(end, StatusCompleted, testRunID.String()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := store.FinishRun(context.Background(), testRunID, end, StatusCompleted)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRun(t *testing.T) {
	store, mock := newMockStore(t)
	end := testStart.Add(time.Hour)

	mock.ExpectPrepare(regexp.QuoteMeta(selectRunSQL)).
		ExpectQuery().
		WithArgs(testRunID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "start_time", "end_time", "resource", "identity", "status", "config"}).
			AddRow(testRunID.String(), testStart, end, "TCPIP0::192.0.2.10::inst0::INSTR", nil, StatusCompleted, nil))

	run, err := store.Run(context.Background(), testRunID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.ID != testRunID || run.Status != StatusCompleted {
		t.Errorf("unexpected run %+v", run)
	}
	if run.EndTime == nil || !run.EndTime.Equal(end) {
		t.Errorf("unexpected end time %v", run.EndTime)
	}
	if run.Identity != nil || run.Config != nil {
		t.Error("expected NULL identity and config")
	}
}

func TestRuns(t *testing.T) {
	store, mock := newMockStore(t)
	other := uuid.MustParse("0b7e5a8c-13f4-4e0a-b3f2-5c9d8e7a6b41")

	mock.ExpectQuery(regexp.QuoteMeta(selectRunsSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "start_time", "end_time", "resource", "identity", "status", "config"}).
			AddRow(testRunID.String(), testStart, nil, "r1", nil, StatusRunning, nil).
			AddRow(other.String(), testStart.Add(time.Hour), nil, "r2", nil, StatusFailed, `{}`))

	runs, err := store.Runs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 || runs[1].ID != other || runs[1].Config == nil {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestRuns_InvalidID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectRunsSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "start_time", "end_time", "resource", "identity", "status", "config"}).
			AddRow("not-a-uuid", testStart, nil, "r1", nil, StatusRunning, nil))

	if _, err := store.Runs(context.Background()); err == nil {
		t.Fatal("expected error for a malformed run ID")
	}
}

func TestStoreCommands(t *testing.T) {
	store, mock := newMockStore(t)

	ok := cmdlog.NewEntry(testStart, ":VOLT1 0.5").WithDuration(1500 * time.Microsecond)
	query := cmdlog.NewEntry(testStart, ":VOLT1?").WithDuration(time.Millisecond).WithResponse("0.5")
	failed := cmdlog.NewEntry(testStart, ":ABOR1").WithError(errors.New("timeout")).WithSystemError(`-113,"Undefined header"`)

	wantSQL := insertCommandSQL + "(?, ?, ?, ?, ?, ?, ?), (?, ?, ?, ?, ?, ?, ?), (?, ?, ?, ?, ?, ?, ?)"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(wantSQL)).
		WithArgs(
			testRunID.String(), testStart, ":VOLT1 0.5", 1.5, nil, nil, nil,
			testRunID.String(), testStart, ":VOLT1?", 1.0, "0.5", nil, nil,
			testRunID.String(), testStart, ":ABOR1", nil, nil, "timeout", `-113,"Undefined header"`,
		).
		WillReturnResult(sqlmock.NewResult(3, 3))
	mock.ExpectCommit()

	if err := store.StoreCommands(context.Background(), testRunID, []cmdlog.Entry{ok, query, failed}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStoreCommands_RollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertCommandSQL)).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.StoreCommands(context.Background(), testRunID, []cmdlog.Entry{cmdlog.NewEntry(testStart, "*CLS")})
	if err == nil {
		t.Fatal("expected error")
	}
	if err = mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStoreCommands_Empty(t *testing.T) {
	store, mock := newMockStore(t)

	if err := store.StoreCommands(context.Background(), testRunID, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStoreWaveform(t *testing.T) {
	store, mock := newMockStore(t)
	sweepValue := 1.5

	mock.ExpectExec(regexp.QuoteMeta(insertWaveformSQL)).
		WithArgs(testRunID.String(), 1, "sine", 2, 1.5, 4, "out/sine_002.csv", "C:/CH/channel_1/sine_002.csv").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.StoreWaveform(context.Background(), testRunID, &Waveform{
		Channel:    1,
		Kind:       "sine",
		Index:      2,
		SweepValue: &sweepValue,
		Samples:    4,
		File:       "out/sine_002.csv",
		RemoteFile: "C:/CH/channel_1/sine_002.csv",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStorePoint(t *testing.T) {
	store, mock := newMockStore(t)
	end := testStart.Add(time.Minute)

	res := sequencer.PointResult{
		Channel:   1,
		Index:     0,
		Point:     sequencer.Point{Label: "sine", File: "C:/CH/sine_000.csv", Samples: 720},
		Amplitude: 0.5,
		Setting:   awg.Setting{Parameter: "amplitude", Requested: 0.5, Actual: 0.5},
		Started:   testStart,
		Finished:  end,
	}

	mock.ExpectExec(regexp.QuoteMeta(insertPointSQL)).
		WithArgs(testRunID.String(), 1, 0, "sine", "C:/CH/sine_000.csv", 0.5, 0.5, testStart, end, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	failed := res
	failed.Setting = awg.Setting{}
	failed.Err = errors.New("set amplitude: timeout")

	mock.ExpectExec(regexp.QuoteMeta(insertPointSQL)).
		WithArgs(testRunID.String(), 1, 0, "sine", "C:/CH/sine_000.csv", 0.5, nil, testStart, end, "set amplitude: timeout").
		WillReturnResult(sqlmock.NewResult(2, 1))

	for _, r := range []sequencer.PointResult{res, failed} {
		if err := store.StorePoint(context.Background(), testRunID, r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReadPoints(t *testing.T) {
	store, mock := newMockStore(t)
	end := testStart.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(selectPointsSQL)).
		WithArgs(testRunID.String(), 2, 2).
		WillReturnRows(sqlmock.NewRows([]string{"channel", "point_index", "label", "file", "amplitude", "actual_amplitude", "start_time", "end_time", "error"}).
			AddRow(2, 0, "prbs", "a.csv", 0.4, 0.4, testStart, end, nil).
			AddRow(2, 0, "prbs", "a.csv", 0.5, nil, testStart, end, "timeout"))

	reader, err := store.ReadPoints(context.Background(), testRunID, WithChannel(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer reader.Close()

	var points []*Point
	for reader.Next(context.Background()) {
		points = append(points, reader.Current())
	}
	if err = reader.Error(); err != nil {
		t.Fatalf("unexpected iteration error: %v", err)
	}

	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].Failed() || points[0].ActualAmplitude == nil || *points[0].ActualAmplitude != 0.4 {
		t.Errorf("unexpected first point %+v", points[0])
	}
	if !points[1].Failed() || *points[1].Error != "timeout" || points[1].ActualAmplitude != nil {
		t.Errorf("unexpected second point %+v", points[1])
	}
}

func TestClose(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(initIndexesSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	if err := store.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
