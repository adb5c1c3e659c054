// Package cmdlog records every command exchanged with the instrument.
package cmdlog

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// Entry is one logged instrument exchange. Duration and Response are nil
// when not applicable, e.g. for writes or generation notes. SystemError
// holds the :SYST:ERR? reply fetched after a failure, when it could be read.
type Entry struct {
	Timestamp   time.Time
	Command     string
	Duration    *time.Duration
	Response    *string
	Err         error
	SystemError *string
}

// Recorder receives command log entries
type Recorder interface {
	Record(e Entry)
}

// NewEntry returns an entry stamped at the given time
func NewEntry(at time.Time, command string) Entry {
	return Entry{Timestamp: at, Command: command}
}

// WithDuration sets the measured command duration
func (e Entry) WithDuration(d time.Duration) Entry {
	e.Duration = &d
	return e
}

// WithResponse sets the instrument response
func (e Entry) WithResponse(response string) Entry {
	e.Response = &response
	return e
}

// WithError records a failed exchange
func (e Entry) WithError(err error) Entry {
	e.Err = err
	return e
}

// WithSystemError attaches the instrument error queue reply to a failed exchange
func (e Entry) WithSystemError(resp string) Entry {
	e.SystemError = &resp
	return e
}

// DurationMs returns the duration in milliseconds, or -1 when unknown
func (e Entry) DurationMs() float64 {
	if e.Duration == nil {
		return -1
	}
	return float64(*e.Duration) / float64(time.Millisecond)
}

// Format renders the entry as a log line without the trailing newline:
//
//	[2024-01-31 09:15:42] SCPI: :VOLT1? | Duration: 1.25 ms | Response: 0.5
func Format(e Entry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] SCPI: %s", e.Timestamp.Format(timestampLayout), e.Command)
	if e.Duration != nil {
		fmt.Fprintf(&b, " | Duration: %.2f ms", e.DurationMs())
	}
	switch {
	case e.Err != nil:
		fmt.Fprintf(&b, " | Response: ERROR: %v", e.Err)
		if e.SystemError != nil {
			fmt.Fprintf(&b, " | SYST:ERR: %s", *e.SystemError)
		}
	case e.Response != nil:
		fmt.Fprintf(&b, " | Response: %s", *e.Response)
	}

	return b.String()
}

// Memory is an append-only in-memory log
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *Memory) Record(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

// Entries returns a copy of all recorded entries
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Len returns the number of recorded entries
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type multi []Recorder

func (m multi) Record(e Entry) {
	for _, r := range m {
		r.Record(e)
	}
}

// Tee fans entries out to every non-nil recorder
func Tee(recorders ...Recorder) Recorder {
	var m multi
	for _, r := range recorders {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

type logRecorder struct {
	logger *slog.Logger
}

// LogRecorder writes entries to logger: failures at error level, everything else at debug
func LogRecorder(logger *slog.Logger) Recorder {
	return logRecorder{logger: logger}
}

func (r logRecorder) Record(e Entry) {
	attrs := []any{slog.String("command", e.Command)}
	if e.Duration != nil {
		attrs = append(attrs, slog.Duration("duration", *e.Duration))
	}
	if e.Response != nil {
		attrs = append(attrs, slog.String("response", *e.Response))
	}

	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
		if e.SystemError != nil {
			attrs = append(attrs, slog.String("system_error", *e.SystemError))
		}
		r.logger.Error("command failed", attrs...)
		return
	}
	r.logger.Debug("command", attrs...)
}
