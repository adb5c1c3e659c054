package cmdlog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileName returns the daily log file name of a device, e.g. awg_31012024.txt
func FileName(device string, day time.Time) string {
	return fmt.Sprintf("%s_%s.txt", strings.ToLower(device), day.Format("02012006"))
}

// WithFileLogger sets the logger used to report write failures
func WithFileLogger(logger *slog.Logger) func(f *File) {
	return func(f *File) {
		f.logger = logger.With(slog.String("logFile", f.path))
	}
}

// File appends formatted entries to the daily device log file. Write
// failures are reported to the logger and never returned to the caller.
type File struct {
	path string

	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer

	logger *slog.Logger
}

// OpenFile opens (or creates) the daily log file of device in dir and
// writes the session header
func OpenFile(dir, device string, now time.Time, options ...func(f *File)) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(dir, FileName(device, now))
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	f := File{
		path:   path,
		f:      fh,
		w:      bufio.NewWriter(fh),
		logger: logger,
	}

	for _, option := range options {
		option(&f)
	}

	header := fmt.Sprintf("Log file created for %s at %s\n", strings.ToUpper(device), now.Format("2006-01-02 15:04:05.000000"))
	if _, err = f.w.WriteString(header); err == nil {
		err = f.w.Flush()
	}
	if err != nil {
		_ = fh.Close()
		return nil, fmt.Errorf("write log header: %w", err)
	}

	return &f, nil
}

// Path returns the location of the log file
func (f *File) Path() string {
	return f.path
}

// Record appends the entry and flushes it to disk
func (f *File) Record(e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return
	}

	if _, err := f.w.WriteString(Format(e) + "\n"); err != nil {
		f.logger.Error("error writing command log", slog.String("error", err.Error()))
		return
	}
	if err := f.w.Flush(); err != nil {
		f.logger.Error("error flushing command log", slog.String("error", err.Error()))
	}
}

// Close flushes and closes the file
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return nil
	}

	err := f.w.Flush()
	if cerr := f.f.Close(); err == nil {
		err = cerr
	}
	f.f = nil

	return err
}
