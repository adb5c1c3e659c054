// Package awg drives a two channel arbitrary waveform generator over SCPI.
package awg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/roman-kulish/awg-sweeper/internal/cmdlog"
	"github.com/roman-kulish/awg-sweeper/internal/scpi"
)

const (
	// Channels is the number of output channels
	Channels = 2

	// DefaultSegment is the waveform memory segment used for imported files
	DefaultSegment = 1

	cmdIdentity    = "*IDN?"
	cmdClearStatus = "*CLS"
	cmdSystemError = ":SYST:ERR?"
)

// Dialer opens a transport to the instrument at address (host:port)
type Dialer func(ctx context.Context, address string) (scpi.Transport, error)

// ChannelState is the last known state of one output channel
type ChannelState struct {
	OutputEnabled bool
	ActiveSegment int // 0 when no segment is defined
	Amplitude     float64
}

// WithLogger sets the logger for the session
func WithLogger(logger *slog.Logger) func(s *Session) {
	return func(s *Session) {
		s.logger = logger.With(slog.String("resource", s.resource))
	}
}

// WithRecorder forwards every command log entry to r in addition to the
// session's own log
func WithRecorder(r cmdlog.Recorder) func(s *Session) {
	return func(s *Session) {
		s.recorder = r
	}
}

// WithDialer replaces the raw socket dialer, mainly for tests
func WithDialer(d Dialer) func(s *Session) {
	return func(s *Session) {
		s.dial = d
	}
}

// WithTimeout sets the per-command timeout of the default dialer
func WithTimeout(timeout time.Duration) func(s *Session) {
	return func(s *Session) {
		s.timeout = timeout
	}
}

// Session is a connection to one instrument. It serializes commands so that
// at most one is outstanding, and logs every exchange with its duration and
// response.
type Session struct {
	resource string
	timeout  time.Duration
	dial     Dialer

	mu        sync.Mutex
	transport scpi.Transport
	identity  string
	channels  [Channels]ChannelState

	log      cmdlog.Memory
	recorder cmdlog.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewSession creates a disconnected session for a VISA resource string such
// as TCPIP0::192.168.1.10::inst0::INSTR
func NewSession(resource string, options ...func(s *Session)) *Session {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	s := Session{
		resource: resource,
		timeout:  scpi.DefaultTimeout,
		logger:   logger,
		now:      time.Now,
	}

	for _, option := range options {
		option(&s)
	}

	if s.dial == nil {
		s.dial = func(ctx context.Context, address string) (scpi.Transport, error) {
			return scpi.Dial(ctx, address, scpi.WithTimeout(s.timeout), scpi.WithLogger(s.logger))
		}
	}

	return &s
}

// Resource returns the VISA resource string of the instrument
func (s *Session) Resource() string {
	return s.resource
}

// Identity returns the *IDN? response captured on connect
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Log returns every command logged by the session so far
func (s *Session) Log() []cmdlog.Entry {
	return s.log.Entries()
}

// Channel returns the last known state of channel ch
func (s *Session) Channel(ch int) (ChannelState, error) {
	if err := validateChannel(ch); err != nil {
		return ChannelState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[ch-1], nil
}

// Connected reports whether the session holds an open transport. It does not
// talk to the instrument; use IsConnected for a live probe.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil
}

// Connect opens the transport and identifies the instrument
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport != nil {
		return nil
	}

	address, err := scpi.ResourceAddress(s.resource)
	if err != nil {
		return err
	}

	start := s.now()
	t, err := s.dial(ctx, address)
	if err != nil {
		s.record(cmdlog.NewEntry(start, s.resource).WithDuration(s.now().Sub(start)).WithError(err))
		return fmt.Errorf("connect %s: %w", s.resource, err)
	}
	s.transport = t

	identity, err := s.queryLocked(ctx, cmdIdentity)
	if err != nil {
		err = multierr.Append(err, t.Close())
		s.transport = nil
		return fmt.Errorf("identify %s: %w", s.resource, err)
	}

	s.identity = identity
	s.channels = [Channels]ChannelState{}

	s.logger.Info("connected", slog.String("identity", identity))

	return nil
}

// Disconnect closes the transport. It is a no-op on a closed session.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == nil {
		return nil
	}

	start := s.now()
	err := s.transport.Close()
	s.transport = nil

	entry := cmdlog.NewEntry(start, "disconnect").WithDuration(s.now().Sub(start))
	if err != nil {
		s.record(entry.WithError(err))
		return fmt.Errorf("disconnect %s: %w", s.resource, err)
	}
	s.record(entry.WithResponse("device disconnected"))

	s.logger.Info("disconnected")

	return nil
}

// IsConnected probes the instrument with *IDN?
func (s *Session) IsConnected(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == nil {
		return false
	}
	_, err := s.queryLocked(ctx, cmdIdentity)
	return err == nil
}

// ClearStatus clears the status and error registers
func (s *Session) ClearStatus(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(ctx, cmdClearStatus)
}

// SystemError pops the oldest entry of the instrument error queue. A nil
// error means the queue reported "0, No error".
func (s *Session) SystemError(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.systemErrorLocked(ctx)
}

// Note records a free-form line, such as a waveform generation step, in the
// command log without sending anything to the instrument
func (s *Session) Note(msg string) {
	s.record(cmdlog.NewEntry(s.now(), msg))
}

// writeLocked sends a command (caller must hold s.mu). A failed write is
// followed by a best-effort error queue query whose reply goes into the
// failed entry.
func (s *Session) writeLocked(ctx context.Context, cmd string) error {
	if s.transport == nil {
		return ErrNotConnected
	}

	start := s.now()
	err := s.transport.Write(ctx, cmd)
	entry := cmdlog.NewEntry(start, cmd).WithDuration(s.now().Sub(start))

	if err != nil {
		s.recordFailureLocked(ctx, entry.WithError(err))
		return err
	}

	s.record(entry)
	return nil
}

// queryLocked sends a query and returns its response (caller must hold s.mu)
func (s *Session) queryLocked(ctx context.Context, cmd string) (string, error) {
	if s.transport == nil {
		return "", ErrNotConnected
	}

	start := s.now()
	resp, err := s.transport.Query(ctx, cmd)
	entry := cmdlog.NewEntry(start, cmd).WithDuration(s.now().Sub(start))

	if err != nil {
		entry = entry.WithError(err)
		if cmd == cmdSystemError {
			s.record(entry)
		} else {
			s.recordFailureLocked(ctx, entry)
		}
		return "", err
	}

	s.record(entry.WithResponse(resp))
	return resp, nil
}

// checkedLocked sends cmd then reads the error queue, returning an
// *InstrumentError when the instrument rejected the command
func (s *Session) checkedLocked(ctx context.Context, cmd string) error {
	if err := s.writeLocked(ctx, cmd); err != nil {
		return err
	}
	return s.systemErrorLocked(ctx)
}

func (s *Session) systemErrorLocked(ctx context.Context) error {
	resp, err := s.queryLocked(ctx, cmdSystemError)
	if err != nil {
		return err
	}

	ierr, err := ParseSystemError(resp)
	if err != nil {
		return &ResponseError{Command: cmdSystemError, Response: resp, Err: err}
	}
	if ierr != nil {
		return ierr
	}
	return nil
}

// recordFailureLocked fetches the most recent instrument error and records
// it together with the failed entry. The fetch is best-effort and is left
// out of the entry when it fails.
func (s *Session) recordFailureLocked(ctx context.Context, entry cmdlog.Entry) {
	if ctx.Err() == nil {
		resp, err := s.transport.Query(ctx, cmdSystemError)
		if err != nil {
			s.logger.Debug("error queue query failed", slog.String("error", err.Error()))
		} else {
			entry = entry.WithSystemError(resp)
		}
	}
	s.record(entry)
}

func (s *Session) record(e cmdlog.Entry) {
	s.log.Record(e)
	if s.recorder != nil {
		s.recorder.Record(e)
	}
}

// ParseSystemError parses a :SYST:ERR? response such as
// -222,"Data out of range". Code 0 yields a nil *InstrumentError.
func ParseSystemError(resp string) (*InstrumentError, error) {
	codeText, msg, _ := strings.Cut(strings.TrimSpace(resp), ",")

	code, err := strconv.Atoi(strings.TrimSpace(codeText))
	if err != nil {
		return nil, fmt.Errorf("awg: unexpected error queue response '%s'", resp)
	}
	if code == 0 {
		return nil, nil
	}

	return &InstrumentError{Code: code, Message: strings.Trim(strings.TrimSpace(msg), `"`)}, nil
}

func validateChannel(ch int) error {
	if ch < 1 || ch > Channels {
		return &InvalidParameterError{Parameter: "channel", Value: ch}
	}
	return nil
}
