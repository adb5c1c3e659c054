package awg

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// SegmentInfo is one entry of the segment catalog
type SegmentInfo struct {
	ID     int
	Length int
}

// ParseOutputState normalizes ON, OFF, 1 and 0 (any case) to a boolean
func ParseOutputState(state string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "ON", "1":
		return true, nil
	case "OFF", "0":
		return false, nil
	}
	return false, &InvalidStateError{State: state}
}

// SetOutputState switches the output of channel ch. State is ON, OFF, 1 or
// 0; anything else fails with *InvalidStateError without contacting the
// instrument.
func (s *Session) SetOutputState(ctx context.Context, ch int, state string) (bool, error) {
	if err := validateChannel(ch); err != nil {
		return false, err
	}
	on, err := ParseOutputState(state)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	arg := "OFF"
	if on {
		arg = "ON"
	}
	if err = s.writeLocked(ctx, fmt.Sprintf(":OUTP%d %s", ch, arg)); err != nil {
		return false, err
	}

	actual, err := s.outputStateLocked(ctx, ch)
	if err != nil {
		return false, err
	}
	if actual != on {
		s.logger.Warn("instrument did not switch output",
			slog.Int("channel", ch),
			slog.Bool("requested", on),
			slog.Bool("actual", actual),
		)
	}

	return actual, nil
}

// OutputState queries whether the output of channel ch is on
func (s *Session) OutputState(ctx context.Context, ch int) (bool, error) {
	if err := validateChannel(ch); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.outputStateLocked(ctx, ch)
}

func (s *Session) outputStateLocked(ctx context.Context, ch int) (bool, error) {
	cmd := fmt.Sprintf(":OUTP%d?", ch)
	resp, err := s.queryLocked(ctx, cmd)
	if err != nil {
		return false, err
	}

	on, err := ParseOutputState(resp)
	if err != nil {
		return false, &ResponseError{Command: cmd, Response: resp, Err: err}
	}

	s.channels[ch-1].OutputEnabled = on
	return on, nil
}

// DefineSegment allocates segment id with n samples on channel ch
func (s *Session) DefineSegment(ctx context.Context, ch, id, n int) error {
	if err := validateChannel(ch); err != nil {
		return err
	}
	if id < 1 {
		return &InvalidParameterError{Parameter: "segment id", Value: id}
	}
	if n < 1 {
		return &InvalidParameterError{Parameter: "segment length", Value: n}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkedLocked(ctx, fmt.Sprintf(":TRAC%d:DEF %d,%d,%d,0", ch, ch, id, n)); err != nil {
		return err
	}

	s.channels[ch-1].ActiveSegment = id
	return nil
}

// DeleteSegment frees segment id on channel ch
func (s *Session) DeleteSegment(ctx context.Context, ch, id int) error {
	if err := validateChannel(ch); err != nil {
		return err
	}
	if id < 1 {
		return &InvalidParameterError{Parameter: "segment id", Value: id}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkedLocked(ctx, fmt.Sprintf(":TRAC%d:DEL %d", ch, id)); err != nil {
		return err
	}

	if s.channels[ch-1].ActiveSegment == id {
		s.channels[ch-1].ActiveSegment = 0
	}
	return nil
}

// Segments queries the segment catalog of channel ch
func (s *Session) Segments(ctx context.Context, ch int) ([]SegmentInfo, error) {
	if err := validateChannel(ch); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := fmt.Sprintf(":TRAC%d:CAT?", ch)
	resp, err := s.queryLocked(ctx, cmd)
	if err != nil {
		return nil, err
	}

	segments, err := ParseCatalog(resp)
	if err != nil {
		return nil, &ResponseError{Command: cmd, Response: resp, Err: err}
	}
	return segments, nil
}

// ParseCatalog parses a :TRAC:CAT? response of id,length pairs. The
// instrument reports "0,0" when no segment is defined.
func ParseCatalog(resp string) ([]SegmentInfo, error) {
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return nil, nil
	}

	fields := strings.Split(resp, ",")
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("awg: malformed segment catalog '%s'", resp)
	}

	var segments []SegmentInfo
	for i := 0; i < len(fields); i += 2 {
		id, err := strconv.Atoi(strings.TrimSpace(fields[i]))
		if err != nil {
			return nil, fmt.Errorf("awg: malformed segment id '%s': %w", fields[i], err)
		}
		length, err := strconv.Atoi(strings.TrimSpace(fields[i+1]))
		if err != nil {
			return nil, fmt.Errorf("awg: malformed segment length '%s': %w", fields[i+1], err)
		}
		if id == 0 {
			continue
		}
		segments = append(segments, SegmentInfo{ID: id, Length: length})
	}
	return segments, nil
}

// ImportFile loads a CSV waveform file stored on the instrument into
// DefaultSegment of channel ch
func (s *Session) ImportFile(ctx context.Context, ch int, path string) error {
	if err := validateChannel(ch); err != nil {
		return err
	}
	if path == "" || strings.ContainsRune(path, '"') {
		return &InvalidParameterError{Parameter: "import path", Value: path}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.checkedLocked(ctx, fmt.Sprintf(`:TRAC%d:IQIM %d,"%s",CSV,IONL,0`, ch, DefaultSegment, path))
}

// Abort stops signal generation on channel ch
func (s *Session) Abort(ctx context.Context, ch int) error {
	if err := validateChannel(ch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.checkedLocked(ctx, fmt.Sprintf(":ABOR%d", ch))
}

// Initiate starts signal generation on channel ch
func (s *Session) Initiate(ctx context.Context, ch int) error {
	if err := validateChannel(ch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.checkedLocked(ctx, fmt.Sprintf(":INIT:IMM%d", ch))
}
