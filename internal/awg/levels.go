package awg

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

const (
	LevelAmplitude Level = iota
	LevelOffset
	LevelHigh
	LevelLow
	LevelTermination
)

// Level is a voltage parameter of an output channel
type Level int

var levelNames = map[Level]string{
	LevelAmplitude:   "amplitude",
	LevelOffset:      "offset",
	LevelHigh:        "high level",
	LevelLow:         "low level",
	LevelTermination: "termination",
}

var levelSuffixes = map[Level]string{
	LevelAmplitude:   "",
	LevelOffset:      ":OFFS",
	LevelHigh:        ":HIGH",
	LevelLow:         ":LOW",
	LevelTermination: ":TERM",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

// header returns the SCPI header of the level on channel ch, e.g. :VOLT1:OFFS
func (l Level) header(ch int) string {
	return fmt.Sprintf(":VOLT%d%s", ch, levelSuffixes[l])
}

const (
	LimitMin Limit = "MIN"
	LimitMax Limit = "MAX"
)

// Limit selects the instrument minimum or maximum of a level
type Limit string

// ParseLimit accepts MIN or MAX in any case
func ParseLimit(s string) (Limit, error) {
	l := Limit(strings.ToUpper(strings.TrimSpace(s)))
	if l != LimitMin && l != LimitMax {
		return "", &InvalidParameterError{Parameter: "limit", Value: s}
	}
	return l, nil
}

// Setting is the outcome of a setter: the requested value and the value
// read back from the instrument
type Setting struct {
	Parameter string
	Requested float64 // NaN when a limit keyword was requested
	Limit     Limit
	Actual    float64
}

// Matches reports whether the instrument accepted the requested value
func (s Setting) Matches() bool {
	if s.Limit != "" {
		return true
	}
	return math.Abs(s.Actual-s.Requested) <= 1e-9+1e-6*math.Abs(s.Requested)
}

// Level queries a voltage parameter of channel ch
func (s *Session) Level(ctx context.Context, ch int, l Level) (float64, error) {
	if err := validateLevel(ch, l); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.levelLocked(ctx, ch, l)
}

// SetLevel sets a voltage parameter of channel ch and reads it back
func (s *Session) SetLevel(ctx context.Context, ch int, l Level, v float64) (Setting, error) {
	if err := validateLevel(ch, l); err != nil {
		return Setting{}, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Setting{}, &InvalidParameterError{Parameter: l.String(), Value: v}
	}

	return s.setLevel(ctx, ch, l, strconv.FormatFloat(v, 'g', -1, 64), Setting{Parameter: l.String(), Requested: v})
}

// SetLevelLimit sets a voltage parameter of channel ch to its MIN or MAX
func (s *Session) SetLevelLimit(ctx context.Context, ch int, l Level, limit string) (Setting, error) {
	if err := validateLevel(ch, l); err != nil {
		return Setting{}, err
	}
	lim, err := ParseLimit(limit)
	if err != nil {
		return Setting{}, err
	}

	return s.setLevel(ctx, ch, l, string(lim), Setting{Parameter: l.String(), Requested: math.NaN(), Limit: lim})
}

func (s *Session) setLevel(ctx context.Context, ch int, l Level, arg string, setting Setting) (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLocked(ctx, l.header(ch)+" "+arg); err != nil {
		return setting, err
	}

	actual, err := s.levelLocked(ctx, ch, l)
	if err != nil {
		return setting, err
	}
	setting.Actual = actual

	if !setting.Matches() {
		s.logger.Warn("instrument did not accept requested value",
			slog.Int("channel", ch),
			slog.String("parameter", setting.Parameter),
			slog.Float64("requested", setting.Requested),
			slog.Float64("actual", actual),
		)
	}

	return setting, nil
}

func (s *Session) levelLocked(ctx context.Context, ch int, l Level) (float64, error) {
	resp, err := s.queryLocked(ctx, l.header(ch)+"?")
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, &ResponseError{Command: l.header(ch) + "?", Response: resp, Err: err}
	}

	if l == LevelAmplitude {
		s.channels[ch-1].Amplitude = v
	}
	return v, nil
}

func validateLevel(ch int, l Level) error {
	if err := validateChannel(ch); err != nil {
		return err
	}
	if _, ok := levelNames[l]; !ok {
		return &InvalidParameterError{Parameter: "level", Value: int(l)}
	}
	return nil
}

// Amplitude queries the output amplitude in volts
func (s *Session) Amplitude(ctx context.Context, ch int) (float64, error) {
	return s.Level(ctx, ch, LevelAmplitude)
}

// SetAmplitude sets the output amplitude in volts
func (s *Session) SetAmplitude(ctx context.Context, ch int, v float64) (Setting, error) {
	return s.SetLevel(ctx, ch, LevelAmplitude, v)
}

// SetAmplitudeLimit sets the output amplitude to MIN or MAX
func (s *Session) SetAmplitudeLimit(ctx context.Context, ch int, limit string) (Setting, error) {
	return s.SetLevelLimit(ctx, ch, LevelAmplitude, limit)
}

// Offset queries the output offset in volts
func (s *Session) Offset(ctx context.Context, ch int) (float64, error) {
	return s.Level(ctx, ch, LevelOffset)
}

// SetOffset sets the output offset in volts
func (s *Session) SetOffset(ctx context.Context, ch int, v float64) (Setting, error) {
	return s.SetLevel(ctx, ch, LevelOffset, v)
}

// SetOffsetLimit sets the output offset to MIN or MAX
func (s *Session) SetOffsetLimit(ctx context.Context, ch int, limit string) (Setting, error) {
	return s.SetLevelLimit(ctx, ch, LevelOffset, limit)
}

// HighLevel queries the output high level in volts
func (s *Session) HighLevel(ctx context.Context, ch int) (float64, error) {
	return s.Level(ctx, ch, LevelHigh)
}

// SetHighLevel sets the output high level in volts
func (s *Session) SetHighLevel(ctx context.Context, ch int, v float64) (Setting, error) {
	return s.SetLevel(ctx, ch, LevelHigh, v)
}

// SetHighLevelLimit sets the output high level to MIN or MAX
func (s *Session) SetHighLevelLimit(ctx context.Context, ch int, limit string) (Setting, error) {
	return s.SetLevelLimit(ctx, ch, LevelHigh, limit)
}

// LowLevel queries the output low level in volts
func (s *Session) LowLevel(ctx context.Context, ch int) (float64, error) {
	return s.Level(ctx, ch, LevelLow)
}

// SetLowLevel sets the output low level in volts
func (s *Session) SetLowLevel(ctx context.Context, ch int, v float64) (Setting, error) {
	return s.SetLevel(ctx, ch, LevelLow, v)
}

// SetLowLevelLimit sets the output low level to MIN or MAX
func (s *Session) SetLowLevelLimit(ctx context.Context, ch int, limit string) (Setting, error) {
	return s.SetLevelLimit(ctx, ch, LevelLow, limit)
}

// Termination queries the output termination voltage
func (s *Session) Termination(ctx context.Context, ch int) (float64, error) {
	return s.Level(ctx, ch, LevelTermination)
}

// SetTermination sets the output termination voltage
func (s *Session) SetTermination(ctx context.Context, ch int, v float64) (Setting, error) {
	return s.SetLevel(ctx, ch, LevelTermination, v)
}

// SetTerminationLimit sets the output termination voltage to MIN or MAX
func (s *Session) SetTerminationLimit(ctx context.Context, ch int, limit string) (Setting, error) {
	return s.SetLevelLimit(ctx, ch, LevelTermination, limit)
}
