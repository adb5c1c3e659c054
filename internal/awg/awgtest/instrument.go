// Package awgtest provides an in-memory instrument that speaks the subset of
// SCPI used by the awg package.
package awgtest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/roman-kulish/awg-sweeper/internal/scpi"
)

const (
	Identity = "Keysight Technologies,M8190A,MY00000001,5.7.0.0"

	MinLevel = 0.35
	MaxLevel = 0.7
)

// Instrument is a scriptable fake AWG implementing scpi.Transport
type Instrument struct {
	mu sync.Mutex

	// Fail, when set, is consulted before every command; a non-nil result is
	// returned as the transport error for that command
	Fail func(cmd string) error

	// Reject, when set, is consulted after every write; a non-nil result is
	// pushed onto the error queue
	Reject func(cmd string) *Rejection

	// Respond, when set, is consulted before every query; when ok is true
	// its reply is returned in place of the simulated one
	Respond func(cmd string) (reply string, ok bool)

	levels   map[string]float64
	outputs  map[int]bool
	segments map[int]map[int]int
	errQueue []string
	commands []string
	closed   bool
}

// Rejection is an error queue entry
type Rejection struct {
	Code    int
	Message string
}

// New returns an idle instrument with both outputs off and no segments
func New() *Instrument {
	return &Instrument{
		levels:   make(map[string]float64),
		outputs:  make(map[int]bool),
		segments: map[int]map[int]int{1: {}, 2: {}},
	}
}

// Dialer returns an awg.Dialer-compatible function that hands out inst
func (inst *Instrument) Dialer() func(context.Context, string) (scpi.Transport, error) {
	return func(context.Context, string) (scpi.Transport, error) {
		inst.mu.Lock()
		inst.closed = false
		inst.mu.Unlock()
		return inst, nil
	}
}

func (inst *Instrument) Write(ctx context.Context, cmd string) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if err := inst.begin(ctx, cmd); err != nil {
		return err
	}

	inst.apply(cmd)
	if inst.Reject != nil {
		if r := inst.Reject(cmd); r != nil {
			inst.errQueue = append(inst.errQueue, fmt.Sprintf(`%d,"%s"`, r.Code, r.Message))
		}
	}
	return nil
}

func (inst *Instrument) Query(ctx context.Context, cmd string) (string, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if err := inst.begin(ctx, cmd); err != nil {
		return "", err
	}
	if inst.Respond != nil {
		if reply, ok := inst.Respond(cmd); ok {
			return reply, nil
		}
	}

	header := strings.TrimSuffix(cmd, "?")
	switch {
	case cmd == "*IDN?":
		return Identity, nil
	case cmd == ":SYST:ERR?":
		if len(inst.errQueue) == 0 {
			return `0,"No error"`, nil
		}
		e := inst.errQueue[0]
		inst.errQueue = inst.errQueue[1:]
		return e, nil
	case strings.HasPrefix(header, ":VOLT"):
		return strconv.FormatFloat(inst.levels[header], 'g', -1, 64), nil
	case strings.HasPrefix(header, ":OUTP"):
		if inst.outputs[channelOf(header, ":OUTP")] {
			return "1", nil
		}
		return "0", nil
	case strings.HasPrefix(header, ":TRAC") && strings.HasSuffix(header, ":CAT"):
		return inst.catalog(channelOf(header, ":TRAC")), nil
	}

	return "", &scpi.TransportError{Command: cmd, Err: fmt.Errorf("no response")}
}

func (inst *Instrument) Close() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.closed = true
	return nil
}

// Commands returns every command received so far, in order
func (inst *Instrument) Commands() []string {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return append([]string(nil), inst.commands...)
}

// Count returns the number of received commands starting with prefix
func (inst *Instrument) Count(prefix string) int {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	var n int
	for _, c := range inst.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Output reports the output state of channel ch
func (inst *Instrument) Output(ch int) bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.outputs[ch]
}

// Segments returns the defined segments of channel ch keyed by id
func (inst *Instrument) Segments(ch int) map[int]int {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	out := make(map[int]int, len(inst.segments[ch]))
	for id, n := range inst.segments[ch] {
		out[id] = n
	}
	return out
}

// Closed reports whether the transport was closed
func (inst *Instrument) Closed() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.closed
}

func (inst *Instrument) begin(ctx context.Context, cmd string) error {
	inst.commands = append(inst.commands, cmd)

	if inst.closed {
		return &scpi.TransportError{Command: cmd, Err: scpi.ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return &scpi.TransportError{Command: cmd, Err: err}
	}
	if inst.Fail != nil {
		if err := inst.Fail(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (inst *Instrument) apply(cmd string) {
	header, arg, _ := strings.Cut(cmd, " ")

	switch {
	case header == "*CLS":
		inst.errQueue = nil
	case strings.HasPrefix(header, ":VOLT"):
		switch arg {
		case "MIN":
			inst.levels[header] = MinLevel
		case "MAX":
			inst.levels[header] = MaxLevel
		default:
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				inst.push(-104, "Data type error")
				return
			}
			inst.levels[header] = v
		}
	case strings.HasPrefix(header, ":OUTP"):
		inst.outputs[channelOf(header, ":OUTP")] = arg == "ON" || arg == "1"
	case strings.HasSuffix(header, ":DEF"):
		var ch, id, n, init int
		if _, err := fmt.Sscanf(arg, "%d,%d,%d,%d", &ch, &id, &n, &init); err != nil {
			inst.push(-104, "Data type error")
			return
		}
		if inst.segments[ch] == nil {
			inst.segments[ch] = make(map[int]int)
		}
		inst.segments[ch][id] = n
	case strings.HasSuffix(header, ":DEL"):
		ch := channelOf(strings.TrimSuffix(header, ":DEL"), ":TRAC")
		id, _ := strconv.Atoi(arg)
		if _, ok := inst.segments[ch][id]; !ok {
			inst.push(-222, "Data out of range;segment not defined")
			return
		}
		delete(inst.segments[ch], id)
	}
}

func (inst *Instrument) push(code int, msg string) {
	inst.errQueue = append(inst.errQueue, fmt.Sprintf(`%d,"%s"`, code, msg))
}

func (inst *Instrument) catalog(ch int) string {
	if len(inst.segments[ch]) == 0 {
		return "0,0"
	}

	var parts []string
	for id := 1; len(parts)/2 < len(inst.segments[ch]); id++ {
		if n, ok := inst.segments[ch][id]; ok {
			parts = append(parts, strconv.Itoa(id), strconv.Itoa(n))
		}
	}
	return strings.Join(parts, ",")
}

// channelOf extracts the channel digit following prefix, e.g. :OUTP2 -> 2
func channelOf(header, prefix string) int {
	rest := strings.TrimPrefix(header, prefix)
	if rest == "" {
		return 1
	}
	ch, _ := strconv.Atoi(rest[:1])
	return ch
}
