package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/roman-kulish/awg-sweeper/internal/cmdlog"
	"github.com/roman-kulish/awg-sweeper/internal/sequencer"
)

func TestMetrics(t *testing.T) {
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := New()
	now := time.Now()

	m.Record(cmdlog.NewEntry(now, ":VOLT1 0.5").WithDuration(2 * time.Millisecond))
	m.Record(cmdlog.NewEntry(now, ":VOLT1 0.4").WithDuration(3 * time.Millisecond))
	m.Record(cmdlog.NewEntry(now, ":VOLT1?").WithError(errors.New("timeout")))
	m.Record(cmdlog.NewEntry(now, "generate sine wave"))

	if got := testutil.ToFloat64(m.commands.WithLabelValues(":VOLT1")); got != 2 {
		t.Fatalf("expected 2 :VOLT1 commands, got %f", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues(":VOLT1?")); got != 1 {
		t.Fatalf("expected 1 failed query, got %f", got)
	}
	if samples := testutil.CollectAndCount(m.latency); samples != 1 {
		t.Fatalf("expected one latency series, got %d", samples)
	}
	if n, err := testutil.GatherAndCount(reg, "awg_commands_total"); err != nil || n != 2 {
		t.Fatalf("expected 2 command series, got %d (%v)", n, err)
	}

	m.OnTransition(sequencer.Transition{Channel: 2, From: sequencer.StateEnabled, To: sequencer.StateRunning})
	if got := testutil.ToFloat64(m.state.WithLabelValues("2")); got != float64(sequencer.StateRunning) {
		t.Fatalf("expected running state gauge, got %f", got)
	}

	m.OnPoint(sequencer.PointResult{Channel: 2})
	m.OnPoint(sequencer.PointResult{Channel: 2, Err: errors.New("abort: timeout")})
	if got := testutil.ToFloat64(m.points.WithLabelValues("2")); got != 2 {
		t.Fatalf("expected 2 cycles, got %f", got)
	}
	if got := testutil.ToFloat64(m.faults.WithLabelValues("2")); got != 1 {
		t.Fatalf("expected 1 fault, got %f", got)
	}

	m.WaveformGenerated("PRBS")
	if got := testutil.ToFloat64(m.waveforms.WithLabelValues("prbs")); got != 1 {
		t.Fatalf("expected 1 prbs waveform, got %f", got)
	}
}

func TestHeader(t *testing.T) {
	tests := []struct {
		cmd  string
		want string
	}{
		{cmd: ":TRAC1:DEF 1,1,720,0", want: ":TRAC1:DEF"},
		{cmd: ":trac1:iqim 1,\"a.csv\",CSV,IONL,0", want: ":TRAC1:IQIM"},
		{cmd: "*IDN?", want: "*IDN?"},
		{cmd: "  :ABOR1 ", want: ":ABOR1"},
		{cmd: "Successfully generated PRBS", want: ""},
		{cmd: "", want: ""},
	}

	for _, tt := range tests {
		if got := Header(tt.cmd); got != tt.want {
			t.Errorf("Header(%q) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}
