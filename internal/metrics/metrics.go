// Package metrics exposes instrument traffic and sweep progress as Prometheus
// metrics.
package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roman-kulish/awg-sweeper/internal/cmdlog"
	"github.com/roman-kulish/awg-sweeper/internal/sequencer"
)

const namespace = "awg"

// Metrics counts commands, sweep cycles and sequencer state per channel.
// It satisfies cmdlog.Recorder and sequencer.Observer.
type Metrics struct {
	commands  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	points    *prometheus.CounterVec
	faults    *prometheus.CounterVec
	state     *prometheus.GaugeVec
	waveforms *prometheus.CounterVec
}

var (
	_ cmdlog.Recorder    = (*Metrics)(nil)
	_ sequencer.Observer = (*Metrics)(nil)
)

// New creates the collectors and registers them with the default registerer
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates the collectors and registers them with reg
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "SCPI commands sent to the instrument.",
		}, []string{"header"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_failures_total",
			Help:      "SCPI commands that failed at the transport.",
		}, []string{"header"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Round trip time of SCPI commands.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"header"}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_cycles_total",
			Help:      "Sweep cycles played, one per waveform and amplitude.",
		}, []string{"channel"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_faults_total",
			Help:      "Sweep cycles that recorded a fault.",
		}, []string{"channel"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sequencer_state",
			Help:      "Sequencer state per channel (0 idle, 1 connected, 2 enabled, 3 running, 4 faulted).",
		}, []string{"channel"}),
		waveforms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waveforms_generated_total",
			Help:      "Waveform files generated.",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.commands, m.failures, m.latency, m.points, m.faults, m.state, m.waveforms)

	return &m
}

func (m *Metrics) Record(e cmdlog.Entry) {
	h := Header(e.Command)
	if h == "" {
		// free-form notes carry no command
		return
	}

	m.commands.WithLabelValues(h).Inc()
	if e.Err != nil {
		m.failures.WithLabelValues(h).Inc()
	}
	if e.Duration != nil {
		m.latency.WithLabelValues(h).Observe(e.Duration.Seconds())
	}
}

func (m *Metrics) OnTransition(t sequencer.Transition) {
	m.state.WithLabelValues(strconv.Itoa(t.Channel)).Set(float64(t.To))
}

func (m *Metrics) OnPoint(r sequencer.PointResult) {
	ch := strconv.Itoa(r.Channel)

	m.points.WithLabelValues(ch).Inc()
	if r.Failed() {
		m.faults.WithLabelValues(ch).Inc()
	}
}

// WaveformGenerated counts a generated waveform file
func (m *Metrics) WaveformGenerated(kind string) {
	m.waveforms.WithLabelValues(strings.ToLower(kind)).Inc()
}

// Header returns the command header used as the metric label: the mnemonic
// without arguments, e.g. ":TRAC1:DEF 1,1,720,0" becomes ":TRAC1:DEF".
// Entries that are not SCPI commands yield "".
func Header(cmd string) string {
	h, _, _ := strings.Cut(strings.TrimSpace(cmd), " ")
	if h == "" || (h[0] != ':' && h[0] != '*') {
		return ""
	}
	return strings.ToUpper(h)
}
