package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/awg-sweeper/internal/awg"
	"github.com/roman-kulish/awg-sweeper/internal/plot"
	"github.com/roman-kulish/awg-sweeper/internal/sequencer"
	"github.com/roman-kulish/awg-sweeper/internal/spectral"
	"github.com/roman-kulish/awg-sweeper/internal/sweep"
	"github.com/roman-kulish/awg-sweeper/internal/transfer"
	"github.com/roman-kulish/awg-sweeper/internal/waveform"
)

const (
	DefaultSamplingRateGHz   = 7.2
	DefaultOutputDirectory   = "waveforms"
	DefaultLogDirectory      = "logs"
	DefaultDataDirectory     = "data"
	DefaultCombinedSamples   = 720
	DefaultInstrumentTimeout = 10 * time.Second
)

var validLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

type TimeDuration time.Duration

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d TimeDuration) Duration() time.Duration {
	return time.Duration(d)
}

// Config represents the main application configuration
type Config struct {
	Settings   Settings         `yaml:"settings" json:"settings"`
	Instrument InstrumentConfig `yaml:"instrument" json:"instrument"`
	Sweep      SweepConfig      `yaml:"sweep" json:"sweep"`
	Transfer   TransferConfig   `yaml:"transfer" json:"transfer"`
	Channels   []ChannelConfig  `yaml:"channels" json:"channels"`
	Combined   CombinedConfig   `yaml:"combined" json:"combined"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel        string  `yaml:"logLevel" json:"logLevel"`
	SamplingRateGHz float64 `yaml:"samplingRate" json:"samplingRateGHz"`
	OutputDirectory string  `yaml:"outputDirectory" json:"outputDirectory"` // CSV run folders, uploaded to the instrument
	LogDirectory    string  `yaml:"logDirectory" json:"logDirectory"`       // daily command log files
	DataDirectory   string  `yaml:"dataDirectory" json:"dataDirectory"`     // run database, parquet exports and plots
	PlotFormat      string  `yaml:"plotFormat" json:"plotFormat"`           // png or jpeg, empty disables plots
	PlotMethod      string  `yaml:"plotMethod" json:"plotMethod"`
	Seed            uint64  `yaml:"seed" json:"seed"`               // 0 seeds PRBS and noise randomly
	LegacyNoise     bool    `yaml:"legacyNoise" json:"legacyNoise"` // reproduce the historical sine-shaped noise
	GenerateOnly    bool    `yaml:"generateOnly" json:"generateOnly"`
}

// InstrumentConfig represents the AWG connection settings
type InstrumentConfig struct {
	Resource string       `yaml:"resource" json:"resource"`
	Timeout  TimeDuration `yaml:"timeout" json:"timeout"`
}

// SweepConfig represents sequencer settings shared by all channels
type SweepConfig struct {
	Dwell            TimeDuration `yaml:"dwell" json:"dwell"`
	FailureThreshold uint8        `yaml:"failureThreshold" json:"failureThreshold"`
	SegmentSize      int          `yaml:"segmentSize" json:"segmentSize"`
}

// TransferConfig represents the upload settings. Upload is skipped when no
// host is configured and the files are expected on the instrument already.
type TransferConfig struct {
	transfer.Config `yaml:",inline"`
	Timeout         TimeDuration `yaml:"timeout"`
}

// MarshalJSON drops the password from the stored run configuration
func (c TransferConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Host       string       `json:"host"`
		Port       int          `json:"port"`
		User       string       `json:"user"`
		RemoteBase string       `json:"remoteBase"`
		Timeout    TimeDuration `json:"timeout"`
	}{c.Host, c.Port, c.User, c.RemoteBase, c.Timeout})
}

// Enabled reports whether waveform folders are uploaded before a sweep
func (c TransferConfig) Enabled() bool {
	return c.Host != ""
}

// WaveformConfig selects one waveform family and its parameters
type WaveformConfig struct {
	Kind    string                `yaml:"kind" json:"kind"`
	Sine    *waveform.SineSpec    `yaml:"sine" json:"sine,omitempty"`
	PRBS    *waveform.PRBSSpec    `yaml:"prbs" json:"prbs,omitempty"`
	LFM     *waveform.LFMSpec     `yaml:"lfm" json:"lfm,omitempty"`
	StepLFM *waveform.StepLFMSpec `yaml:"stepLfm" json:"stepLfm,omitempty"`
	Noise   *waveform.NoiseSpec   `yaml:"noise" json:"noise,omitempty"`
}

// Spec returns the configured waveform
func (c WaveformConfig) Spec() (waveform.Spec, error) {
	kind, err := waveform.ParseKind(c.Kind)
	if err != nil {
		return nil, err
	}

	var spec waveform.Spec
	switch kind {
	case waveform.KindSine:
		if c.Sine != nil {
			spec = *c.Sine
		}
	case waveform.KindPRBS:
		if c.PRBS != nil {
			spec = *c.PRBS
		}
	case waveform.KindLFM:
		if c.LFM != nil {
			spec = *c.LFM
		}
	case waveform.KindStepLFM:
		if c.StepLFM != nil {
			spec = *c.StepLFM
		}
	case waveform.KindNoise:
		if c.Noise != nil {
			spec = *c.Noise
		}
	}

	if spec == nil {
		return nil, fmt.Errorf("missing '%s' parameters", kind)
	}
	return spec, nil
}

// ChannelConfig represents the sweep of one output channel
type ChannelConfig struct {
	Channel    int            `yaml:"channel" json:"channel"`
	Enabled    bool           `yaml:"enabled" json:"enabled"`
	Waveform   WaveformConfig `yaml:"waveform" json:"waveform"`
	Sweep      *sweep.Range   `yaml:"sweep" json:"sweep,omitempty"` // swept waveform parameter, a single point when unset
	Amplitudes sweep.Range    `yaml:"amplitudes" json:"amplitudes"`
}

// CombinedConfig represents the combined waveform played after the channel sweeps
type CombinedConfig struct {
	Enabled    bool             `yaml:"enabled" json:"enabled"`
	Channel    int              `yaml:"channel" json:"channel"`
	NumSamples int              `yaml:"numSamples" json:"numSamples"`
	Components []WaveformConfig `yaml:"components" json:"components"`
	Amplitudes sweep.Range      `yaml:"amplitudes" json:"amplitudes"`
}

// ServerConfig represents the optional HTTP endpoints
type ServerConfig struct {
	MetricsAddress string `yaml:"metricsAddress" json:"metricsAddress"`
	StatusAddress  string `yaml:"statusAddress" json:"statusAddress"`
}

// LoadConfig reads, defaults and validates the configuration file at path
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	config.applyDefaults()

	if err = config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = "info"
	}
	if c.Settings.SamplingRateGHz == 0 {
		c.Settings.SamplingRateGHz = DefaultSamplingRateGHz
	}
	if c.Settings.OutputDirectory == "" {
		c.Settings.OutputDirectory = DefaultOutputDirectory
	}
	if c.Settings.LogDirectory == "" {
		c.Settings.LogDirectory = DefaultLogDirectory
	}
	if c.Settings.DataDirectory == "" {
		c.Settings.DataDirectory = DefaultDataDirectory
	}
	if c.Settings.PlotMethod == "" {
		c.Settings.PlotMethod = string(spectral.MethodPeriodogram)
	}
	if c.Instrument.Timeout == 0 {
		c.Instrument.Timeout = TimeDuration(DefaultInstrumentTimeout)
	}
	if c.Sweep.Dwell == 0 {
		c.Sweep.Dwell = TimeDuration(sequencer.DefaultDwell)
	}
	if c.Sweep.FailureThreshold == 0 {
		c.Sweep.FailureThreshold = sequencer.FailureThreshold
	}
	if c.Transfer.RemoteBase == "" {
		c.Transfer.RemoteBase = transfer.DefaultRemoteBase
	}
	if c.Transfer.Timeout == 0 {
		c.Transfer.Timeout = TimeDuration(transfer.DefaultTimeout)
	}
	c.Transfer.Config.Timeout = c.Transfer.Timeout.Duration()
	if c.Combined.Enabled && c.Combined.NumSamples == 0 {
		c.Combined.NumSamples = DefaultCombinedSamples
	}
	if c.Combined.Enabled && c.Combined.Channel == 0 {
		c.Combined.Channel = 1
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if _, ok := validLogLevels[strings.ToLower(c.Settings.LogLevel)]; !ok {
		return fmt.Errorf("config: invalid log level '%s'", c.Settings.LogLevel)
	}
	if c.Settings.SamplingRateGHz <= 0 {
		return fmt.Errorf("config: sampling rate must be positive: %g", c.Settings.SamplingRateGHz)
	}
	if c.Settings.PlotFormat != "" {
		if _, err := plot.ParseFormat(c.Settings.PlotFormat); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := spectral.ParseMethod(c.Settings.PlotMethod); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Instrument.Resource == "" {
		return errors.New("config: instrument resource is required")
	}
	if c.Instrument.Timeout < 0 {
		return fmt.Errorf("config: instrument timeout must not be negative: %s", c.Instrument.Timeout.Duration())
	}
	if c.Sweep.Dwell < 0 {
		return fmt.Errorf("config: dwell must not be negative: %s", c.Sweep.Dwell.Duration())
	}
	if c.Sweep.SegmentSize < 0 {
		return fmt.Errorf("config: segment size must not be negative: %d", c.Sweep.SegmentSize)
	}
	if c.Transfer.Enabled() && c.Transfer.KnownHosts == "" && !c.Transfer.Insecure {
		return fmt.Errorf("config: %w", transfer.ErrNoHostKeyPolicy)
	}

	seen := make(map[int]struct{})
	var enabled int
	for i, ch := range c.Channels {
		if !ch.Enabled {
			continue
		}
		enabled++

		if ch.Channel < 1 || ch.Channel > awg.Channels {
			return fmt.Errorf("config: channels[%d]: channel must be 1..%d: %d", i, awg.Channels, ch.Channel)
		}
		if _, ok := seen[ch.Channel]; ok {
			return fmt.Errorf("config: channels[%d]: channel %d is configured twice", i, ch.Channel)
		}
		seen[ch.Channel] = struct{}{}

		if _, err := ch.Waveform.Spec(); err != nil {
			return fmt.Errorf("config: channels[%d]: %w", i, err)
		}
		if ch.Sweep != nil {
			if err := ch.Sweep.Validate(); err != nil {
				return fmt.Errorf("config: channels[%d]: sweep: %w", i, err)
			}
		}
		if err := validateAmplitudes(ch.Amplitudes); err != nil {
			return fmt.Errorf("config: channels[%d]: %w", i, err)
		}
	}

	if c.Combined.Enabled {
		enabled++

		if c.Combined.Channel < 1 || c.Combined.Channel > awg.Channels {
			return fmt.Errorf("config: combined: channel must be 1..%d: %d", awg.Channels, c.Combined.Channel)
		}
		if c.Combined.NumSamples < 1 {
			return fmt.Errorf("config: combined: number of samples must be positive: %d", c.Combined.NumSamples)
		}
		if len(c.Combined.Components) == 0 {
			return errors.New("config: combined: at least one component is required")
		}
		for i, comp := range c.Combined.Components {
			if _, err := comp.Spec(); err != nil {
				return fmt.Errorf("config: combined: components[%d]: %w", i, err)
			}
		}
		if err := validateAmplitudes(c.Combined.Amplitudes); err != nil {
			return fmt.Errorf("config: combined: %w", err)
		}
	}

	if enabled == 0 {
		return errors.New("config: no channels enabled")
	}

	return nil
}

func validateAmplitudes(r sweep.Range) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("amplitudes: %w", err)
	}
	if r.Count() == 0 {
		return fmt.Errorf("amplitudes: empty range %g..%g", r.Start, r.Stop)
	}
	return nil
}
