package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/awg-sweeper/internal/sequencer"
	"github.com/roman-kulish/awg-sweeper/internal/transfer"
	"github.com/roman-kulish/awg-sweeper/internal/waveform"
)

const minimalConfig = `
instrument:
  resource: TCPIP0::192.0.2.10::inst0::INSTR
channels:
  - channel: 1
    enabled: true
    waveform:
      kind: sine
      sine:
        frequency: 1.5
        amplitude: 0.5
    amplitudes:
      start: 0.1
      stop: 0.3
      step: 0.1
`

func writeConfig(t *testing.T, data string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Settings.LogLevel != "info" {
		t.Errorf("expected log level info, got %s", cfg.Settings.LogLevel)
	}
	if cfg.Settings.SamplingRateGHz != DefaultSamplingRateGHz {
		t.Errorf("expected sampling rate %g, got %g", DefaultSamplingRateGHz, cfg.Settings.SamplingRateGHz)
	}
	if cfg.Sweep.Dwell.Duration() != sequencer.DefaultDwell {
		t.Errorf("expected dwell %s, got %s", sequencer.DefaultDwell, cfg.Sweep.Dwell.Duration())
	}
	if cfg.Sweep.FailureThreshold != sequencer.FailureThreshold {
		t.Errorf("expected failure threshold %d, got %d", sequencer.FailureThreshold, cfg.Sweep.FailureThreshold)
	}
	if cfg.Instrument.Timeout.Duration() != DefaultInstrumentTimeout {
		t.Errorf("expected instrument timeout %s, got %s", DefaultInstrumentTimeout, cfg.Instrument.Timeout.Duration())
	}
	if cfg.Transfer.RemoteBase != transfer.DefaultRemoteBase {
		t.Errorf("expected remote base %s, got %s", transfer.DefaultRemoteBase, cfg.Transfer.RemoteBase)
	}
	if cfg.Transfer.Enabled() {
		t.Error("transfer must be disabled without a host")
	}

	spec, err := cfg.Channels[0].Waveform.Spec()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := (waveform.SineSpec{FrequencyGHz: 1.5, AmplitudeV: 0.5}); spec != want {
		t.Errorf("expected %+v, got %+v", want, spec)
	}
}

func TestLoadConfig_Durations(t *testing.T) {
	data := minimalConfig + `
sweep:
  dwell: 250ms
transfer:
  host: 192.0.2.10
  insecure: true
  timeout: 5s
`
	cfg, err := LoadConfig(writeConfig(t, data))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Sweep.Dwell.Duration() != 250*time.Millisecond {
		t.Errorf("expected dwell 250ms, got %s", cfg.Sweep.Dwell.Duration())
	}
	if cfg.Transfer.Config.Timeout != 5*time.Second {
		t.Errorf("expected transfer timeout 5s, got %s", cfg.Transfer.Config.Timeout)
	}
	if !cfg.Transfer.Enabled() {
		t.Error("expected transfer to be enabled")
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	data := minimalConfig + `
sweep:
  dwell: forever
`
	if _, err := LoadConfig(writeConfig(t, data)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			modify: func(c *Config) {},
		},
		{
			name:    "log level",
			modify:  func(c *Config) { c.Settings.LogLevel = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "resource",
			modify:  func(c *Config) { c.Instrument.Resource = "" },
			wantErr: "instrument resource is required",
		},
		{
			name:    "plot format",
			modify:  func(c *Config) { c.Settings.PlotFormat = "gif" },
			wantErr: "invalid image format",
		},
		{
			name:    "channel number",
			modify:  func(c *Config) { c.Channels[0].Channel = 3 },
			wantErr: "channel must be 1..2",
		},
		{
			name: "duplicate channel",
			modify: func(c *Config) {
				c.Channels = append(c.Channels, c.Channels[0])
			},
			wantErr: "configured twice",
		},
		{
			name:    "unknown kind",
			modify:  func(c *Config) { c.Channels[0].Waveform.Kind = "square" },
			wantErr: "unknown kind",
		},
		{
			name:    "missing parameters",
			modify:  func(c *Config) { c.Channels[0].Waveform.Kind = "prbs" },
			wantErr: "missing 'prbs' parameters",
		},
		{
			name:    "empty amplitudes",
			modify:  func(c *Config) { c.Channels[0].Amplitudes.Stop = 0 },
			wantErr: "amplitudes: empty range",
		},
		{
			name:    "no channels",
			modify:  func(c *Config) { c.Channels[0].Enabled = false },
			wantErr: "no channels enabled",
		},
		{
			name: "combined without components",
			modify: func(c *Config) {
				c.Combined = CombinedConfig{Enabled: true, Channel: 1, NumSamples: 720}
			},
			wantErr: "at least one component",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, minimalConfig))
			if err != nil {
				t.Fatalf("load config: %v", err)
			}

			tt.modify(cfg)
			err = cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if !strings.HasPrefix(err.Error(), "config: ") {
				t.Errorf("expected config prefix, got %v", err)
			}
		})
	}
}

func TestConfig_Validate_HostKeyPolicy(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	cfg.Transfer.Host = "192.0.2.10"
	if err = cfg.Validate(); !errors.Is(err, transfer.ErrNoHostKeyPolicy) {
		t.Fatalf("expected ErrNoHostKeyPolicy, got %v", err)
	}
}

func TestTransferConfig_MarshalJSON(t *testing.T) {
	c := TransferConfig{Config: transfer.Config{Host: "192.0.2.10", User: "Administrator", Password: "secret"}}

	data, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("password must not be serialized: %s", data)
	}
}
