package awg_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/roman-kulish/awg-sweeper/internal/awg"
	"github.com/roman-kulish/awg-sweeper/internal/awg/awgtest"
	"github.com/roman-kulish/awg-sweeper/internal/cmdlog"
	"github.com/roman-kulish/awg-sweeper/internal/scpi"
)

const resource = "TCPIP0::192.0.2.10::inst0::INSTR"

func connected(t *testing.T, options ...func(s *awg.Session)) (*awg.Session, *awgtest.Instrument) {
	t.Helper()

	inst := awgtest.New()
	s := awg.NewSession(resource, append([]func(s *awg.Session){awg.WithDialer(inst.Dialer())}, options...)...)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s, inst
}

func TestSession_NotConnected(t *testing.T) {
	inst := awgtest.New()
	s := awg.NewSession(resource, awg.WithDialer(inst.Dialer()))

	ctx := context.Background()
	checks := map[string]error{
		"ClearStatus": s.ClearStatus(ctx),
		"Abort":       s.Abort(ctx, 1),
		"Define":      s.DefineSegment(ctx, 1, 1, 720),
	}
	_, err := s.SetAmplitude(ctx, 1, 0.5)
	checks["SetAmplitude"] = err

	for name, err := range checks {
		if !errors.Is(err, awg.ErrNotConnected) {
			t.Errorf("%s: expected ErrNotConnected, got %v", name, err)
		}
	}
	if n := len(inst.Commands()); n != 0 {
		t.Errorf("expected no commands to reach the transport, got %d", n)
	}
	if s.IsConnected(ctx) {
		t.Error("expected IsConnected to be false")
	}
}

func TestSession_ConnectDisconnect(t *testing.T) {
	s, inst := connected(t)

	if s.Identity() != awgtest.Identity {
		t.Errorf("unexpected identity %q", s.Identity())
	}
	if !s.IsConnected(context.Background()) {
		t.Error("expected live probe to succeed")
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inst.Closed() {
		t.Error("expected transport to be closed")
	}
	if s.Connected() {
		t.Error("expected session to be disconnected")
	}
	if err := s.Disconnect(); err != nil {
		t.Errorf("second disconnect should be a no-op, got %v", err)
	}
}

func TestSession_ConnectIdentifyFails(t *testing.T) {
	inst := awgtest.New()
	inst.Fail = func(cmd string) error {
		if cmd == "*IDN?" {
			return &scpi.TransportError{Command: cmd, Err: errors.New("timeout")}
		}
		return nil
	}
	s := awg.NewSession(resource, awg.WithDialer(inst.Dialer()))

	err := s.Connect(context.Background())

	var transportErr *scpi.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if s.Connected() {
		t.Error("session must not stay connected after a failed identify")
	}
	if !inst.Closed() {
		t.Error("transport must be closed after a failed identify")
	}
}

func TestSession_Levels(t *testing.T) {
	s, inst := connected(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		set    func() (awg.Setting, error)
		header string
	}{
		{name: "amplitude", set: func() (awg.Setting, error) { return s.SetAmplitude(ctx, 1, 0.5) }, header: ":VOLT1 0.5"},
		{name: "offset", set: func() (awg.Setting, error) { return s.SetOffset(ctx, 2, -0.02) }, header: ":VOLT2:OFFS -0.02"},
		{name: "high", set: func() (awg.Setting, error) { return s.SetHighLevel(ctx, 1, 0.25) }, header: ":VOLT1:HIGH 0.25"},
		{name: "low", set: func() (awg.Setting, error) { return s.SetLowLevel(ctx, 1, -0.25) }, header: ":VOLT1:LOW -0.25"},
		{name: "termination", set: func() (awg.Setting, error) { return s.SetTermination(ctx, 2, 0) }, header: ":VOLT2:TERM 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setting, err := tt.set()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !setting.Matches() {
				t.Errorf("expected read back to match, got %+v", setting)
			}
			if inst.Count(tt.header) != 1 {
				t.Errorf("expected command %q, got %v", tt.header, inst.Commands())
			}
		})
	}

	v, err := s.Offset(ctx, 2)
	if err != nil || v != -0.02 {
		t.Errorf("Offset() = %v, %v", v, err)
	}

	state, _ := s.Channel(1)
	if state.Amplitude != 0.5 {
		t.Errorf("expected channel amplitude 0.5, got %v", state.Amplitude)
	}
}

func TestSession_LevelLimits(t *testing.T) {
	s, inst := connected(t)
	ctx := context.Background()

	setting, err := s.SetAmplitudeLimit(ctx, 1, "max")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if setting.Limit != awg.LimitMax || setting.Actual != awgtest.MaxLevel || !math.IsNaN(setting.Requested) {
		t.Errorf("unexpected setting %+v", setting)
	}
	if inst.Count(":VOLT1 MAX") != 1 {
		t.Errorf("expected MAX command, got %v", inst.Commands())
	}

	_, err = s.SetOffsetLimit(ctx, 1, "DEF")

	var paramErr *awg.InvalidParameterError
	if !errors.As(err, &paramErr) {
		t.Fatalf("expected InvalidParameterError, got %v", err)
	}
}

func TestSession_InvalidChannel(t *testing.T) {
	s, inst := connected(t)
	before := len(inst.Commands())

	_, err := s.SetAmplitude(context.Background(), 3, 0.5)

	var paramErr *awg.InvalidParameterError
	if !errors.As(err, &paramErr) || paramErr.Parameter != "channel" {
		t.Fatalf("expected channel InvalidParameterError, got %v", err)
	}
	if len(inst.Commands()) != before {
		t.Error("invalid channel must not reach the instrument")
	}
}

func TestSession_OutputState(t *testing.T) {
	s, inst := connected(t)
	ctx := context.Background()

	for _, state := range []string{"ON", "off", "1", "0"} {
		want := state == "ON" || state == "1"
		got, err := s.SetOutputState(ctx, 2, state)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", state, err)
		}
		if got != want || inst.Output(2) != want {
			t.Errorf("%s: expected output %v, got %v", state, want, got)
		}
	}

	_, err := s.SetOutputState(ctx, 1, "maybe")

	var stateErr *awg.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestSession_Segments(t *testing.T) {
	s, inst := connected(t)
	ctx := context.Background()

	if err := s.DefineSegment(ctx, 1, 1, 720); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Count(":TRAC1:DEF 1,1,720,0") != 1 {
		t.Errorf("unexpected commands %v", inst.Commands())
	}

	segments, err := s.Segments(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 1 || segments[0] != (awg.SegmentInfo{ID: 1, Length: 720}) {
		t.Errorf("unexpected catalog %+v", segments)
	}

	state, _ := s.Channel(1)
	if state.ActiveSegment != 1 {
		t.Errorf("expected active segment 1, got %d", state.ActiveSegment)
	}

	if err = s.DeleteSegment(ctx, 1, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// deleting again is rejected by the instrument
	err = s.DeleteSegment(ctx, 1, 1)

	var instErr *awg.InstrumentError
	if !errors.As(err, &instErr) || instErr.Code != -222 {
		t.Fatalf("expected instrument error -222, got %v", err)
	}
}

func TestSession_ImportAbortInitiate(t *testing.T) {
	s, inst := connected(t)
	ctx := context.Background()

	if err := s.ImportFile(ctx, 2, "C:/Users/Administrator/Desktop/CH/channel_2_20240131_0915/sine_000.csv"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Abort(ctx, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Initiate(ctx, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		`:TRAC2:IQIM 1,"C:/Users/Administrator/Desktop/CH/channel_2_20240131_0915/sine_000.csv",CSV,IONL,0`,
		":SYST:ERR?",
		":ABOR2",
		":SYST:ERR?",
		":INIT:IMM2",
		":SYST:ERR?",
	}
	got := inst.Commands()[1:] // skip *IDN?
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("expected %q, got %q", want, got)
	}

	if err := s.ImportFile(ctx, 1, `C:/bad"path.csv`); err == nil {
		t.Error("expected error for quoted path")
	}
}

func TestSession_InstrumentRejection(t *testing.T) {
	s, inst := connected(t)
	inst.Reject = func(cmd string) *awgtest.Rejection {
		if strings.HasPrefix(cmd, ":INIT") {
			return &awgtest.Rejection{Code: -221, Message: "Settings conflict"}
		}
		return nil
	}

	err := s.Initiate(context.Background(), 1)

	var instErr *awg.InstrumentError
	if !errors.As(err, &instErr) {
		t.Fatalf("expected InstrumentError, got %v", err)
	}
	if instErr.Code != -221 || instErr.Message != "Settings conflict" {
		t.Errorf("unexpected error %+v", instErr)
	}
}

func TestSession_FailedWriteQueriesErrorQueue(t *testing.T) {
	s, inst := connected(t)
	inst.Fail = func(cmd string) error {
		if cmd == ":ABOR1" {
			return &scpi.TransportError{Command: cmd, Err: errors.New("broken pipe")}
		}
		return nil
	}

	err := s.Abort(context.Background(), 1)

	var transportErr *scpi.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}

	cmds := inst.Commands()
	if cmds[len(cmds)-1] != ":SYST:ERR?" {
		t.Errorf("expected best-effort error query after failure, got %v", cmds)
	}

	log := s.Log()
	last := log[len(log)-1]
	if last.Command != ":ABOR1" || last.Err == nil {
		t.Fatalf("expected the failed command to be the last entry, got %+v", last)
	}
	if last.SystemError == nil || *last.SystemError != `0,"No error"` {
		t.Errorf("expected error queue reply on the failed entry, got %v", last.SystemError)
	}
	for _, e := range log {
		if e.Command == ":SYST:ERR?" {
			t.Errorf("error queue query must not get its own entry: %+v", e)
		}
	}
}

func TestSession_FailedQuerySkipsUnreadableErrorQueue(t *testing.T) {
	s, inst := connected(t)
	inst.Fail = func(cmd string) error {
		if strings.HasPrefix(cmd, ":VOLT1") || cmd == ":SYST:ERR?" {
			return &scpi.TransportError{Command: cmd, Err: errors.New("timeout")}
		}
		return nil
	}

	if _, err := s.Amplitude(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}

	log := s.Log()
	last := log[len(log)-1]
	if last.Command != ":VOLT1?" || last.Err == nil || last.SystemError != nil {
		t.Errorf("unexpected entry %+v", last)
	}
}

func TestSession_MalformedResponse(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		cmd   string
		call  func(s *awg.Session) error
	}{
		{
			name:  "amplitude",
			cmd:   ":VOLT1?",
			reply: `0,"No error"`,
			call: func(s *awg.Session) error {
				_, err := s.SetAmplitude(context.Background(), 1, 0.5)
				return err
			},
		},
		{
			name:  "output state",
			cmd:   ":OUTP2?",
			reply: "0.5",
			call: func(s *awg.Session) error {
				_, err := s.OutputState(context.Background(), 2)
				return err
			},
		},
		{
			name:  "error queue",
			cmd:   ":SYST:ERR?",
			reply: "0.5",
			call: func(s *awg.Session) error {
				return s.SystemError(context.Background())
			},
		},
		{
			name:  "catalog",
			cmd:   ":TRAC1:CAT?",
			reply: "1,720,3",
			call: func(s *awg.Session) error {
				_, err := s.Segments(context.Background(), 1)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, inst := connected(t)
			inst.Respond = func(cmd string) (string, bool) {
				return tt.reply, cmd == tt.cmd
			}

			err := tt.call(s)

			var respErr *awg.ResponseError
			if !errors.As(err, &respErr) {
				t.Fatalf("expected ResponseError, got %v", err)
			}
			if respErr.Command != tt.cmd || respErr.Response != tt.reply {
				t.Errorf("unexpected error %+v", respErr)
			}
		})
	}
}

func TestSession_RecordsEveryCommand(t *testing.T) {
	var mem cmdlog.Memory
	s, inst := connected(t, awg.WithRecorder(&mem))

	s.Note("generate sine wave")
	if _, err := s.Amplitude(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := mem.Entries()
	if len(entries) != len(inst.Commands())+1 {
		t.Fatalf("expected one entry per command plus the note, got %d", len(entries))
	}

	last := entries[len(entries)-1]
	if last.Command != ":VOLT1?" || last.Duration == nil || last.Response == nil {
		t.Errorf("unexpected entry %+v", last)
	}
	if entries[1].Command != "generate sine wave" || entries[1].Duration != nil {
		t.Errorf("unexpected note %+v", entries[1])
	}
	if len(s.Log()) != len(entries) {
		t.Errorf("session log and recorder disagree: %d != %d", len(s.Log()), len(entries))
	}
}

func TestParseSystemError(t *testing.T) {
	tests := []struct {
		resp    string
		code    int
		message string
		wantErr bool
	}{
		{resp: `0,"No error"`},
		{resp: `+0,"No error"`},
		{resp: `-222,"Data out of range"`, code: -222, message: "Data out of range"},
		{resp: `-113`, code: -113},
		{resp: `garbage`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.resp, func(t *testing.T) {
			got, err := awg.ParseSystemError(tt.resp)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.code == 0 {
				if got != nil {
					t.Fatalf("expected no instrument error, got %v", got)
				}
				return
			}
			if got == nil || got.Code != tt.code || got.Message != tt.message {
				t.Errorf("unexpected result %+v", got)
			}
		})
	}
}

func TestParseCatalog(t *testing.T) {
	got, err := awg.ParseCatalog("1,720,3,1440")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1] != (awg.SegmentInfo{ID: 3, Length: 1440}) {
		t.Errorf("unexpected catalog %+v", got)
	}

	if got, _ = awg.ParseCatalog("0,0"); len(got) != 0 {
		t.Errorf("expected empty catalog, got %+v", got)
	}
	if _, err = awg.ParseCatalog("1,720,3"); err == nil {
		t.Error("expected error for odd field count")
	}
}
