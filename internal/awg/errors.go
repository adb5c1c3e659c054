package awg

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned for commands issued without an open session
var ErrNotConnected = errors.New("awg: not connected, connect first")

// InvalidParameterError reports a channel, limit keyword or value the
// instrument would not accept
type InvalidParameterError struct {
	Parameter string
	Value     any
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("awg: invalid %s '%v'", e.Parameter, e.Value)
}

// InvalidStateError reports an output state other than ON, OFF, 1 or 0
type InvalidStateError struct {
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("awg: invalid output state '%s' (expected ON, OFF, 1 or 0)", e.State)
}

// ResponseError reports a reply the instrument sent that could not be
// interpreted, e.g. a stale or garbled line in place of a number
type ResponseError struct {
	Command  string
	Response string
	Err      error
}

func (e *ResponseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("awg: unexpected '%s' response '%s'", e.Command, e.Response)
	}
	return fmt.Sprintf("awg: unexpected '%s' response '%s': %v", e.Command, e.Response, e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// InstrumentError is an entry of the instrument error queue
type InstrumentError struct {
	Code    int
	Message string
}

func (e *InstrumentError) Error() string {
	return fmt.Sprintf("awg: instrument error %d: %s", e.Code, e.Message)
}
