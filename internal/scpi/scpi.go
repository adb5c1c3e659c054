// Package scpi implements the SCPI command/query transport used to talk to
// LAN instruments over their raw socket port.
package scpi

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned for commands issued on a closed connection
var ErrClosed = errors.New("scpi: connection closed")

// Transport sends SCPI commands and queries to an instrument. At most one
// command is outstanding at a time.
type Transport interface {
	// Write sends a command that produces no response
	Write(ctx context.Context, cmd string) error

	// Query sends a command and returns its trimmed single line response
	Query(ctx context.Context, cmd string) (string, error)

	Close() error
}

// TransportError reports a failure to deliver a command or read its response
type TransportError struct {
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("scpi: '%s': %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
