package scpi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds dialing and every command exchange without a context deadline
	DefaultTimeout = 5 * time.Second

	terminator = '\n'
)

// WithTimeout sets the dial and per-command timeout
func WithTimeout(timeout time.Duration) func(c *Conn) {
	return func(c *Conn) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger for the connection
func WithLogger(logger *slog.Logger) func(c *Conn) {
	return func(c *Conn) {
		c.logger = logger.With(slog.String("address", c.address))
	}
}

// Conn is a Transport over a raw SCPI TCP socket. Commands are newline
// terminated and responses are read up to the next newline.
//
// A failed or interrupted exchange may leave a late response in flight, so
// the socket is marked stale and replaced before the next command.
type Conn struct {
	address string
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	stale  bool

	logger *slog.Logger
}

// Dial connects to the instrument at address (host:port)
func Dial(ctx context.Context, address string, options ...func(c *Conn)) (*Conn, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	c := Conn{
		address: address,
		timeout: DefaultTimeout,
		logger:  logger,
	}

	for _, option := range options {
		option(&c)
	}

	if err := c.dial(ctx); err != nil {
		return nil, &TransportError{Command: "connect", Err: err}
	}

	c.logger.Debug("connected")

	return &c, nil
}

func (c *Conn) dial(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.address, err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.stale = false

	return nil
}

// resync drops the stale socket together with anything buffered or still
// in flight on it and dials a fresh one. Caller must hold c.mu.
func (c *Conn) resync(ctx context.Context) error {
	_ = c.conn.Close()

	if err := c.dial(ctx); err != nil {
		return fmt.Errorf("resync: %w", err)
	}

	c.logger.Warn("connection re-established after a failed exchange")

	return nil
}

// Write sends cmd without waiting for a response
func (c *Conn) Write(ctx context.Context, cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.exchange(ctx, cmd, false, nil); err != nil {
		return &TransportError{Command: cmd, Err: err}
	}
	return nil
}

// Query sends cmd and returns the response with surrounding whitespace removed
func (c *Conn) Query(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var response string
	if err := c.exchange(ctx, cmd, true, &response); err != nil {
		return "", &TransportError{Command: cmd, Err: err}
	}
	return response, nil
}

// Close closes the socket; further commands fail with ErrClosed
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	c.stale = false

	c.logger.Debug("disconnected")

	return err
}

// exchange performs one write and optional read. Caller must hold c.mu.
func (c *Conn) exchange(ctx context.Context, cmd string, read bool, response *string) error {
	if c.conn == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.stale {
		if err := c.resync(ctx); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	// unblock pending I/O when the context is cancelled
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := c.conn.Write([]byte(strings.TrimSpace(cmd) + string(terminator))); err != nil {
		return c.ioError(ctx, "write", err)
	}
	if !read {
		return nil
	}

	line, err := c.reader.ReadString(terminator)
	if err != nil {
		return c.ioError(ctx, "read", err)
	}

	*response = strings.TrimSpace(line)
	return nil
}

func (c *Conn) ioError(ctx context.Context, op string, err error) error {
	c.stale = true

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: timed out after %s: %w", op, c.timeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
