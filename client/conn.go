package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/bean/protocol"
)

// State is the lifecycle stage of a Conn. It only ever moves forward.
type State int32

const (
	Open State = iota
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type Options struct {
	// Addr is the host:port of the server.
	Addr string

	// DialTimeout bounds connection establishment, zero means no timeout
	// beyond the one carried by the Dial context.
	DialTimeout time.Duration

	Log *zap.Logger
}

// Conn is a single connection to a work queue server.
//
// Commands may be executed from any number of goroutines. The server answers
// them in the order they were written, so the read loop always resolves the
// oldest pending command with the next response.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader

	// writeMu makes enqueue+write of one command atomic with respect to
	// other commands, so that queue order is wire order.
	writeMu sync.Mutex

	// mu guards state, pending and cause.
	mu      sync.Mutex
	state   State
	pending pendingQueue
	cause   error

	closeErr error

	readDone chan struct{}
	closed   chan struct{}

	log *zap.Logger
}

// Dial connects to the server at options.Addr.
func Dial(ctx context.Context, options Options) (*Conn, error) {
	dialer := net.Dialer{Timeout: options.DialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", options.Addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", options.Addr, err)
	}

	return New(conn, options.Log), nil
}

// New takes ownership of conn and starts reading responses from it.
func New(conn net.Conn, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}

	c := &Conn{
		conn:     conn,
		r:        bufio.NewReader(conn),
		readDone: make(chan struct{}),
		closed:   make(chan struct{}),
		log:      log.With(zap.String("remote", remoteAddr(conn))),
	}

	go c.readLoop()

	c.log.Info("Connection open")

	return c
}

// Execute writes a command and returns its pending result. Usage errors and
// ErrConnectionClosed are returned straight away and nothing is written.
func (c *Conn) Execute(verb protocol.Verb, args []interface{}, body []byte) (*Pending, error) {
	b, err := protocol.Encode(verb, args, body)
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.state != Open {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	p := c.pending.enqueue(verb)
	c.mu.Unlock()

	if _, err := c.conn.Write(b); err != nil {
		// p is already queued, shutting down fails it along with the rest.
		if c.State() == Open {
			c.log.Warn("Failed to write command", zap.Stringer("verb", verb), zap.Error(err))
		}
		c.shutdown(&ConnectionLostError{Err: err})
		return p, nil
	}

	c.log.Debug("Wrote command", zap.Stringer("verb", verb), zap.Int("bytes", len(b)))

	return p, nil
}

// ExecuteName is Execute for a verb given by its wire name, e.g. "peek-ready".
func (c *Conn) ExecuteName(name string, args []interface{}, body []byte) (*Pending, error) {
	verb, err := protocol.LookupVerb(name)
	if err != nil {
		return nil, err
	}
	return c.Execute(verb, args, body)
}

// Close closes the connection and cancels every command still waiting for a
// response. It returns once the connection is Closed and may be called any
// number of times.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return c.closeErr
}

// WaitClosed blocks until the connection is Closed or ctx is done.
func (c *Conn) WaitClosed(ctx context.Context) error {
	select {
	case <-c.closed:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the connection reaches Closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Closed reports whether the connection has reached Closed.
func (c *Conn) Closed() bool {
	return c.State() == Closed
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Err returns why the connection was lost. It is nil while the connection is
// open and after a local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cause
}

// InFlight is the number of commands waiting for a response.
func (c *Conn) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pending.len()
}

func (c *Conn) readLoop() {
	err := c.readFrames()
	close(c.readDone)

	if c.State() == Open {
		c.log.Named("readLoop").Warn("Failed to read server response", zap.Error(err))
	}

	c.shutdown(&ConnectionLostError{Err: err})
}

// readFrames resolves pending commands until reading fails, returning the
// error that stopped it.
func (c *Conn) readFrames() error {
	log := c.log.Named("readLoop")

	for {
		frame, err := protocol.ReadFrame(c.r)
		if err != nil {
			return err
		}

		c.mu.Lock()
		p, ok := c.pending.dequeue()
		c.mu.Unlock()

		if !ok {
			log.Error("Received a response with no command waiting for it",
				zap.String("status", string(frame.Status)))
			return errUnsolicitedResponse
		}

		outcome, err := protocol.Dispatch(p.verb, frame)
		if err != nil {
			var unexpected *protocol.UnexpectedResponseError
			if errors.As(err, &unexpected) {
				log.Warn("Unexpected response", zap.Error(err))
			}
		}

		p.fulfil(outcome, err)
	}
}

// shutdown moves the connection from Open to Closed. A nil cause is a local
// close and cancels pending commands, otherwise they fail with cause. Calls
// after the first wait for the first to finish.
func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	if c.state != Open {
		c.mu.Unlock()
		<-c.closed
		return
	}
	c.state = Closing
	c.cause = cause
	c.mu.Unlock()

	if cause == nil {
		c.log.Info("Closing connection")
	} else {
		c.log.Info("Closing lost connection", zap.Error(cause))
	}

	c.closeErr = c.closeSocket()

	// Closing the socket unblocks the read loop.
	<-c.readDone

	c.mu.Lock()
	drained := c.pending.drain(cause)
	c.state = Closed
	c.mu.Unlock()

	for _, p := range drained {
		if cause == nil {
			c.log.Debug("Cancelled pending command", zap.Stringer("verb", p.verb))
		} else {
			c.log.Debug("Failed pending command", zap.Stringer("verb", p.verb), zap.Error(cause))
		}
	}

	close(c.closed)

	c.log.Info("Connection closed", zap.Int("drained", len(drained)))
}

func (c *Conn) closeSocket() (err error) {
	if tcp, ok := c.conn.(*net.TCPConn); ok {
		if werr := tcp.CloseWrite(); werr != nil && !isNotConnected(werr) {
			err = multierr.Append(err, werr)
		}
	}

	if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}

	return err
}

// isNotConnected is true when the peer already shut the socket down.
func isNotConnected(err error) bool {
	return errors.Is(err, syscall.ENOTCONN)
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
