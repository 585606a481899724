// Package client drives a capture listener over the control protocol.
package client

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/format"
	"github.com/maxgio92/xprof/pkg/protocol"
)

const DefaultTimeout = 5 * time.Second

type Options struct {
	logger  log.Logger
	timeout time.Duration
}

type Option func(*Options)

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}

// WithTimeout bounds every request but the capture stop, which waits for
// the dump as long as its context allows.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.timeout = d
	}
}

// State is the capture state reported by the listener on connection.
type State struct {
	Enabled      bool
	EventTracing bool
}

// Client is a control connection. It is safe for concurrent use, requests
// being serialized.
type Client struct {
	*Options
	logger log.Logger

	mu    sync.Mutex
	conn  net.Conn
	r     *bufio.Reader
	state State
}

// Dial connects to the listener at addr and waits for its handshake.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	c := &Client{
		Options: &Options{logger: log.Nop(), timeout: DefaultTimeout},
	}
	for _, f := range opts {
		f(c.Options)
	}
	c.logger = c.Options.logger.With().Str("component", "client").Logger()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", addr)
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)

	c.deadline(ctx)
	m, err := c.read()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to read handshake")
	}
	if m.Type != protocol.ConnectionAccepted {
		conn.Close()
		return nil, errors.Wrapf(ErrUnexpectedReply, "handshake: %s", m.Type)
	}
	c.state = State{Enabled: m.Enabled, EventTracing: m.EventTracing}
	c.logger.Debug().Str("addr", addr).Bool("enabled", m.Enabled).Msg("connected")

	return c, nil
}

// State returns the capture state received with the handshake.
func (c *Client) State() State {
	return c.state
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// StartCapture enables capture on the remote profiler.
func (c *Client) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deadline(ctx)
	if err := protocol.Write(c.conn, protocol.Message{Type: protocol.RequestStartCapture}); err != nil {
		return err
	}
	_, err := c.expect(protocol.ReplyCapturingStarted)

	return err
}

// StopCapture stops capture and returns the dumped capture stream. It
// returns ErrNothingCaptured when the profiler had nothing to dump.
func (c *Client) StopCapture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetDeadline(time.Time{})
	if d, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(d)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := protocol.Write(c.conn, protocol.Message{Type: protocol.RequestStopCapture}); err != nil {
		return nil, c.cause(ctx, err)
	}
	m, err := c.read()
	if err != nil {
		return nil, c.cause(ctx, err)
	}
	switch m.Type {
	case protocol.ReplyCapturingStopped:
		return nil, ErrNothingCaptured
	case protocol.ReplyBlocks:
	default:
		return nil, errors.Wrapf(ErrUnexpectedReply, "got %s", m.Type)
	}

	payload, err := protocol.ReadPayload(c.r, m)
	if err != nil {
		return nil, c.cause(ctx, err)
	}
	if _, err := c.expect(protocol.ReplyBlocksEnd); err != nil {
		return nil, c.cause(ctx, err)
	}
	c.logger.Debug().Int("bytes", len(payload)).Msg("capture received")

	return payload, nil
}

// Descriptions returns the descriptor table of the remote profiler.
func (c *Client) Descriptions(ctx context.Context) ([]format.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deadline(ctx)
	if err := protocol.Write(c.conn, protocol.Message{Type: protocol.RequestBlockDescriptions}); err != nil {
		return nil, err
	}
	m, err := c.expect(protocol.ReplyBlockDescriptions)
	if err != nil {
		return nil, err
	}
	payload, err := protocol.ReadPayload(c.r, m)
	if err != nil {
		return nil, err
	}
	if _, err := c.expect(protocol.ReplyBlockDescriptionsEnd); err != nil {
		return nil, err
	}

	return format.ReadDescriptorTable(bytes.NewReader(payload))
}

// SetBlockStatus asks for a descriptor status change. The listener does not
// acknowledge it; changes are rejected while capture is enabled.
func (c *Client) SetBlockStatus(ctx context.Context, id uint32, status block.Status) error {
	return c.send(ctx, protocol.Message{Type: protocol.ChangeBlockStatus, ID: id, Status: status})
}

func (c *Client) SetEventTracing(ctx context.Context, enabled bool) error {
	return c.send(ctx, protocol.Message{Type: protocol.ChangeEventTracingStatus, Enabled: enabled})
}

func (c *Client) Ping(ctx context.Context) error {
	return c.send(ctx, protocol.Message{Type: protocol.Ping})
}

// MainThreadFPS returns the maximum and average frame time of the remote
// main thread.
func (c *Client) MainThreadFPS(ctx context.Context) (maxFrame, avgFrame time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deadline(ctx)
	if err := protocol.Write(c.conn, protocol.Message{Type: protocol.RequestMainThreadFPS}); err != nil {
		return 0, 0, err
	}
	m, err := c.expect(protocol.ReplyMainThreadFPS)
	if err != nil {
		return 0, 0, err
	}

	return time.Duration(m.MaxFrame) * time.Microsecond, time.Duration(m.AvgFrame) * time.Microsecond, nil
}

func (c *Client) send(ctx context.Context, m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deadline(ctx)
	return protocol.Write(c.conn, m)
}

func (c *Client) read() (protocol.Message, error) {
	return protocol.Read(c.r)
}

func (c *Client) expect(typ protocol.MessageType) (protocol.Message, error) {
	m, err := c.read()
	if err != nil {
		return m, errors.Wrapf(err, "waiting for %s", typ)
	}
	if m.Type != typ {
		return m, errors.Wrapf(ErrUnexpectedReply, "waiting for %s, got %s", typ, m.Type)
	}

	return m, nil
}

// deadline bounds the next request by the client timeout and ctx.
func (c *Client) deadline(ctx context.Context) {
	d := time.Now().Add(c.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		d = cd
	}
	c.conn.SetDeadline(d)
}

func (c *Client) cause(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), err.Error())
	}
	return err
}
