// Package listener serves the control protocol of a profiler: remote
// clients start and stop captures, receive the dumped stream and tune the
// descriptor statuses.
package listener

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/maxgio92/xprof/internal/utils"
	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/format"
	"github.com/maxgio92/xprof/pkg/protocol"
)

// Profiler is the capture engine driven by the listener.
type Profiler interface {
	SetEnabled(enabled bool)
	IsEnabled() bool
	SetEventTracingEnabled(enabled bool)
	IsEventTracingEnabled() bool
	SetBlockStatus(id uint32, status block.Status) bool
	Descriptors() []format.Descriptor
	MainThreadFrameTime() (maxFrame, avgFrame time.Duration)
	Dump(ctx context.Context, w io.Writer) (uint32, error)
}

// Listener accepts one control connection at a time.
type Listener struct {
	*Options
	logger   log.Logger
	profiler Profiler

	mu     sync.Mutex
	ln     net.Listener
	conn   net.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func New(p Profiler, opts ...Option) *Listener {
	l := &Listener{
		Options:  &Options{logger: log.Nop(), pollInterval: DefaultPollInterval},
		profiler: p,
	}
	for _, f := range opts {
		f(l.Options)
	}
	l.logger = l.Options.logger.With().Str("component", "listener").Logger()

	return l
}

// Start listens on the TCP address addr and serves connections in the
// background until Stop is called or ctx is done.
func (l *Listener) Start(ctx context.Context, addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return ErrAlreadyListening
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	ctx, cancel := context.WithCancel(ctx)
	l.ln = ln
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.acceptConnections(ctx, ln, l.done)
	l.logger.Info().Str("addr", ln.Addr().String()).Msg("listening for control connections")

	return nil
}

// Stop closes the listener and the current connection, and waits for the
// serving goroutine to return.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.ln == nil {
		l.mu.Unlock()
		return nil
	}
	l.cancel()
	err := l.ln.Close()
	if l.conn != nil {
		l.conn.Close()
	}
	done := l.done
	l.ln = nil
	l.mu.Unlock()

	<-done
	l.logger.Debug().Msg("listener stopped")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "failed to close listener")
	}

	return nil
}

// Addr returns the listening address, or nil when not listening.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.ln != nil
}

func (l *Listener) acceptConnections(ctx context.Context, ln net.Listener, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug().Msg("stopping accepting connections")
			return
		default:
		}

		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				l.logger.Debug().Msg("ignoring accepting connection as it is closed")
				return
			}
			l.logger.Warn().Err(err).Msg("accept error")
			continue
		}

		l.mu.Lock()
		if ctx.Err() != nil {
			// Stop ran between Accept and here and found no connection to close.
			l.mu.Unlock()
			conn.Close()
			return
		}
		l.conn = conn
		l.mu.Unlock()

		l.serve(ctx, conn)

		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
	}
}

// pendingDump is a dump running on its own worker.
type pendingDump struct {
	group  *errgroup.Group
	cancel context.CancelFunc
	done   chan struct{}

	buf     bytes.Buffer
	records uint32
	err     error
}

func (l *Listener) startDump(ctx context.Context) *pendingDump {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	d := &pendingDump{group: g, cancel: cancel, done: make(chan struct{})}

	g.Go(func() error {
		defer close(d.done)
		d.records, d.err = l.profiler.Dump(gctx, &d.buf)
		return d.err
	})

	return d
}

// discard cancels the dump and drops its buffer.
func (d *pendingDump) discard() {
	d.cancel()
	_ = d.group.Wait()
	d.buf.Reset()
}

// serve handles a control connection until it is lost.
func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer context.AfterFunc(ctx, func() { conn.Close() })()

	logger := l.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Info().Msg("connection accepted")

	hello := protocol.Message{
		Type:         protocol.ConnectionAccepted,
		Enabled:      l.profiler.IsEnabled(),
		EventTracing: l.profiler.IsEventTracingEnabled(),
	}
	if err := l.safeWrite(conn, func(w io.Writer) error { return protocol.Write(w, hello) }); err != nil {
		logger.Debug().Err(err).Msg("failed to send handshake")
		return
	}

	br := bufio.NewReader(conn)
	var dump *pendingDump
	defer func() {
		if dump != nil {
			dump.discard()
		}
	}()

	for {
		if dump != nil {
			select {
			case <-dump.done:
				err := l.sendDump(conn, dump)
				dump.cancel()
				dump = nil
				if err != nil {
					logger.Debug().Err(err).Msg("connection lost while sending capture")
					return
				}
			default:
			}
		}

		deadline := time.Time{}
		if dump != nil {
			deadline = time.Now().Add(l.pollInterval)
		}
		conn.SetReadDeadline(deadline)

		m, err := next(br)
		if err != nil {
			var nerr net.Error
			if dump != nil && errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() == nil && !isClosed(err) {
				logger.Warn().Err(err).Msg("bad control message")
			}
			logger.Info().Msg("connection lost")
			return
		}

		if err := l.handle(ctx, conn, m, &dump); err != nil {
			logger.Debug().Err(err).Msg("connection lost")
			return
		}
	}
}

// next reads a whole message from br. Incomplete messages stay buffered
// when the read times out.
func next(br *bufio.Reader) (protocol.Message, error) {
	hdr, err := br.Peek(protocol.HeaderSize)
	if err != nil {
		return protocol.Message{}, err
	}
	if _, err := br.Peek(protocol.Size(protocol.MessageType(hdr[4]))); err != nil {
		return protocol.Message{}, err
	}

	return protocol.Read(br)
}

func (l *Listener) handle(ctx context.Context, conn net.Conn, m protocol.Message, dump **pendingDump) error {
	l.logger.Debug().Str("type", m.Type.String()).Msg("control message")

	switch m.Type {
	case protocol.RequestStartCapture:
		l.profiler.SetEnabled(true)
		return l.reply(conn, protocol.Message{Type: protocol.ReplyCapturingStarted})

	case protocol.RequestStopCapture:
		if *dump != nil {
			return nil
		}
		*dump = l.startDump(ctx)

	case protocol.RequestBlockDescriptions:
		var payload bytes.Buffer
		if err := format.DescriptorTable(&payload, l.profiler.Descriptors()); err != nil {
			return err
		}
		return l.safeWrite(conn, func(w io.Writer) error {
			if err := protocol.WriteData(w, protocol.ReplyBlockDescriptions, payload.Bytes()); err != nil {
				return err
			}
			return protocol.Write(w, protocol.Message{Type: protocol.ReplyBlockDescriptionsEnd})
		})

	case protocol.ChangeBlockStatus:
		if !l.profiler.SetBlockStatus(m.ID, m.Status) {
			l.logger.Warn().Uint32("id", m.ID).Str("status", m.Status.String()).Msg("block status change rejected")
		}

	case protocol.ChangeEventTracingStatus:
		l.profiler.SetEventTracingEnabled(m.Enabled)

	case protocol.RequestMainThreadFPS:
		maxFrame, avgFrame := l.profiler.MainThreadFrameTime()
		return l.reply(conn, protocol.Message{
			Type:     protocol.ReplyMainThreadFPS,
			MaxFrame: utils.Micros(int64(maxFrame)),
			AvgFrame: utils.Micros(int64(avgFrame)),
		})

	case protocol.Ping:

	default:
		l.logger.Warn().Str("type", m.Type.String()).Msg("ignoring unexpected message")
	}

	return nil
}

func (l *Listener) sendDump(conn net.Conn, d *pendingDump) error {
	if d.err != nil || d.records == 0 {
		if d.err != nil {
			l.logger.Error().Err(d.err).Msg("capture dump failed")
		}
		return l.reply(conn, protocol.Message{Type: protocol.ReplyCapturingStopped})
	}

	l.logger.Info().Uint32("records", d.records).Int("bytes", d.buf.Len()).Msg("sending capture")
	return l.safeWrite(conn, func(w io.Writer) error {
		if err := protocol.WriteData(w, protocol.ReplyBlocks, d.buf.Bytes()); err != nil {
			return err
		}
		return protocol.Write(w, protocol.Message{Type: protocol.ReplyBlocksEnd})
	})
}

func (l *Listener) reply(conn net.Conn, m protocol.Message) error {
	return l.safeWrite(conn, func(w io.Writer) error { return protocol.Write(w, m) })
}

func (l *Listener) safeWrite(conn net.Conn, write func(io.Writer) error) error {
	err := write(conn)
	if err != nil {
		switch {
		case errors.Is(err, syscall.EPIPE):
			conn.Close()
			return errors.Wrap(err, "peer closed the connection")
		case errors.Is(err, syscall.ECONNRESET):
			conn.Close()
			return errors.Wrap(err, "peer reset the connection")
		default:
			return errors.Wrap(err, "failed to write")
		}
	}
	return nil
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET)
}
