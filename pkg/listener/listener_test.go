package listener

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/format"
	"github.com/maxgio92/xprof/pkg/profiler"
	"github.com/maxgio92/xprof/pkg/protocol"
)

// MockConn implements the net.Conn interface for testing purposes
type MockConn struct {
	mock.Mock
}

func (m *MockConn) Read(b []byte) (n int, err error) {
	args := m.Called(b)
	return args.Int(0), args.Error(1)
}

func (m *MockConn) Write(b []byte) (n int, err error) {
	args := m.Called(b)
	return args.Int(0), args.Error(1)
}

func (m *MockConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockConn) LocalAddr() net.Addr {
	args := m.Called()
	return args.Get(0).(net.Addr)
}

func (m *MockConn) RemoteAddr() net.Addr {
	args := m.Called()
	return args.Get(0).(net.Addr)
}

func (m *MockConn) SetDeadline(t time.Time) error {
	args := m.Called(t)
	return args.Error(0)
}

func (m *MockConn) SetReadDeadline(t time.Time) error {
	args := m.Called(t)
	return args.Error(0)
}

func (m *MockConn) SetWriteDeadline(t time.Time) error {
	args := m.Called(t)
	return args.Error(0)
}

func encoded(t *testing.T, m protocol.Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	assert.NoError(t, protocol.Write(&buf, m))
	return buf.Bytes()
}

func TestListener_Serve(t *testing.T) {
	t.Run("should send the capture state on accept", func(t *testing.T) {
		logger := zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
		p := new(MockProfiler)
		p.On("IsEnabled").Return(true)
		p.On("IsEventTracingEnabled").Return(false)
		l := New(p, WithLogger(logger))

		hello := encoded(t, protocol.Message{Type: protocol.ConnectionAccepted, Enabled: true})

		mockConn := new(MockConn)
		mockConn.On("RemoteAddr").Return(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242})
		mockConn.On("Write", hello).Return(len(hello), nil)
		mockConn.On("SetReadDeadline", time.Time{}).Return(nil)
		mockConn.On("Read", mock.AnythingOfType("[]uint8")).Return(0, io.EOF)
		mockConn.On("Close").Return(nil)

		l.serve(context.Background(), mockConn)

		mockConn.AssertExpectations(t)
		p.AssertExpectations(t)
	})

	t.Run("should drop the connection when the peer is gone", func(t *testing.T) {
		logger := zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
		p := new(MockProfiler)
		p.On("IsEnabled").Return(false)
		p.On("IsEventTracingEnabled").Return(false)
		l := New(p, WithLogger(logger))

		mockConn := new(MockConn)
		mockConn.On("RemoteAddr").Return(&net.TCPAddr{})
		mockConn.On("Write", mock.AnythingOfType("[]uint8")).Return(0, syscall.EPIPE)
		mockConn.On("Close").Return(nil)

		l.serve(context.Background(), mockConn)

		mockConn.AssertExpectations(t)
		mockConn.AssertNotCalled(t, "Read", mock.Anything)
	})
}

func TestNext_KeepsPartialMessage(t *testing.T) {
	msg := encoded(t, protocol.Message{Type: protocol.ChangeBlockStatus, ID: 3, Status: 1})

	r := &chunkedReader{parts: [][]byte{msg[:5], nil, msg[5:]}}
	br := bufio.NewReader(r)

	_, err := next(br)
	assert.ErrorIs(t, err, errTimeout)

	m, err := next(br)
	assert.NoError(t, err)
	assert.Equal(t, protocol.ChangeBlockStatus, m.Type)
	assert.Equal(t, uint32(3), m.ID)
}

type session struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, l *Listener) *session {
	t.Helper()
	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	return &session{t: t, conn: conn}
}

func (s *session) send(m protocol.Message) {
	require.NoError(s.t, protocol.Write(s.conn, m))
}

func (s *session) expect(typ protocol.MessageType) protocol.Message {
	s.t.Helper()
	m, err := protocol.Read(s.conn)
	require.NoError(s.t, err)
	require.Equal(s.t, typ, m.Type)
	return m
}

func startListener(t *testing.T, p Profiler) *Listener {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t))
	l := New(p, WithLogger(logger), WithPollInterval(5*time.Millisecond))
	require.NoError(t, l.Start(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() { assert.NoError(t, l.Stop()) })

	return l
}

func newProfiler(t *testing.T) *profiler.Profiler {
	t.Helper()
	p := profiler.New(
		profiler.WithLogger(zerolog.New(zerolog.NewTestWriter(t))),
		profiler.WithGracePeriod(time.Millisecond),
	)
	t.Cleanup(p.Close)
	return p
}

func TestListener_StartStopCapture(t *testing.T) {
	p := newProfiler(t)
	l := startListener(t, p)
	frame := p.Register("frame", "main.go", 1, block.TypeBlock, block.ColorBlue, block.On)
	update := p.Register("update", "main.go", 2, block.TypeBlock, block.ColorGreen, block.On)

	s := dial(t, l)
	hello := s.expect(protocol.ConnectionAccepted)
	require.False(t, hello.Enabled)

	s.send(protocol.Message{Type: protocol.RequestStartCapture})
	s.expect(protocol.ReplyCapturingStarted)
	require.True(t, p.IsEnabled())

	th := p.RegisterThread("main")
	for i := 0; i < 5; i++ {
		th.Begin(frame)
		th.Begin(update)
		th.End()
		th.End()
	}

	s.send(protocol.Message{Type: protocol.Ping})
	s.send(protocol.Message{Type: protocol.RequestStopCapture})

	m := s.expect(protocol.ReplyBlocks)
	payload, err := protocol.ReadPayload(s.conn, m)
	require.NoError(t, err)
	s.expect(protocol.ReplyBlocksEnd)

	c, err := format.Read(bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, 10, c.BlocksCount())
	require.Len(t, c.Threads, 1)
	require.Len(t, c.Descriptors, 2)
	require.False(t, p.IsEnabled())
}

func TestListener_StopWithoutBlocks(t *testing.T) {
	l := startListener(t, newProfiler(t))

	s := dial(t, l)
	s.expect(protocol.ConnectionAccepted)
	s.send(protocol.Message{Type: protocol.RequestStartCapture})
	s.expect(protocol.ReplyCapturingStarted)
	s.send(protocol.Message{Type: protocol.RequestStopCapture})
	s.expect(protocol.ReplyCapturingStopped)
}

func TestListener_Descriptions(t *testing.T) {
	p := newProfiler(t)
	l := startListener(t, p)
	d := p.Register("frame", "main.go", 1, block.TypeBlock, block.ColorBlue, block.On)
	p.Register("tick", "main.go", 2, block.TypeEvent, block.ColorRed, block.On)

	s := dial(t, l)
	s.expect(protocol.ConnectionAccepted)

	s.send(protocol.Message{Type: protocol.ChangeBlockStatus, ID: d.ID(), Status: block.OffRecursive})
	s.send(protocol.Message{Type: protocol.ChangeEventTracingStatus, Enabled: true})
	s.send(protocol.Message{Type: protocol.RequestBlockDescriptions})

	m := s.expect(protocol.ReplyBlockDescriptions)
	payload, err := protocol.ReadPayload(s.conn, m)
	require.NoError(t, err)
	s.expect(protocol.ReplyBlockDescriptionsEnd)

	descs, err := format.ReadDescriptorTable(bytes.NewReader(payload))
	require.NoError(t, err)
	require.Len(t, descs, 2)
	require.Equal(t, "tick", descs[1].Name)
	require.Equal(t, block.OffRecursive, descs[0].Status, "messages are handled in order")
	require.True(t, p.IsEventTracingEnabled())
}

func TestListener_MainThreadFPS(t *testing.T) {
	p := new(MockProfiler)
	p.On("IsEnabled").Return(false)
	p.On("IsEventTracingEnabled").Return(false)
	p.On("MainThreadFrameTime").Return(16*time.Millisecond, 8*time.Millisecond)
	l := startListener(t, p)

	s := dial(t, l)
	s.expect(protocol.ConnectionAccepted)
	s.send(protocol.Message{Type: protocol.RequestMainThreadFPS})
	m := s.expect(protocol.ReplyMainThreadFPS)
	require.Equal(t, uint32(16000), m.MaxFrame)
	require.Equal(t, uint32(8000), m.AvgFrame)
}

func TestListener_LostConnectionCancelsDump(t *testing.T) {
	cancelled := make(chan struct{})
	p := new(MockProfiler)
	p.On("IsEnabled").Return(true)
	p.On("IsEventTracingEnabled").Return(false)
	p.On("Dump", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
		close(cancelled)
	}).Return(uint32(0), context.Canceled)
	l := startListener(t, p)

	s := dial(t, l)
	hello := s.expect(protocol.ConnectionAccepted)
	require.True(t, hello.Enabled)
	s.send(protocol.Message{Type: protocol.RequestStopCapture})
	require.NoError(t, s.conn.Close())

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("dump not cancelled after the connection was lost")
	}

	// The listener accepts a new connection afterwards.
	s = dial(t, l)
	s.expect(protocol.ConnectionAccepted)
}

func TestListener_StartStop(t *testing.T) {
	l := New(new(MockProfiler))
	require.False(t, l.Listening())
	require.Nil(t, l.Addr())

	require.NoError(t, l.Start(context.Background(), "127.0.0.1:0"))
	require.True(t, l.Listening())
	require.ErrorIs(t, l.Start(context.Background(), "127.0.0.1:0"), ErrAlreadyListening)

	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop())
	require.False(t, l.Listening())
}

func TestListener_StopWithIdleConnection(t *testing.T) {
	l := New(newProfiler(t), WithLogger(zerolog.New(zerolog.NewTestWriter(t))))
	require.NoError(t, l.Start(context.Background(), "127.0.0.1:0"))

	s := dial(t, l)
	s.expect(protocol.ConnectionAccepted)

	stopped := make(chan error, 1)
	go func() { stopped <- l.Stop() }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stop blocked on an idle connection")
	}
	require.False(t, l.Listening())

	_, err := protocol.Read(s.conn)
	require.Error(t, err, "the connection is closed by stop")
}
