package listener

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"

	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/format"
)

// MockProfiler implements the Profiler interface for testing purposes
type MockProfiler struct {
	mock.Mock
}

func (m *MockProfiler) SetEnabled(enabled bool) {
	m.Called(enabled)
}

func (m *MockProfiler) IsEnabled() bool {
	return m.Called().Bool(0)
}

func (m *MockProfiler) SetEventTracingEnabled(enabled bool) {
	m.Called(enabled)
}

func (m *MockProfiler) IsEventTracingEnabled() bool {
	return m.Called().Bool(0)
}

func (m *MockProfiler) SetBlockStatus(id uint32, status block.Status) bool {
	return m.Called(id, status).Bool(0)
}

func (m *MockProfiler) Descriptors() []format.Descriptor {
	return m.Called().Get(0).([]format.Descriptor)
}

func (m *MockProfiler) MainThreadFrameTime() (time.Duration, time.Duration) {
	args := m.Called()
	return args.Get(0).(time.Duration), args.Get(1).(time.Duration)
}

func (m *MockProfiler) Dump(ctx context.Context, w io.Writer) (uint32, error) {
	args := m.Called(ctx, w)
	return args.Get(0).(uint32), args.Error(1)
}

var errTimeout = errors.New("i/o timeout")

// chunkedReader returns one part per Read, a nil part standing for a timeout.
type chunkedReader struct {
	parts [][]byte
}

func (r *chunkedReader) Read(b []byte) (int, error) {
	if len(r.parts) == 0 {
		return 0, io.EOF
	}
	part := r.parts[0]
	r.parts = r.parts[1:]
	if part == nil {
		return 0, errTimeout
	}
	return copy(b, part), nil
}
