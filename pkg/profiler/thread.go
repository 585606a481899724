package profiler

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/chunk"
	"github.com/maxgio92/xprof/pkg/format"
	"github.com/maxgio92/xprof/pkg/stack"
)

// openBlock is a block on the stack of a thread, not closed yet.
type openBlock struct {
	desc   *block.Descriptor
	name   string
	begin  int64
	status block.Status
}

// Thread is the recording storage of one instrumented goroutine. The
// recording methods (Begin, End, Event and the value stores) must only be
// called by the goroutine owning the handle.
type Thread struct {
	p *Profiler

	id      uint64
	name    string
	osTID   int
	guarded bool
	expired atomic.Bool

	// Owned by the recording goroutine.
	depth         int32
	allowChildren bool
	stack         *stack.Buffer[openBlock]
	frame         frameTimer

	// mu guards the allocators against a concurrent dump.
	mu     sync.Mutex
	blocks *chunk.Allocator
	sync   *chunk.Allocator

	frameMax atomic.Int64
	frameCur atomic.Int64
	frameAvg atomic.Int64
}

func (t *Thread) ID() uint64 {
	return t.id
}

func (t *Thread) Name() string {
	return t.name
}

// Depth returns the number of blocks opened while nested under a skipped
// frame and not closed yet.
func (t *Thread) Depth() int {
	return int(t.depth)
}

// Open returns the number of open blocks.
func (t *Thread) Open() int {
	return t.stack.Len()
}

func (t *Thread) Expired() bool {
	return t.expired.Load()
}

// Begin opens a block of the descriptor d.
func (t *Thread) Begin(d *block.Descriptor) {
	t.BeginNamed(d, "")
}

// BeginNamed opens a block of the descriptor d carrying a runtime name.
func (t *Thread) BeginNamed(d *block.Descriptor, name string) {
	t.depth++
	if t.depth > 1 {
		// Nested under a frame opened while disabled.
		t.stack.Push(openBlock{desc: d, status: block.Off})
		return
	}
	if !t.p.enabled.Load() {
		t.stack.Push(openBlock{desc: d, status: block.Off})
		t.frame.begin(t.p.Now())
		return
	}

	t.depth = 0
	b := openBlock{desc: d, name: name}
	st := d.Status()
	switch {
	case t.allowChildren && st.IsOn():
		b.status = st
		b.begin = t.p.Now()
		t.allowChildren = !st.IsRecursiveOff()
	case !t.allowChildren && st.IsForced():
		b.status = block.ForceOnWithoutChildren
		b.begin = t.p.Now()
	case t.allowChildren && !st.IsRecursiveOff():
		// Off without the recursive bit leaves the children their own say.
		b.status = block.Off
	default:
		b.status = block.OffRecursive
		t.allowChildren = false
	}
	if t.stack.Empty() {
		t.frame.begin(t.p.Now())
	}
	t.stack.Push(b)
}

// End closes the innermost open block.
func (t *Thread) End() {
	if t.stack.Empty() {
		t.depth = 0
		return
	}

	t.depth--
	if t.depth > 0 {
		t.stack.Pop()
		return
	}
	t.depth = 0

	// A block timed while enabled is committed even when capture has been
	// disabled since it opened. It is committed before the pop so that the
	// record of an outermost block stays inside its frame.
	if b := t.stack.Top(); b.status.IsOn() {
		t.commit(b.desc.ID(), b.begin, t.p.Now(), b.name, b.desc.Type())
	}
	t.stack.Pop()

	if t.stack.Empty() {
		t.mu.Lock()
		t.blocks.PutMark()
		t.mu.Unlock()
		t.endFrame()
		t.allowChildren = true
		return
	}
	t.allowChildren = !t.stack.Top().status.IsRecursiveOff()
}

// Event records a zero-duration block of the descriptor d.
func (t *Thread) Event(d *block.Descriptor, name string) {
	if !t.recordable(d) {
		return
	}
	now := t.p.Now()
	t.commit(d.ID(), now, now, name, d.Type())
	if t.stack.Empty() {
		t.mu.Lock()
		t.blocks.PutMark()
		t.mu.Unlock()
	}
}

// recordable reports whether a point-in-time record of d is kept, applying
// the checks Begin applies to a block opened while enabled.
func (t *Thread) recordable(d *block.Descriptor) bool {
	if t.depth > 0 || !t.p.enabled.Load() {
		return false
	}
	st := d.Status()

	return (t.allowChildren && st.IsOn()) || (!t.allowChildren && st.IsForced())
}

func (t *Thread) commit(id uint32, begin, end int64, name string, typ block.Type) {
	if typ == block.TypeValue {
		return
	}
	if len(name) > MaxNameSize {
		name = name[:MaxNameSize]
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if rec := t.allocate(uint16(format.BlockRecordSize(name))); rec != nil {
		format.PutBlock(rec, id, begin, end, name)
	}
}

// allocate appends a record to the thread storage; t.mu must be held.
// Outside a frame every record before it belongs to a closed frame, so the
// record is placed past the mark and a dump that runs before the following
// PutMark still flushes those frames.
func (t *Thread) allocate(n uint16) []byte {
	if t.stack.Empty() {
		return t.blocks.MarkedAllocate(n)
	}

	return t.blocks.Allocate(n)
}

// StoreValue attaches an arbitrary value to the open block. The descriptor
// must be of type block.TypeValue.
func (t *Thread) StoreValue(d *block.Descriptor, vt block.ValueType, data []byte, isArray bool, valueID uint64) {
	if d.Type() != block.TypeValue || !t.recordable(d) {
		return
	}
	size := format.ValueRecordSize(data)
	if size > math.MaxUint16 {
		return
	}
	ts := t.p.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if rec := t.allocate(uint16(size)); rec != nil {
		format.PutValue(rec, d.ID(), ts, valueID, vt, isArray, data)
	}
	if t.stack.Empty() {
		t.blocks.PutMark()
	}
}

// FrameStats are rolling frame durations over the current window.
type FrameStats struct {
	Max     time.Duration
	Current time.Duration
	Average time.Duration
}

// FrameStats returns the frame statistics of the thread. It is safe to call
// from any goroutine.
func (t *Thread) FrameStats() FrameStats {
	return FrameStats{
		Max:     time.Duration(t.frameMax.Load()),
		Current: time.Duration(t.frameCur.Load()),
		Average: time.Duration(t.frameAvg.Load()),
	}
}

func (t *Thread) endFrame() {
	if !t.frame.open {
		return
	}
	if gen := t.p.frameGen.Load(); gen != t.frame.gen {
		t.frame.reset(gen)
	}
	s := t.frame.end(t.p.Now(), t.p.frameWindow)

	t.frameMax.Store(int64(s.Max))
	t.frameCur.Store(int64(s.Current))
	t.frameAvg.Store(int64(s.Average))
	if t.p.mainThread.Load() == t.id {
		t.p.publishFrame(s)
	}
}

// frameTimer accumulates the durations of top-level spans.
type frameTimer struct {
	open  bool
	start int64

	gen   uint64
	max   int64
	sum   int64
	count int
}

func (f *frameTimer) begin(now int64) {
	if f.open {
		return
	}
	f.open = true
	f.start = now
}

func (f *frameTimer) end(now int64, window int) FrameStats {
	f.open = false
	d := now - f.start
	if f.count >= window {
		f.max, f.sum, f.count = 0, 0, 0
	}
	if d > f.max {
		f.max = d
	}
	f.sum += d
	f.count++

	return FrameStats{
		Max:     time.Duration(f.max),
		Current: time.Duration(d),
		Average: time.Duration(f.sum / int64(f.count)),
	}
}

func (f *frameTimer) reset(gen uint64) {
	f.max, f.sum, f.count = 0, 0, 0
	f.gen = gen
}
