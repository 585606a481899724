package profiler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/rs/zerolog"

	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/format"
)

// Profiler is the capture coordinator. It is the single authority on
// whether capture is enabled and owns the descriptor registry and the
// recording storage of every registered thread.
type Profiler struct {
	*Options
	logger log.Logger

	registry *block.Registry

	enabled      atomic.Bool
	eventTracing atomic.Bool
	beginTime    atomic.Int64
	endTime      atomic.Int64

	// toggleMu serializes enable toggles with the drain step of a dump.
	toggleMu sync.Mutex
	// dumpMu serializes dumps.
	dumpMu sync.Mutex

	threadsMu    sync.Mutex
	threads      map[uint64]*Thread
	nextThreadID atomic.Uint64
	mainThread   atomic.Uint64

	frameMax atomic.Int64
	frameCur atomic.Int64
	frameAvg atomic.Int64
	frameGen atomic.Uint64

	bookmarksMu sync.Mutex
	bookmarks   []format.Bookmark
}

func New(opts ...Option) *Profiler {
	p := &Profiler{
		Options:  defaultOptions(),
		registry: block.NewRegistry(),
		threads:  make(map[uint64]*Thread),
	}
	for _, f := range opts {
		f(p.Options)
	}
	if p.clock == nil {
		p.clock = monotonicClock()
	}
	p.logger = p.Options.logger.With().Str("component", "profiler").Logger()

	return p
}

var (
	defaultProfiler *Profiler
	defaultOnce     sync.Once
)

// Default returns the process-wide profiler, creating it on first use.
func Default() *Profiler {
	defaultOnce.Do(func() {
		defaultProfiler = New()
	})

	return defaultProfiler
}

// monotonicClock returns nanoseconds anchored to the wall clock at creation
// and advanced by the monotonic clock.
func monotonicClock() func() int64 {
	base := time.Now()
	wall := base.UnixNano()

	return func() int64 {
		return wall + int64(time.Since(base))
	}
}

// Now returns the current time in stream ticks.
func (p *Profiler) Now() int64 {
	return p.clock()
}

// Registry returns the descriptor registry.
func (p *Profiler) Registry() *block.Registry {
	return p.registry
}

// Register returns the descriptor of the call site at file:line named name,
// creating it on first use. Registering the same call site again returns
// the same descriptor.
func (p *Profiler) Register(name, file string, line int, typ block.Type, color block.Color, status block.Status) *block.Descriptor {
	token := fmt.Sprintf("%s:%d:%s", file, line, name)

	return p.registry.Register(token, name, file, line, typ, color, status)
}

// Descriptors returns the serialized form of the registered descriptors.
func (p *Profiler) Descriptors() []format.Descriptor {
	descs := p.registry.Descriptors()
	out := make([]format.Descriptor, 0, len(descs))
	for _, d := range descs {
		out = append(out, format.DescriptorOf(d))
	}

	return out
}

// SetEnabled turns capture on or off and stamps the session bounds.
func (p *Profiler) SetEnabled(enabled bool) {
	p.toggleMu.Lock()
	defer p.toggleMu.Unlock()

	p.setEnabled(enabled)
}

func (p *Profiler) setEnabled(enabled bool) {
	if p.enabled.Load() == enabled {
		return
	}
	now := p.Now()
	if enabled {
		p.beginTime.Store(now)
		p.endTime.Store(0)
		p.registry.Freeze()
		p.enabled.Store(true)
		p.logger.Info().Msg("capture enabled")
		return
	}
	p.enabled.Store(false)
	p.endTime.Store(now)
	p.registry.Unfreeze()
	p.logger.Info().Dur("duration", time.Duration(now-p.beginTime.Load())).Msg("capture disabled")
}

func (p *Profiler) IsEnabled() bool {
	return p.enabled.Load()
}

// SetEventTracingEnabled toggles the recording of context switches.
func (p *Profiler) SetEventTracingEnabled(enabled bool) {
	p.eventTracing.Store(enabled)
	p.logger.Debug().Bool("enabled", enabled).Msg("event tracing toggled")
}

func (p *Profiler) IsEventTracingEnabled() bool {
	return p.eventTracing.Load()
}

// SetBlockStatus changes the status of the descriptor id. It is rejected
// while capture is enabled.
func (p *Profiler) SetBlockStatus(id uint32, status block.Status) bool {
	ok := p.registry.SetStatus(id, status)
	p.logger.Debug().
		Uint32("id", id).
		Str("status", status.String()).
		Bool("applied", ok).
		Msg("block status change")

	return ok
}

// AddBookmark records a labelled point in time of the current capture.
// Bookmarks are written after the thread sections of the next dump.
func (p *Profiler) AddBookmark(text string, color block.Color) {
	b := format.Bookmark{Pos: p.Now(), Color: color, Text: text}

	p.bookmarksMu.Lock()
	p.bookmarks = append(p.bookmarks, b)
	p.bookmarksMu.Unlock()
}

// StoreContextSwitch records a context switch into the sync stream of the
// thread threadID. It is a no-op unless both capture and event tracing are
// enabled.
func (p *Profiler) StoreContextSwitch(threadID uint64, cs format.ContextSwitch) {
	if !p.enabled.Load() || !p.eventTracing.Load() {
		return
	}
	t, ok := p.Thread(threadID)
	if !ok {
		return
	}
	if len(cs.Process) > MaxNameSize {
		cs.Process = cs.Process[:MaxNameSize]
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if rec := t.sync.Allocate(uint16(format.ContextSwitchRecordSize(cs.Process))); rec != nil {
		format.PutContextSwitch(rec, cs)
	}
}

// MainThreadFrameTime returns the maximum and average frame duration of the
// main thread over the current window.
func (p *Profiler) MainThreadFrameTime() (maxFrame, avgFrame time.Duration) {
	return time.Duration(p.frameMax.Load()), time.Duration(p.frameAvg.Load())
}

// MainThreadFrameStats returns the frame statistics of the main thread.
func (p *Profiler) MainThreadFrameStats() FrameStats {
	return FrameStats{
		Max:     time.Duration(p.frameMax.Load()),
		Current: time.Duration(p.frameCur.Load()),
		Average: time.Duration(p.frameAvg.Load()),
	}
}

// ResetFrameStats restarts the frame windows of every thread. Threads pick
// the request up at their next frame end.
func (p *Profiler) ResetFrameStats() {
	p.frameGen.Add(1)
	p.frameMax.Store(0)
	p.frameCur.Store(0)
	p.frameAvg.Store(0)
}

func (p *Profiler) publishFrame(s FrameStats) {
	p.frameMax.Store(int64(s.Max))
	p.frameCur.Store(int64(s.Current))
	p.frameAvg.Store(int64(s.Average))
}

// Stats is a snapshot of the profiler state.
type Stats struct {
	Enabled      bool
	EventTracing bool
	BeginTime    int64
	EndTime      int64
	Threads      int
	Descriptors  int
	Records      int
	Bookmarks    int
}

func (p *Profiler) Stats() Stats {
	s := Stats{
		Enabled:      p.enabled.Load(),
		EventTracing: p.eventTracing.Load(),
		BeginTime:    p.beginTime.Load(),
		EndTime:      p.endTime.Load(),
		Descriptors:  p.registry.Len(),
	}

	p.threadsMu.Lock()
	s.Threads = len(p.threads)
	for _, t := range p.threads {
		t.mu.Lock()
		s.Records += t.blocks.Size() + t.sync.Size()
		t.mu.Unlock()
	}
	p.threadsMu.Unlock()

	p.bookmarksMu.Lock()
	s.Bookmarks = len(p.bookmarks)
	p.bookmarksMu.Unlock()

	return s
}

// Close disables capture and drops every thread storage.
func (p *Profiler) Close() {
	p.SetEnabled(false)

	p.threadsMu.Lock()
	defer p.threadsMu.Unlock()

	for id, t := range p.threads {
		t.expired.Store(true)
		delete(p.threads, id)
	}
	p.mainThread.Store(0)
}
