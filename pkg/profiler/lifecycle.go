package profiler

import (
	"context"
	"slices"

	"github.com/maxgio92/xprof/pkg/chunk"
	"github.com/maxgio92/xprof/pkg/stack"
)

type threadOptions struct {
	main  bool
	guard bool
}

type ThreadOption func(*threadOptions)

// WithMainThread makes the thread the one whose frames are published as
// the process frame time.
func WithMainThread() ThreadOption {
	return func(o *threadOptions) {
		o.main = true
	}
}

// WithGuard ties the thread storage to the OS thread of the caller, which
// should have called runtime.LockOSThread. The storage expires when the OS
// thread no longer exists.
func WithGuard() ThreadOption {
	return func(o *threadOptions) {
		o.guard = true
	}
}

// RegisterThread creates the recording storage of the calling goroutine.
// It is the only call of the recording path taking a shared lock.
func (p *Profiler) RegisterThread(name string, opts ...ThreadOption) *Thread {
	o := new(threadOptions)
	for _, f := range opts {
		f(o)
	}

	t := &Thread{
		p:             p,
		id:            p.nextThreadID.Add(1),
		name:          name,
		allowChildren: true,
		stack:         stack.New[openBlock](p.stackCapacity),
		blocks:        chunk.New(chunk.WithChunkSize(p.chunkSize), chunk.WithMaxChunks(p.maxChunks)),
		sync:          chunk.New(chunk.WithChunkSize(p.chunkSize), chunk.WithMaxChunks(p.maxChunks)),
	}
	if o.guard {
		t.guarded = true
		t.osTID = currentOSThread()
	}

	p.threadsMu.Lock()
	p.threads[t.id] = t
	p.threadsMu.Unlock()

	if o.main {
		p.mainThread.Store(t.id)
	}

	p.logger.Debug().
		Uint64("thread", t.id).
		Str("name", name).
		Int("tid", t.osTID).
		Bool("main", o.main).
		Msg("thread registered")

	return t
}

// Close expires the thread. Its storage is removed right away when empty,
// otherwise after the next dump drained it.
func (t *Thread) Close() {
	if t.expired.Swap(true) {
		return
	}
	p := t.p
	p.threadsMu.Lock()
	defer p.threadsMu.Unlock()

	p.cull(t)
}

// Thread returns the registered thread with the given id.
func (p *Profiler) Thread(id uint64) (*Thread, bool) {
	p.threadsMu.Lock()
	defer p.threadsMu.Unlock()

	t, ok := p.threads[id]
	return t, ok
}

// Threads returns the registered threads ordered by id.
func (p *Profiler) Threads() []*Thread {
	p.threadsMu.Lock()
	defer p.threadsMu.Unlock()

	return p.sortedThreads()
}

// CheckThreads expires the guarded threads whose OS thread has ended and
// removes the expired threads with nothing left to dump.
func (p *Profiler) CheckThreads() {
	p.threadsMu.Lock()
	defer p.threadsMu.Unlock()

	p.reconcile()
}

// reconcile requires threadsMu.
func (p *Profiler) reconcile() {
	for _, t := range p.threads {
		if t.guarded && !t.expired.Load() && !p.alive(t.osTID) {
			t.expired.Store(true)
			p.logger.Debug().Uint64("thread", t.id).Int("tid", t.osTID).Msg("thread expired")
		}
		if t.expired.Load() {
			p.cull(t)
		}
	}
}

// cull removes the expired thread t if its storage is empty. It requires
// threadsMu.
func (p *Profiler) cull(t *Thread) {
	t.mu.Lock()
	empty := t.blocks.Empty() && t.sync.Empty()
	t.mu.Unlock()
	if !empty {
		return
	}
	p.remove(t)
}

// remove requires threadsMu.
func (p *Profiler) remove(t *Thread) {
	delete(p.threads, t.id)
	p.mainThread.CompareAndSwap(t.id, 0)
	p.logger.Debug().Uint64("thread", t.id).Str("name", t.name).Msg("thread removed")
}

// sortedThreads requires threadsMu.
func (p *Profiler) sortedThreads() []*Thread {
	out := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *Thread) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})

	return out
}

type threadKey struct{}

// NewContext returns a copy of ctx carrying the thread handle t.
func NewContext(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// FromContext returns the thread handle carried by ctx.
func FromContext(ctx context.Context) (*Thread, bool) {
	t, ok := ctx.Value(threadKey{}).(*Thread)
	return t, ok
}
