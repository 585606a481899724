package run

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	log "github.com/rs/zerolog"

	"github.com/maxgio92/xprof/pkg/block"
	"github.com/maxgio92/xprof/pkg/format"
	"github.com/maxgio92/xprof/pkg/profiler"
)

const livenessInterval = time.Second

// Workload is an instrumented program: a frame loop on the main thread and a
// pool of workers consuming jobs.
type Workload struct {
	p       *profiler.Profiler
	logger  log.Logger
	fps     int
	workers int

	frame, update, physics, render, present *block.Descriptor
	tick, entities, fpsValue                *block.Descriptor
	job, load, wait                         *block.Descriptor
}

func NewWorkload(p *profiler.Profiler, logger log.Logger, fps, workers int) *Workload {
	reg := func(name string, line int, typ block.Type, color block.Color) *block.Descriptor {
		return p.Register(name, "workload.go", line, typ, color, block.On)
	}

	return &Workload{
		p:       p,
		logger:  logger,
		fps:     max(fps, 1),
		workers: workers,

		frame:    reg("frame", 1, block.TypeBlock, block.ColorBlue),
		update:   reg("update", 2, block.TypeBlock, block.ColorGreen),
		physics:  reg("physics", 3, block.TypeBlock, block.ColorYellow),
		render:   reg("render", 4, block.TypeBlock, block.ColorOrange),
		present:  reg("present", 5, block.TypeBlock, block.ColorPurple),
		tick:     reg("tick", 6, block.TypeEvent, block.ColorRed),
		entities: reg("entities", 7, block.TypeValue, block.ColorDefault),
		fpsValue: reg("fps", 8, block.TypeValue, block.ColorDefault),
		job:      reg("job", 9, block.TypeBlock, block.ColorGreen),
		load:     reg("load", 10, block.TypeBlock, block.ColorYellow),
		wait:     reg("wait", 11, block.TypeBlock, block.ColorDefault),
	}
}

// Run drives the workload until ctx is done.
func (w *Workload) Run(ctx context.Context) {
	jobs := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.worker(ctx, n, jobs)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.liveness(ctx)
	}()

	w.mainLoop(ctx, jobs)
	close(jobs)
	wg.Wait()
}

func (w *Workload) mainLoop(ctx context.Context, jobs chan<- int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	t := w.p.RegisterThread("main", profiler.WithMainThread(), profiler.WithGuard())
	defer t.Close()

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	period := time.Second / time.Duration(w.fps)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		t.BeginNamed(w.frame, fmt.Sprintf("frame #%d", n))

		t.Begin(w.update)
		t.Event(w.tick, "")
		t.StoreInt64(w.entities, int64(100+rnd.Intn(50)), 0)
		spin(time.Duration(rnd.Int63n(int64(period / 8))))

		t.Begin(w.physics)
		spin(time.Duration(rnd.Int63n(int64(period / 8))))
		t.End()
		t.End()

		// Hand a job to an idle worker, if any.
		select {
		case jobs <- n:
		default:
		}

		t.Begin(w.render)
		spin(time.Duration(rnd.Int63n(int64(period / 4))))
		t.Begin(w.present)
		spin(time.Duration(rnd.Int63n(int64(period / 16))))
		t.End()
		t.End()

		if _, avg := w.p.MainThreadFrameTime(); avg > 0 {
			t.StoreFloat64(w.fpsValue, float64(time.Second)/float64(avg), 0)
		}

		t.End()

		if n%(w.fps*10) == 0 {
			w.p.AddBookmark(fmt.Sprintf("%d frames", n), block.ColorRed)
		}
	}
}

func (w *Workload) worker(ctx context.Context, n int, jobs <-chan int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	t := w.p.RegisterThread(fmt.Sprintf("worker-%d", n), profiler.WithGuard())
	defer t.Close()

	rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(n)))
	for {
		t.Begin(w.wait)
		idle := w.p.Now()
		job, ok := <-jobs
		t.End()
		if !ok || ctx.Err() != nil {
			return
		}
		w.p.StoreContextSwitch(t.ID(), format.ContextSwitch{
			Begin:   idle,
			End:     w.p.Now(),
			From:    0,
			To:      t.ID(),
			Process: "scheduler",
		})

		t.BeginNamed(w.job, fmt.Sprintf("job #%d", job))
		for i, loads := 0, 1+rnd.Intn(3); i < loads; i++ {
			t.Begin(w.load)
			spin(time.Duration(rnd.Int63n(int64(2 * time.Millisecond))))
			t.End()
		}
		t.End()
	}
}

func (w *Workload) liveness(ctx context.Context) {
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.p.CheckThreads()
			w.logger.Trace().Int("threads", len(w.p.Threads())).Msg("liveness check")
		}
	}
}

// spin burns CPU for d, as instrumented code would.
func spin(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}
