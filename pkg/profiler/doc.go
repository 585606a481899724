// Package profiler records nested timed blocks from many goroutines and
// dumps them as a single capture stream.
//
// A Profiler owns the descriptor registry and one Thread per instrumented
// goroutine. A Thread is the goroutine's own recording storage: it must only
// be used by the goroutine it was handed to, which keeps the recording path
// free of shared locks. Handles are obtained once with RegisterThread and
// then passed explicitly or through a context.Context with NewContext.
//
//	p := profiler.New()
//	t := p.RegisterThread("main", profiler.WithMainThread())
//	defer t.Close()
//
//	frame := p.Register("frame", "main.go", 42, block.TypeBlock, block.ColorBlue, block.On)
//	p.SetEnabled(true)
//	t.Begin(frame)
//	...
//	t.End()
//	p.DumpToFile("capture.prof")
package profiler
