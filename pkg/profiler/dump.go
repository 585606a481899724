package profiler

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/maxgio92/xprof/pkg/format"
)

// Dump disables capture, waits for the grace period and writes every
// complete frame recorded so far as a capture stream. It returns the number
// of records written to the block streams.
//
// Live threads keep the records of their frame in progress. Expired threads
// are drained and removed. The dump checks ctx before each thread; once
// cancelled it returns ErrDumpCancelled and writes nothing, leaving the
// threads not visited yet untouched.
func (p *Profiler) Dump(ctx context.Context, w io.Writer) (uint32, error) {
	p.dumpMu.Lock()
	defer p.dumpMu.Unlock()

	if err := p.drain(ctx); err != nil {
		return 0, err
	}
	start := time.Now()

	descs := p.registry.Lock()
	defer p.registry.Unlock()

	p.threadsMu.Lock()
	defer p.threadsMu.Unlock()

	p.reconcile()

	var (
		sections bytes.Buffer
		h        format.Header
	)
	for _, t := range p.sortedThreads() {
		if err := ctx.Err(); err != nil {
			p.logger.Warn().Err(err).Uint64("thread", t.id).Msg("dump interrupted")
			return 0, errors.Wrap(ErrDumpCancelled, err.Error())
		}

		expired := t.expired.Load()
		s, err := t.serialize(&sections, expired)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to serialize thread %d", t.id)
		}
		if expired {
			p.remove(t)
		}
		if s.records == 0 && s.switches == 0 {
			continue
		}
		h.ThreadsCount++
		h.BlocksCount += uint32(s.records)
		h.MemorySize += uint64(s.bytes)
	}

	out := make([]format.Descriptor, 0, len(descs))
	for _, d := range descs {
		out = append(out, format.DescriptorOf(d))
	}

	p.bookmarksMu.Lock()
	bookmarks := p.bookmarks
	p.bookmarks = nil
	p.bookmarksMu.Unlock()
	if len(bookmarks) > math.MaxUint16 {
		bookmarks = bookmarks[:math.MaxUint16]
	}

	h.PID = p.pid
	h.BeginTime = p.beginTime.Load()
	h.EndTime = p.endTime.Load()
	h.DescriptorsCount = uint32(len(out))
	h.DescriptorsMemorySize = uint64(format.DescriptorsSize(out))
	h.BookmarksCount = uint16(len(bookmarks))

	if err := format.WriteHeader(w, h); err != nil {
		return 0, err
	}
	if _, err := format.EncodeDescriptors(w, out); err != nil {
		return 0, err
	}
	if _, err := sections.WriteTo(w); err != nil {
		return 0, errors.Wrap(err, "failed to write thread sections")
	}
	if err := format.WriteFooter(w); err != nil {
		return 0, errors.Wrap(err, "failed to write footer")
	}
	if err := format.WriteBookmarks(w, bookmarks); err != nil {
		return 0, err
	}

	p.logger.Info().
		Uint32("records", h.BlocksCount).
		Uint32("threads", h.ThreadsCount).
		Uint32("descriptors", h.DescriptorsCount).
		Dur("took", time.Since(start)).
		Msg("capture dumped")

	return h.BlocksCount, nil
}

// drain force-disables capture and waits for the instrumentation calls
// racing the flag to complete.
func (p *Profiler) drain(ctx context.Context) error {
	p.toggleMu.Lock()
	defer p.toggleMu.Unlock()

	p.setEnabled(false)
	if p.gracePeriod <= 0 {
		return nil
	}

	timer := time.NewTimer(p.gracePeriod)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.Wrap(ErrDumpCancelled, ctx.Err().Error())
	case <-timer.C:
		return nil
	}
}

type sectionStats struct {
	records  int
	switches int
	bytes    int
}

// serialize writes the thread section to w: the whole storage when full is
// set, the complete frames otherwise. Nothing is written when there is
// nothing to dump.
func (t *Thread) serialize(w *bytes.Buffer, full bool) (sectionStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := sectionStats{switches: t.sync.Size()}
	if full {
		s.records, s.bytes = t.blocks.Size(), t.blocks.UsedBytes()
	} else {
		s.records, s.bytes = t.blocks.MarkedSize(), t.blocks.MarkedUsedBytes()
	}
	if s.records == 0 && s.switches == 0 {
		return s, nil
	}

	if err := format.WriteThreadHeader(w, t.id, t.name); err != nil {
		return s, err
	}
	if err := format.WriteCount(w, s.switches); err != nil {
		return s, errors.Wrap(err, "failed to write context switches count")
	}
	if _, err := t.sync.Serialize(w); err != nil {
		return s, err
	}
	if err := format.WriteCount(w, s.records); err != nil {
		return s, errors.Wrap(err, "failed to write blocks count")
	}

	var err error
	if full {
		_, err = t.blocks.Serialize(w)
	} else {
		_, err = t.blocks.SerializeToMark(w)
	}

	return s, err
}

// DumpToFile dumps the capture into the file at path. The file is opened
// before the dump so that an unusable path keeps the capture in memory. A
// file created by this call is removed when the dump fails or captured
// nothing; an existing file is only replaced once the capture is ready.
func (p *Profiler) DumpToFile(path string) (uint32, error) {
	if path == "" {
		return 0, ErrOutputPathEmpty
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	created := err == nil
	if errors.Is(err, fs.ErrExist) {
		f, err = os.OpenFile(path, os.O_WRONLY, 0o644)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open %s", path)
	}
	discard := func() {
		f.Close()
		if created {
			_ = os.Remove(path)
		}
	}

	var buf bytes.Buffer
	n, err := p.Dump(context.Background(), &buf)
	if err != nil {
		discard()
		return 0, err
	}
	if n == 0 {
		discard()
		return 0, ErrNothingToDump
	}

	err = f.Truncate(0)
	if err == nil {
		_, err = f.Write(buf.Bytes())
	}
	if err != nil {
		discard()
		return 0, errors.Wrapf(err, "failed to write capture to %s", path)
	}
	if err := f.Close(); err != nil {
		if created {
			_ = os.Remove(path)
		}
		return 0, errors.Wrapf(err, "failed to write capture to %s", path)
	}
	p.logger.Info().Str("path", path).Uint32("records", n).Msg("capture written")

	return n, nil
}
