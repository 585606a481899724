// Package chunk implements the append-only chunked allocator backing the
// per-thread record streams.
//
// Records are appended to fixed-capacity chunks held in an arena; a mark
// remembers a cut point so that complete frames can be flushed while the
// frame in progress keeps accumulating.
package chunk
