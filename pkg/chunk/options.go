package chunk

type Options struct {
	chunkSize int
	maxChunks int
}

type Option func(*Options)

// WithChunkSize sets the capacity in bytes of every chunk.
func WithChunkSize(size int) Option {
	return func(o *Options) {
		o.chunkSize = size
	}
}

// WithMaxChunks bounds the number of chunks. Allocations that would need a
// new chunk past the limit are dropped. Zero means unbounded.
func WithMaxChunks(n int) Option {
	return func(o *Options) {
		o.maxChunks = n
	}
}
