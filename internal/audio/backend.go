package audio

// Stream is a platform input stream bound to one set of writers. Start and
// Stop may be called more than once; Close releases the stream for good.
type Stream interface {
	Start() error
	Stop() error
	Close() error

	// Dropped counts capture blocks lost to writer contention.
	Dropped() uint64
}

// Backend opens input streams on an already selected device. The returned
// stream delivers every hardware buffer to a capture pipeline that writes
// channels[i] into writers[i].
type Backend interface {
	Format() StreamFormat
	OpenStream(channels []int, writers []*WriterHandle) (Stream, error)
}
