package audio

import (
	"sync/atomic"
)

// Capture is the real-time half of a recording: the audio engine calls
// Process once per hardware buffer. Process never blocks on a writer, never
// returns an error and recovers from any panic. Per-channel buffers are kept
// between calls so steady-state callbacks do not allocate.
type Capture[T Sample] struct {
	frameSize int
	channels  []int
	writers   []*WriterHandle
	convert   func(T) int
	buffers   [][]int

	dropped atomic.Uint64
}

// NewCapture binds the recorded channels (ascending, 0-indexed, each below
// frameSize) to their writers. writers[i] receives channels[i].
func NewCapture[T Sample](frameSize int, channels []int, writers []*WriterHandle, convert func(T) int) *Capture[T] {
	return &Capture[T]{
		frameSize: frameSize,
		channels:  append([]int(nil), channels...),
		writers:   writers,
		convert:   convert,
		buffers:   make([][]int, len(channels)),
	}
}

// Process de-interleaves in, converts each kept sample and hands every
// channel's block to its writer.
func (c *Capture[T]) Process(in []T) {
	defer func() {
		if recover() != nil {
			c.dropped.Add(1)
		}
	}()

	c.buffers = deinterleave(c.buffers, in, c.frameSize, c.channels, c.convert)
	for i, w := range c.writers {
		if i >= len(c.buffers) {
			break
		}
		if !w.TryWrite(c.buffers[i]) {
			c.dropped.Add(1)
		}
	}
}

// Dropped counts blocks skipped because a writer was busy.
func (c *Capture[T]) Dropped() uint64 {
	return c.dropped.Load()
}

// Deinterleave splits in into one slice per recorded channel, reusing dst.
// A trailing partial frame is ignored.
func Deinterleave[T Sample](dst [][]T, in []T, frameSize int, channels []int) [][]T {
	return deinterleave(dst, in, frameSize, channels, func(s T) T { return s })
}

// Interleave is the inverse of Deinterleave for the recorded subset.
func Interleave[T Sample](channels [][]T) []T {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	out := make([]T, 0, frames*len(channels))
	for f := 0; f < frames; f++ {
		for _, ch := range channels {
			out = append(out, ch[f])
		}
	}
	return out
}

func deinterleave[T Sample, U any](dst [][]U, in []T, frameSize int, channels []int, convert func(T) U) [][]U {
	if cap(dst) < len(channels) {
		dst = make([][]U, len(channels))
	}
	dst = dst[:len(channels)]
	for i := range dst {
		dst[i] = dst[i][:0]
	}
	if frameSize <= 0 {
		return dst
	}

	frames := len(in) / frameSize
	for f := 0; f < frames; f++ {
		frame := in[f*frameSize : (f+1)*frameSize]
		for i, ch := range channels {
			dst[i] = append(dst[i], convert(frame[ch]))
		}
	}
	return dst
}
