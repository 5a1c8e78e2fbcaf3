package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriterHandle is one recorded channel's mono WAV file. It is shared by the
// capture callback (TryWrite), the session manager and the interrupt handler
// (Finalize). Once finalized the handle stays closed; later writes are
// dropped and later finalizes are no-ops.
type WriterHandle struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	enc    *wav.Encoder
	buf    goaudio.IntBuffer
	closed bool
}

// CreateWriter creates path and writes a WAV header for a mono file in the
// given format. The header is written immediately so the file is a valid,
// empty WAV even if no samples ever arrive.
func CreateWriter(path string, format StreamFormat) (*WriterHandle, error) {
	depth := format.SampleFormat.BitDepth()
	if depth == 0 {
		return nil, fmt.Errorf("unsupported sample format %s", format.SampleFormat)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := &WriterHandle{
		path: path,
		file: f,
		enc:  wav.NewEncoder(f, format.SampleRate, depth, 1, format.SampleFormat.wavFormat()),
		buf: goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: format.SampleRate},
			SourceBitDepth: depth,
		},
	}

	if err := w.enc.Write(&w.buf); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write WAV header to %s: %w", path, err)
	}
	return w, nil
}

// Path returns the file the handle writes to
func (w *WriterHandle) Path() string {
	return w.path
}

// TryWrite appends samples without blocking. It returns false when the handle
// is locked by someone else, in which case the block is dropped. Encoder
// errors (disk full and the like) are swallowed.
func (w *WriterHandle) TryWrite(samples []int) bool {
	if !w.mu.TryLock() {
		return false
	}
	defer w.mu.Unlock()

	if w.closed || len(samples) == 0 {
		return true
	}
	w.buf.Data = samples
	_ = w.enc.Write(&w.buf)
	w.buf.Data = nil
	return true
}

// Finalize patches the WAV header sizes and closes the file.
func (w *WriterHandle) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if err := errors.Join(encErr, fileErr); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", w.path, err)
	}
	return nil
}

// Closed reports whether Finalize has run
func (w *WriterHandle) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// FinalizeAll finalizes every handle, continuing past failures.
func FinalizeAll(handles []*WriterHandle) error {
	var errs []error
	for _, h := range handles {
		if h == nil {
			continue
		}
		if err := h.Finalize(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
