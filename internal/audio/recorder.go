package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/audiolibrelab/smrec/internal/errs"
)

// SessionDirLayout is the time layout of session directory names.
const SessionDirLayout = "20060102_150405"

// SessionInfo describes an active recording
type SessionInfo struct {
	Directory string    `json:"directory"`
	StartTime time.Time `json:"start_time"`
	Files     []string  `json:"files"`
	Dropped   uint64    `json:"dropped_blocks"`
}

// Recording is the set of resources owned by one session: its directory,
// one writer per recorded channel and the stream feeding them.
type Recording struct {
	Dir     string
	Started time.Time
	Writers []*WriterHandle

	stream Stream
}

// Open creates the session directory under baseDir, one writer per channel
// and a stream that is not yet started. names[i] is the file name for
// channels[i]. On failure everything created so far is finalized and the
// stream is closed.
func Open(backend Backend, baseDir string, now time.Time, channels []int, names []string) (*Recording, error) {
	if len(channels) != len(names) {
		return nil, fmt.Errorf("got %d file names for %d channels", len(names), len(channels))
	}

	dir, err := NewSessionDir(baseDir, now)
	if err != nil {
		return nil, err
	}

	r := &Recording{Dir: dir, Started: now}
	format := backend.Format()
	for _, name := range names {
		w, err := CreateWriter(filepath.Join(dir, name), format)
		if err != nil {
			r.abort()
			return nil, err
		}
		r.Writers = append(r.Writers, w)
	}

	stream, err := backend.OpenStream(channels, r.Writers)
	if err != nil {
		r.abort()
		return nil, fmt.Errorf("failed to build input stream: %w", err)
	}
	r.stream = stream
	return r, nil
}

// Start starts the stream. On failure the recording is torn down like a
// failed Open.
func (r *Recording) Start() error {
	if r.stream == nil {
		return fmt.Errorf("recording %s has no stream", r.Dir)
	}
	if err := r.stream.Start(); err != nil {
		r.abort()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	return nil
}

// Close stops the stream before taking the writers, so no callback write can
// land after finalize.
func (r *Recording) Close() error {
	var errList []error
	if r.stream != nil {
		if err := r.stream.Stop(); err != nil {
			errList = append(errList, fmt.Errorf("failed to stop stream: %w", err))
		}
		if err := r.stream.Close(); err != nil {
			errList = append(errList, fmt.Errorf("failed to close stream: %w", err))
		}
		r.stream = nil
	}
	if err := FinalizeAll(r.Writers); err != nil {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}

// Info reports the session directory, start time and files.
func (r *Recording) Info() SessionInfo {
	info := SessionInfo{Directory: r.Dir, StartTime: r.Started}
	for _, w := range r.Writers {
		info.Files = append(info.Files, w.Path())
	}
	if r.stream != nil {
		info.Dropped = r.stream.Dropped()
	}
	return info
}

func (r *Recording) abort() {
	if r.stream != nil {
		r.stream.Stop()
		r.stream.Close()
		r.stream = nil
	}
	FinalizeAll(r.Writers)
}

// NewSessionDir creates rec_<YYYYMMDD_HHMMSS> (UTC) under baseDir. When that
// directory already exists a _2, _3... suffix is added.
func NewSessionDir(baseDir string, now time.Time) (string, error) {
	st, err := os.Stat(baseDir)
	if err != nil {
		return "", errs.Configf("output directory %s does not exist", baseDir)
	}
	if !st.IsDir() {
		return "", errs.Configf("output path %s is not a directory", baseDir)
	}

	base := filepath.Join(baseDir, "rec_"+now.UTC().Format(SessionDirLayout))
	dir := base
	for n := 2; ; n++ {
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create session directory: %w", err)
		}
		dir = fmt.Sprintf("%s_%d", base, n)
	}
}
