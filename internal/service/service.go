package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/smrec/internal/action"
	"github.com/audiolibrelab/smrec/internal/audio"
	"github.com/audiolibrelab/smrec/internal/errs"
)

// State is the session manager state
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
)

// Options configure a Manager
type Options struct {
	Backend  audio.Backend
	BaseDir  string
	Channels []int    // recorded channels, 0-indexed and ascending
	Names    []string // file name per recorded channel

	// A Start arriving less than RestartDebounce after the current session
	// started is acknowledged without restarting. Zero disables it.
	RestartDebounce time.Duration

	// Status lines go here; defaults to os.Stdout
	Out io.Writer

	Now func() time.Time
}

// Status is a snapshot of the manager
type Status struct {
	State     State              `json:"state"`
	Session   *audio.SessionInfo `json:"session,omitempty"`
	LastError string             `json:"last_error,omitempty"`
}

// Manager owns the active stream and its writers. At most one recording is
// live at a time; Start on a live session closes it before opening the next.
type Manager struct {
	opts Options

	mu        sync.Mutex
	rec       *audio.Recording
	lastError string

	live atomic.Pointer[[]*audio.WriterHandle]
}

// New creates an idle manager
func New(opts Options) *Manager {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{opts: opts}
}

// Start opens a new recording, closing the live one first. On failure the
// manager is left idle and the error is a SessionError.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()

	if m.rec != nil {
		if m.opts.RestartDebounce > 0 && now.Sub(m.rec.Started) < m.opts.RestartDebounce {
			slog.Debug("Ignoring start inside restart debounce window",
				"session", m.rec.Dir,
				"elapsed", now.Sub(m.rec.Started))
			m.println("Recording just started, restart ignored.")
			return nil
		}

		m.println("Restarting new recording...")
		if err := m.closeLocked(); err != nil {
			slog.Warn("Previous session did not close cleanly", "error", err)
		}
	} else {
		m.println("Starting recording...")
	}

	rec, err := audio.Open(m.opts.Backend, m.opts.BaseDir, now, m.opts.Channels, m.opts.Names)
	if err == nil {
		// published before the stream runs so an interrupt always sees them
		m.live.Store(&rec.Writers)
		if err = rec.Start(); err != nil {
			m.live.Store(nil)
		}
	}
	if err != nil {
		err = errs.Wrap(errs.ErrSession, err)
		m.lastError = err.Error()
		slog.Error("Session start failed", "error", err)
		return err
	}

	m.rec = rec
	m.lastError = ""
	slog.Info("Session started", "directory", rec.Dir, "channels", len(rec.Writers))
	m.println("Recording started.")
	return nil
}

// Stop closes the live recording. Stopping an idle manager succeeds without
// touching the filesystem.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.println("Stopping recording...")
	if m.rec == nil {
		m.println("There is no running recording to stop.")
		return nil
	}

	dir := m.rec.Dir
	if err := m.closeLocked(); err != nil {
		err = errs.Wrap(errs.ErrSession, err)
		m.lastError = err.Error()
		return err
	}
	slog.Info("Session stopped", "directory", dir)
	m.println("Recording stopped.")
	return nil
}

// Status reports the state and, while recording, the live session.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{State: StateIdle, LastError: m.lastError}
	if m.rec != nil {
		info := m.rec.Info()
		st.State = StateRecording
		st.Session = &info
	}
	return st
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec != nil {
		return StateRecording
	}
	return StateIdle
}

// FinalizeLive finalizes the live writers without taking the manager lock,
// so it can run from a signal path while a transition is in flight.
// Already closed writers are skipped.
func (m *Manager) FinalizeLive() error {
	live := m.live.Load()
	if live == nil {
		return nil
	}
	return audio.FinalizeAll(*live)
}

func (m *Manager) closeLocked() error {
	rec := m.rec
	m.rec = nil
	dropped := rec.Info().Dropped
	if dropped > 0 {
		slog.Debug("Capture blocks dropped during session", "directory", rec.Dir, "dropped", dropped)
	}

	// the writers stay published until they are finalized
	err := rec.Close()
	m.live.Store(nil)
	return err
}

// Run is the controller loop: it consumes the bus until ctx is done or the
// bus is closed, and replies with the outcome of every command.
func (m *Manager) Run(ctx context.Context, bus *action.Bus) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			bus.Close()
		case <-done:
		}
	}()

	for {
		a, ok := bus.Next()
		if !ok {
			return
		}
		m.handle(a, bus)
	}
}

func (m *Manager) handle(a action.Action, bus *action.Bus) {
	switch a.Kind {
	case action.Start:
		if err := m.Start(); err != nil {
			m.println(fmt.Sprintf("Error starting recording: %v", err))
			bus.Reply(action.Error(fmt.Sprintf("Error starting recording: %v", err)))
			return
		}
		bus.Reply(action.StartAction)

	case action.Stop:
		if err := m.Stop(); err != nil {
			m.println(fmt.Sprintf("Error stopping recording: %v", err))
			bus.Reply(action.Error(fmt.Sprintf("Error stopping recording: %v", err)))
			return
		}
		bus.Reply(action.StopAction)

	case action.Err:
		slog.Warn("Control source reported an error", "reason", a.Reason)
		m.println("Error: " + a.Reason)
	}
}

func (m *Manager) println(line string) {
	fmt.Fprintln(m.opts.Out, line)
}
