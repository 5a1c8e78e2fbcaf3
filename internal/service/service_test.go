package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"github.com/audiolibrelab/smrec/internal/action"
	"github.com/audiolibrelab/smrec/internal/audio"
	"github.com/audiolibrelab/smrec/internal/errs"
)

type fakeBackend struct {
	mu       sync.Mutex
	events   []string
	opens    int
	failErr  error
	startErr error
	writers  [][]*audio.WriterHandle

	// when set, Start or Stop signal on entering and then wait for the gate
	startGate, stopGate chan struct{}
	entered             chan string
}

func (b *fakeBackend) Format() audio.StreamFormat {
	return audio.StreamFormat{Channels: 4, SampleRate: 48000, SampleFormat: audio.Int16}
}

func (b *fakeBackend) OpenStream(channels []int, writers []*audio.WriterHandle) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.opens++
	if b.failErr != nil {
		return nil, b.failErr
	}
	b.writers = append(b.writers, writers)
	b.events = append(b.events, "open")
	return &fakeStream{backend: b}, nil
}

func (b *fakeBackend) log(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *fakeBackend) block(event string, gate chan struct{}) {
	if gate == nil {
		return
	}
	b.entered <- event
	<-gate
}

func (b *fakeBackend) openedWriters(i int) []*audio.WriterHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writers[i]
}

func (b *fakeBackend) eventLog() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.events, ",")
}

type fakeStream struct {
	backend *fakeBackend
}

func (s *fakeStream) Start() error {
	s.backend.log("start")
	s.backend.block("start", s.backend.startGate)
	return s.backend.startErr
}

func (s *fakeStream) Stop() error {
	s.backend.log("stop")
	s.backend.block("stop", s.backend.stopGate)
	return nil
}

func (s *fakeStream) Close() error { s.backend.log("close"); return nil }

func (s *fakeStream) Dropped() uint64 { return 0 }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, backend *fakeBackend, debounce time.Duration) (*Manager, string, *bytes.Buffer, *clock) {
	t.Helper()
	base := t.TempDir()
	out := &bytes.Buffer{}
	clk := &clock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	m := New(Options{
		Backend:         backend,
		BaseDir:         base,
		Channels:        []int{1, 3},
		Names:           []string{"chn_2.wav", "chn_4.wav"},
		RestartDebounce: debounce,
		Out:             out,
		Now:             clk.Now,
	})
	return m, base, out, clk
}

func TestManager_StopWhenIdle(t *testing.T) {
	backend := &fakeBackend{}
	m, base, out, _ := newTestManager(t, backend, 0)

	if err := m.Stop(); err != nil {
		t.Fatalf("Expected stop on idle manager to succeed, got %v", err)
	}
	if m.State() != StateIdle {
		t.Errorf("Expected Idle, got %s", m.State())
	}
	if backend.opens != 0 || backend.eventLog() != "" {
		t.Errorf("Expected no stream activity, got %q", backend.eventLog())
	}
	entries, _ := os.ReadDir(base)
	if len(entries) != 0 {
		t.Errorf("Expected no files in %s, found %d entries", base, len(entries))
	}
	if !strings.Contains(out.String(), "There is no running recording to stop.") {
		t.Errorf("Unexpected output: %q", out.String())
	}
}

func TestManager_StartAndStop(t *testing.T) {
	backend := &fakeBackend{}
	m, base, out, _ := newTestManager(t, backend, 0)

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	st := m.Status()
	if st.State != StateRecording || st.Session == nil {
		t.Fatalf("Expected live session, got %+v", st)
	}
	wantDir := filepath.Join(base, "rec_20240102_030405")
	if st.Session.Directory != wantDir {
		t.Errorf("Expected directory %s, got %s", wantDir, st.Session.Directory)
	}
	if len(st.Session.Files) != 2 || filepath.Base(st.Session.Files[1]) != "chn_4.wav" {
		t.Errorf("Unexpected session files: %v", st.Session.Files)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if m.State() != StateIdle {
		t.Errorf("Expected Idle after stop, got %s", m.State())
	}
	if got := backend.eventLog(); got != "open,start,stop,close" {
		t.Errorf("Unexpected stream lifecycle: %s", got)
	}
	for _, w := range backend.writers[0] {
		if !w.Closed() {
			t.Errorf("Expected %s to be finalized", w.Path())
		}
	}

	for _, line := range []string{"Starting recording...", "Recording started.", "Stopping recording...", "Recording stopped."} {
		if !strings.Contains(out.String(), line) {
			t.Errorf("Expected output to contain %q, got %q", line, out.String())
		}
	}
}

func TestManager_StartTwiceFinalizesFirstSession(t *testing.T) {
	backend := &fakeBackend{}
	m, _, out, _ := newTestManager(t, backend, 0)

	if err := m.Start(); err != nil {
		t.Fatalf("First start failed: %v", err)
	}
	first := backend.writers[0]
	for _, w := range first {
		w.TryWrite([]int{1, 2, 3})
	}

	// same second: the second session must not reuse the first directory
	if err := m.Start(); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}

	if got := backend.eventLog(); got != "open,start,stop,close,open,start" {
		t.Errorf("Expected old stream closed before the new one opened, got %s", got)
	}
	for _, w := range first {
		if !w.Closed() {
			t.Errorf("Expected %s to be finalized", w.Path())
		}
		assertValidWAV(t, w.Path())
	}

	second := backend.writers[1]
	if filepath.Dir(second[0].Path()) == filepath.Dir(first[0].Path()) {
		t.Errorf("Second session reused directory %s", filepath.Dir(first[0].Path()))
	}
	if second[0].Closed() {
		t.Error("Expected second session to be live")
	}
	if !strings.Contains(out.String(), "Restarting new recording...") {
		t.Errorf("Expected restart message, got %q", out.String())
	}

	m.Stop()
}

func TestManager_StartFailureLeavesIdle(t *testing.T) {
	backend := &fakeBackend{failErr: errs.Devicef("device unplugged")}
	m, _, _, _ := newTestManager(t, backend, 0)

	err := m.Start()
	if err == nil {
		t.Fatal("Expected start to fail")
	}
	if !errors.Is(err, errs.ErrSession) {
		t.Errorf("Expected SessionError, got %v", err)
	}
	if m.State() != StateIdle {
		t.Errorf("Expected Idle after failure, got %s", m.State())
	}
	if st := m.Status(); st.LastError == "" {
		t.Error("Expected last error to be recorded")
	}
}

func TestManager_StartFailureFinalizesPreviousSession(t *testing.T) {
	backend := &fakeBackend{}
	m, _, _, clk := newTestManager(t, backend, 0)

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := backend.writers[0]

	backend.mu.Lock()
	backend.failErr = errors.New("stream build failed")
	backend.mu.Unlock()
	clk.Advance(time.Second)

	if err := m.Start(); err == nil {
		t.Fatal("Expected restart to fail")
	}
	if m.State() != StateIdle {
		t.Errorf("Expected Idle, got %s", m.State())
	}
	for _, w := range first {
		if !w.Closed() {
			t.Errorf("Expected %s to be finalized", w.Path())
		}
	}
}

func TestManager_StreamStartFailureUnpublishesWriters(t *testing.T) {
	backend := &fakeBackend{startErr: errors.New("device busy")}
	m, _, _, _ := newTestManager(t, backend, 0)

	if err := m.Start(); !errors.Is(err, errs.ErrSession) {
		t.Fatalf("Expected SessionError, got %v", err)
	}
	if m.live.Load() != nil {
		t.Error("Expected no live writers after a failed start")
	}
	for _, w := range backend.writers[0] {
		if !w.Closed() {
			t.Errorf("Expected %s to be finalized", w.Path())
		}
	}
	if got := backend.eventLog(); got != "open,start,stop,close" {
		t.Errorf("Expected the failed stream to be torn down, got %s", got)
	}
}

func TestManager_MissingBaseDirectory(t *testing.T) {
	backend := &fakeBackend{}
	m := New(Options{
		Backend:  backend,
		BaseDir:  filepath.Join(t.TempDir(), "missing"),
		Channels: []int{0},
		Names:    []string{"chn_1.wav"},
		Out:      &bytes.Buffer{},
	})

	err := m.Start()
	if !errors.Is(err, errs.ErrSession) || !errors.Is(err, errs.ErrConfig) {
		t.Errorf("Expected session error caused by a config error, got %v", err)
	}
	if backend.opens != 0 {
		t.Error("Expected no stream to be opened")
	}
}

func TestManager_RestartDebounce(t *testing.T) {
	backend := &fakeBackend{}
	m, _, out, clk := newTestManager(t, backend, 100*time.Millisecond)

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	clk.Advance(50 * time.Millisecond)
	if err := m.Start(); err != nil {
		t.Fatalf("Debounced start should succeed, got %v", err)
	}
	if backend.opens != 1 {
		t.Errorf("Expected the debounced start to keep the session, got %d opens", backend.opens)
	}
	if !strings.Contains(out.String(), "Recording just started, restart ignored.") {
		t.Errorf("Expected the ignored restart to be reported, got %q", out.String())
	}

	clk.Advance(time.Second)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if backend.opens != 2 {
		t.Errorf("Expected a restart after the window, got %d opens", backend.opens)
	}
	m.Stop()
}

func TestManager_RunRepliesToEveryCommand(t *testing.T) {
	backend := &fakeBackend{}
	m, _, out, _ := newTestManager(t, backend, 0)

	bus := action.NewBus()
	replies := bus.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, bus)
		close(done)
	}()

	bus.Send(action.StartAction)
	bus.Send(action.StopAction)
	bus.Send(action.Error("controller hiccup"))
	bus.Send(action.StopAction)

	want := []action.Action{action.StartAction, action.StopAction, action.StopAction}
	for i, w := range want {
		got, ok := replies.Recv()
		if !ok {
			t.Fatalf("Reply %d: queue closed", i)
		}
		if got != w {
			t.Errorf("Reply %d: expected %v, got %v", i, w, got)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !strings.Contains(out.String(), "Error: controller hiccup") {
		t.Errorf("Expected source error to be printed, got %q", out.String())
	}
}

func TestManager_RunRepliesErrOnFailure(t *testing.T) {
	backend := &fakeBackend{failErr: errors.New("no stream")}
	m, _, _, _ := newTestManager(t, backend, 0)

	bus := action.NewBus()
	replies := bus.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, bus)

	bus.Send(action.StartAction)
	got, ok := replies.Recv()
	if !ok {
		t.Fatal("Expected a reply")
	}
	if got.Kind != action.Err || !strings.Contains(got.Reason, "Error starting recording") {
		t.Errorf("Expected Err reply, got %v", got)
	}
}

func assertValidWAV(t *testing.T, path string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()
	if !wav.NewDecoder(f).IsValidFile() {
		t.Errorf("%s is not a valid WAV file", path)
	}
}
