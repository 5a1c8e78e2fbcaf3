package service

import (
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestInterruptHandler_FinalizesAndExits(t *testing.T) {
	backend := &fakeBackend{}
	m, _, out, _ := newTestManager(t, backend, 0)

	var sigChan chan<- os.Signal
	var signals []os.Signal
	exited := make(chan int, 1)
	h := &interruptHandler{
		notify: func(c chan<- os.Signal, sig ...os.Signal) {
			sigChan = c
			signals = sig
		},
		exit: func(code int) { exited <- code },
	}

	if !h.register(m) {
		t.Fatal("Expected first registration to succeed")
	}
	if h.register(m) {
		t.Error("Expected second registration to be ignored")
	}
	if len(signals) != 2 || signals[0] != os.Interrupt || signals[1] != syscall.SIGTERM {
		t.Errorf("Unexpected signals: %v", signals)
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	writers := backend.writers[0]
	for _, w := range writers {
		w.TryWrite([]int{7, 8})
	}

	sigChan <- os.Interrupt

	select {
	case code := <-exited:
		if code != 0 {
			t.Errorf("Expected exit code 0, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handler did not exit")
	}

	for _, w := range writers {
		if !w.Closed() {
			t.Errorf("Expected %s to be finalized", w.Path())
		}
		assertValidWAV(t, w.Path())
	}
	if !strings.Contains(out.String(), "Recording interrupted thus stopped.") {
		t.Errorf("Unexpected output: %q", out.String())
	}
}

func TestFinalizeLive_IdleIsNoop(t *testing.T) {
	m, _, _, _ := newTestManager(t, &fakeBackend{}, 0)
	if err := m.FinalizeLive(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func newInterruptHandler(t *testing.T, m *Manager) (chan<- os.Signal, <-chan int) {
	t.Helper()

	var sigChan chan<- os.Signal
	exited := make(chan int, 1)
	h := &interruptHandler{
		notify: func(c chan<- os.Signal, sig ...os.Signal) { sigChan = c },
		exit:   func(code int) { exited <- code },
	}
	if !h.register(m) {
		t.Fatal("Expected registration to succeed")
	}
	return sigChan, exited
}

func waitExit(t *testing.T, exited <-chan int) {
	t.Helper()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("Handler did not exit")
	}
}

func TestInterruptHandler_DuringStopFinalizesWriters(t *testing.T) {
	backend := &fakeBackend{entered: make(chan string, 4)}
	m, _, _, _ := newTestManager(t, backend, 0)
	sigChan, exited := newInterruptHandler(t, m)

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	writers := backend.openedWriters(0)
	for _, w := range writers {
		w.TryWrite([]int{1, 2, 3})
	}

	gate := make(chan struct{})
	backend.mu.Lock()
	backend.stopGate = gate
	backend.mu.Unlock()

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop() }()
	if ev := <-backend.entered; ev != "stop" {
		t.Fatalf("Expected the stream to be stopping, got %s", ev)
	}

	sigChan <- os.Interrupt
	waitExit(t, exited)

	for _, w := range writers {
		if !w.Closed() {
			t.Errorf("Expected %s to be finalized while the stream was stopping", w.Path())
		}
		assertValidWAV(t, w.Path())
	}

	close(gate)
	if err := <-stopped; err != nil {
		t.Errorf("Stop failed after interrupt: %v", err)
	}
}

func TestInterruptHandler_DuringStreamStartFinalizesWriters(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{startGate: gate, entered: make(chan string, 4)}
	m, _, _, _ := newTestManager(t, backend, 0)
	sigChan, exited := newInterruptHandler(t, m)

	started := make(chan error, 1)
	go func() { started <- m.Start() }()
	if ev := <-backend.entered; ev != "start" {
		t.Fatalf("Expected the stream to be starting, got %s", ev)
	}
	for _, w := range backend.openedWriters(0) {
		w.TryWrite([]int{4, 5, 6})
	}

	sigChan <- os.Interrupt
	waitExit(t, exited)

	for _, w := range backend.openedWriters(0) {
		if !w.Closed() {
			t.Errorf("Expected %s to be finalized while the stream was starting", w.Path())
		}
		assertValidWAV(t, w.Path())
	}

	close(gate)
	if err := <-started; err != nil {
		t.Errorf("Start failed after interrupt: %v", err)
	}
	m.Stop()
}
