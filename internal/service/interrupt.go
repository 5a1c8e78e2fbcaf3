package service

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

type interruptHandler struct {
	once   sync.Once
	notify func(c chan<- os.Signal, sig ...os.Signal)
	exit   func(code int)
}

var processInterrupt = &interruptHandler{notify: signal.Notify, exit: os.Exit}

// HandleInterrupt installs the process-wide SIGINT/SIGTERM handler: it
// finalizes m's live writers and exits 0. Only the first call registers;
// later calls return false and change nothing.
func HandleInterrupt(m *Manager) bool {
	return processInterrupt.register(m)
}

func (h *interruptHandler) register(m *Manager) bool {
	registered := false
	h.once.Do(func() {
		registered = true

		sigChan := make(chan os.Signal, 1)
		h.notify(sigChan, os.Interrupt, syscall.SIGTERM)

		go func() {
			sig := <-sigChan
			slog.Debug("Received signal", "signal", sig)

			live := m.live.Load() != nil
			if err := m.FinalizeLive(); err != nil {
				slog.Error("Failed to finalize recording on interrupt", "error", err)
			}
			if live {
				fmt.Fprintln(m.opts.Out, "\rRecording interrupted thus stopped.")
			}
			h.exit(0)
		}()
	})
	return registered
}
