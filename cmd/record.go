package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/smrec/internal/action"
	"github.com/audiolibrelab/smrec/internal/config"
	"github.com/audiolibrelab/smrec/internal/device"
	"github.com/audiolibrelab/smrec/internal/errs"
	"github.com/audiolibrelab/smrec/internal/midi"
	"github.com/audiolibrelab/smrec/internal/osc"
	"github.com/audiolibrelab/smrec/internal/server"
	"github.com/audiolibrelab/smrec/internal/service"

	"github.com/spf13/cobra"
)

// sources describes which control sources a run enables
type sources struct {
	midi      bool
	osc       bool
	http      bool
	midiIn    string
	midiOut   string
	oscListen string
	oscSend   string
}

func (s sources) any() bool {
	return s.midi || s.osc || s.http
}

// resolveSources merges the --midi/--osc/--http flags with the config. A
// flag given with an empty value enables its source with defaults.
func resolveSources(cmd *cobra.Command, conf *config.Config) (sources, error) {
	var src sources
	flags := cmd.Flags()

	switch {
	case flags.Changed("midi"):
		in, out, err := splitMIDIFlag(midiFlag)
		if err != nil {
			return src, err
		}
		src.midi, src.midiIn, src.midiOut = true, in, out
	case conf.MIDI.Input != "":
		src.midi, src.midiIn, src.midiOut = true, conf.MIDI.Input, conf.MIDI.Output
	}
	if src.midi && src.midiIn == "" {
		src.midiIn = midi.DefaultMapping
	}

	if flags.Changed("osc") || conf.OSC.Enabled {
		value := ""
		if flags.Changed("osc") {
			value = oscFlag
		}
		listen, send, err := osc.ParseFlag(value, conf.OSC.Listen, conf.OSC.Send)
		if err != nil {
			return src, err
		}
		src.osc, src.oscListen, src.oscSend = true, listen, send
	}

	src.http = httpAddr != ""
	return src, nil
}

// splitMIDIFlag splits "input_mapping;output_mapping". Either part may be
// empty.
func splitMIDIFlag(value string) (in, out string, err error) {
	parts := strings.Split(value, ";")
	if len(parts) > 2 {
		return "", "", errs.Configf("too many arguments for --midi: %q", value)
	}
	in = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		out = strings.TrimSpace(parts[1])
	}
	return in, out, nil
}

// record opens the input device and either records straight away or waits
// for commands from the enabled control sources.
func record(cmd *cobra.Command) error {
	src, err := resolveSources(cmd, cfg)
	if err != nil {
		return err
	}
	debounce, err := cfg.RestartDebounce()
	if err != nil {
		return err
	}

	dev, err := device.Open(device.Options{
		Host:            cfg.Audio.Host,
		Device:          cfg.Audio.Device,
		SampleFormat:    cfg.SampleFormat(),
		SampleRate:      cfg.Audio.SampleRate,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		Latency:         cfg.Audio.Latency,
	})
	if err != nil {
		return err
	}
	defer dev.Close()

	channels, err := config.Choose(includeChannels, excludeChannels, dev.Format().Channels)
	if err != nil {
		return err
	}

	slog.Info("Recording setup",
		"device", dev.Name(),
		"format", dev.Format().String(),
		"channels", len(channels),
		"output_dir", cfg.Output.Directory)

	manager := service.New(service.Options{
		Backend:         dev,
		BaseDir:         cfg.Output.Directory,
		Channels:        channels,
		Names:           cfg.FileNames(channels),
		RestartDebounce: debounce,
	})
	service.HandleInterrupt(manager)

	duration := time.Duration(durationSecs) * time.Second
	if !src.any() {
		return recordFor(manager, duration)
	}
	return listen(manager, src, duration)
}

// recordFor records one session until duration elapses. A zero duration
// records until the process is interrupted.
func recordFor(manager *service.Manager, duration time.Duration) error {
	if err := manager.Start(); err != nil {
		return err
	}

	var elapsed <-chan time.Time
	if duration > 0 {
		elapsed = time.After(duration)
	}
	<-elapsed

	if err := manager.Stop(); err != nil {
		return err
	}
	fmt.Println("Recording complete!")
	return nil
}

// listen wires the control sources to the manager and runs the controller
// until duration elapses, or forever when it is zero.
func listen(manager *service.Manager, src sources, duration time.Duration) error {
	bus := action.NewBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	notify := func(run func(*action.Queue)) {
		q := bus.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(q)
		}()
	}

	if src.midi {
		inMapping, err := midi.ParseMapping(src.midiIn)
		if err != nil {
			return err
		}
		listener, err := midi.Listen(inMapping, bus)
		if err != nil {
			return err
		}
		defer midi.Close()
		defer listener.Close()

		if src.midiOut != "" {
			outMapping, err := midi.ParseMapping(src.midiOut)
			if err != nil {
				return err
			}
			notifier, err := midi.NewNotifier(outMapping)
			if err != nil {
				return err
			}
			notify(notifier.Run)
		}
		fmt.Printf("Listening for MIDI on %s\n", strings.Join(listener.Ports(), ", "))
	}

	if src.osc {
		receiver, err := osc.Listen(src.oscListen, osc.NewDispatcher(bus))
		if err != nil {
			return err
		}
		defer receiver.Close()
		go func() {
			if err := receiver.Serve(); err != nil {
				slog.Error("OSC receiver stopped", "error", err)
			}
		}()

		notifier, err := osc.NewNotifier(src.oscSend)
		if err != nil {
			return err
		}
		notify(notifier.Run)
		fmt.Printf("Listening for OSC on %s, sending to %s\n", receiver.Addr(), src.oscSend)
	}

	if src.http {
		srv := server.New(bus, manager, cfg.Output.Directory)
		if err := srv.Listen(httpAddr); err != nil {
			return errs.Wrap(errs.ErrTransport, err)
		}
		go func() {
			if err := srv.Serve(); err != nil {
				slog.Error("HTTP server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
			defer stop()
			srv.Shutdown(shutdownCtx)
		}()
		fmt.Printf("Listening for HTTP on %s\n", srv.Addr())
	}

	if duration > 0 {
		timer := time.AfterFunc(duration, cancel)
		defer timer.Stop()
	}

	manager.Run(ctx, bus)
	wg.Wait()

	if manager.State() == service.StateRecording {
		if err := manager.Stop(); err != nil {
			return err
		}
	}
	fmt.Println("Recording complete!")
	return nil
}
