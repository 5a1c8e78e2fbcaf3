// Package device binds the capture pipeline to PortAudio input devices.
package device

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/audiolibrelab/smrec/internal/audio"
	"github.com/audiolibrelab/smrec/internal/errs"
)

const defaultFramesPerBuffer = 1024

var _ audio.Backend = (*Device)(nil)

// Options select the host API, device and stream format.
type Options struct {
	Host            string
	Device          string
	SampleFormat    audio.SampleFormat
	SampleRate      int
	FramesPerBuffer int
	Latency         string
}

// Device is an opened PortAudio input device. It implements audio.Backend.
type Device struct {
	info    *portaudio.DeviceInfo
	format  audio.StreamFormat
	frames  int
	latency time.Duration
}

// Open initializes PortAudio and resolves the input device. An empty host
// means the default host API; an empty device means that host's default
// input. Every failure is a DeviceError.
func Open(opts Options) (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, errs.Devicef("failed to initialize PortAudio: %v", err)
	}

	info, err := findDevice(opts.Host, opts.Device)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	if info.MaxInputChannels <= 0 {
		portaudio.Terminate()
		return nil, errs.Devicef("device %q has no input channels", info.Name)
	}

	rate := opts.SampleRate
	if rate <= 0 {
		rate = int(info.DefaultSampleRate)
	}
	frames := opts.FramesPerBuffer
	if frames <= 0 {
		frames = defaultFramesPerBuffer
	}
	sf := opts.SampleFormat
	if sf == 0 {
		sf = audio.Float32
	}

	latency := info.DefaultHighInputLatency
	if strings.EqualFold(opts.Latency, "low") {
		latency = info.DefaultLowInputLatency
	}

	d := &Device{
		info: info,
		format: audio.StreamFormat{
			Channels:     info.MaxInputChannels,
			SampleRate:   rate,
			SampleFormat: sf,
		},
		frames:  frames,
		latency: latency,
	}

	slog.Debug("Opened input device",
		"device", info.Name,
		"host", info.HostApi.Name,
		"format", d.format.String(),
		"latency", latency)
	return d, nil
}

// Name returns the device name
func (d *Device) Name() string {
	return d.info.Name
}

// Format returns the stream format every session on this device records in.
func (d *Device) Format() audio.StreamFormat {
	return d.format
}

// OpenStream builds an input stream whose callback is the capture pipeline
// instantiated for the device's sample format.
func (d *Device) OpenStream(channels []int, writers []*audio.WriterHandle) (audio.Stream, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   d.info,
			Channels: d.format.Channels,
			Latency:  d.latency,
		},
		SampleRate:      float64(d.format.SampleRate),
		FramesPerBuffer: d.frames,
	}

	n := d.format.Channels
	switch d.format.SampleFormat {
	case audio.Int8:
		return openStream(params, audio.NewCapture(n, channels, writers, audio.Int8ToFile))
	case audio.Int16:
		return openStream(params, audio.NewCapture(n, channels, writers, audio.Int16ToFile))
	case audio.Int32:
		return openStream(params, audio.NewCapture(n, channels, writers, audio.Int32ToFile))
	case audio.Float32:
		return openStream(params, audio.NewCapture(n, channels, writers, audio.Float32ToFile))
	default:
		return nil, errs.Devicef("unsupported sample format %s", d.format.SampleFormat)
	}
}

// Close terminates PortAudio
func (d *Device) Close() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

type stream struct {
	*portaudio.Stream
	dropped func() uint64
}

func (s *stream) Dropped() uint64 {
	return s.dropped()
}

func openStream[T audio.Sample](params portaudio.StreamParameters, c *audio.Capture[T]) (audio.Stream, error) {
	s, err := portaudio.OpenStream(params, c.Process)
	if err != nil {
		return nil, errs.Devicef("failed to open stream: %v", err)
	}
	return &stream{Stream: s, dropped: c.Dropped}, nil
}

func findDevice(hostName, deviceName string) (*portaudio.DeviceInfo, error) {
	host, err := findHost(hostName)
	if err != nil {
		return nil, err
	}

	if deviceName == "" {
		if host.DefaultInputDevice == nil {
			return nil, errs.Devicef("host %q has no default input device", host.Name)
		}
		return host.DefaultInputDevice, nil
	}

	for _, dev := range host.Devices {
		if dev.Name == deviceName {
			return dev, nil
		}
	}
	for _, dev := range host.Devices {
		if strings.Contains(strings.ToLower(dev.Name), strings.ToLower(deviceName)) {
			return dev, nil
		}
	}
	return nil, errs.Devicef("no device named %q on host %q", deviceName, host.Name)
}

func findHost(name string) (*portaudio.HostApiInfo, error) {
	if name == "" {
		host, err := portaudio.DefaultHostApi()
		if err != nil {
			return nil, errs.Devicef("no default audio host: %v", err)
		}
		return host, nil
	}

	hosts, err := portaudio.HostApis()
	if err != nil {
		return nil, errs.Devicef("failed to list audio hosts: %v", err)
	}
	for _, h := range hosts {
		if strings.EqualFold(h.Name, name) {
			return h, nil
		}
	}
	return nil, errs.Devicef("audio host %q not found", name)
}
