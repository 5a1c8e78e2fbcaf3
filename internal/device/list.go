package device

import (
	"github.com/gordonklaus/portaudio"

	"github.com/audiolibrelab/smrec/internal/errs"
)

// HostInfo is one PortAudio host API and its devices
type HostInfo struct {
	Name    string
	Default bool
	Devices []DeviceInfo
}

// DeviceInfo is the default input configuration of one device
type DeviceInfo struct {
	Name          string
	InputChannels int
	SampleRate    float64
	DefaultInput  bool
}

// List enumerates hosts and their devices. PortAudio is initialized for the
// duration of the call.
func List() ([]HostInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, errs.Devicef("failed to initialize PortAudio: %v", err)
	}
	defer portaudio.Terminate()

	hosts, err := portaudio.HostApis()
	if err != nil {
		return nil, errs.Devicef("failed to list audio hosts: %v", err)
	}

	var defaultHost string
	if h, err := portaudio.DefaultHostApi(); err == nil {
		defaultHost = h.Name
	}

	result := make([]HostInfo, 0, len(hosts))
	for _, h := range hosts {
		info := HostInfo{Name: h.Name, Default: h.Name == defaultHost}
		for _, dev := range h.Devices {
			info.Devices = append(info.Devices, DeviceInfo{
				Name:          dev.Name,
				InputChannels: dev.MaxInputChannels,
				SampleRate:    dev.DefaultSampleRate,
				DefaultInput:  h.DefaultInputDevice != nil && dev.Name == h.DefaultInputDevice.Name,
			})
		}
		result = append(result, info)
	}
	return result, nil
}
