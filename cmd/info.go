package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/smrec/internal/audio"
	"github.com/audiolibrelab/smrec/internal/config"
	"github.com/audiolibrelab/smrec/internal/device"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the resolved device, format and channel files",
	Long: `Open the configured input device and show what a recording would use:
stream format, selected channels and the file each channel is written to.
Honors --host, --device, --include, --exclude and --out.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		fmt.Print(describePlan(dev.Name(), dev.Format(), cfg, channels))
		return nil
	},
}

func describePlan(deviceName string, format audio.StreamFormat, c *config.Config, channels []int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== DEVICE ===\n")
	fmt.Fprintf(&b, "device: %s\n", deviceName)
	fmt.Fprintf(&b, "format: %s\n", format.String())

	source := c.File
	if source == "" {
		source = "defaults"
	}
	fmt.Fprintf(&b, "\n=== OUTPUT ===\n")
	fmt.Fprintf(&b, "config: %s\n", source)
	fmt.Fprintf(&b, "directory: %s\n", filepath.Join(c.Output.Directory, "rec_<timestamp>"))

	fmt.Fprintf(&b, "\n=== CHANNELS (%d of %d) ===\n", len(channels), format.Channels)
	for i, name := range c.FileNames(channels) {
		fmt.Fprintf(&b, "%d: %s\n", channels[i]+1, name)
	}
	return b.String()
}
