package cmd

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/smrec/internal/device"
	"github.com/audiolibrelab/smrec/internal/midi"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	listAudio bool
	listMIDI  bool

	titleStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	defaultStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List audio hosts, input devices and MIDI ports",
	Long: `List the audio hosts and devices smrec can record from, with the default
input configuration of each device, and the MIDI ports usable with --midi.
Without --audio or --midi both are listed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all := !listAudio && !listMIDI
		if listAudio || all {
			hosts, err := device.List()
			if err != nil {
				return err
			}
			fmt.Print(renderAudio(hosts))
		}
		if listMIDI || all {
			fmt.Print(renderMIDI(midi.InPorts(), midi.OutPorts()))
			midi.Close()
		}
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listAudio, "audio", false, "list audio hosts and devices")
	listCmd.Flags().BoolVar(&listMIDI, "midi", false, "list MIDI ports")
}

func renderAudio(hosts []device.HostInfo) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Audio Hosts and Devices") + "\n")

	for _, h := range hosts {
		name := h.Name
		if h.Default {
			name += " " + defaultStyle.Render("(default)")
		}
		b.WriteString("\n" + headerStyle.Render(name) + "\n")

		inputs := 0
		for _, d := range h.Devices {
			if d.InputChannels <= 0 {
				continue
			}
			inputs++
			line := fmt.Sprintf("  %d. %q", inputs, d.Name)
			if d.DefaultInput {
				line += " " + defaultStyle.Render("(default input)")
			}
			b.WriteString(line + "\n")
			b.WriteString(dimStyle.Render(fmt.Sprintf("       Channels: %d  Sample Rate: %.0f", d.InputChannels, d.SampleRate)) + "\n")
		}
		if inputs == 0 {
			b.WriteString(dimStyle.Render("  no input devices") + "\n")
		}
	}
	return b.String()
}

func renderMIDI(ins, outs []string) string {
	var b strings.Builder
	b.WriteString("\n" + titleStyle.Render("MIDI Ports") + "\n")
	writePorts(&b, "Inputs", ins)
	writePorts(&b, "Outputs", outs)
	return b.String()
}

func writePorts(b *strings.Builder, title string, ports []string) {
	b.WriteString("\n" + headerStyle.Render(title) + "\n")
	if len(ports) == 0 {
		b.WriteString(dimStyle.Render("  none") + "\n")
		return
	}
	for i, p := range ports {
		fmt.Fprintf(b, "  %d. %q\n", i+1, p)
	}
}
