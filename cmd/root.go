package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/smrec/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int

	hostName        string
	deviceName      string
	includeChannels []int
	excludeChannels []int
	outputDir       string
	durationSecs    uint
	oscFlag         string
	midiFlag        string
	httpAddr        string
)

var rootCmd = &cobra.Command{
	Use:   "smrec",
	Short: "Minimalist multi-track audio recorder",
	Long: `smrec records every input channel of an audio device into its own mono
WAV file. Each recording goes into a fresh rec_<timestamp> directory.

Without --midi, --osc or --http it records right away, until interrupted or
until --duration elapses. With any of them it waits for start and stop
commands from the enabled sources.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		// list talks to the drivers only
		if cmd.Name() == "list" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.File != "" {
			slog.Debug("Loaded config", "file", cfg.File)
		}
		applyFlagOverrides(cmd)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return record(cmd)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.smrec/config.toml, then ~/.smrec/config.toml)")
	rootCmd.PersistentFlags().CountVarP(&verboseLevel, "verbose", "v", "verbose output, repeat for more (-vv)")

	rootCmd.PersistentFlags().StringVar(&hostName, "host", "", "audio host API to use (default host if empty)")
	rootCmd.PersistentFlags().StringVar(&deviceName, "device", "", "input device to use (default input device if empty)")
	rootCmd.PersistentFlags().IntSliceVar(&includeChannels, "include", nil, "channels to record, 1-based (e.g. --include 1,2,5)")
	rootCmd.PersistentFlags().IntSliceVar(&excludeChannels, "exclude", nil, "channels to skip, 1-based (e.g. --exclude 3,4)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "out", "o", "", "base directory for recordings (overrides config)")

	rootCmd.Flags().UintVar(&durationSecs, "duration", 0, "recording duration in seconds, 0 records until interrupted")
	addSourceFlags(rootCmd)
	rootCmd.Flags().StringVar(&httpAddr, "http", "", "enable HTTP control on this address (e.g. :8080)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
}

// addSourceFlags registers --osc and --midi. Given bare they enable the source
// with its defaults, so a value must be attached with "=".
func addSourceFlags(c *cobra.Command) {
	c.Flags().StringVar(&oscFlag, "osc", "", `enable OSC control: --osc="listen_addr;send_addr", bare for defaults`)
	c.Flags().StringVar(&midiFlag, "midi", "", `enable MIDI control: --midi="input_mapping;output_mapping", bare for defaults`)
	c.Flags().Lookup("osc").NoOptDefVal = ";"
	c.Flags().Lookup("midi").NoOptDefVal = ";"
}

// applyFlagOverrides copies explicitly set flags over the loaded config
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Audio.Host = hostName
	}
	if flags.Changed("device") {
		cfg.Audio.Device = deviceName
	}
	if flags.Changed("out") {
		cfg.Output.Directory = config.ExpandPath(outputDir)
	}
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch {
	case level <= 0:
		slogLevel = slog.LevelWarn
	case level == 1:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	// status lines go to stdout, logs stay on stderr
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
