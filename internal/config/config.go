package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/smrec/internal/audio"
	"github.com/audiolibrelab/smrec/internal/errs"
)

type Config struct {
	ChannelNames map[string]string `mapstructure:"channel_names" yaml:"channel_names,omitempty"`
	Output       OutputConfig      `mapstructure:"output" yaml:"output"`
	Audio        AudioConfig       `mapstructure:"audio" yaml:"audio"`
	MIDI         MIDIConfig        `mapstructure:"midi" yaml:"midi"`
	OSC          OSCConfig         `mapstructure:"osc" yaml:"osc"`
	Session      SessionConfig     `mapstructure:"session" yaml:"session"`

	// File the values were read from, empty when running on defaults
	File string `mapstructure:"-" yaml:"-"`

	names map[int]string
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type AudioConfig struct {
	Host            string `mapstructure:"host" yaml:"host,omitempty"`
	Device          string `mapstructure:"device" yaml:"device,omitempty"`
	SampleFormat    string `mapstructure:"sample_format" yaml:"sample_format"`
	SampleRate      int    `mapstructure:"sample_rate" yaml:"sample_rate"`            // 0 = device default
	FramesPerBuffer int    `mapstructure:"frames_per_buffer" yaml:"frames_per_buffer"`
	Latency         string `mapstructure:"latency" yaml:"latency"` // "low", "high"
}

// MIDIConfig holds mapping strings; an empty input disables MIDI control.
type MIDIConfig struct {
	Input  string `mapstructure:"input" yaml:"input,omitempty"`
	Output string `mapstructure:"output" yaml:"output,omitempty"`
}

type OSCConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Send    string `mapstructure:"send" yaml:"send"`
}

type SessionConfig struct {
	RestartDebounce string `mapstructure:"restart_debounce" yaml:"restart_debounce"`
}

const (
	DefaultOSCListen       = "0.0.0.0:18000"
	DefaultOSCSend         = "127.0.0.1:18001"
	DefaultRestartDebounce = 100 * time.Millisecond
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.directory", ".")
	v.SetDefault("audio.sample_format", "f32")
	v.SetDefault("audio.sample_rate", 0)
	v.SetDefault("audio.frames_per_buffer", 1024)
	v.SetDefault("audio.latency", "high")
	v.SetDefault("osc.enabled", false)
	v.SetDefault("osc.listen", DefaultOSCListen)
	v.SetDefault("osc.send", DefaultOSCSend)
	v.SetDefault("session.restart_debounce", DefaultRestartDebounce.String())
}

// Load reads configFile, or the first existing file among
// ./.smrec/config.toml and ~/.smrec/config.toml when configFile is empty.
// Without any file the defaults are used. An explicit file that cannot be
// read is a ConfigError.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SMREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := configFile
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		v.SetConfigFile(ExpandPath(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Configf("error reading config file %s: %v", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Configf("error unmarshaling config: %v", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Output.Directory = ExpandPath(cfg.Output.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SearchPaths lists the implicit config locations in lookup order
func SearchPaths() []string {
	paths := []string{filepath.Join(".smrec", "config.toml")}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".smrec", "config.toml"))
	}
	return paths
}

func findConfigFile() string {
	for _, p := range SearchPaths() {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// Validate checks every value that has a closed set of choices and parses
// the channel name table. All failures are ConfigErrors.
func (c *Config) Validate() error {
	var problems []error

	names, err := parseChannelNames(c.ChannelNames)
	if err != nil {
		problems = append(problems, err)
	}
	c.names = names

	if _, err := audio.ParseSampleFormat(c.Audio.SampleFormat); err != nil {
		problems = append(problems, err)
	}
	if c.Audio.SampleRate < 0 {
		problems = append(problems, errs.Configf("audio.sample_rate must not be negative"))
	}
	if c.Audio.FramesPerBuffer < 0 {
		problems = append(problems, errs.Configf("audio.frames_per_buffer must not be negative"))
	}
	switch strings.ToLower(c.Audio.Latency) {
	case "", "low", "high":
	default:
		problems = append(problems, errs.Configf("audio.latency must be 'low' or 'high', got %q", c.Audio.Latency))
	}
	if _, err := c.RestartDebounce(); err != nil {
		problems = append(problems, err)
	}

	return errors.Join(problems...)
}

// SampleFormat returns the parsed audio.sample_format
func (c *Config) SampleFormat() audio.SampleFormat {
	f, err := audio.ParseSampleFormat(c.Audio.SampleFormat)
	if err != nil {
		return audio.Float32
	}
	return f
}

// RestartDebounce returns session.restart_debounce; zero disables it.
func (c *Config) RestartDebounce() (time.Duration, error) {
	if c.Session.RestartDebounce == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Session.RestartDebounce)
	if err != nil || d < 0 {
		return 0, errs.Configf("session.restart_debounce %q is not a valid duration", c.Session.RestartDebounce)
	}
	return d, nil
}

// ChannelName returns the file name for a 0-indexed channel.
func (c *Config) ChannelName(channel int) string {
	if name, ok := c.names[channel+1]; ok {
		return name
	}
	return fmt.Sprintf("chn_%d.wav", channel+1)
}

// FileNames maps each recorded channel to its file name.
func (c *Config) FileNames(channels []int) []string {
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = c.ChannelName(ch)
	}
	return names
}

func parseChannelNames(raw map[string]string) (map[int]string, error) {
	names := make(map[int]string, len(raw))
	for key, name := range raw {
		n, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || n < 1 {
			return nil, errs.Configf("channel_names key %q must be an integer greater than 0", key)
		}
		if strings.TrimSpace(name) == "" {
			return nil, errs.Configf("channel_names.%d must not be empty", n)
		}
		names[n] = name
	}
	return names, nil
}

// Choose derives the recorded channel set from 1-based include or exclude
// lists. The result is 0-indexed, ascending and free of duplicates. Giving
// both lists, or naming a channel the device does not have, is a ConfigError.
func Choose(include, exclude []int, deviceChannels int) ([]int, error) {
	if len(include) > 0 && len(exclude) > 0 {
		return nil, errs.Configf("using --exclude and --include together is not allowed")
	}

	var channels []int
	switch {
	case len(include) > 0:
		seen := make(map[int]bool)
		for _, n := range include {
			if n < 1 || n > deviceChannels {
				return nil, errs.Configf("channel %d is meant to be included but it does not exist (device has %d)", n, deviceChannels)
			}
			if !seen[n] {
				seen[n] = true
				channels = append(channels, n-1)
			}
		}
		sort.Ints(channels)

	case len(exclude) > 0:
		skip := make(map[int]bool)
		for _, n := range exclude {
			if n < 1 || n > deviceChannels {
				return nil, errs.Configf("channel %d is meant to be excluded but it does not exist", n)
			}
			skip[n-1] = true
		}
		for ch := 0; ch < deviceChannels; ch++ {
			if !skip[ch] {
				channels = append(channels, ch)
			}
		}

	default:
		for ch := 0; ch < deviceChannels; ch++ {
			channels = append(channels, ch)
		}
	}

	if len(channels) == 0 {
		return nil, errs.Configf("no channels left to record")
	}
	return channels, nil
}

func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
