package cmd

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/smrec/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long:  `View the smrec configuration after defaults, config file and flags are merged.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show which config file is used and where smrec looks for one",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.File != "" {
			fmt.Printf("Using %s\n", cfg.File)
		} else {
			fmt.Println("No config file found, using defaults")
		}
		fmt.Println("Search paths:")
		for _, p := range config.SearchPaths() {
			fmt.Printf("  %s\n", p)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}
