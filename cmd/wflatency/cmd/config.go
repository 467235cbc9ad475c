package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/wflatency/internal/config"
	"github.com/psantana5/wflatency/internal/logging"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or generate configuration",
	Long:  `Commands for inspecting the effective configuration and writing an example config file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after merging defaults, the config file,
WFLATENCY_* environment variables and flags. Secrets are masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print an example config file",
	Long: `Prints a commented example configuration.

Example:
  wflatency config example > ~/.wflatency/config.yaml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(config.ExampleConfig)
	},
}

var configLogrotateCmd = &cobra.Command{
	Use:   "logrotate <setup|cleanup|continuous|summary>",
	Short: "Print a logrotate config for --log-file output",
	Long: `Prints a logrotate snippet for the log files a command writes when
log_file is enabled.

Example:
  wflatency config logrotate continuous | sudo tee /etc/logrotate.d/wflatency-continuous`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"setup", "cleanup", "continuous", "summary"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(logging.LogrotateConfig(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configExampleCmd)
	configCmd.AddCommand(configLogrotateCmd)

	configShowCmd.Flags().StringVarP(&configOutput, "output", "o", "yaml", "Output format: yaml or json")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = cfg.Redacted()

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", used)
	}

	switch configOutput {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)

	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return err
		}
		return encoder.Close()

	default:
		return fmt.Errorf("unknown output format %q", configOutput)
	}
}
