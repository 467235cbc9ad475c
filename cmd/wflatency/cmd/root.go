package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/wflatency/internal/config"
)

// Version is set at build time
var Version = "dev"

var (
	cfgFile string
	envFile string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "wflatency",
	Short: "Measure workflow engine reaction latency on a SharePoint site",
	Long: `wflatency writes probe items to a list and measures how long each
workflow engine generation (2010 and 2013) takes to react with a task.

A probe site is prepared once with "setup", sampled with "continuous",
inspected with "summary" and emptied with "cleanup".`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.wflatency/config.yaml)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file with WFLATENCY_* variables, ignored if missing")
	flags.String("backend", config.BackendREST, "gateway backend: rest or memory")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.Bool("log-file", false, "also write logs under /var/log/wflatency")
	flags.String("token", "", "bearer token used instead of username and password")
	flags.Duration("timeout", 0, "HTTP request timeout (default from config, 30s)")
	flags.Float64("rate", 0, "maximum requests per second to the site (default from config, 10)")
	flags.Bool("tracing", false, "export OpenTelemetry spans over OTLP/HTTP")
	flags.String("otlp-endpoint", "", "OTLP/HTTP collector endpoint")

	bind("backend", "backend")
	bind("log_level", "log-level")
	bind("log_format", "log-format")
	bind("log_file", "log-file")
	bind("token", "token")
	bind("http.timeout", "timeout")
	bind("http.requests_per_second", "rate")
	bind("tracing.enabled", "tracing")
	bind("tracing.otlp_endpoint", "otlp-endpoint")
}

// bind maps a persistent flag onto a config key. Flags only override the
// config when set on the command line.
func bind(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
		}
	}

	config.Configure(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".wflatency"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}
}

// loadConfig returns the effective configuration
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}
