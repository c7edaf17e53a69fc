// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/iris/internal/config"
	"firestige.xyz/iris/internal/log"
)

var configFile string

// rootCmd represents the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "iris",
	Short: "Iris - edge frame capture and transfer agent",
	Long: `Iris moves image frames from a capture device's memory-mapped buffer
ring, across a TCP connection with length-prefixed framing, onto disk.

The producer (iris capture) borrows device buffers without copying and
streams each frame as one message; the consumer (iris serve) parses the
stream with bounded memory and persists one file per message.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and runs it. This
// is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml",
		"config file path")
}

// loadAndInit loads the config file and initializes logging from it.
func loadAndInit() (*config.GlobalConfig, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}
