package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/iris/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config file and print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(map[string]*config.GlobalConfig{"iris": cfg})
		if err != nil {
			return err
		}
		fmt.Printf("%s is valid\n---\n%s", configFile, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
