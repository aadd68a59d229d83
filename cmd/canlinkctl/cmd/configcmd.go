package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or update the persisted CLI configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active configuration and its file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = DefaultConfigPath()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "file:    %s\nserver:  %s\ntimeout: %v\n", path, cfg.Server, cfg.Timeout)
		return nil
	},
}

var configSetServerCmd = &cobra.Command{
	Use:   "set-server HOST:PORT",
	Short: "Persist the default bridge address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, _, err := splitServer(args[0]); err != nil {
			return err
		}
		path := cfgFile
		if path == "" {
			path = DefaultConfigPath()
		}
		cfg.Server = args[0]
		if err := SaveConfig(path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetServerCmd)
	rootCmd.AddCommand(configCmd)
}
