package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tallybill/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage tallybill configuration",
	Long:  "View or modify the configuration stored in ~/.tallybill/config.toml.\nTALLYBILL_* environment variables override the file.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration file and the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configFilePath()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			fmt.Fprintf(out, "No configuration file at %s; using defaults.\n", path)
		case err != nil:
			return fmt.Errorf("cannot read config file: %w", err)
		default:
			fmt.Fprintf(out, "# %s\n%s\n", path, data)
		}

		cfg, err := loadClientConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Effective:")
		fmt.Fprintf(out, "  endpoint:       %s\n", cfg.Endpoint)
		fmt.Fprintf(out, "  db path:        %s\n", cfg.DBPath)
		fmt.Fprintf(out, "  http timeout:   %s\n", cfg.HTTPTimeout)
		fmt.Fprintf(out, "  probe interval: %s\n", cfg.ProbeInterval)
		fmt.Fprintf(out, "  retry backoff:  %s .. %s\n", cfg.RetryBaseDelay, cfg.RetryMaxDelay)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: tallybill config set remote.endpoint https://script.google.com/macros/s/.../exec",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		path, err := configFilePath()
		if err != nil {
			return err
		}
		file, err := config.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := file.Set(key, value); err != nil {
			return err
		}
		if err := config.WriteFile(path, file); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}
