package main

import (
	"fmt"
	"os"

	"subtitle-orchestrator/pkg/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration settings",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteTemplate(configPath); err != nil {
			return err
		}
		fmt.Printf("Created configuration file: %s\n", configPath)
		fmt.Println("Set GEMINI_API_KEY in the environment or .env before starting the server.")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cfg.Translation.APIKey != "" {
			cfg.Translation.APIKey = "********"
		}
		if cfg.Storage.DatabaseURL != "" {
			cfg.Storage.DatabaseURL = "********"
		}

		fmt.Printf("Configuration file: %s\n\n", configPath)
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
