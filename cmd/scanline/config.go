package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanline/internal/api"
	"github.com/jackzampolin/scanline/internal/config"
	"github.com/jackzampolin/scanline/internal/home"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write the default configuration to the home directory
(~/.scanline/config.yaml), or to --config when given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}

		path := cfgFile
		if path == "" {
			if err := h.EnsureExists(); err != nil {
				return err
			}
			path = h.ConfigPath()
			if h.ConfigExists() && !configForce {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}

		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, _, err := loadConfig()
		if err != nil {
			return err
		}
		return api.Output(cm.Entries())
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
