package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanline/internal/api"
	"github.com/jackzampolin/scanline/internal/server/endpoints"
)

var serverURL string

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Configuration settings commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	registry := api.NewRegistry()
	registry.Register(&endpoints.HealthEndpoint{})
	registry.Register(&endpoints.ReadyEndpoint{})
	registry.Register(&endpoints.StatusEndpoint{})
	registry.Register(&endpoints.OCREndpoint{})
	apiCmd := registry.BuildCommands(getServerURL)

	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Settings as subcommand group
	for _, ep := range endpoints.SettingsCommands() {
		settingsCmd.AddCommand(ep.Command(getServerURL))
	}

	apiCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(apiCmd)
}
