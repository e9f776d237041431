package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanline/internal/api"
	"github.com/jackzampolin/scanline/internal/config"
	"github.com/jackzampolin/scanline/internal/home"
	"github.com/jackzampolin/scanline/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "scanline",
	Short: "OCR for uploaded bills and documents with a local fallback",
	Long: `Scanline extracts text from uploaded PDFs and images.

Each document goes through a fixed pipeline:
  - Normalize the upload into raster pages (PDFs rendered at 300 DPI)
  - Enhance every page for OCR (grayscale, deskew, denoise, threshold)
  - Azure Document Intelligence Read with retry and polling
  - A confidence gate that falls back to local Tesseract
  - A stage trace returned with every result`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.scanline/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "scanline home directory (default: ~/.scanline)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn, error",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		format, err := api.ParseOutputFormat(outputFormat)
		if err != nil {
			return err
		}
		api.SetOutputFormat(format)
		return nil
	}

	rootCmd.AddCommand(versionCmd)
}

// newLogger returns a text logger at the --log-level.
func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(logLevel))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// loadConfig resolves the home directory and loads configuration. A config
// file inside a custom --home is used when --config is not given.
func loadConfig() (*config.Manager, *home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}

	path := cfgFile
	if path == "" && homeDir != "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	cm, err := config.NewManager(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cm, h, nil
}
