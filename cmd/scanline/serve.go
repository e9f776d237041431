package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanline/internal/server"
)

var (
	serveHost  string
	servePort  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Scanline server",
	Long: `Start the Scanline HTTP server.

The server provides:
  - POST /api/ocr-debug - Run OCR on a multipart "file" upload
  - /health             - Basic server health check
  - /ready              - Readiness check (includes the OCR pipeline)
  - /status             - Engine configuration and rate limiter state
  - /api/settings       - Effective configuration

Edits to the config file are picked up without a restart.

Examples:
  scanline serve                    # Start on the configured port (default 8080)
  scanline serve --port 3000        # Start on custom port
  scanline serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger(os.Stdout)
		if err != nil {
			return err
		}

		cm, h, err := loadConfig()
		if err != nil {
			return err
		}
		cm.SetLogger(logger)
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cfg := cm.Get()
		host, port := cfg.Server.Host, cfg.Server.Port
		if cmd.Flags().Changed("host") {
			host = serveHost
		}
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv, err := server.New(server.Config{
			Host:            host,
			Port:            port,
			ConfigManager:   cm,
			PipelineFactory: newPipelineFactory(logger),
			Home:            h,
			Logger:          logger,
		})
		if err != nil {
			return err
		}

		if serveWatch && cm.ConfigFile() != "" {
			cm.WatchConfig()
			logger.Info("watching config file", "file", cm.ConfigFile())
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to (overrides server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on (overrides server.port)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload the pipeline when the config file changes")

	rootCmd.AddCommand(serveCmd)
}
