package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanline/internal/api"
	"github.com/jackzampolin/scanline/internal/normalize"
)

var (
	extractMediaType string
	extractOffline   bool
	extractTextOnly  bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Run OCR on a local PDF or image without a server",
	Long: `Run the OCR pipeline in-process and print the result.

The media type is derived from the file extension, then from the content.
Logs go to stderr so the result on stdout can be piped.

Examples:
  scanline extract bill.pdf
  scanline extract scan.jpg -o json
  scanline extract scan.png --offline --text`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger(os.Stderr)
		if err != nil {
			return err
		}
		cm, _, err := loadConfig()
		if err != nil {
			return err
		}
		cm.SetLogger(logger)

		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		filename := filepath.Base(path)
		mediaType := extractMediaType
		if mediaType == "" {
			mediaType = normalize.DetectMediaType(filename, data)
		}

		settings := cm.Get().Settings()
		if extractOffline {
			settings.Offline = true
		}
		p, err := newPipelineFactory(logger)(settings)
		if err != nil {
			return err
		}

		resp := p.Run(ctx, normalize.RawDocument{Data: data, MediaType: mediaType, Filename: filename})
		if extractTextOnly && !resp.Failed() {
			fmt.Println(resp.FullText)
			return nil
		}
		if err := api.Output(resp); err != nil {
			return err
		}
		if resp.Failed() {
			return fmt.Errorf("ocr failed at %s: %s", resp.ErrorStage, resp.ErrorMessage)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractMediaType, "media-type", "", "Declared media type (default: detected)")
	extractCmd.Flags().BoolVar(&extractOffline, "offline", false, "Skip the remote engine")
	extractCmd.Flags().BoolVar(&extractTextOnly, "text", false, "Print only the extracted text")

	rootCmd.AddCommand(extractCmd)
}
