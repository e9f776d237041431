package main

import (
	"log/slog"

	"github.com/jackzampolin/scanline/internal/pipeline"
	"github.com/jackzampolin/scanline/internal/providers/tesseract"
	"github.com/jackzampolin/scanline/internal/server"
)

// newPipelineFactory wires the production engines: Azure Read (built by the
// pipeline from settings), Tesseract as fallback and lingua for language
// annotation. The detector is shared; its models load once.
func newPipelineFactory(logger *slog.Logger) server.PipelineFactory {
	detector := pipeline.NewLinguaDetector()
	return func(s pipeline.Settings) (*pipeline.Pipeline, error) {
		return pipeline.New(pipeline.Config{
			Settings: s,
			Recognizer: tesseract.New(tesseract.Config{
				Languages: s.FallbackLanguages,
				Logger:    logger,
			}),
			Detector: detector,
			Logger:   logger,
		})
	}
}
