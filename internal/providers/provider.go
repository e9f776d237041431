package providers

import (
	"context"
	"time"

	"github.com/jackzampolin/scanline/internal/enhance"
)

// Engine identifies which OCR engine produced a result.
type Engine string

const (
	EngineRemote   Engine = "remote"
	EngineFallback Engine = "fallback"
)

// DocumentAnalyzer submits an encoded document to a remote OCR service.
type DocumentAnalyzer interface {
	// Name returns the provider identifier (e.g., "azure-read").
	Name() string

	// Analyze extracts text from payload. Failures are *stages.StageError
	// tagged azure_read_call.
	Analyze(ctx context.Context, payload []byte, contentType string) (*OCRResult, error)
}

// PageRecognizer runs OCR locally over enhanced pages.
type PageRecognizer interface {
	// Name returns the engine identifier (e.g., "tesseract").
	Name() string

	// Recognize extracts text from pages in order. Failures are
	// *stages.StageError tagged fallback_call.
	Recognize(ctx context.Context, pages []enhance.EnhancedPage) (*OCRResult, error)
}

// OCRResult is the text extracted by one engine.
type OCRResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // in [0, 1]
	Engine     Engine  `json:"engine"`

	// Metadata from provider (page and word counts, operation ids, etc.)
	Metadata map[string]any `json:"metadata,omitempty"`

	ExecutionTime time.Duration `json:"execution_time"`
}
