// Package tesseract runs local OCR through libtesseract.
package tesseract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/jackzampolin/scanline/internal/enhance"
	"github.com/jackzampolin/scanline/internal/normalize"
	"github.com/jackzampolin/scanline/internal/providers"
	"github.com/jackzampolin/scanline/internal/stages"
)

const Name = "tesseract"

// DefaultLanguages are the traineddata models loaded when none are configured.
var DefaultLanguages = []string{"eng", "spa"}

// Config holds configuration for the Tesseract recognizer.
type Config struct {
	// Languages are tesseract model names (e.g., "eng", "spa").
	Languages []string

	// PageSegMode defaults to a single uniform block of text.
	PageSegMode gosseract.PageSegMode

	Logger *slog.Logger
}

// Recognizer implements providers.PageRecognizer with gosseract. Each call
// uses its own client, so concurrent calls share no engine state.
type Recognizer struct {
	languages []string
	psm       gosseract.PageSegMode
	newClient func() *gosseract.Client
	logger    *slog.Logger
}

// New creates a Tesseract recognizer.
func New(cfg Config) *Recognizer {
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultLanguages
	}
	if cfg.PageSegMode == 0 {
		cfg.PageSegMode = gosseract.PSM_SINGLE_BLOCK
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recognizer{
		languages: cfg.Languages,
		psm:       cfg.PageSegMode,
		newClient: gosseract.NewClient,
		logger:    cfg.Logger,
	}
}

// Name returns the engine identifier.
func (r *Recognizer) Name() string {
	return Name
}

// Languages returns the configured model names.
func (r *Recognizer) Languages() []string {
	return r.languages
}

// Recognize extracts text from every page in order and joins it with newlines.
// Confidence is always providers.FallbackConfidence.
func (r *Recognizer) Recognize(ctx context.Context, pages []enhance.EnhancedPage) (*providers.OCRResult, error) {
	start := time.Now()

	client := r.newClient()
	defer client.Close()

	if err := client.SetLanguage(r.languages...); err != nil {
		return nil, stages.Errorf(stages.FallbackCall, "Tesseract failed: %w", err)
	}
	if err := client.SetPageSegMode(r.psm); err != nil {
		return nil, stages.Errorf(stages.FallbackCall, "Tesseract failed: %w", err)
	}

	texts := make([]string, 0, len(pages))
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, stages.Errorf(stages.FallbackCall, "Tesseract failed: %w", err)
		}
		text, err := r.recognizePage(client, page)
		if err != nil {
			return nil, stages.Errorf(stages.FallbackCall, "Tesseract failed: page %d: %w", page.Ordinal, err)
		}
		texts = append(texts, text)
	}

	r.logger.Debug("tesseract recognized pages", "pages", len(pages), "languages", strings.Join(r.languages, "+"))

	return &providers.OCRResult{
		Text:       providers.JoinPages(texts),
		Confidence: providers.FallbackConfidence,
		Engine:     providers.EngineFallback,
		Metadata: map[string]any{
			"languages": strings.Join(r.languages, "+"),
			"pages":     len(pages),
		},
		ExecutionTime: time.Since(start),
	}, nil
}

func (r *Recognizer) recognizePage(client *gosseract.Client, page enhance.EnhancedPage) (string, error) {
	if page.Image == nil {
		return "", fmt.Errorf("missing image")
	}
	data, err := normalize.EncodePNG(page.Image)
	if err != nil {
		return "", err
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimRight(text, "\n"), nil
}

// Verify interface
var _ providers.PageRecognizer = (*Recognizer)(nil)
