// Package pipeline sequences normalization, enhancement, remote OCR, the
// confidence gate and local fallback into one invocation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/jackzampolin/scanline/internal/enhance"
	"github.com/jackzampolin/scanline/internal/home"
	"github.com/jackzampolin/scanline/internal/normalize"
	"github.com/jackzampolin/scanline/internal/providers"
	"github.com/jackzampolin/scanline/internal/stages"
)

// Config configures a Pipeline.
type Config struct {
	Settings Settings

	// Analyzer is the remote engine (default: Azure Read built from Settings).
	Analyzer providers.DocumentAnalyzer
	// Recognizer is the local fallback engine. Required.
	Recognizer providers.PageRecognizer

	// Rasterizer renders PDF pages (default: poppler).
	Rasterizer normalize.Rasterizer
	// Detector annotates results with their language. Optional.
	Detector LanguageDetector

	Logger *slog.Logger
}

// Pipeline runs OCR invocations. It holds no per-invocation state and is safe
// for concurrent use.
type Pipeline struct {
	settings   Settings
	gate       Gate
	normalizer *normalize.Normalizer
	analyzer   providers.DocumentAnalyzer
	recognizer providers.PageRecognizer
	detector   LanguageDetector
	debugDir   *home.DebugDir
	logger     *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Recognizer == nil {
		return nil, errors.New("fallback recognizer is required")
	}
	if cfg.Settings.ConfidenceThreshold < 0 || cfg.Settings.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("confidence threshold %v out of range [0, 1]", cfg.Settings.ConfidenceThreshold)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Analyzer == nil {
		azCfg := cfg.Settings.AzureReadConfig()
		azCfg.Logger = cfg.Logger
		cfg.Analyzer = providers.NewAzureReadClient(azCfg)
	}

	p := &Pipeline{
		settings:   cfg.Settings,
		gate:       Gate{Threshold: cfg.Settings.ConfidenceThreshold},
		normalizer: normalize.New(normalize.Config{Rasterizer: cfg.Rasterizer, Logger: cfg.Logger}),
		analyzer:   cfg.Analyzer,
		recognizer: cfg.Recognizer,
		detector:   cfg.Detector,
		logger:     cfg.Logger,
	}
	if cfg.Settings.DebugSave {
		p.debugDir = home.NewDebugDir(cfg.Settings.DebugDir)
	}
	return p, nil
}

// Settings returns the settings the pipeline was built with.
func (p *Pipeline) Settings() Settings {
	return p.settings
}

// Analyzer returns the remote engine.
func (p *Pipeline) Analyzer() providers.DocumentAnalyzer {
	return p.analyzer
}

// Recognizer returns the local engine.
func (p *Pipeline) Recognizer() providers.PageRecognizer {
	return p.recognizer
}

// Run executes one invocation. It never returns an error: failures are
// reported in the response with the stage that produced them.
func (p *Pipeline) Run(ctx context.Context, doc normalize.RawDocument) (resp *Response) {
	id := uuid.NewString()
	inv := &invocation{
		id:     id,
		trace:  stages.NewTrace(),
		logger: p.logger.With("invocation_id", id),
	}

	defer func() {
		if r := recover(); r != nil {
			inv.logger.Error("pipeline panic", "panic", r, "stack", string(debug.Stack()))
			resp = inv.failure(http.StatusInternalServerError, stages.NewError(stages.Unexpected, fmt.Sprint(r)))
		}
	}()

	return p.run(ctx, inv, doc)
}

type invocation struct {
	id     string
	trace  *stages.Trace
	logger *slog.Logger
}

func (p *Pipeline) run(ctx context.Context, inv *invocation, doc normalize.RawDocument) *Response {
	if len(doc.Data) == 0 {
		return inv.failure(http.StatusBadRequest, stages.NewError(stages.UploadParse, "Uploaded file is empty"))
	}
	inv.trace.OK(stages.UploadParse, stages.Fields{
		"content_type": doc.MediaType,
		"size_bytes":   len(doc.Data),
		"filename":     doc.Filename,
		"magic":        doc.Magic(),
	})
	inv.logger.Info("document received", "content_type", doc.MediaType, "size_bytes", len(doc.Data), "filename", doc.Filename)

	pages, hint, err := p.normalizer.Normalize(ctx, doc, inv.trace)
	if err != nil {
		return inv.failure(http.StatusBadRequest, stages.Classify(err, stages.UploadParse))
	}

	enhancer := enhance.New(enhance.Config{Saver: p.saver(inv.id), Logger: inv.logger})
	enhanced, err := enhancer.EnhanceAll(ctx, pages, inv.trace)
	if err != nil {
		return inv.failure(http.StatusBadRequest, stages.Classify(err, stages.Preprocess))
	}

	images := make([]image.Image, len(enhanced))
	for i, ep := range enhanced {
		images[i] = ep.Image
	}
	payload, contentType, err := normalize.EncodePayload(images, hint)
	if err != nil {
		return inv.failure(http.StatusInternalServerError, stages.Errorf(stages.Unexpected, "failed to encode payload: %w", err))
	}

	remote := p.callRemote(ctx, inv, payload, contentType)

	final := remote
	decision := p.gate.Decide(remote)
	p.gate.Record(decision, remote, inv.trace)
	if decision == Fallback {
		final, err = p.callFallback(ctx, inv, enhanced)
		if err != nil {
			return inv.failure(http.StatusInternalServerError, stages.Classify(err, stages.FallbackCall))
		}
	}

	inv.logger.Info("ocr complete", "engine", final.Engine, "decision", decision, "confidence", final.Confidence)
	return inv.success(final, p.detector)
}

// callRemote runs the remote engine. Failures are recorded and absorbed.
func (p *Pipeline) callRemote(ctx context.Context, inv *invocation, payload []byte, contentType string) *providers.OCRResult {
	result, err := p.analyzer.Analyze(ctx, payload, contentType)
	if err != nil {
		se := stages.Classify(err, stages.AzureReadCall)
		inv.trace.Fail(stages.AzureReadCall, se.Message)
		inv.logger.Warn("remote ocr failed", "analyzer", p.analyzer.Name(), "error", se.Message)
		return nil
	}
	fields := stages.Fields{"confidence": result.Confidence}
	for _, k := range []string{"pages", "words", "submit_attempts", "polls"} {
		if v, ok := result.Metadata[k]; ok {
			fields[k] = v
		}
	}
	inv.trace.OK(stages.AzureReadCall, fields)
	inv.logger.Info("remote ocr succeeded", "analyzer", p.analyzer.Name(), "confidence", result.Confidence, "duration", result.ExecutionTime)
	return result
}

func (p *Pipeline) callFallback(ctx context.Context, inv *invocation, pages []enhance.EnhancedPage) (*providers.OCRResult, error) {
	if err := inv.trace.Running(stages.FallbackCall); err != nil {
		return nil, stages.Errorf(stages.Unexpected, "failed to start fallback: %w", err)
	}
	result, err := p.recognizer.Recognize(ctx, pages)
	if err != nil {
		return nil, err
	}
	inv.trace.OK(stages.FallbackCall, nil)
	return result, nil
}

func (p *Pipeline) saver(invocationID string) enhance.Saver {
	if p.debugDir == nil {
		return nil
	}
	return p.debugDir.Saver(invocationID)
}
