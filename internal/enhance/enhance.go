// Package enhance applies a fixed sequence of image transforms that improve
// OCR accuracy on scanned pages.
package enhance

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/scanline/internal/normalize"
	"github.com/jackzampolin/scanline/internal/stages"
)

// Step names a single enhancement transform.
type Step string

const (
	StepGrayscale Step = "grayscale"
	StepDeskew    Step = "deskew"
	StepThreshold Step = "adaptive_threshold"
	StepDenoise   Step = "denoise"
	StepSharpen   Step = "sharpen"
	StepMedian    Step = "median"
)

// Steps is the enhancement sequence, in application order.
var Steps = []Step{StepGrayscale, StepDeskew, StepThreshold, StepDenoise, StepSharpen, StepMedian}

// EnhancedPage is a page after every step has been applied.
type EnhancedPage struct {
	Ordinal int
	Image   *image.Gray
	// Skew is the correction applied by the deskew step, in degrees.
	Skew float64
}

// Saver persists intermediate step output for debugging.
type Saver interface {
	Save(ordinal int, step string, img image.Image) error
}

// Config configures an Enhancer.
type Config struct {
	// Saver receives each step's output when set. Save failures are logged
	// and otherwise ignored.
	Saver Saver
	// MaxWorkers bounds pages enhanced concurrently (default: GOMAXPROCS).
	MaxWorkers int
	Logger     *slog.Logger
}

// Enhancer runs the enhancement sequence.
type Enhancer struct {
	saver      Saver
	maxWorkers int
	logger     *slog.Logger
}

// New creates an Enhancer.
func New(cfg Config) *Enhancer {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.GOMAXPROCS(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Enhancer{
		saver:      cfg.Saver,
		maxWorkers: cfg.MaxWorkers,
		logger:     cfg.Logger,
	}
}

// Enhance applies every step to one page.
func (e *Enhancer) Enhance(page normalize.Page) (EnhancedPage, error) {
	if page.Image == nil {
		return EnhancedPage{}, fmt.Errorf("page %d has no image", page.Ordinal)
	}
	if b := page.Image.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return EnhancedPage{}, fmt.Errorf("page %d is empty", page.Ordinal)
	}

	img := Grayscale(page.Image)
	e.save(page.Ordinal, StepGrayscale, img)

	img, skew := Deskew(img)
	e.save(page.Ordinal, StepDeskew, img)

	img = AdaptiveThreshold(img, ThresholdBlockSize, ThresholdOffset)
	e.save(page.Ordinal, StepThreshold, img)

	img = Denoise(img, DenoiseParams{H: DenoiseH, TemplateWindow: DenoiseTemplateWindow, SearchWindow: DenoiseSearchWindow})
	e.save(page.Ordinal, StepDenoise, img)

	img = Sharpen(img)
	e.save(page.Ordinal, StepSharpen, img)

	img = Median3x3(img)
	e.save(page.Ordinal, StepMedian, img)

	return EnhancedPage{Ordinal: page.Ordinal, Image: img, Skew: skew}, nil
}

// EnhanceAll enhances pages in parallel and returns them in input order.
// The preprocess stage is recorded in trace.
func (e *Enhancer) EnhanceAll(ctx context.Context, pages []normalize.Page, trace *stages.Trace) ([]EnhancedPage, error) {
	out := make([]EnhancedPage, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)
	for i, p := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ep, err := e.Enhance(p)
			if err != nil {
				return err
			}
			out[i] = ep
			e.logger.Debug("page enhanced", "page", p.Ordinal, "skew", ep.Skew)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stages.Errorf(stages.Preprocess, "Image preprocessing failed: %w", err)
	}

	steps := make([]string, len(Steps))
	for i, s := range Steps {
		steps[i] = string(s)
	}
	skews := make([]float64, len(out))
	for i, ep := range out {
		skews[i] = math.Round(ep.Skew*100) / 100
	}
	trace.OK(stages.Preprocess, stages.Fields{
		"steps":        steps,
		"pages":        len(out),
		"skew_degrees": skews,
	})
	return out, nil
}

func (e *Enhancer) save(ordinal int, step Step, img image.Image) {
	if e.saver == nil {
		return
	}
	if err := e.saver.Save(ordinal, string(step), img); err != nil {
		e.logger.Warn("failed to save debug image", "page", ordinal, "step", step, "error", err)
	}
}
