package normalize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"
)

// PopplerRasterizer renders PDF pages with pdftoppm (poppler-utils).
type PopplerRasterizer struct {
	// Binary is the pdftoppm executable (default: "pdftoppm" on PATH).
	Binary string
	// MaxWorkers bounds concurrent page renders (default: NumCPU).
	MaxWorkers int
}

var _ Rasterizer = (*PopplerRasterizer)(nil)

// Rasterize renders every page of pdf at dpi and returns them in document order.
func (r *PopplerRasterizer) Rasterize(ctx context.Context, pdf []byte, dpi int) ([]image.Image, error) {
	pageCount, err := api.PageCount(bytes.NewReader(pdf), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount == 0 {
		return nil, nil
	}

	tmpDir, err := os.MkdirTemp("", "scanline-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}

	maxWorkers := r.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}

	images := make([]image.Image, pageCount)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for page := 1; page <= pageCount; page++ {
		g.Go(func() error {
			img, err := r.renderPage(gctx, pdfPath, tmpDir, page, dpi)
			if err != nil {
				return fmt.Errorf("failed to render page %d: %w", page, err)
			}
			images[page-1] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// renderPage renders a single page into a PNG and decodes it.
func (r *PopplerRasterizer) renderPage(ctx context.Context, pdfPath, outDir string, page, dpi int) (image.Image, error) {
	bin := r.Binary
	if bin == "" {
		bin = "pdftoppm"
	}

	// -singlefile: no page number suffix, output is <prefix>.png
	outputPrefix := filepath.Join(outDir, fmt.Sprintf("page_%04d", page))
	pageStr := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, bin,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}

	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rendered page: %w", err)
	}
	return img, nil
}
