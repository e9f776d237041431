// Package normalize turns an uploaded document into an ordered set of raster
// pages, and re-encodes enhanced pages for submission to the remote engine.
package normalize

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/jackzampolin/scanline/internal/stages"
)

// DPI is the resolution PDF pages are rasterized at.
const DPI = 300

// MediaTypePDF is the declared media type of PDF uploads.
const MediaTypePDF = "application/pdf"

var pdfMagic = []byte("%PDF")

// RawDocument is one uploaded payload.
type RawDocument struct {
	Data      []byte
	MediaType string
	Filename  string
}

// Magic returns the hex encoding of the first 12 bytes, for diagnostics.
func (d RawDocument) Magic() string {
	n := len(d.Data)
	if n > 12 {
		n = 12
	}
	return hex.EncodeToString(d.Data[:n])
}

// IsPDF reports whether the document is a PDF. The magic bytes win over a
// declared type that says otherwise.
func (d RawDocument) IsPDF() bool {
	if bytes.HasPrefix(d.Data, pdfMagic) {
		return true
	}
	mt := strings.ToLower(strings.TrimSpace(d.MediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt == MediaTypePDF
}

// Page is one raster page. Ordinals start at 1.
type Page struct {
	Ordinal int
	Image   image.Image
}

// RenderHint tells the submission step how to recombine pages.
type RenderHint string

const (
	// HintImage submits a single PNG.
	HintImage RenderHint = "PNG"
	// HintDocument submits a multi-page PDF.
	HintDocument RenderHint = "PDF"
)

// Rasterizer renders every page of a PDF, in document order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, dpi int) ([]image.Image, error)
}

// Normalizer produces uniform page sequences from raw documents.
type Normalizer struct {
	rasterizer Rasterizer
	logger     *slog.Logger
}

// Config configures a Normalizer.
type Config struct {
	// Rasterizer renders PDFs (default: PopplerRasterizer).
	Rasterizer Rasterizer
	Logger     *slog.Logger
}

// New creates a Normalizer.
func New(cfg Config) *Normalizer {
	if cfg.Rasterizer == nil {
		cfg.Rasterizer = &PopplerRasterizer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Normalizer{rasterizer: cfg.Rasterizer, logger: cfg.Logger}
}

// Normalize converts doc into ordered pages and records the outcome in trace.
// Errors are *stages.StageError tagged pdf_to_image or upload_parse.
func (n *Normalizer) Normalize(ctx context.Context, doc RawDocument, trace *stages.Trace) ([]Page, RenderHint, error) {
	if len(doc.Data) == 0 {
		return nil, "", stages.NewError(stages.UploadParse, "Uploaded file is empty")
	}

	if doc.IsPDF() {
		images, err := n.rasterizer.Rasterize(ctx, doc.Data, DPI)
		if err != nil {
			return nil, "", stages.Errorf(stages.PDFToImage, "Failed to convert PDF: %w", err)
		}
		if len(images) == 0 {
			return nil, "", stages.NewError(stages.PDFToImage, "No pages found in PDF")
		}

		pages := make([]Page, len(images))
		for i, img := range images {
			pages[i] = Page{Ordinal: i + 1, Image: img}
		}
		trace.OK(stages.PDFToImage, stages.Fields{"dpi": DPI, "pages": len(pages)})
		n.logger.Debug("rasterized pdf", "pages", len(pages), "dpi", DPI)
		return pages, HintDocument, nil
	}

	img, err := decodeImage(doc.Data)
	if err != nil {
		return nil, "", stages.Errorf(stages.UploadParse, "Unsupported image format: %w", err)
	}
	n.logger.Debug("decoded image", "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return []Page{{Ordinal: 1, Image: img}}, HintImage, nil
}

// decodeImage decodes any registered raster format, honors EXIF orientation,
// and drops the alpha channel.
func decodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("image has no pixels")
	}
	// Flatten onto white so transparent regions read as paper, not ink.
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Point{}, 1.0), nil
}
