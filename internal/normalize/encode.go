package normalize

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
)

// Content types of the encoded submission payload.
const (
	ContentTypePNG = "image/png"
	ContentTypePDF = MediaTypePDF
)

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePayload recombines images for submission according to hint. An image
// hint with a single page yields a PNG; anything else yields a PDF with one
// page per image in the given order.
func EncodePayload(images []image.Image, hint RenderHint) ([]byte, string, error) {
	if len(images) == 0 {
		return nil, "", fmt.Errorf("no pages to encode")
	}

	if hint == HintImage && len(images) == 1 {
		data, err := EncodePNG(images[0])
		if err != nil {
			return nil, "", err
		}
		return data, ContentTypePNG, nil
	}

	readers := make([]io.Reader, len(images))
	for i, img := range images {
		data, err := EncodePNG(img)
		if err != nil {
			return nil, "", fmt.Errorf("page %d: %w", i+1, err)
		}
		readers[i] = bytes.NewReader(data)
	}

	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, readers, pdfcpu.DefaultImportConfig(), nil); err != nil {
		return nil, "", fmt.Errorf("failed to assemble PDF: %w", err)
	}
	return out.Bytes(), ContentTypePDF, nil
}
