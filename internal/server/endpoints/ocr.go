package endpoints

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanline/internal/api"
	"github.com/jackzampolin/scanline/internal/normalize"
	"github.com/jackzampolin/scanline/internal/pipeline"
	"github.com/jackzampolin/scanline/internal/svcctx"
)

// MaxUploadMemory is the part of a multipart upload kept in memory.
const MaxUploadMemory = 32 << 20

// UploadField is the multipart field carrying the document.
const UploadField = "file"

// OCREndpoint handles POST /api/ocr-debug.
type OCREndpoint struct{}

func (e *OCREndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/ocr-debug", e.handler
}

func (e *OCREndpoint) RequiresInit() bool { return true }

func (e *OCREndpoint) handler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(UploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing %q field", UploadField))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}

	doc := normalize.RawDocument{
		Data:      data,
		MediaType: header.Header.Get("Content-Type"),
		Filename:  header.Filename,
	}

	resp := svcctx.PipelineFrom(r.Context()).Run(r.Context(), doc)
	writeJSON(w, resp.HTTPStatus, resp)
}

func (e *OCREndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ocr <file>",
		Short: "Run OCR on a PDF or image via the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			client := api.NewClient(getServerURL())
			var resp pipeline.Response
			filename := filepath.Base(path)
			status, err := client.Upload(cmd.Context(), "/api/ocr-debug", UploadField, filename,
				normalize.DetectMediaType(filename, data), data, &resp)
			if err != nil {
				return err
			}
			if err := api.Output(resp); err != nil {
				return err
			}
			if status >= 400 {
				return fmt.Errorf("ocr failed at %s (%d): %s", resp.ErrorStage, status, resp.ErrorMessage)
			}
			return nil
		},
	}
}
