package normalize

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DetectMediaType derives a media type for a file read from disk. The
// extension is tried first, then content sniffing.
func DetectMediaType(filename string, data []byte) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			return mt
		}
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}
