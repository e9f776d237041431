package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case "/error":
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "not ready"})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("plain not found"))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	t.Run("decodes body", func(t *testing.T) {
		var resp map[string]string
		if err := client.Get(ctx, "/ok", &resp); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if resp["status"] != "ok" {
			t.Errorf("status = %q", resp["status"])
		}
	})

	t.Run("json error", func(t *testing.T) {
		err := client.Get(ctx, "/error", nil)
		if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "not ready") {
			t.Errorf("unexpected error %v", err)
		}
	})

	t.Run("plain error", func(t *testing.T) {
		err := client.Get(ctx, "/missing", nil)
		if err == nil || !strings.Contains(err.Error(), "plain not found") {
			t.Errorf("unexpected error %v", err)
		}
	})
}

func TestClient_Upload(t *testing.T) {
	var gotName, gotType string
	var gotData []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotName = header.Filename
		gotType = header.Header.Get("Content-Type")
		gotData, _ = io.ReadAll(file)

		status := http.StatusOK
		if bytes.Equal(gotData, []byte("bad")) {
			status = http.StatusBadRequest
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"bytes": len(gotData)})
	}))
	defer server.Close()

	client := NewClient(server.URL)

	t.Run("sends file part", func(t *testing.T) {
		var resp map[string]any
		status, err := client.Upload(context.Background(), "/upload", "file", "bill.pdf", "application/pdf", []byte("%PDF-1.7"), &resp)
		if err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		if status != http.StatusOK {
			t.Errorf("status = %d", status)
		}
		if gotName != "bill.pdf" || gotType != "application/pdf" || string(gotData) != "%PDF-1.7" {
			t.Errorf("server saw %q %q %q", gotName, gotType, gotData)
		}
		if resp["bytes"] != float64(8) {
			t.Errorf("bytes = %v", resp["bytes"])
		}
	})

	t.Run("default content type", func(t *testing.T) {
		var resp map[string]any
		if _, err := client.Upload(context.Background(), "/upload", "file", "x", "", []byte("abc"), &resp); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		if gotType != "application/octet-stream" {
			t.Errorf("content type = %q", gotType)
		}
	})

	t.Run("error status still decodes", func(t *testing.T) {
		var resp map[string]any
		status, err := client.Upload(context.Background(), "/upload", "file", "x.png", "image/png", []byte("bad"), &resp)
		if err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		if status != http.StatusBadRequest || resp["bytes"] != float64(3) {
			t.Errorf("status = %d resp = %v", status, resp)
		}
	})

	t.Run("missing field", func(t *testing.T) {
		var resp map[string]any
		status, err := client.Upload(context.Background(), "/upload", "other", "x.png", "image/png", []byte("abc"), &resp)
		if err == nil {
			t.Error("expected error for non-JSON body")
		}
		if status != http.StatusBadRequest {
			t.Errorf("status = %d", status)
		}
	})
}

func TestOutputTo(t *testing.T) {
	data := struct {
		Name  string `json:"name" yaml:"name"`
		Count int    `json:"count" yaml:"count"`
	}{"scan", 2}

	tests := []struct {
		format OutputFormat
		want   string
	}{
		{OutputFormatJSON, "{\n  \"name\": \"scan\",\n  \"count\": 2\n}\n"},
		{OutputFormatYAML, "name: scan\ncount: 2\n"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := OutputTo(&buf, tt.format, data); err != nil {
				t.Fatalf("OutputTo() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}

	if err := OutputTo(io.Discard, "xml", data); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseOutputFormat(t *testing.T) {
	for _, s := range []string{"json", "yaml"} {
		if _, err := ParseOutputFormat(s); err != nil {
			t.Errorf("ParseOutputFormat(%q) error = %v", s, err)
		}
	}
	if _, err := ParseOutputFormat("table"); err == nil {
		t.Error("expected error for table")
	}
}
