package endpoints

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEndpointHost(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"https://bills.cognitiveservices.azure.com/", "bills.cognitiveservices.azure.com"},
		{"http://127.0.0.1:5000", "127.0.0.1:5000"},
		{"not a url/", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := endpointHost(tt.in); got != tt.want {
				t.Errorf("endpointHost(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReadyEndpoint_NoServices(t *testing.T) {
	_, _, handler := (&ReadyEndpoint{}).Route()
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pipeline != "not_initialized" {
		t.Errorf("Pipeline = %q", resp.Pipeline)
	}
}

func TestListSettingsEndpoint_NoConfig(t *testing.T) {
	_, _, handler := (&ListSettingsEndpoint{}).Route()
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestOCREndpoint_NotMultipart(t *testing.T) {
	_, _, handler := (&OCREndpoint{}).Route()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ocr-debug", nil)
	req.Header.Set("Content-Type", "application/json")
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
