package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/scanline/internal/api"
	"github.com/jackzampolin/scanline/internal/config"
	"github.com/jackzampolin/scanline/internal/pipeline"
	"github.com/jackzampolin/scanline/internal/providers"
	"github.com/jackzampolin/scanline/internal/server/endpoints"
	"github.com/jackzampolin/scanline/internal/stages"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 48, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 48; x++ {
			v := uint8(255)
			if (y/4)%2 == 1 && x > 4 && x < 44 {
				v = 10
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

type testEngines struct {
	analyzer   *providers.MockAnalyzer
	recognizer *providers.MockRecognizer
	built      int
}

func (e *testEngines) factory(s pipeline.Settings) (*pipeline.Pipeline, error) {
	e.built++
	return pipeline.New(pipeline.Config{
		Settings:   s,
		Analyzer:   e.analyzer,
		Recognizer: e.recognizer,
	})
}

func newTestServer(t *testing.T, cm *config.Manager, engines *testEngines) *Server {
	t.Helper()
	srv, err := New(Config{
		Host:            "127.0.0.1",
		Port:            "0",
		ConfigManager:   cm,
		PipelineFactory: engines.factory,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func TestNew_RequiresFactory(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without pipeline factory")
	}
}

func TestServer_BeforeInit(t *testing.T) {
	srv := newTestServer(t, nil, &testEngines{
		analyzer:   &providers.MockAnalyzer{},
		recognizer: &providers.MockRecognizer{},
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	tests := []struct {
		path   string
		status int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusServiceUnavailable},
		{"/status", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestServer_OCR(t *testing.T) {
	engines := &testEngines{
		analyzer:   &providers.MockAnalyzer{Text: "Total due 42.00", Confidence: 0.92},
		recognizer: &providers.MockRecognizer{PageText: "fallback text"},
	}
	srv := newTestServer(t, nil, engines)
	if err := srv.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := api.NewClient(ts.URL)
	ctx := context.Background()

	t.Run("accepted remote result", func(t *testing.T) {
		var resp pipeline.Response
		status, err := client.Upload(ctx, "/api/ocr-debug", endpoints.UploadField, "bill.png", "image/png", testPNG(t), &resp)
		if err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		if status != http.StatusOK {
			t.Fatalf("status = %d, want 200", status)
		}
		if resp.EngineUsed == nil || *resp.EngineUsed != providers.EngineRemote {
			t.Errorf("EngineUsed = %v", resp.EngineUsed)
		}
		if resp.FullText != "Total due 42.00" || resp.Confidence != 0.92 {
			t.Errorf("unexpected result %q %v", resp.FullText, resp.Confidence)
		}
		if resp.Stages.Status(stages.FallbackCall) != stages.StatusSkipped {
			t.Errorf("fallback_call = %s", resp.Stages.Status(stages.FallbackCall))
		}
		if resp.InvocationID == "" {
			t.Error("missing invocation id")
		}
	})

	t.Run("empty upload", func(t *testing.T) {
		var resp pipeline.Response
		status, err := client.Upload(ctx, "/api/ocr-debug", endpoints.UploadField, "empty.png", "image/png", nil, &resp)
		if err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", status)
		}
		if resp.ErrorStage != stages.UploadParse || resp.EngineUsed != nil {
			t.Errorf("unexpected response %+v", resp)
		}
	})

	t.Run("missing file field", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		_ = mw.WriteField("other", "x")
		mw.Close()

		resp, err := http.Post(ts.URL+"/api/ocr-debug", mw.FormDataContentType(), &body)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
		var errResp endpoints.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			t.Errorf("expected error body, got %+v (%v)", errResp, err)
		}
	})

	t.Run("status", func(t *testing.T) {
		var status endpoints.StatusResponse
		if err := client.Get(ctx, "/status", &status); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if status.Server != "running" || status.Threshold != pipeline.DefaultConfidenceThreshold {
			t.Errorf("unexpected status %+v", status)
		}
		if status.Remote.Name != providers.MockAnalyzerName || status.Fallback.Name != providers.MockRecognizerName {
			t.Errorf("unexpected engines %+v %+v", status.Remote, status.Fallback)
		}
		if status.Remote.Configured {
			t.Error("azure should not be configured by default")
		}
	})
}

func TestServer_OCR_RemoteFailureFallsBack(t *testing.T) {
	engines := &testEngines{
		analyzer:   &providers.MockAnalyzer{Err: errors.New("connection refused")},
		recognizer: &providers.MockRecognizer{PageText: "local text"},
	}
	srv := newTestServer(t, nil, engines)
	if err := srv.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var resp pipeline.Response
	status, err := api.NewClient(ts.URL).Upload(context.Background(), "/api/ocr-debug", endpoints.UploadField,
		"bill.png", "image/png", testPNG(t), &resp)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if resp.EngineUsed == nil || *resp.EngineUsed != providers.EngineFallback {
		t.Errorf("EngineUsed = %v", resp.EngineUsed)
	}
	if resp.Stages.Status(stages.AzureReadCall) != stages.StatusError {
		t.Errorf("azure_read_call = %s", resp.Stages.Status(stages.AzureReadCall))
	}
	if resp.FullText != "local text" {
		t.Errorf("FullText = %q", resp.FullText)
	}
}

func TestServer_SettingsAndReload(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("ocr:\n  confidence_threshold: 0.6\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cm, err := config.NewManager(configFile)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	engines := &testEngines{
		analyzer:   &providers.MockAnalyzer{Confidence: 0.9},
		recognizer: &providers.MockRecognizer{},
	}
	srv := newTestServer(t, cm, engines)
	if err := srv.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if got := srv.Pipeline().Settings().ConfidenceThreshold; got != 0.6 {
		t.Fatalf("threshold = %v, want 0.6", got)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	client := api.NewClient(ts.URL)

	t.Run("list", func(t *testing.T) {
		var resp endpoints.SettingsResponse
		if err := client.Get(context.Background(), "/api/settings", &resp); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if resp.ConfigFile != configFile {
			t.Errorf("ConfigFile = %q", resp.ConfigFile)
		}
		if len(resp.Settings) != len(config.DefaultEntries()) {
			t.Errorf("got %d settings, want %d", len(resp.Settings), len(config.DefaultEntries()))
		}
	})

	t.Run("get", func(t *testing.T) {
		var resp endpoints.SettingResponse
		if err := client.Get(context.Background(), "/api/settings/ocr.confidence_threshold", &resp); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if resp.Entry == nil || resp.Entry.Value != 0.6 || resp.Default != pipeline.DefaultConfidenceThreshold {
			t.Errorf("unexpected entry %+v default %v", resp.Entry, resp.Default)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		err := client.Get(context.Background(), "/api/settings/no.such.key", nil)
		if err == nil {
			t.Error("expected not found error")
		}
	})

	t.Run("reload swaps pipeline", func(t *testing.T) {
		before := srv.Pipeline()
		cfg := *cm.Get()
		cfg.OCR.ConfidenceThreshold = 0.95
		srv.reload(&cfg)

		after := srv.Pipeline()
		if after == before {
			t.Fatal("pipeline was not replaced")
		}
		if after.Settings().ConfidenceThreshold != 0.95 {
			t.Errorf("threshold = %v, want 0.95", after.Settings().ConfidenceThreshold)
		}
		if before.Settings().ConfidenceThreshold != 0.6 {
			t.Error("previous pipeline must keep its settings")
		}
	})

	t.Run("failed rebuild keeps previous", func(t *testing.T) {
		before := srv.Pipeline()
		cfg := *cm.Get()
		cfg.OCR.ConfidenceThreshold = 3
		srv.reload(&cfg)
		if srv.Pipeline() != before {
			t.Error("invalid settings should not replace the pipeline")
		}
	})
}

func TestServer_Lifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv := newTestServer(t, nil, &testEngines{
		analyzer:   &providers.MockAnalyzer{},
		recognizer: &providers.MockRecognizer{},
	})

	serverErr := make(chan error, 1)
	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()
	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	baseURL, err := waitForServer(ctx, srv, 10*time.Second)
	if err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}

	t.Run("ready", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/ready")
		if err != nil {
			t.Fatalf("ready check failed: %v", err)
		}
		defer resp.Body.Close()
		var ready endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.StatusCode != http.StatusOK || ready.Pipeline != "ok" {
			t.Errorf("ready = %d %+v", resp.StatusCode, ready)
		}
	})

	t.Run("double start", func(t *testing.T) {
		if err := srv.Start(ctx); err == nil {
			t.Error("second Start() should return error")
		}
	})

	serverCancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not respond to context cancellation")
	}
	if srv.IsRunning() {
		t.Error("server still running after shutdown")
	}
}

// waitForServer polls the server until it responds or timeout.
func waitForServer(ctx context.Context, srv *Server, timeout time.Duration) (string, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if _, port, err := net.SplitHostPort(srv.Addr()); err == nil && port != "0" {
			baseURL := "http://" + srv.Addr()
			resp, err := client.Get(baseURL + "/health")
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return baseURL, nil
				}
			}
		}

		time.Sleep(50 * time.Millisecond)
	}

	return "", fmt.Errorf("server not ready after %s", timeout)
}
