package providers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/scanline/internal/enhance"
	"github.com/jackzampolin/scanline/internal/stages"
)

const (
	MockAnalyzerName   = "mock-analyzer"
	MockRecognizerName = "mock-recognizer"
)

// MockAnalyzer is a DocumentAnalyzer for testing.
type MockAnalyzer struct {
	// Configurable behavior
	Text       string
	Confidence float64
	Err        error // returned as-is when set
	Latency    time.Duration

	// State
	calls           atomic.Int64
	mu              sync.Mutex
	lastContentType string
	lastPayload     []byte
}

// Name returns the provider identifier.
func (m *MockAnalyzer) Name() string {
	return MockAnalyzerName
}

// Analyze returns the configured result or error.
func (m *MockAnalyzer) Analyze(ctx context.Context, payload []byte, contentType string) (*OCRResult, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.lastContentType = contentType
	m.lastPayload = payload
	m.mu.Unlock()

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, stages.Errorf(stages.AzureReadCall, "Azure OCR polling cancelled: %w", ctx.Err())
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &OCRResult{Text: m.Text, Confidence: m.Confidence, Engine: EngineRemote}, nil
}

// Calls returns the number of Analyze calls.
func (m *MockAnalyzer) Calls() int {
	return int(m.calls.Load())
}

// LastContentType returns the content type of the most recent call.
func (m *MockAnalyzer) LastContentType() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastContentType
}

// LastPayload returns the payload of the most recent call.
func (m *MockAnalyzer) LastPayload() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPayload
}

// MockRecognizer is a PageRecognizer for testing. It returns one line of
// PageText per page.
type MockRecognizer struct {
	PageText string
	Err      error

	calls atomic.Int64
	pages atomic.Int64
}

// Name returns the engine identifier.
func (m *MockRecognizer) Name() string {
	return MockRecognizerName
}

// Recognize returns PageText for every page joined by newlines.
func (m *MockRecognizer) Recognize(ctx context.Context, pages []enhance.EnhancedPage) (*OCRResult, error) {
	m.calls.Add(1)
	m.pages.Add(int64(len(pages)))
	if m.Err != nil {
		return nil, m.Err
	}
	texts := make([]string, len(pages))
	for i := range pages {
		texts[i] = m.PageText
	}
	return &OCRResult{Text: JoinPages(texts), Confidence: FallbackConfidence, Engine: EngineFallback}, nil
}

// Calls returns the number of Recognize calls.
func (m *MockRecognizer) Calls() int {
	return int(m.calls.Load())
}

// Pages returns the total number of pages recognized.
func (m *MockRecognizer) Pages() int {
	return int(m.pages.Load())
}

// FakeTimer fires immediately and records every requested wait.
type FakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
}

// After records d and returns an already-fired channel.
func (f *FakeTimer) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

// Waits returns the recorded waits in order.
func (f *FakeTimer) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.waits))
	copy(out, f.waits)
	return out
}

var (
	_ DocumentAnalyzer = (*MockAnalyzer)(nil)
	_ PageRecognizer   = (*MockRecognizer)(nil)
	_ Timer            = (*FakeTimer)(nil)
)
