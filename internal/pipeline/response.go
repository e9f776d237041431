package pipeline

import (
	"math"
	"net/http"
	"strings"

	"github.com/jackzampolin/scanline/internal/providers"
	"github.com/jackzampolin/scanline/internal/stages"
)

// PreviewLimit is the number of characters kept in TextPreview.
const PreviewLimit = 200

// Response is the egress result of one invocation.
type Response struct {
	// EngineUsed is nil when the invocation failed.
	EngineUsed   *providers.Engine `json:"engine_used" yaml:"engine_used"`
	Stages       *stages.Trace     `json:"stages" yaml:"stages"`
	Confidence   float64           `json:"confidence" yaml:"confidence"`
	TextPreview  string            `json:"text_preview" yaml:"text_preview"`
	FullText     string            `json:"full_text" yaml:"full_text"`
	Language     string            `json:"language,omitempty" yaml:"language,omitempty"`
	InvocationID string            `json:"invocation_id" yaml:"invocation_id"`
	ErrorStage   string            `json:"error_stage,omitempty" yaml:"error_stage,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty" yaml:"error_message,omitempty"`

	// HTTPStatus is the status code a server should answer with.
	HTTPStatus int `json:"-" yaml:"-"`
}

// Failed reports whether the invocation ended with a stage error.
func (r *Response) Failed() bool {
	return r.ErrorStage != ""
}

func (inv *invocation) success(result *providers.OCRResult, detector LanguageDetector) *Response {
	engine := result.Engine
	resp := &Response{
		EngineUsed:   &engine,
		Stages:       inv.trace,
		Confidence:   roundConfidence(result.Confidence),
		TextPreview:  Preview(result.Text),
		FullText:     result.Text,
		InvocationID: inv.id,
		HTTPStatus:   http.StatusOK,
	}
	if detector != nil {
		if lang, ok := detector.Detect(result.Text); ok {
			resp.Language = lang
		}
	}
	return resp
}

func (inv *invocation) failure(status int, se *stages.StageError) *Response {
	inv.trace.Fail(se.Stage, se.Message)
	inv.logger.Error("invocation failed", "stage", se.Stage, "error", se.Message, "status", status)
	return &Response{
		Stages:       inv.trace,
		InvocationID: inv.id,
		ErrorStage:   se.Stage,
		ErrorMessage: se.Message,
		HTTPStatus:   status,
	}
}

// Preview collapses text to one line and truncates it to PreviewLimit
// characters, appending "..." when truncated.
func Preview(text string) string {
	s := strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	r := []rune(s)
	if len(r) > PreviewLimit {
		return string(r[:PreviewLimit]) + "..."
	}
	return s
}

func roundConfidence(c float64) float64 {
	return math.Round(c*1000) / 1000
}
