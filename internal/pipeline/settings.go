package pipeline

import (
	"strings"
	"time"

	"github.com/jackzampolin/scanline/internal/home"
	"github.com/jackzampolin/scanline/internal/providers"
)

// Settings is the immutable configuration for one invocation.
// Build it once (usually via config.Config.Settings) and pass it by value.
type Settings struct {
	ConfidenceThreshold float64

	// HTTPTimeout bounds each request to the remote OCR service.
	HTTPTimeout time.Duration

	AzureEndpoint   string
	AzureAPIKey     string
	AzureAPIVersion string
	AzureModel      string

	// AzureAllowHTTP permits a plain-http endpoint (local emulators).
	AzureAllowHTTP bool

	// AzureRequestsPerMinute rate-limits the remote client (0 = unlimited).
	AzureRequestsPerMinute int

	// Offline short-circuits the remote call; every invocation falls back.
	Offline bool

	DebugSave bool
	DebugDir  string

	// FallbackLanguages are tesseract model names, e.g. ["eng", "spa"].
	FallbackLanguages []string
}

// Defaults
const (
	DefaultConfidenceThreshold = 0.75
	DefaultHTTPTimeout         = 15 * time.Second
	DefaultFallbackLanguages   = "eng+spa"
)

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		HTTPTimeout:         DefaultHTTPTimeout,
		AzureAPIVersion:     providers.AzureReadAPIVersion,
		AzureModel:          providers.AzureReadModel,
		DebugDir:            home.DefaultDebugDir,
		FallbackLanguages:   ParseLanguages(DefaultFallbackLanguages),
	}
}

// AzureConfigured reports whether both endpoint and key are set.
func (s Settings) AzureConfigured() bool {
	return s.AzureEndpoint != "" && s.AzureAPIKey != ""
}

// AzureReadConfig maps settings onto the remote client configuration.
func (s Settings) AzureReadConfig() providers.AzureReadConfig {
	return providers.AzureReadConfig{
		Endpoint:          s.AzureEndpoint,
		APIKey:            s.AzureAPIKey,
		APIVersion:        s.AzureAPIVersion,
		Model:             s.AzureModel,
		Offline:           s.Offline,
		Timeout:           s.HTTPTimeout,
		RequestsPerMinute: s.AzureRequestsPerMinute,
		AllowHTTP:         s.AzureAllowHTTP,
	}
}

// ParseLanguages splits a tesseract language spec ("eng+spa", "eng,spa").
func ParseLanguages(spec string) []string {
	fields := strings.FieldsFunc(spec, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
