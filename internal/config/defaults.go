package config

import (
	"errors"
	"fmt"

	"github.com/jackzampolin/scanline/internal/home"
	"github.com/jackzampolin/scanline/internal/pipeline"
	"github.com/jackzampolin/scanline/internal/providers"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// Entry describes one configuration key.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Env         string `json:"env,omitempty" yaml:"env,omitempty"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns every configuration key with its default value and
// the environment variable that overrides it.
func DefaultEntries() []Entry {
	return []Entry{
		// ===================
		// Azure Document Intelligence
		// ===================
		{
			Key:         "azure.endpoint",
			Env:         "AZURE_DI_ENDPOINT",
			Value:       "",
			Description: "Document Intelligence resource endpoint",
		},
		{
			Key:         "azure.api_key",
			Env:         "AZURE_DI_API_KEY",
			Value:       "${AZURE_DI_API_KEY}",
			Description: "Document Intelligence key (supports ${ENV_VAR} syntax)",
		},
		{
			Key:         "azure.api_version",
			Env:         "AZURE_DI_API_VERSION",
			Value:       providers.AzureReadAPIVersion,
			Description: "Analyze API version",
		},
		{
			Key:         "azure.model",
			Env:         "AZURE_DI_MODEL",
			Value:       providers.AzureReadModel,
			Description: "Analyze model id",
		},
		{
			Key:         "azure.allow_http",
			Env:         "AZURE_DI_ALLOW_HTTP",
			Value:       false,
			Description: "Allow a plain-http endpoint (local emulators only)",
		},
		{
			Key:         "azure.requests_per_minute",
			Env:         "AZURE_DI_REQUESTS_PER_MINUTE",
			Value:       0,
			Description: "Client-side rate limit, 0 for unlimited",
		},
		{
			Key:         "http_timeout_seconds",
			Env:         "HTTP_TIMEOUT_SECONDS",
			Value:       int(pipeline.DefaultHTTPTimeout.Seconds()),
			Description: "Timeout in seconds for each remote OCR request",
		},
		{
			Key:         "offline_mode",
			Env:         "OFFLINE_MODE",
			Value:       false,
			Description: "Skip the remote engine and always use the local fallback",
		},

		// ===================
		// OCR
		// ===================
		{
			Key:         "ocr.confidence_threshold",
			Env:         "OCR_CONFIDENCE_THRESHOLD",
			Value:       pipeline.DefaultConfidenceThreshold,
			Description: "Minimum remote confidence accepted without fallback",
		},
		{
			Key:         "ocr.debug_save",
			Env:         "OCR_DEBUG_SAVE",
			Value:       false,
			Description: "Save every enhancement step as PNG",
		},
		{
			Key:         "ocr.debug_dir",
			Env:         "OCR_DEBUG_DIR",
			Value:       home.DefaultDebugDir,
			Description: "Root directory for debug images",
		},
		{
			Key:         "ocr.fallback_languages",
			Env:         "OCR_FALLBACK_LANGUAGES",
			Value:       pipeline.DefaultFallbackLanguages,
			Description: "Tesseract models for the local fallback",
		},

		// ===================
		// Server
		// ===================
		{
			Key:         "server.host",
			Env:         "SCANLINE_HOST",
			Value:       "127.0.0.1",
			Description: "Address the HTTP server binds to",
		},
		{
			Key:         "server.port",
			Env:         "SCANLINE_PORT",
			Value:       "8080",
			Description: "Port the HTTP server listens on",
		},
	}
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Azure: AzureCfg{
			APIKey:     "${AZURE_DI_API_KEY}",
			APIVersion: providers.AzureReadAPIVersion,
			Model:      providers.AzureReadModel,
		},
		OCR: OCRCfg{
			ConfidenceThreshold: pipeline.DefaultConfidenceThreshold,
			DebugDir:            home.DefaultDebugDir,
			FallbackLanguages:   pipeline.DefaultFallbackLanguages,
		},
		HTTPTimeoutSeconds: int(pipeline.DefaultHTTPTimeout.Seconds()),
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
	}
}

// GetDefault returns the default entry for a config key.
// Returns ErrNoDefault if the key is unknown.
func GetDefault(key string) (*Entry, error) {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("%w for key %q", ErrNoDefault, key)
}
