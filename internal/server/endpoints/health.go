package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanline/internal/api"
	"github.com/jackzampolin/scanline/internal/providers"
	"github.com/jackzampolin/scanline/internal/svcctx"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Pipeline string `json:"pipeline,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	if svcctx.PipelineFrom(r.Context()) == nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Pipeline: "not_initialized"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Pipeline: "ok"})
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (includes the OCR pipeline)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status:   %s\n", resp.Status)
			if resp.Pipeline != "" {
				fmt.Printf("Pipeline: %s\n", resp.Pipeline)
			}
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server     string         `json:"server" yaml:"server"`
	ConfigFile string         `json:"config_file,omitempty" yaml:"config_file,omitempty"`
	Remote     RemoteStatus   `json:"remote" yaml:"remote"`
	Fallback   FallbackStatus `json:"fallback" yaml:"fallback"`
	Threshold  float64        `json:"confidence_threshold" yaml:"confidence_threshold"`
	DebugSave  bool           `json:"debug_save" yaml:"debug_save"`
}

// RemoteStatus shows the remote engine configuration.
type RemoteStatus struct {
	Name        string                       `json:"name" yaml:"name"`
	Configured  bool                         `json:"configured" yaml:"configured"`
	Offline     bool                         `json:"offline" yaml:"offline"`
	Host        string                       `json:"host,omitempty" yaml:"host,omitempty"`
	Model       string                       `json:"model,omitempty" yaml:"model,omitempty"`
	APIVersion  string                       `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	RateLimiter *providers.RateLimiterStatus `json:"rate_limiter,omitempty" yaml:"rate_limiter,omitempty"`
}

// FallbackStatus shows the local engine configuration.
type FallbackStatus struct {
	Name      string   `json:"name" yaml:"name"`
	Languages []string `json:"languages" yaml:"languages"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct{}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return true }

func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	p := svcctx.PipelineFrom(r.Context())
	s := p.Settings()

	resp := StatusResponse{
		Server:    "running",
		Threshold: s.ConfidenceThreshold,
		DebugSave: s.DebugSave,
		Remote: RemoteStatus{
			Name:       p.Analyzer().Name(),
			Configured: s.AzureConfigured(),
			Offline:    s.Offline,
			Host:       endpointHost(s.AzureEndpoint),
			Model:      s.AzureModel,
			APIVersion: s.AzureAPIVersion,
		},
		Fallback: FallbackStatus{
			Name:      p.Recognizer().Name(),
			Languages: s.FallbackLanguages,
		},
	}
	if limited, ok := p.Analyzer().(interface{ RateLimiter() *providers.RateLimiter }); ok {
		if rl := limited.RateLimiter(); rl != nil {
			status := rl.Status()
			resp.Remote.RateLimiter = &status
		}
	}
	if cm := svcctx.ConfigFrom(r.Context()); cm != nil {
		resp.ConfigFile = cm.ConfigFile()
	}

	writeJSON(w, http.StatusOK, resp)
}

// endpointHost reports only the host of the endpoint URL.
func endpointHost(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(endpoint, "/")
	}
	return u.Host
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get engine configuration and rate limiter state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
