package endpoints

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanline/internal/api"
	"github.com/jackzampolin/scanline/internal/config"
	"github.com/jackzampolin/scanline/internal/svcctx"
)

// SettingsResponse contains every config entry with its effective value.
type SettingsResponse struct {
	ConfigFile string         `json:"config_file,omitempty"`
	Settings   []config.Entry `json:"settings"`
}

// SettingResponse contains a single config entry.
type SettingResponse struct {
	Entry   *config.Entry `json:"entry,omitempty"`
	Default any           `json:"default,omitempty"`
}

// ListSettingsEndpoint handles GET /api/settings.
type ListSettingsEndpoint struct{}

func (e *ListSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings", e.handler
}

func (e *ListSettingsEndpoint) RequiresInit() bool { return false }

func (e *ListSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cm := svcctx.ConfigFrom(r.Context())
	if cm == nil {
		writeError(w, http.StatusInternalServerError, "config manager not available")
		return
	}
	writeJSON(w, http.StatusOK, SettingsResponse{
		ConfigFile: cm.ConfigFile(),
		Settings:   cm.Entries(),
	})
}

func (e *ListSettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SettingsResponse
			if err := client.Get(cmd.Context(), "/api/settings", &resp); err != nil {
				return err
			}

			if prefix != "" {
				filtered := resp.Settings[:0]
				for _, entry := range resp.Settings {
					if strings.HasPrefix(entry.Key, prefix) {
						filtered = append(filtered, entry)
					}
				}
				resp.Settings = filtered
			}
			return api.Output(resp.Settings)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Filter by key prefix (e.g., 'azure.')")
	return cmd
}

// GetSettingEndpoint handles GET /api/settings/{key...}.
type GetSettingEndpoint struct{}

func (e *GetSettingEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings/{key...}", e.handler
}

func (e *GetSettingEndpoint) RequiresInit() bool { return false }

func (e *GetSettingEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key encoding")
		return
	}

	def, err := config.GetDefault(key)
	if err != nil {
		if errors.Is(err, config.ErrNoDefault) {
			writeError(w, http.StatusNotFound, "setting not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	cm := svcctx.ConfigFrom(r.Context())
	if cm == nil {
		writeError(w, http.StatusInternalServerError, "config manager not available")
		return
	}
	for _, entry := range cm.Entries() {
		if entry.Key == key {
			writeJSON(w, http.StatusOK, SettingResponse{Entry: &entry, Default: def.Value})
			return
		}
	}
	writeError(w, http.StatusNotFound, "setting not found")
}

func (e *GetSettingEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a setting by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SettingResponse
			if err := client.Get(cmd.Context(), "/api/settings/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp.Entry)
		},
	}
}
