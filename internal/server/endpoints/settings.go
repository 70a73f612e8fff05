package endpoints

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/enrich/internal/api"
	"github.com/jackzampolin/enrich/internal/config"
	"github.com/jackzampolin/enrich/internal/svcctx"
)

// SettingsResponse lists the documented config keys with effective values.
type SettingsResponse struct {
	File     string         `json:"file,omitempty"`
	Settings []config.Entry `json:"settings"`
}

// Table renders one row per key.
func (r SettingsResponse) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(r.Settings))
	for _, s := range r.Settings {
		rows = append(rows, []string{s.Key, fmt.Sprint(s.Value), s.Description})
	}
	return []string{"KEY", "VALUE", "DESCRIPTION"}, rows
}

// ListSettingsEndpoint handles GET /api/settings.
type ListSettingsEndpoint struct{}

func (e *ListSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings", e.handler
}

func (e *ListSettingsEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		List settings
//	@Description	Documented configuration keys with their effective values
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	SettingsResponse
//	@Router			/api/settings [get]
func (e *ListSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cm := svcctx.ConfigFrom(r.Context())
	if cm == nil {
		writeJSON(w, http.StatusOK, SettingsResponse{Settings: config.DefaultEntries()})
		return
	}
	entries := cm.Entries()
	for i := range entries {
		if isSecretKey(entries[i].Key) {
			entries[i].Value = maskSecret(fmt.Sprint(entries[i].Value))
		}
	}
	writeJSON(w, http.StatusOK, SettingsResponse{File: cm.ConfigFile(), Settings: entries})
}

func (e *ListSettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SettingsResponse
			if err := client.Get(cmd.Context(), "/api/settings", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

func isSecretKey(key string) bool {
	return strings.HasSuffix(key, ".api_key")
}

// maskSecret keeps ${ENV_VAR} references readable and hides literal keys.
func maskSecret(v string) string {
	if v == "" || (strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}")) {
		return v
	}
	return "****"
}
