package server

import (
	"net/http"

	"github.com/charmbracelet/log"

	"subgate/internal/config"
	"subgate/internal/database"
	"subgate/internal/jobs/runtime"
	"subgate/internal/routing"
)

const maskedSecret = "********"

func getSettings(w http.ResponseWriter, _ *http.Request) {
	cfg := config.GetConfig()
	if cfg.GeoLite.APIKey != "" {
		cfg.GeoLite.APIKey = maskedSecret
	}
	writeJSON(w, http.StatusOK, cfg)
}

// saveSettings validates the routing section and the subscription policy
// before anything is applied. A masked api key keeps the stored one.
func saveSettings(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if !decodeJSON(w, r, &cfg) {
		return
	}

	if cfg.GeoLite.APIKey == maskedSecret {
		cfg.GeoLite.APIKey = config.GetConfig().GeoLite.APIKey
	}
	if _, err := cfg.Subscription.Policy(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := routing.FromConfig(cfg.Routing); err != nil {
		writeError(w, "routing: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := config.SetConfig(cfg); err != nil {
		log.Error("Settings applied with errors", "error", err)
		writeError(w, "Settings could not be fully saved", http.StatusInternalServerError)
		return
	}

	disabled, err := database.DisableBlockedSubscriptions(r.Context(), config.IsSourceBlocked)
	if err != nil {
		log.Error("Could not disable blacklisted subscriptions", "error", err)
	} else if len(disabled) > 0 {
		log.Info("Disabled blacklisted subscriptions", "count", len(disabled), "ids", disabled)
	}

	log.Info("Settings updated")
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) updateGeoLite(w http.ResponseWriter, r *http.Request) {
	if a.deps.GeoLite == nil {
		writeError(w, "GeoLite is not configured", http.StatusServiceUnavailable)
		return
	}

	updated := runtime.RunGeoLiteUpdate(r.Context(), a.deps.GeoLite, "api", true)
	writeJSON(w, http.StatusOK, map[string]bool{
		"updated":   updated,
		"available": a.deps.GeoLite.Available(),
	})
}
