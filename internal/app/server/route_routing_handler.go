package server

import (
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"subgate/internal/api/dto"
)

func (a *api) decideRoute(w http.ResponseWriter, r *http.Request) {
	if a.deps.Routes == nil {
		writeError(w, "Routing is not configured", http.StatusServiceUnavailable)
		return
	}

	var req dto.RouteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Host) == "" {
		writeError(w, "host is required", http.StatusBadRequest)
		return
	}

	router, err := a.deps.Routes.Router()
	if err != nil {
		log.Error("Routing rules unavailable", "error", err)
		writeError(w, "Routing rules are invalid", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, router.DecideContext(r.Context(), req.Host))
}
