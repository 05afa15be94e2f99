package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"subgate/internal/api/dto"
	"subgate/internal/config"
	"subgate/internal/database"
	"subgate/internal/domain"
	"subgate/internal/jobs/refresh"
	"subgate/internal/payload"
	"subgate/internal/subscription"
)

func listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := database.ListSubscriptions(r.Context())
	if err != nil {
		log.Error("Could not list subscriptions", "error", err)
		writeError(w, "Could not list subscriptions", http.StatusInternalServerError)
		return
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := loadSubscription(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *api) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req dto.SubscriptionCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rawURL := payload.FixIllegalURL(strings.TrimSpace(req.URL))
	if rawURL == "" {
		writeError(w, "url is required", http.StatusBadRequest)
		return
	}

	var checkErr error
	if a.deps.Fetcher != nil {
		checkErr = a.deps.Fetcher.Check(rawURL)
	} else if !config.CurrentSubscriptionPolicy().Allows(rawURL) {
		checkErr = subscription.ErrInsecureURL
	}
	if checkErr != nil {
		writeError(w, "Subscription URL rejected: "+checkReason(checkErr), http.StatusBadRequest)
		return
	}

	sub := domain.Subscription{
		URL:     rawURL,
		Remarks: req.Remarks,
		Tags:    domain.StringList(req.Tags),
		Enabled: req.Enabled == nil || *req.Enabled,
	}
	if err := database.CreateSubscription(r.Context(), &sub); err != nil {
		if errors.Is(err, database.ErrDuplicateSubscription) {
			writeError(w, "Subscription already exists", http.StatusConflict)
			return
		}
		log.Error("Could not add subscription", "url", rawURL, "error", err)
		writeError(w, "Could not add subscription", http.StatusInternalServerError)
		return
	}

	log.Info("Subscription added", "id", sub.ID, "url", sub.URL)
	writeJSON(w, http.StatusCreated, sub)
}

func updateSubscription(w http.ResponseWriter, r *http.Request) {
	var req dto.SubscriptionUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	if err := database.SetSubscriptionEnabled(r.Context(), id, req.Enabled); err != nil {
		writeSubscriptionError(w, id, err)
		return
	}

	sub, ok := loadSubscription(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func deleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := database.DeleteSubscription(r.Context(), id); err != nil {
		writeSubscriptionError(w, id, err)
		return
	}
	log.Info("Subscription deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) refreshSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := loadSubscription(w, r)
	if !ok {
		return
	}

	nodes, err := refresh.RefreshOne(r.Context(), a.deps.refreshDeps(), sub)
	if err != nil {
		if errors.Is(err, refresh.ErrNoImporter) {
			writeError(w, "Subscription importer is not configured", http.StatusServiceUnavailable)
			return
		}
		writeError(w, "Refresh failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, dto.SubscriptionRefreshResult{ID: sub.ID, Nodes: nodes})
}

func (a *api) refreshSubscriptions(w http.ResponseWriter, r *http.Request) {
	outcome, err := refresh.RefreshAll(r.Context(), a.deps.refreshDeps())
	if err != nil {
		if errors.Is(err, refresh.ErrNoImporter) {
			writeError(w, "Subscription importer is not configured", http.StatusServiceUnavailable)
			return
		}
		log.Error("Subscription refresh failed", "error", err)
		writeError(w, "Refresh failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.RefreshOutcome{
		Total:      outcome.Total,
		Succeeded:  outcome.Succeeded,
		Failed:     outcome.Failed,
		Nodes:      outcome.Nodes,
		DurationMs: outcome.Duration.Milliseconds(),
	})
}

func listSubscriptionNodes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	nodes, err := database.ListNodes(r.Context(), id)
	if err != nil {
		writeSubscriptionError(w, id, err)
		return
	}
	if nodes == nil {
		nodes = []domain.Node{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func loadSubscription(w http.ResponseWriter, r *http.Request) (domain.Subscription, bool) {
	id := r.PathValue("id")
	sub, err := database.GetSubscription(r.Context(), id)
	if err != nil {
		writeSubscriptionError(w, id, err)
		return domain.Subscription{}, false
	}
	return sub, true
}

func writeSubscriptionError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, database.ErrSubscriptionNotFound) {
		writeError(w, "Subscription not found", http.StatusNotFound)
		return
	}
	log.Error("Subscription request failed", "id", id, "error", err)
	writeError(w, "Subscription request failed", http.StatusInternalServerError)
}
