package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"subgate/internal/auth"
	"subgate/internal/config"
	"subgate/internal/geolite"
	"subgate/internal/jobs/refresh"
	"subgate/internal/routing"
)

const (
	maxRequestBodyBytes = 1 << 20
	shutdownTimeout     = 10 * time.Second
)

// Fetcher imports subscriptions and vets their URLs.
type Fetcher interface {
	refresh.Importer
	Check(rawURL string) error
}

// RouterSource returns the router for the active config.
type RouterSource interface {
	Router() (*routing.Router, error)
}

type Deps struct {
	Fetcher Fetcher
	Routes  RouterSource
	// Store defaults to the database package.
	Store refresh.Store
	// GeoLite is optional; without it POST /geolite/update answers 503.
	GeoLite   *geolite.Resolver
	BuildInfo config.BuildInfo
	Workers   int
}

func (d Deps) refreshDeps() refresh.Deps {
	deps := refresh.Deps{Store: d.Store, Workers: d.Workers}
	if d.Fetcher != nil {
		deps.Importer = d.Fetcher
	}
	return deps
}

type api struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, PATCH, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewHandler builds the API with every route except /version behind
// auth.RequireAuth.
func NewHandler(deps Deps) http.Handler {
	a := &api{deps: deps}
	protect := func(h http.HandlerFunc) http.Handler { return auth.RequireAuth(h) }

	router := http.NewServeMux()
	router.HandleFunc("GET /version", a.getVersion)

	router.Handle("POST /address/classify", protect(classifyAddress))
	router.Handle("POST /address/cidr", protect(checkCIDR))
	router.Handle("POST /address/subscription-url", protect(a.checkSubscriptionURL))

	router.Handle("POST /payload/decode", protect(decodePayload))
	router.Handle("POST /payload/encode", protect(encodePayload))
	router.Handle("POST /payload/url-encode", protect(urlEncodePayload))
	router.Handle("POST /payload/url-decode", protect(urlDecodePayload))

	router.Handle("POST /route", protect(a.decideRoute))

	router.Handle("GET /subscriptions", protect(listSubscriptions))
	router.Handle("POST /subscriptions", protect(a.createSubscription))
	router.Handle("POST /subscriptions/refresh", protect(a.refreshSubscriptions))
	router.Handle("GET /subscriptions/{id}", protect(getSubscription))
	router.Handle("PATCH /subscriptions/{id}", protect(updateSubscription))
	router.Handle("DELETE /subscriptions/{id}", protect(deleteSubscription))
	router.Handle("POST /subscriptions/{id}/refresh", protect(a.refreshSubscription))
	router.Handle("GET /subscriptions/{id}/nodes", protect(listSubscriptionNodes))

	router.Handle("GET /settings", protect(getSettings))
	router.Handle("PUT /settings", protect(saveSettings))
	router.Handle("POST /geolite/update", protect(a.updateGeoLite))

	return enableCORS(router)
}

// OpenRoutes serves the API on port until ctx is done.
func OpenRoutes(ctx context.Context, port int, deps Deps) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("API server shutdown failed", "error", err)
		}
	}()

	log.Infof("Starting subgate API on port :%d", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}
