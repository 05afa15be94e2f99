// Package runtime holds background maintenance routines that are not tied
// to a subscription.
package runtime

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"subgate/internal/config"
	"subgate/internal/geolite"
	"subgate/internal/support"
)

const (
	geoLiteUpdateLockKey       = "subgate:leader:geolite_update"
	geoLiteUpdateFallbackEvery = 24 * time.Hour
)

// updateFunc matches geolite.UpdateDatabase and is swapped in tests.
type updateFunc func(ctx context.Context, resolver *geolite.Resolver, apiKey string) (bool, error)

var updateDatabase updateFunc = geolite.UpdateDatabase

// StartGeoLiteUpdateRoutine keeps the country database current. With a redis
// client only the leader downloads; the others receive the file through
// geolite redis distribution.
func StartGeoLiteUpdateRoutine(ctx context.Context, resolver *geolite.Resolver, client *redis.Client) {
	if ctx == nil {
		ctx = context.Background()
	}

	var intervalValue atomic.Value
	initialInterval := config.GetGeoLiteUpdateInterval()
	if initialInterval <= 0 {
		initialInterval = geoLiteUpdateFallbackEvery
	}
	intervalValue.Store(initialInterval)

	updateSignal := make(chan struct{}, 1)
	updates := config.GeoLiteUpdateIntervalUpdates()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newInterval := <-updates:
				if newInterval <= 0 {
					newInterval = geoLiteUpdateFallbackEvery
				}
				intervalValue.Store(newInterval)
				select {
				case updateSignal <- struct{}{}:
				default:
				}
			}
		}
	}()

	if client == nil {
		runGeoLiteUpdateLoop(ctx, resolver, &intervalValue, updateSignal)
		return
	}

	err := support.RunWithLeader(ctx, client, geoLiteUpdateLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runGeoLiteUpdateLoop(leaderCtx, resolver, &intervalValue, updateSignal)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("GeoLite update routine stopped", "error", err)
	}
}

func runGeoLiteUpdateLoop(ctx context.Context, resolver *geolite.Resolver, intervalValue *atomic.Value, updateSignal <-chan struct{}) {
	currentInterval := intervalValue.Load().(time.Duration)
	if currentInterval <= 0 {
		currentInterval = geoLiteUpdateFallbackEvery
	}

	ticker := time.NewTicker(currentInterval)
	defer ticker.Stop()

	// Download at startup only when there is no usable database yet.
	if !resolver.Available() {
		RunGeoLiteUpdate(ctx, resolver, "startup", true)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RunGeoLiteUpdate(ctx, resolver, "scheduled", false)
		case <-updateSignal:
			newInterval := intervalValue.Load().(time.Duration)
			if newInterval <= 0 {
				newInterval = geoLiteUpdateFallbackEvery
			}
			if newInterval == currentInterval {
				continue
			}
			drainTicker(ticker)
			currentInterval = newInterval
			ticker.Reset(currentInterval)
		}
	}
}

// RunGeoLiteUpdate runs the updater on demand. When force is false the update
// is only executed if auto updates are enabled. It reports whether a new
// database was loaded.
func RunGeoLiteUpdate(ctx context.Context, resolver *geolite.Resolver, reason string, force bool) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := config.GetConfig()
	apiKey := strings.TrimSpace(cfg.GeoLite.APIKey)
	if apiKey == "" {
		log.Debug("GeoLite update skipped: API key missing", "reason", reason)
		return false
	}

	if !force && !cfg.GeoLite.AutoUpdate {
		log.Debug("GeoLite update skipped: auto update disabled", "reason", reason)
		return false
	}

	updated, err := updateDatabase(ctx, resolver, apiKey)
	switch {
	case errors.Is(err, geolite.ErrNoAPIKey):
		log.Debug("GeoLite update skipped: API key missing", "reason", reason)
	case err != nil:
		log.Error("GeoLite update failed", "reason", reason, "error", err)
	case updated:
		log.Info("GeoLite database updated", "reason", reason, "path", resolver.Path())
	default:
		log.Debug("GeoLite update skipped", "reason", reason)
	}
	return err == nil && updated
}

func drainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}
