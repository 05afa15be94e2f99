package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"subgate/internal/config"
	"subgate/internal/support"
)

const (
	refreshLockKey        = "subgate:leader:subscription_refresh"
	refreshFallbackTicker = 6 * time.Hour
)

// StartRoutine refreshes all subscriptions at startup and then on every tick
// of the configured refresh interval. With a redis client only the instance
// holding the leader lock refreshes. It blocks until ctx is done.
func StartRoutine(ctx context.Context, deps Deps, client *redis.Client) {
	if ctx == nil {
		ctx = context.Background()
	}

	var intervalValue atomic.Value
	intervalValue.Store(normalizeInterval(config.GetSubscriptionRefreshInterval()))

	updateSignal := make(chan struct{}, 1)
	updates := config.SubscriptionRefreshIntervalUpdates()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newInterval := <-updates:
				intervalValue.Store(normalizeInterval(newInterval))
				select {
				case updateSignal <- struct{}{}:
				default:
				}
			}
		}
	}()

	if client == nil {
		runRefreshLoop(ctx, deps, &intervalValue, updateSignal)
		return
	}

	err := support.RunWithLeader(ctx, client, refreshLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runRefreshLoop(leaderCtx, deps, &intervalValue, updateSignal)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Subscription refresh routine stopped", "error", err)
	}
}

func runRefreshLoop(ctx context.Context, deps Deps, intervalValue *atomic.Value, updateSignal <-chan struct{}) {
	currentInterval := intervalValue.Load().(time.Duration)

	ticker := time.NewTicker(currentInterval)
	defer ticker.Stop()

	refreshOnce(ctx, deps, "startup")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshOnce(ctx, deps, "scheduled")
		case <-updateSignal:
			newInterval := intervalValue.Load().(time.Duration)
			if newInterval == currentInterval {
				continue
			}
			drainTicker(ticker)
			currentInterval = newInterval
			ticker.Reset(currentInterval)
			log.Debug("Subscription refresh interval changed", "interval", currentInterval)
		}
	}
}

func refreshOnce(ctx context.Context, deps Deps, reason string) {
	outcome, err := RefreshAll(ctx, deps)
	switch {
	case err != nil && ctx.Err() != nil:
		return
	case err != nil:
		log.Error("Subscription refresh failed", "reason", reason, "error", err)
	default:
		log.Info("Subscriptions refreshed",
			"reason", reason,
			"total", outcome.Total,
			"succeeded", outcome.Succeeded,
			"failed", outcome.Failed,
			"nodes", outcome.Nodes,
			"took", outcome.Duration)
	}
}

func normalizeInterval(interval time.Duration) time.Duration {
	if interval <= 0 {
		return refreshFallbackTicker
	}
	return interval
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
