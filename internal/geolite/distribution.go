package geolite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	geoLiteRedisKeyPrefix = "subgate:geolite:file:"
	geoLiteRedisChannel   = "subgate:geolite:updates"
	geoLiteRedisOpTimeout = 30 * time.Second
)

var errDistributionDisabled = errors.New("geolite: redis distribution is not enabled")

type geoLiteUpdatePayload struct {
	File      string `json:"file"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type geoLiteRedisState struct {
	mu       sync.RWMutex
	client   *redis.Client
	resolver *Resolver
	ctx      context.Context
	cancel   context.CancelFunc
}

var globalGeoLiteRedis geoLiteRedisState

// EnableRedisDistribution replicates the country database through redis so
// only one instance needs to download it from MaxMind. The stored copy is
// pulled once at start and again on every published update.
func EnableRedisDistribution(ctx context.Context, client *redis.Client, resolver *Resolver) {
	if client == nil || resolver == nil {
		log.Warn("GeoLite redis distribution disabled: redis client or resolver is nil")
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	syncCtx, cancel := context.WithCancel(ctx)

	globalGeoLiteRedis.mu.Lock()
	if globalGeoLiteRedis.client != nil {
		globalGeoLiteRedis.mu.Unlock()
		cancel()
		return
	}

	globalGeoLiteRedis.client = client
	globalGeoLiteRedis.resolver = resolver
	globalGeoLiteRedis.ctx = syncCtx
	globalGeoLiteRedis.cancel = cancel
	globalGeoLiteRedis.mu.Unlock()

	go func() {
		if updated, err := fetchFromRedis(syncCtx, client, resolver); err != nil {
			log.Error("geolite redis sync: initial load failed", "error", err)
		} else if updated {
			log.Info("geolite redis sync: loaded database from redis")
		}
	}()

	go subscribeToUpdates(syncCtx, client, resolver)
}

func DisableRedisDistribution() {
	globalGeoLiteRedis.mu.Lock()
	defer globalGeoLiteRedis.mu.Unlock()

	if globalGeoLiteRedis.cancel != nil {
		globalGeoLiteRedis.cancel()
	}
	globalGeoLiteRedis.client = nil
	globalGeoLiteRedis.resolver = nil
	globalGeoLiteRedis.ctx = nil
	globalGeoLiteRedis.cancel = nil
}

// PublishDatabase uploads the resolver's current file to redis and tells
// other instances to pull it.
func PublishDatabase(ctx context.Context) error {
	client, resolver, baseCtx := distributionState()
	if client == nil {
		return errDistributionDisabled
	}

	path := resolver.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("geolite redis sync: read %s: %w", path, err)
	}

	opCtx := mergedContext(ctx, baseCtx)
	name := filepath.Base(path)
	if err := storeGeoLiteFile(opCtx, client, name, data); err != nil {
		return fmt.Errorf("geolite redis sync: store %s: %w", name, err)
	}

	payload, err := json.Marshal(geoLiteUpdatePayload{
		File:      name,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("geolite redis sync: serialize payload: %w", err)
	}

	return publishGeoLiteNotification(opCtx, client, payload)
}

func subscribeToUpdates(ctx context.Context, client *redis.Client, resolver *Resolver) {
	pubsub := client.Subscribe(ctx, geoLiteRedisChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("geolite redis sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var payload geoLiteUpdatePayload
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			log.Error("geolite redis sync: invalid payload", "error", err)
			continue
		}

		if updated, err := fetchFromRedis(ctx, client, resolver); err != nil {
			log.Error("geolite redis sync: failed to apply update", "error", err)
		} else if updated {
			log.Info("geolite redis sync: applied update", "file", payload.File, "published", payload.UpdatedAt)
		}
	}
}

func fetchFromRedis(ctx context.Context, client *redis.Client, resolver *Resolver) (bool, error) {
	path := resolver.Path()
	if path == "" {
		return false, ErrNoDatabase
	}

	data, err := fetchGeoLiteFile(ctx, client, filepath.Base(path))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}

	if err := writeToFile(path, bytes.NewReader(data)); err != nil {
		return false, fmt.Errorf("geolite redis sync: write %s: %w", path, err)
	}
	if err := resolver.Reload(path); err != nil {
		return false, fmt.Errorf("geolite redis sync: reload database: %w", err)
	}
	return true, nil
}

func storeGeoLiteFile(ctx context.Context, client *redis.Client, filename string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()
	return client.Set(opCtx, geoLiteRedisKey(filename), data, 0).Err()
}

func publishGeoLiteNotification(ctx context.Context, client *redis.Client, payload []byte) error {
	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()
	return client.Publish(opCtx, geoLiteRedisChannel, payload).Err()
}

func fetchGeoLiteFile(ctx context.Context, client *redis.Client, filename string) ([]byte, error) {
	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()
	return client.Get(opCtx, geoLiteRedisKey(filename)).Bytes()
}

func geoLiteRedisKey(filename string) string {
	return geoLiteRedisKeyPrefix + filename
}

func distributionState() (*redis.Client, *Resolver, context.Context) {
	globalGeoLiteRedis.mu.RLock()
	defer globalGeoLiteRedis.mu.RUnlock()
	return globalGeoLiteRedis.client, globalGeoLiteRedis.resolver, globalGeoLiteRedis.ctx
}

func mergedContext(ctx context.Context, fallback context.Context) context.Context {
	switch {
	case ctx != nil && ctx.Err() == nil:
		return ctx
	case fallback != nil && fallback.Err() == nil:
		return fallback
	default:
		return context.Background()
	}
}

func redisTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, hasDeadline := ctx.Deadline(); hasDeadline && time.Until(deadline) <= geoLiteRedisOpTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, geoLiteRedisOpTimeout)
}
