// Package bootstrap wires settings, storage, redis, geo lookup and the
// background routines into the components the API serves.
package bootstrap

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"subgate/internal/app/version"
	"subgate/internal/config"
	"subgate/internal/database"
	"subgate/internal/geolite"
	"subgate/internal/jobs/refresh"
	jobruntime "subgate/internal/jobs/runtime"
	"subgate/internal/routing"
	"subgate/internal/subscription"
	"subgate/internal/support"
)

const xrayUserAgentPrefix = "v2rayNG/"

// Components are the long lived services built by Setup.
type Components struct {
	Fetcher *subscription.Fetcher
	Routes  *routing.Live
	GeoLite *geolite.Resolver
	Redis   *redis.Client
	Build   config.BuildInfo
}

// Close releases what Setup opened.
func (c *Components) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		config.DisableRedisSynchronization()
		geolite.DisableRedisDistribution()
		if err := support.CloseRedisClient(); err != nil {
			log.Warn("error closing redis client", "error", err)
		}
	}
	if err := c.GeoLite.Close(); err != nil {
		log.Warn("error closing GeoLite database", "error", err)
	}
	if err := database.Close(); err != nil {
		log.Warn("error closing database", "error", err)
	}
}

// Setup loads settings and opens every dependency. Redis and the GeoLite
// database are optional; the database is not.
func Setup(ctx context.Context, build config.BuildInfo) (*Components, error) {
	config.ReadSettings()

	if _, err := database.SetupDB(); err != nil {
		return nil, err
	}

	c := &Components{Build: build}

	client, err := support.GetRedisClient()
	switch {
	case errors.Is(err, support.ErrRedisDisabled):
		log.Info("Redis not configured, running as a single instance")
	case err != nil:
		log.Warn("Redis unavailable, running as a single instance", "error", err)
	default:
		c.Redis = client
		config.EnableRedisSynchronization(ctx, client)
	}

	cfg := config.GetConfig()
	c.GeoLite = openGeoLite(cfg.GeoLite.CountryDBPath)
	if c.Redis != nil {
		geolite.EnableRedisDistribution(ctx, c.Redis, c.GeoLite)
	}

	c.Fetcher = NewFetcher(cfg, build, c.Redis, c.GeoLite)
	c.Routes = routing.NewLive(routing.WithCountryResolver(c.GeoLite))
	if _, err := c.Routes.Router(); err != nil {
		log.Warn("Routing disabled until valid rules are saved", "error", err)
	}

	return c, nil
}

// StartRoutines launches the refresh and GeoLite routines. They stop with ctx.
func (c *Components) StartRoutines(ctx context.Context) {
	deps := refresh.Deps{Importer: c.Fetcher}
	go refresh.StartRoutine(ctx, deps, c.Redis)
	go jobruntime.StartGeoLiteUpdateRoutine(ctx, c.GeoLite, c.Redis)
}

// NewFetcher builds the subscription fetcher for cfg. The URL policy and the
// source blacklist are read live; the remaining knobs are fixed at start.
func NewFetcher(cfg config.Config, build config.BuildInfo, client *redis.Client, countries subscription.CountryResolver) *subscription.Fetcher {
	var cache subscription.PayloadCache = subscription.NewMemoryCache()
	if client != nil {
		cache = subscription.NewRedisCache(client)
	}

	return subscription.NewFetcher(
		subscription.WithPolicySource(config.CurrentSubscriptionPolicy),
		subscription.WithBlocklist(config.IsSourceBlocked),
		subscription.WithUserAgent(UserAgent(cfg.Subscription, build)),
		subscription.WithTimeout(cfg.Subscription.Timeout()),
		subscription.WithMaxPayloadBytes(cfg.Subscription.PayloadLimit()),
		subscription.WithCache(cache, cfg.Subscription.CacheTTL()),
		subscription.WithCountryResolver(countries),
	)
}

// UserAgent returns the configured user agent. Without one, Xray builds
// present themselves as v2rayNG/<version>.
func UserAgent(sub config.SubscriptionConfig, build config.BuildInfo) string {
	if ua := strings.TrimSpace(sub.UserAgent); ua != "" {
		return ua
	}
	if build.IsXray() {
		return xrayUserAgentPrefix + version.Get().BuildVersion
	}
	return sub.EffectiveUserAgent()
}

func openGeoLite(path string) *geolite.Resolver {
	path = strings.TrimSpace(path)
	if path == "" {
		return geolite.NewUnloaded("")
	}

	resolver, err := geolite.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info("GeoLite database not present yet", "path", path)
		} else {
			log.Warn("GeoLite database could not be loaded", "path", path, "error", err)
		}
		return geolite.NewUnloaded(path)
	}

	log.Info("GeoLite database loaded", "path", path)
	return resolver
}
