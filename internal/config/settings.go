package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"subgate/internal/netaddr"
)

type Config struct {
	Subscription SubscriptionConfig `json:"subscription"`
	Routing      RoutingConfig      `json:"routing"`

	GeoLite GeoLiteConfig `json:"geolite"`

	WebsiteBlacklist []string `json:"website_blacklist"`
}

type GeoLiteConfig struct {
	CountryDBPath string `json:"country_db_path"`
	APIKey        string `json:"api_key"`
	AutoUpdate    bool   `json:"auto_update"`
	UpdateTimer   Timer  `json:"update_timer"`
}

type SubscriptionConfig struct {
	// Empty falls back to netaddr.DefaultLoopbackMarker.
	LoopbackMarker string `json:"loopback_marker"`
	// Empty falls back to netaddr.DefaultPrivateRanges.
	PrivateRanges []string `json:"private_ranges"`

	UserAgent       string `json:"user_agent"`
	TimeoutMs       uint32 `json:"timeout_ms"`
	MaxPayloadBytes int64  `json:"max_payload_bytes"`
	Workers         uint32 `json:"workers"`
	RefreshTimer    Timer  `json:"refresh_timer"`
	CacheTTLSeconds uint32 `json:"cache_ttl_seconds"`
}

type RoutingConfig struct {
	DomainStrategy string        `json:"domain_strategy"`
	Rules          []RoutingRule `json:"rules"`
	Fallback       string        `json:"fallback"`
}

type RoutingRule struct {
	Outbound string   `json:"outbound"`
	Domain   []string `json:"domain,omitempty"`
	IP       []string `json:"ip,omitempty"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const (
	DefaultSettingsPath = "data/settings.json"

	defaultUserAgent       = "subgate/1.0"
	defaultFetchTimeout    = 15 * time.Second
	defaultMaxPayloadBytes = 8 << 20
	defaultWorkers         = 4
	defaultCacheTTL        = 10 * time.Minute
)

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue  atomic.Value
	derivedValue atomic.Value
	revision     atomic.Uint64
	configMu     sync.Mutex

	settingsFilePath = DefaultSettingsPath
)

// derivedState is rebuilt whenever a config is applied so readers never parse
// ranges or hostnames on the hot path.
type derivedState struct {
	policy    netaddr.SubscriptionPolicy
	blocklist *HostBlocklist
}

func init() {
	configValue.Store(Config{})
	derivedValue.Store(derivedState{
		policy:    netaddr.DefaultSubscriptionPolicy(),
		blocklist: NewHostBlocklist(nil),
	})
}

// SetSettingsPath changes the file used by ReadSettings and SetConfig.
func SetSettingsPath(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	if strings.TrimSpace(path) == "" {
		path = DefaultSettingsPath
	}
	settingsFilePath = path
}

func currentSettingsPath() string {
	configMu.Lock()
	defer configMu.Unlock()
	return settingsFilePath
}

// DefaultConfig returns the embedded defaults.
func DefaultConfig() (Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse embedded defaults: %w", err)
	}
	return cfg, nil
}

func ReadSettings() {
	path := currentSettingsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("Error reading settings file", "path", path, "error", err)
			return
		}
		log.Warn("Settings file not found, creating with default configuration", "path", path)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.Error("Error creating directory for settings file", "error", err)
			return
		}
		if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
			log.Error("Error writing default settings file", "error", err)
			return
		}
		data = defaultConfig
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file", "path", path, "error", err)
		return
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file", "error", err)
		return
	}

	log.Debug("Settings file loaded successfully", "path", path)
}

// SetConfig validates, stores, persists and broadcasts newConfig.
func SetConfig(newConfig Config) error {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"}); err != nil {
		log.Error("Error applying configuration update", "error", err)
		return err
	}

	log.Debug("Configuration updated and written to file successfully")
	return nil
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	derived, err := deriveState(newConfig)
	if err != nil {
		return err
	}

	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	derivedValue.Store(derived)
	revision.Add(1)
	SetBetweenTime()

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Errorf("config: marshal: %w", err))
		} else if err := os.WriteFile(settingsFilePath, data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("config: write %s: %w", settingsFilePath, err))
		}
	}

	if opts.broadcast {
		if err := publishConfig(newConfig); err != nil {
			errs = append(errs, fmt.Errorf("config: broadcast: %w", err))
		}
	}

	log.Debug("Configuration applied", "source", opts.source)

	return errors.Join(errs...)
}

func deriveState(cfg Config) (derivedState, error) {
	policy, err := cfg.Subscription.Policy()
	if err != nil {
		return derivedState{}, err
	}
	return derivedState{
		policy:    policy,
		blocklist: NewHostBlocklist(cfg.WebsiteBlacklist),
	}, nil
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

// Revision increases every time a config is applied, locally or from redis.
func Revision() uint64 {
	return revision.Load()
}

// CurrentSubscriptionPolicy returns the policy built from the active config.
func CurrentSubscriptionPolicy() netaddr.SubscriptionPolicy {
	return derivedValue.Load().(derivedState).policy
}

// Policy builds the subscription URL policy described by the section.
func (s SubscriptionConfig) Policy() (netaddr.SubscriptionPolicy, error) {
	policy := netaddr.DefaultSubscriptionPolicy()
	if marker := strings.TrimSpace(s.LoopbackMarker); marker != "" {
		policy.LoopbackMarker = marker
	}
	if len(s.PrivateRanges) > 0 {
		table, err := netaddr.NewRangeTable(s.PrivateRanges)
		if err != nil {
			return netaddr.SubscriptionPolicy{}, fmt.Errorf("config: subscription.private_ranges: %w", err)
		}
		policy.Private = table
	}
	return policy, nil
}

func (s SubscriptionConfig) EffectiveUserAgent() string {
	if ua := strings.TrimSpace(s.UserAgent); ua != "" {
		return ua
	}
	return defaultUserAgent
}

func (s SubscriptionConfig) Timeout() time.Duration {
	if s.TimeoutMs == 0 {
		return defaultFetchTimeout
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

func (s SubscriptionConfig) PayloadLimit() int64 {
	if s.MaxPayloadBytes <= 0 {
		return defaultMaxPayloadBytes
	}
	return s.MaxPayloadBytes
}

func (s SubscriptionConfig) WorkerCount() int {
	if s.Workers == 0 {
		return defaultWorkers
	}
	return int(s.Workers)
}

func (s SubscriptionConfig) CacheTTL() time.Duration {
	if s.CacheTTLSeconds == 0 {
		return defaultCacheTTL
	}
	return time.Duration(s.CacheTTLSeconds) * time.Second
}
