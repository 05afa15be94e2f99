package subscription

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"subgate/internal/netaddr"
	"subgate/internal/payload"
)

const (
	defaultUserAgent       = "subgate/1.0"
	defaultFetchTimeout    = 15 * time.Second
	defaultMaxPayloadBytes = 8 << 20
	defaultCacheTTL        = 10 * time.Minute
	statusSnippetBytes     = 512
)

// Fetcher downloads subscription documents. Concurrent requests for the same
// URL share one download.
type Fetcher struct {
	client    *http.Client
	policy    func() netaddr.SubscriptionPolicy
	blocked   func(string) bool
	userAgent string
	maxBytes  int64
	timeout   time.Duration
	cache     PayloadCache
	cacheTTL  time.Duration
	countries CountryResolver

	inflight singleflight.Group
}

type Option func(*Fetcher)

func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithPolicy fixes the URL policy for the lifetime of the fetcher.
func WithPolicy(policy netaddr.SubscriptionPolicy) Option {
	return func(f *Fetcher) {
		f.policy = func() netaddr.SubscriptionPolicy { return policy }
	}
}

// WithPolicySource reads the policy on every fetch, so config reloads apply
// without rebuilding the fetcher.
func WithPolicySource(source func() netaddr.SubscriptionPolicy) Option {
	return func(f *Fetcher) {
		if source != nil {
			f.policy = source
		}
	}
}

func WithBlocklist(blocked func(string) bool) Option {
	return func(f *Fetcher) { f.blocked = blocked }
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua = strings.TrimSpace(ua); ua != "" {
			f.userAgent = ua
		}
	}
}

func WithMaxPayloadBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithCache(cache PayloadCache, ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.cache = cache
		if ttl > 0 {
			f.cacheTTL = ttl
		}
	}
}

func WithCountryResolver(resolver CountryResolver) Option {
	return func(f *Fetcher) { f.countries = resolver }
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{},
		policy:    netaddr.DefaultSubscriptionPolicy,
		userAgent: defaultUserAgent,
		maxBytes:  defaultMaxPayloadBytes,
		timeout:   defaultFetchTimeout,
		cacheTTL:  defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Check reports why rawURL may not be fetched, or nil when it may.
func (f *Fetcher) Check(rawURL string) error {
	if !f.policy().Allows(rawURL) {
		return fmt.Errorf("%w: %s", ErrInsecureURL, rawURL)
	}
	if f.blocked != nil && f.blocked(rawURL) {
		return fmt.Errorf("%w: %s", ErrBlockedSource, rawURL)
	}
	return nil
}

// Fetch returns the body at rawURL, from the cache when possible.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := f.Check(rawURL); err != nil {
		return nil, err
	}

	if f.cache != nil {
		body, ok, err := f.cache.Get(ctx, rawURL)
		if err != nil {
			log.Warn("Subscription cache read failed", "url", rawURL, "error", err)
		} else if ok {
			log.Debug("Subscription served from cache", "url", rawURL, "bytes", len(body))
			return body, nil
		}
	}

	ch := f.inflight.DoChan(rawURL, func() (any, error) {
		// The download outlives any single caller; it is bounded by the fetch timeout.
		dlCtx := context.WithoutCancel(ctx)
		body, err := f.download(dlCtx, rawURL)
		if err != nil {
			return nil, err
		}
		if f.cache != nil {
			if err := f.cache.Set(dlCtx, rawURL, body, f.cacheTTL); err != nil {
				log.Warn("Subscription cache write failed", "url", rawURL, "error", err)
			}
		}
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Invalidate drops any cached body for rawURL.
func (f *Fetcher) Invalidate(ctx context.Context, rawURL string) error {
	if f.cache == nil {
		return nil
	}
	return f.cache.Delete(ctx, rawURL)
}

// Import fetches rawURL, parses the document and annotates every node with
// its host kind and, for IP hosts, its country.
func (f *Fetcher) Import(ctx context.Context, rawURL string) (Result, error) {
	body, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return Result{}, err
	}
	res, err := ParseContent(body)
	if err != nil {
		return Result{}, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	Enrich(Classify(res.Nodes), f.countries)

	log.Info("Subscription imported",
		"url", rawURL,
		"format", res.Format,
		"base64", res.Base64,
		"nodes", len(res.Nodes),
		"skipped", res.Skipped,
		"duplicates", res.Duplicates)
	return res, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.FixIllegalURL(strings.TrimSpace(rawURL)), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, statusSnippetBytes))
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, f.maxBytes)
	}
	return body, nil
}
