package config

import (
	"net/url"
	"strings"

	"subgate/internal/payload"
)

// HostBlocklist is an immutable set of hostnames that must never be fetched.
// An entry also blocks all of its subdomains.
type HostBlocklist struct {
	hosts map[string]struct{}
	order []string
}

// NewHostBlocklist normalizes entries, which may be bare hosts or URLs.
func NewHostBlocklist(entries []string) *HostBlocklist {
	order := NormalizeWebsiteBlacklist(entries)
	hosts := make(map[string]struct{}, len(order))
	for _, host := range order {
		hosts[host] = struct{}{}
	}
	return &HostBlocklist{hosts: hosts, order: order}
}

// Entries returns the normalized hosts in first-seen order.
func (b *HostBlocklist) Entries() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.order...)
}

// Blocks reports whether rawURL, or a bare host, is covered by the list.
func (b *HostBlocklist) Blocks(rawURL string) bool {
	if b == nil || len(b.hosts) == 0 {
		return false
	}
	host := normalizeHostname(rawURL)
	if host == "" {
		return false
	}

	for candidate := host; candidate != ""; {
		if _, ok := b.hosts[candidate]; ok {
			return true
		}
		dot := strings.IndexByte(candidate, '.')
		if dot < 0 {
			break
		}
		candidate = candidate[dot+1:]
	}
	return false
}

// IsSourceBlocked checks rawURL against the active website_blacklist.
func IsSourceBlocked(rawURL string) bool {
	return derivedValue.Load().(derivedState).blocklist.Blocks(rawURL)
}

// NormalizeWebsiteBlacklist trims, lowercases, and deduplicates host entries.
func NormalizeWebsiteBlacklist(entries []string) []string {
	unique := make(map[string]struct{}, len(entries))
	normalized := make([]string, 0, len(entries))

	for _, raw := range entries {
		host := normalizeHostname(raw)
		if host == "" {
			continue
		}
		if _, exists := unique[host]; exists {
			continue
		}
		unique[host] = struct{}{}
		normalized = append(normalized, host)
	}

	return normalized
}

func normalizeHostname(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	// Bare hosts need a scheme for url.Parse to fill Host.
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(payload.FixIllegalURL(trimmed))
	if err != nil {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	return strings.Trim(host, ".")
}
