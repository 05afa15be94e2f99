package netaddr

import (
	"net/url"
	"strings"

	"subgate/internal/payload"
)

// DefaultLoopbackMarker is the host fragment that always marks a local
// subscription endpoint.
const DefaultLoopbackMarker = "127.0.0.1"

// SubscriptionPolicy decides which subscription URLs may be fetched. HTTPS is
// always allowed; plain HTTP only for loopback or private hosts.
type SubscriptionPolicy struct {
	// LoopbackMarker allows any HTTP URL whose host contains it. Empty
	// disables the marker check.
	LoopbackMarker string

	// Private allows HTTP URLs whose host is an IP literal inside one of its
	// blocks. Nil means no private exemption.
	Private *RangeTable
}

// DefaultSubscriptionPolicy uses DefaultLoopbackMarker and PrivateRanges.
func DefaultSubscriptionPolicy() SubscriptionPolicy {
	return SubscriptionPolicy{
		LoopbackMarker: DefaultLoopbackMarker,
		Private:        defaultPrivateTable,
	}
}

// IsValidSubscriptionURL applies DefaultSubscriptionPolicy.
func IsValidSubscriptionURL(value string) bool {
	return DefaultSubscriptionPolicy().Allows(value)
}

// Allows reports whether value may be used as a subscription URL.
func (p SubscriptionPolicy) Allows(value string) bool {
	if value == "" {
		return false
	}
	if isHTTPSURL(value) {
		return true
	}
	if !isHTTPURL(value) {
		return false
	}

	u, err := url.Parse(payload.FixIllegalURL(value))
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if p.LoopbackMarker != "" && strings.Contains(host, p.LoopbackMarker) {
		return true
	}
	if IsIPAddress(host) {
		return p.Private.Contains(host)
	}
	return false
}

func isHTTPURL(value string) bool {
	return len(value) > 6 && strings.EqualFold(value[:7], "http://")
}

func isHTTPSURL(value string) bool {
	return len(value) > 7 && strings.EqualFold(value[:8], "https://")
}
