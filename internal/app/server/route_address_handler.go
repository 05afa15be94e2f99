package server

import (
	"errors"
	"net/http"
	"strings"

	"subgate/internal/api/dto"
	"subgate/internal/config"
	"subgate/internal/netaddr"
	"subgate/internal/payload"
	"subgate/internal/subscription"
)

func classifyAddress(w http.ResponseWriter, r *http.Request) {
	var req dto.AddressRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	info := dto.AddressInfo{
		Value:     req.Value,
		Kind:      netaddr.Classify(req.Value),
		IPAddress: netaddr.IsIPAddress(req.Value),
		PureIP:    netaddr.IsPureIPAddress(req.Value),
		Domain:    netaddr.IsDomainName(req.Value),
		ValidURL:  netaddr.IsValidURL(req.Value),
		CoreDNS:   netaddr.IsCoreDNSAddress(req.Value),
	}
	if unwrapped, ok := netaddr.Unwrap(req.Value); ok {
		info.Unwrapped = unwrapped
	}

	writeJSON(w, http.StatusOK, info)
}

func checkCIDR(w http.ResponseWriter, r *http.Request) {
	var req dto.CIDRRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, dto.CIDRResult{InRange: netaddr.IsIPInCIDR(req.IP, req.CIDR)})
}

// checkSubscriptionURL applies the configured policy and, when a fetcher is
// wired, the source blacklist.
func (a *api) checkSubscriptionURL(w http.ResponseWriter, r *http.Request) {
	var req dto.SubscriptionURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	raw := payload.FixIllegalURL(strings.TrimSpace(req.URL))
	result := dto.SubscriptionURLResult{Valid: config.CurrentSubscriptionPolicy().Allows(raw)}

	if result.Valid && a.deps.Fetcher != nil {
		if err := a.deps.Fetcher.Check(raw); err != nil {
			result.Valid = false
			result.Reason = checkReason(err)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

func checkReason(err error) string {
	switch {
	case errors.Is(err, subscription.ErrBlockedSource):
		return "blacklisted"
	case errors.Is(err, subscription.ErrInsecureURL):
		return "insecure"
	default:
		return err.Error()
	}
}
