package dto

import "subgate/internal/netaddr"

type AddressRequest struct {
	Value string `json:"value"`
}

// AddressInfo is every classifier verdict for one input.
type AddressInfo struct {
	Value     string       `json:"value"`
	Kind      netaddr.Kind `json:"kind"`
	IPAddress bool         `json:"ipAddress"`
	PureIP    bool         `json:"pureIp"`
	Domain    bool         `json:"domain"`
	ValidURL  bool         `json:"validUrl"`
	CoreDNS   bool         `json:"coreDns"`
	Unwrapped string       `json:"unwrapped,omitempty"`
}

type CIDRRequest struct {
	IP   string `json:"ip"`
	CIDR string `json:"cidr"`
}

type CIDRResult struct {
	InRange bool `json:"inRange"`
}

type SubscriptionURLRequest struct {
	URL string `json:"url"`
}

type SubscriptionURLResult struct {
	Valid bool `json:"valid"`
	// Reason is set when the URL is valid by shape but may still not be fetched.
	Reason string `json:"reason,omitempty"`
}

type RouteRequest struct {
	Host string `json:"host"`
}
