// Package subscription fetches proxy subscription documents and turns them
// into a flat list of nodes.
package subscription

import (
	"errors"
	"strconv"
	"strings"

	"subgate/internal/netaddr"
)

var (
	ErrInvalidLink       = errors.New("subscription: invalid share link")
	ErrUnsupportedScheme = errors.New("subscription: unsupported share link scheme")
	ErrEmptyPayload      = errors.New("subscription: empty payload")
	ErrUnsupportedFormat = errors.New("subscription: unsupported payload format")
	ErrInsecureURL       = errors.New("subscription: url not allowed by policy")
	ErrBlockedSource     = errors.New("subscription: source is blacklisted")
	ErrUnexpectedStatus  = errors.New("subscription: unexpected http status")
	ErrPayloadTooLarge   = errors.New("subscription: payload exceeds size limit")
)

// Node is a single proxy endpoint extracted from a subscription.
type Node struct {
	Protocol string       `json:"protocol"`
	Name     string       `json:"name"`
	Host     string       `json:"host"`
	Port     int          `json:"port"`
	URI      string       `json:"uri,omitempty"`
	HostKind netaddr.Kind `json:"hostKind"`
	Country  string       `json:"country,omitempty"`
}

// Address joins host and port, bracketing IPv6 hosts.
func (n Node) Address() string {
	return netaddr.FormatIPv6Host(n.Host) + ":" + strconv.Itoa(n.Port)
}

func (n Node) dedupeKey() string {
	return n.Protocol + "|" + strings.ToLower(n.Host) + "|" + strconv.Itoa(n.Port) + "|" + n.Name
}

// Format names the document layout a subscription was delivered in.
type Format string

const (
	FormatSingBox    Format = "sing-box"
	FormatClash      Format = "clash"
	FormatShareLinks Format = "share-links"
)

// Result is the outcome of ParseContent.
type Result struct {
	Nodes  []Node `json:"nodes"`
	Format Format `json:"format"`
	// Base64 is set when the document was wrapped in base64.
	Base64     bool `json:"base64"`
	Skipped    int  `json:"skipped"`
	Duplicates int  `json:"duplicates"`
}

// canonicalProtocol folds the aliases used by different clients onto one
// name per protocol. It returns "" for protocols we do not extract.
func canonicalProtocol(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "vmess":
		return "vmess"
	case "vless":
		return "vless"
	case "trojan":
		return "trojan"
	case "ss", "shadowsocks":
		return "ss"
	case "hysteria2", "hy2":
		return "hysteria2"
	case "tuic":
		return "tuic"
	case "socks", "socks5":
		return "socks"
	case "wireguard", "wg":
		return "wireguard"
	case "anytls":
		return "anytls"
	default:
		return ""
	}
}

func validEndpoint(host string, port int) bool {
	return strings.TrimSpace(host) != "" && port >= 1 && port <= 65535
}
