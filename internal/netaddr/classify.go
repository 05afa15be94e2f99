// Package netaddr classifies destination strings as IPv4, IPv6, domain name or
// nothing, and tests IPv4 CIDR membership.
//
// Every exported function is total. Malformed input resolves to false or the
// zero value instead of an error, so callers can hand over any string from a
// subscription body or a routing rule without pre-validation. The flip side is
// that "malformed" and "valid but not matching" look the same to the caller.
package netaddr

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	ipv4Regex = regexp.MustCompile(`^([01]?[0-9]?[0-9]|2[0-4][0-9]|25[0-5])\.([01]?[0-9]?[0-9]|2[0-4][0-9]|25[0-5])\.([01]?[0-9]?[0-9]|2[0-4][0-9]|25[0-5])\.([01]?[0-9]?[0-9]|2[0-4][0-9]|25[0-5])$`)

	// Full and compressed forms, including the bare "::".
	ipv6Regex = regexp.MustCompile(`^(?:` +
		`(?:[0-9A-Fa-f]{1,4}:){7}[0-9A-Fa-f]{1,4}` +
		`|(?:[0-9A-Fa-f]{1,4}:){1,7}:` +
		`|:(?::[0-9A-Fa-f]{1,4}){1,7}` +
		`|(?:[0-9A-Fa-f]{1,4}:){1,6}:[0-9A-Fa-f]{1,4}` +
		`|(?:[0-9A-Fa-f]{1,4}:){1,5}(?::[0-9A-Fa-f]{1,4}){1,2}` +
		`|(?:[0-9A-Fa-f]{1,4}:){1,4}(?::[0-9A-Fa-f]{1,4}){1,3}` +
		`|(?:[0-9A-Fa-f]{1,4}:){1,3}(?::[0-9A-Fa-f]{1,4}){1,4}` +
		`|(?:[0-9A-Fa-f]{1,4}:){1,2}(?::[0-9A-Fa-f]{1,4}){1,5}` +
		`|[0-9A-Fa-f]{1,4}:(?:(?::[0-9A-Fa-f]{1,4}){1,6})` +
		`|::` +
		`)$`)
)

const ipv4MappedPrefix = "::ffff:"

// Kind is the exclusive classification of a host string.
type Kind int

const (
	KindNone Kind = iota
	KindIPv4
	KindIPv6
	KindDomain
)

func (k Kind) String() string {
	switch k {
	case KindIPv4:
		return "ipv4"
	case KindIPv6:
		return "ipv6"
	case KindDomain:
		return "domain"
	default:
		return "none"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	*k = ParseKind(string(text))
	return nil
}

// ParseKind is the inverse of Kind.String. Unknown names are KindNone.
func ParseKind(name string) Kind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ipv4":
		return KindIPv4
	case "ipv6":
		return KindIPv6
	case "domain":
		return KindDomain
	default:
		return KindNone
	}
}

// IsIP reports whether the kind is one of the IP literal kinds.
func (k Kind) IsIP() bool {
	return k == KindIPv4 || k == KindIPv6
}

// IsIPv4Address matches the dotted-quad grammar. Leading zeros are allowed as
// long as each group stays within 0-255.
func IsIPv4Address(value string) bool {
	return ipv4Regex.MatchString(value)
}

// IsIPv6Address matches the full or "::"-compressed IPv6 grammar.
func IsIPv6Address(value string) bool {
	return ipv6Regex.MatchString(value)
}

// IsPureIPAddress reports whether value is literally an IPv4 or IPv6 address,
// with no port, brackets or prefix length.
func IsPureIPAddress(value string) bool {
	return IsIPv4Address(value) || IsIPv6Address(value)
}

// IsIPAddress reports whether raw denotes an IP address once host wrappers are
// removed. It accepts "[v6]:port", "v4:port", a trailing "/prefix" and the
// IPv4-mapped "::ffff:a.b.c.d" form.
func IsIPAddress(raw string) bool {
	_, ok := Unwrap(raw)
	return ok
}

// Unwrap runs the IsIPAddress pipeline and returns the final candidate along
// with the verdict. The candidate is meaningful only when ok is true.
func Unwrap(raw string) (candidate string, ok bool) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return "", false
	}

	// [v6]:port
	if strings.HasPrefix(addr, "[") {
		if end := strings.IndexByte(addr, ']'); end > 0 {
			addr = addr[1:end]
		}
	}

	// v4:port. A bare v6 literal with a single colon and a dot is cut here as
	// well; callers rely on that behavior.
	if idx := strings.IndexByte(addr, ':'); idx > -1 && strings.Count(addr, ":") == 1 && strings.Contains(addr, ".") {
		addr = addr[:idx]
	}

	if strings.Contains(addr, "/") {
		parts := strings.Split(addr, "/")
		if len(parts) != 2 {
			return "", false
		}
		base := parts[0]
		prefix, err := strconv.Atoi(parts[1])
		if err != nil {
			return "", false
		}
		switch {
		case strings.Contains(base, "."):
			if prefix < 0 || prefix > 32 {
				return "", false
			}
		case strings.Contains(base, ":"):
			if prefix < 0 || prefix > 128 {
				return "", false
			}
		default:
			return "", false
		}
		addr = base
	}

	if strings.HasPrefix(addr, ipv4MappedPrefix) && strings.Contains(addr, ".") {
		addr = strings.TrimPrefix(addr, ipv4MappedPrefix)
	}

	switch {
	case strings.Contains(addr, "."):
		return addr, IsIPv4Address(addr)
	case strings.Contains(addr, ":"):
		return addr, IsIPv6Address(addr)
	default:
		return addr, false
	}
}

// Classify places raw into exactly one Kind. IP detection runs first with the
// same unwrapping as IsIPAddress, so "1.2.3.4:80" is KindIPv4 and never a
// domain.
func Classify(raw string) Kind {
	if candidate, ok := Unwrap(raw); ok {
		if strings.Contains(candidate, ".") {
			return KindIPv4
		}
		return KindIPv6
	}
	if IsDomainName(strings.TrimSpace(raw)) {
		return KindDomain
	}
	return KindNone
}

// FormatIPv6Host wraps a bare IPv6 literal in brackets so it can be joined
// with a port. Anything else is returned unchanged.
func FormatIPv6Host(address string) string {
	if address == "" {
		return ""
	}
	if IsIPv6Address(address) && !strings.ContainsAny(address, "[]") {
		return "[" + address + "]"
	}
	return address
}

// IsCoreDNSAddress reports whether s names a DNS server the core resolves on
// its own: DoH, TCP or QUIC endpoints, or the literal "localhost".
func IsCoreDNSAddress(s string) bool {
	return strings.HasPrefix(s, "https") ||
		strings.HasPrefix(s, "tcp") ||
		strings.HasPrefix(s, "quic") ||
		s == "localhost"
}
