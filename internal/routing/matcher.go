package routing

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"subgate/internal/netaddr"
)

type ipMatcher struct {
	raw   string
	match func(ip string) bool
}

type domainMatcher struct {
	raw   string
	match func(host string) bool
}

func never(string) bool { return false }

func (r *Router) compileIPMatcher(raw string) (ipMatcher, error) {
	value := strings.TrimSpace(raw)
	lower := strings.ToLower(value)
	m := ipMatcher{raw: value}

	switch {
	case lower == "geoip:private":
		private := r.private
		m.match = private.Contains
	case strings.HasPrefix(lower, "geoip:"):
		code := strings.ToUpper(strings.TrimPrefix(lower, "geoip:"))
		if code == "" {
			return m, fmt.Errorf("%w: %q has no country code", ErrInvalidMatcher, raw)
		}
		countries := r.countries
		m.match = func(ip string) bool {
			if countries == nil {
				return false
			}
			got, ok := countries.Country(ip)
			return ok && strings.EqualFold(got, code)
		}
	case strings.Contains(value, "/"):
		if block, ok := netaddr.ParseCIDR(value); ok {
			m.match = block.Contains
			break
		}
		base, _, _ := strings.Cut(value, "/")
		if !netaddr.IsIPv6Address(base) || !netaddr.IsIPAddress(value) {
			return m, fmt.Errorf("%w: %q is not a cidr", ErrInvalidMatcher, raw)
		}
		// IPv6 blocks are accepted but membership is IPv4 only.
		m.match = never
	case netaddr.IsPureIPAddress(value):
		want := net.ParseIP(value)
		m.match = func(ip string) bool {
			got := net.ParseIP(ip)
			return got != nil && got.Equal(want)
		}
	default:
		return m, fmt.Errorf("%w: %q is not an ip matcher", ErrInvalidMatcher, raw)
	}
	return m, nil
}

func compileDomainMatcher(raw string) (domainMatcher, error) {
	value := strings.TrimSpace(raw)
	m := domainMatcher{raw: value}
	if value == "" {
		return m, fmt.Errorf("%w: empty domain matcher", ErrInvalidMatcher)
	}

	kind, pattern, hasKind := strings.Cut(value, ":")
	if !hasKind {
		kind, pattern = "keyword", value
	}
	kind = strings.ToLower(kind)
	if kind != "regexp" {
		pattern = strings.ToLower(strings.TrimSuffix(pattern, "."))
	}
	if pattern == "" {
		return m, fmt.Errorf("%w: %q has an empty pattern", ErrInvalidMatcher, raw)
	}

	switch kind {
	case "domain":
		suffix := "." + pattern
		m.match = func(host string) bool {
			return host == pattern || strings.HasSuffix(host, suffix)
		}
	case "full":
		m.match = func(host string) bool { return host == pattern }
	case "keyword":
		m.match = func(host string) bool { return strings.Contains(host, pattern) }
	case "regexp":
		re, err := regexp.Compile(pattern)
		if err != nil {
			return m, fmt.Errorf("%w: %q: %v", ErrInvalidMatcher, raw, err)
		}
		m.match = re.MatchString
	case "geosite", "ext":
		return m, fmt.Errorf("%w: %q", ErrUnsupportedMatcher, raw)
	default:
		// "host:port"-looking values without a known prefix are keywords.
		lowered := strings.ToLower(value)
		m.match = func(host string) bool { return strings.Contains(host, lowered) }
	}
	return m, nil
}

// hostOnly reduces a URL-ish value to its lowercase host without port.
func hostOnly(value string) string {
	host := strings.TrimSpace(value)
	if _, rest, ok := strings.Cut(host, "://"); ok {
		host = rest
	}
	if cut := strings.IndexAny(host, "/?#"); cut >= 0 {
		host = host[:cut]
	}
	if at := strings.LastIndexByte(host, '@'); at >= 0 {
		host = host[at+1:]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}
