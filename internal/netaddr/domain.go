package netaddr

import (
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var (
	hostProfile = idna.New(
		idna.MapForLookup(),
		idna.BidiRule(),
		idna.StrictDomainName(true),
		idna.VerifyDNSLength(true),
	)

	// [scheme://][userinfo@]host[:port][/path | ?query | #fragment]
	webURLRegex = regexp.MustCompile(`^(?:(?i:https?|rtsp|ftp)://)?` +
		`(?:[^\s@/?#]+@)?` +
		`([^\s/?#:@\[\]]+)` +
		`(?::\d{1,5})?` +
		`(?:[/?#]\S*)?$`)

	tldRegex = regexp.MustCompile(`^(?:[a-z]{2,63}|xn--[a-z0-9-]{1,59})$`)
)

// IsDomainName reports whether input is a host name or web URL rather than an
// IP literal.
func IsDomainName(input string) bool {
	if input == "" {
		return false
	}
	return !IsPureIPAddress(input) && IsValidURL(input)
}

// IsValidURL accepts strings that look like a web URL or a bare domain, plus
// the schemes a client can always open (http, https, file, about, javascript,
// content).
func IsValidURL(value string) bool {
	if value == "" {
		return false
	}
	if hasOpenableScheme(value) {
		return true
	}
	m := webURLRegex.FindStringSubmatch(value)
	if m == nil {
		return false
	}
	host := m[1]
	return IsIPv4Address(host) || isHostName(host)
}

func hasOpenableScheme(value string) bool {
	switch {
	case len(value) > 6 && strings.EqualFold(value[:7], "http://"):
		return true
	case len(value) > 7 && strings.EqualFold(value[:8], "https://"):
		return true
	}
	for _, prefix := range []string{"file://", "about:", "javascript:", "content:"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}

// isHostName validates a DNS name with at least two labels and an alphabetic
// or punycode top-level label.
func isHostName(host string) bool {
	if !strings.Contains(host, ".") {
		return false
	}
	ascii, err := hostProfile.ToASCII(host)
	if err != nil {
		return false
	}
	ascii = strings.ToLower(ascii)
	tld := ascii[strings.LastIndexByte(ascii, '.')+1:]
	return tldRegex.MatchString(tld)
}
