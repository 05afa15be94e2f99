package netaddr

import (
	"strings"
	"testing"
)

func FuzzClassify(f *testing.F) {
	for _, seed := range []string{"", "1.2.3.4", "[::1]:443", "::ffff:1.2.3.4", "10.0.0.0/8", "example.com", "a:b.c", "[", "/", "::/129"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		kind := Classify(raw)
		isIP := IsIPAddress(raw)
		if kind.IsIP() != isIP {
			t.Fatalf("Classify(%q) = %s but IsIPAddress = %t", raw, kind, isIP)
		}
		if IsPureIPAddress(raw) && !isIP {
			t.Fatalf("%q is a pure address but IsIPAddress rejected it", raw)
		}
		if kind == KindDomain && IsPureIPAddress(strings.TrimSpace(raw)) {
			t.Fatalf("%q classified as domain but is a pure address", raw)
		}
	})
}

func FuzzIsIPInCIDR(f *testing.F) {
	f.Add("10.1.2.3", "10.0.0.0/8")
	f.Add("::1", "::1/128")
	f.Add("1.2.3.4", "1.2.3.4/33")
	f.Add("", "/")

	f.Fuzz(func(t *testing.T, ip, cidr string) {
		if !IsIPInCIDR(ip, cidr) {
			return
		}
		if !IsIPv4Address(ip) {
			t.Fatalf("IsIPInCIDR accepted non-IPv4 %q", ip)
		}
		if _, ok := ParseCIDR(cidr); !ok {
			t.Fatalf("IsIPInCIDR accepted unparsable block %q", cidr)
		}
	})
}

func FuzzSubscriptionURL(f *testing.F) {
	for _, seed := range []string{"https://a", "http://127.0.0.1/", "http://10.0.0.1/a b", "http://[", "http://%zz"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		if IsValidSubscriptionURL(raw) && !isHTTPSURL(raw) && !isHTTPURL(raw) {
			t.Fatalf("accepted %q without an http(s) scheme", raw)
		}
	})
}
