package netaddr

import (
	"strconv"
	"strings"
)

// CIDR is a parsed IPv4 block. The zero value is 0.0.0.0/0.
type CIDR struct {
	base   uint32
	prefix int
	text   string
}

// ParseCIDR parses "<ipv4>/<0..32>". IPv6 blocks, missing prefixes and
// anything else malformed report false.
func ParseCIDR(cidr string) (CIDR, bool) {
	parts := strings.Split(cidr, "/")
	if len(parts) != 2 {
		return CIDR{}, false
	}
	prefix, err := strconv.Atoi(parts[1])
	if err != nil || prefix < 0 || prefix > 32 {
		return CIDR{}, false
	}
	if !IsIPv4Address(parts[0]) {
		return CIDR{}, false
	}
	base, ok := ipv4ToUint32(parts[0])
	if !ok {
		return CIDR{}, false
	}
	return CIDR{base: base, prefix: prefix, text: cidr}, true
}

// Prefix returns the prefix length.
func (c CIDR) Prefix() int {
	return c.prefix
}

func (c CIDR) String() string {
	if c.text == "" {
		return "0.0.0.0/0"
	}
	return c.text
}

func (c CIDR) mask() uint32 {
	if c.prefix == 0 {
		return 0
	}
	return ^uint32(0) << (32 - c.prefix)
}

// Contains reports whether ip is an IPv4 literal inside the block.
func (c CIDR) Contains(ip string) bool {
	if !IsIPv4Address(ip) {
		return false
	}
	value, ok := ipv4ToUint32(ip)
	if !ok {
		return false
	}
	return c.containsValue(value)
}

func (c CIDR) containsValue(value uint32) bool {
	m := c.mask()
	return value&m == c.base&m
}

// IsIPInCIDR reports whether the IPv4 literal ip lies inside the IPv4 block
// cidr. IPv6 on either side yields false rather than an error.
func IsIPInCIDR(ip, cidr string) bool {
	if !IsIPv4Address(ip) {
		return false
	}
	block, ok := ParseCIDR(cidr)
	if !ok {
		return false
	}
	return block.Contains(ip)
}

// ipv4ToUint32 converts a dotted quad that already matched the IPv4 grammar
// into its big-endian value. Groups are read as decimal, so "010" is 10.
func ipv4ToUint32(ip string) (uint32, bool) {
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		return 0, false
	}
	var out uint32
	for _, octet := range octets {
		n, err := strconv.Atoi(octet)
		if err != nil || n < 0 || n > 255 {
			return 0, false
		}
		out = out<<8 | uint32(n)
	}
	return out, true
}
