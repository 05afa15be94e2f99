package netaddr

import (
	"errors"
	"fmt"
)

// ErrInvalidCIDR is returned when a range table entry is not an IPv4 CIDR.
var ErrInvalidCIDR = errors.New("netaddr: invalid ipv4 cidr")

// DefaultPrivateRanges lists the loopback, private, link-local and multicast
// IPv4 blocks that may be reached over plain HTTP.
var DefaultPrivateRanges = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"127.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"224.0.0.0/4",
}

var defaultPrivateTable = mustRangeTable(DefaultPrivateRanges)

// RangeTable is an ordered, immutable set of IPv4 blocks. It is safe for
// concurrent use.
type RangeTable struct {
	blocks []CIDR
}

// NewRangeTable parses every entry up front. Order is preserved so Match
// reports the first block that contains an address.
func NewRangeTable(cidrs []string) (*RangeTable, error) {
	blocks := make([]CIDR, 0, len(cidrs))
	for _, raw := range cidrs {
		block, ok := ParseCIDR(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCIDR, raw)
		}
		blocks = append(blocks, block)
	}
	return &RangeTable{blocks: blocks}, nil
}

func mustRangeTable(cidrs []string) *RangeTable {
	table, err := NewRangeTable(cidrs)
	if err != nil {
		panic(err)
	}
	return table
}

// PrivateRanges returns the shared table built from DefaultPrivateRanges.
func PrivateRanges() *RangeTable {
	return defaultPrivateTable
}

// Contains reports whether ip falls in any block of the table.
func (t *RangeTable) Contains(ip string) bool {
	_, ok := t.Match(ip)
	return ok
}

// Match returns the first block containing ip.
func (t *RangeTable) Match(ip string) (string, bool) {
	if t == nil || !IsIPv4Address(ip) {
		return "", false
	}
	value, ok := ipv4ToUint32(ip)
	if !ok {
		return "", false
	}
	for _, block := range t.blocks {
		if block.containsValue(value) {
			return block.String(), true
		}
	}
	return "", false
}

// Entries returns the blocks in table order.
func (t *RangeTable) Entries() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.blocks))
	for i, block := range t.blocks {
		out[i] = block.String()
	}
	return out
}

// Len returns the number of blocks.
func (t *RangeTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.blocks)
}
