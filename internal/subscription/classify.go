package subscription

import "subgate/internal/netaddr"

// CountryResolver maps an IP literal to an ISO country code.
type CountryResolver interface {
	Country(ip string) (string, bool)
}

// Classify sets HostKind on every node and returns the same slice.
func Classify(nodes []Node) []Node {
	for i := range nodes {
		nodes[i].HostKind = netaddr.Classify(nodes[i].Host)
	}
	return nodes
}

// Enrich fills Country for nodes whose host is an IP literal. Domain hosts
// are left alone; nothing here resolves DNS.
func Enrich(nodes []Node, resolver CountryResolver) []Node {
	if resolver == nil {
		return nodes
	}
	for i := range nodes {
		if !nodes[i].HostKind.IsIP() {
			continue
		}
		if code, ok := resolver.Country(nodes[i].Host); ok {
			nodes[i].Country = code
		}
	}
	return nodes
}
