package domain

import (
	"time"

	"subgate/internal/netaddr"
	"subgate/internal/subscription"
)

// Node is one server imported from a subscription. Rows are replaced as a
// set on every successful refresh.
type Node struct {
	ID             uint64       `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID string       `gorm:"type:varchar(36);index;not null" json:"subscriptionId"`
	Protocol       string       `gorm:"size:32" json:"protocol"`
	Name           string       `json:"name"`
	Host           string       `gorm:"index" json:"host"`
	Port           int          `json:"port"`
	URI            string       `gorm:"type:text" json:"uri,omitempty"`
	HostKind       netaddr.Kind `gorm:"type:smallint" json:"hostKind"`
	Country        string       `gorm:"size:2" json:"country,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// NodesFromSubscription converts parsed nodes into rows owned by
// subscriptionID.
func NodesFromSubscription(subscriptionID string, nodes []subscription.Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Node{
			SubscriptionID: subscriptionID,
			Protocol:       n.Protocol,
			Name:           n.Name,
			Host:           n.Host,
			Port:           n.Port,
			URI:            n.URI,
			HostKind:       n.HostKind,
			Country:        n.Country,
		})
	}
	return out
}

// Address joins host and port, bracketing IPv6 literals.
func (n Node) Address() string {
	return subscription.Node{Host: n.Host, Port: n.Port}.Address()
}
