// Package routing decides whether a destination host goes through the proxy,
// goes direct or is blocked, using ordered domain and IP rules.
package routing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"subgate/internal/config"
	"subgate/internal/netaddr"
)

var (
	ErrInvalidMatcher     = errors.New("routing: invalid matcher")
	ErrUnsupportedMatcher = errors.New("routing: unsupported matcher")
	ErrUnknownAction      = errors.New("routing: unknown outbound")
	ErrUnknownStrategy    = errors.New("routing: unknown domain strategy")
	ErrEmptyRule          = errors.New("routing: rule has no matchers")
)

const defaultLookupTimeout = 2 * time.Second

type Action int

const (
	ActionProxy Action = iota
	ActionDirect
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionDirect:
		return "direct"
	case ActionBlock:
		return "block"
	default:
		return "proxy"
	}
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAction accepts proxy, direct and block (reject is an alias).
func ParseAction(name string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "proxy":
		return ActionProxy, nil
	case "direct":
		return ActionDirect, nil
	case "block", "reject":
		return ActionBlock, nil
	default:
		return ActionProxy, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
}

// DomainStrategy controls whether domain hosts that match no domain rule are
// resolved and matched against IP rules.
type DomainStrategy int

const (
	AsIs DomainStrategy = iota
	IPIfNonMatch
)

func (s DomainStrategy) String() string {
	if s == IPIfNonMatch {
		return "IPIfNonMatch"
	}
	return "AsIs"
}

func ParseDomainStrategy(name string) (DomainStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "asis":
		return AsIs, nil
	case "ipifnonmatch":
		return IPIfNonMatch, nil
	default:
		return AsIs, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// CountryResolver maps an IP literal to an ISO country code.
type CountryResolver interface {
	Country(ip string) (string, bool)
}

// LookupFunc resolves a domain to IP literals.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

type Rule struct {
	Outbound Action
	Domain   []string
	IP       []string
}

// Decision reports the outcome for one host. Rule is the index of the
// matching rule, or -1 when the fallback applied.
type Decision struct {
	Action  Action       `json:"action"`
	Rule    int          `json:"rule"`
	Matcher string       `json:"matcher,omitempty"`
	Kind    netaddr.Kind `json:"kind"`
}

type compiledRule struct {
	outbound Action
	domains  []domainMatcher
	ips      []ipMatcher
}

// Router is immutable after NewRouter and safe for concurrent use.
type Router struct {
	rules     []compiledRule
	fallback  Action
	strategy  DomainStrategy
	private   *netaddr.RangeTable
	countries CountryResolver
	lookup    LookupFunc
	timeout   time.Duration
}

type Option func(*Router)

func WithFallback(action Action) Option {
	return func(r *Router) { r.fallback = action }
}

func WithPrivateRanges(table *netaddr.RangeTable) Option {
	return func(r *Router) {
		if table != nil {
			r.private = table
		}
	}
}

func WithCountryResolver(resolver CountryResolver) Option {
	return func(r *Router) { r.countries = resolver }
}

func WithDomainStrategy(strategy DomainStrategy) Option {
	return func(r *Router) { r.strategy = strategy }
}

// WithLookup replaces the resolver used by IPIfNonMatch.
func WithLookup(lookup LookupFunc) Option {
	return func(r *Router) {
		if lookup != nil {
			r.lookup = lookup
		}
	}
}

func NewRouter(rules []Rule, opts ...Option) (*Router, error) {
	r := &Router{
		fallback: ActionProxy,
		private:  netaddr.PrivateRanges(),
		lookup:   net.DefaultResolver.LookupHost,
		timeout:  defaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.rules = make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		if len(rule.Domain) == 0 && len(rule.IP) == 0 {
			return nil, fmt.Errorf("rule %d: %w", i, ErrEmptyRule)
		}
		compiled := compiledRule{outbound: rule.Outbound}
		for _, raw := range rule.Domain {
			m, err := compileDomainMatcher(raw)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			compiled.domains = append(compiled.domains, m)
		}
		for _, raw := range rule.IP {
			m, err := r.compileIPMatcher(raw)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			compiled.ips = append(compiled.ips, m)
		}
		r.rules = append(r.rules, compiled)
	}
	return r, nil
}

// FromConfig builds a router from the routing section of the settings file.
func FromConfig(cfg config.RoutingConfig, opts ...Option) (*Router, error) {
	fallback := ActionProxy
	if strings.TrimSpace(cfg.Fallback) != "" {
		parsed, err := ParseAction(cfg.Fallback)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		fallback = parsed
	}
	strategy, err := ParseDomainStrategy(cfg.DomainStrategy)
	if err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		outbound, err := ParseAction(rule.Outbound)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, Rule{Outbound: outbound, Domain: rule.Domain, IP: rule.IP})
	}

	base := []Option{WithFallback(fallback), WithDomainStrategy(strategy)}
	return NewRouter(rules, append(base, opts...)...)
}

func (r *Router) Fallback() Action { return r.fallback }

func (r *Router) Len() int { return len(r.rules) }

// Decide classifies host and returns the first matching rule's outbound.
// IP hosts are matched on the unwrapped address, domain hosts in lower
// case. Hosts that are neither get the fallback.
func (r *Router) Decide(host string) Decision {
	return r.DecideContext(context.Background(), host)
}

// DecideContext is Decide with a context bounding the IPIfNonMatch lookup.
func (r *Router) DecideContext(ctx context.Context, host string) Decision {
	kind := netaddr.Classify(host)
	decision := Decision{Action: r.fallback, Rule: -1, Kind: kind}

	switch {
	case kind.IsIP():
		candidate, _ := netaddr.Unwrap(host)
		if i, matcher, ok := r.matchIP(candidate); ok {
			return r.decided(decision, i, matcher)
		}
	case kind == netaddr.KindDomain:
		domain := hostOnly(host)
		if i, matcher, ok := r.matchDomain(domain); ok {
			return r.decided(decision, i, matcher)
		}
		if r.strategy == IPIfNonMatch {
			for _, ip := range r.resolve(ctx, domain) {
				if i, matcher, ok := r.matchIP(ip); ok {
					return r.decided(decision, i, matcher)
				}
			}
		}
	}
	return decision
}

func (r *Router) decided(d Decision, rule int, matcher string) Decision {
	d.Action = r.rules[rule].outbound
	d.Rule = rule
	d.Matcher = matcher
	return d
}

func (r *Router) matchIP(ip string) (int, string, bool) {
	for i, rule := range r.rules {
		for _, m := range rule.ips {
			if m.match(ip) {
				return i, m.raw, true
			}
		}
	}
	return 0, "", false
}

func (r *Router) matchDomain(host string) (int, string, bool) {
	for i, rule := range r.rules {
		for _, m := range rule.domains {
			if m.match(host) {
				return i, m.raw, true
			}
		}
	}
	return 0, "", false
}

func (r *Router) resolve(ctx context.Context, host string) []string {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ips, err := r.lookup(ctx, host)
	if err != nil {
		return nil
	}
	return ips
}
