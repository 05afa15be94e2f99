// Package geolite resolves IP literals to ISO country codes with a MaxMind
// GeoLite2 country database and keeps that database current.
package geolite

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"subgate/internal/netaddr"
)

// ErrNoDatabase is returned when a resolver has no database path to load.
var ErrNoDatabase = errors.New("geolite: no database configured")

// Resolver looks up countries for IP literals. It never performs DNS
// lookups, so domain hosts always miss. The zero value and a nil *Resolver
// are valid and resolve nothing.
type Resolver struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
	path   string
}

// Open loads the database at path.
func Open(path string) (*Resolver, error) {
	r := &Resolver{}
	if err := r.Reload(path); err != nil {
		return nil, err
	}
	return r, nil
}

// NewUnloaded returns a resolver that remembers path but has no database
// yet. Reload or an update fills it in later.
func NewUnloaded(path string) *Resolver {
	return &Resolver{path: strings.TrimSpace(path)}
}

// Reload swaps in the database at path. An empty path reloads the current
// one. On failure the previous database stays active.
func (r *Resolver) Reload(path string) error {
	if r == nil {
		return ErrNoDatabase
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = r.Path()
	}
	if path == "" {
		return ErrNoDatabase
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("geolite: read %s: %w", path, err)
	}
	reader, err := geoip2.FromBytes(data)
	if err != nil {
		return fmt.Errorf("geolite: open %s: %w", path, err)
	}

	r.mu.Lock()
	old := r.reader
	r.reader = reader
	r.path = path
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Path is the file the resolver loads from.
func (r *Resolver) Path() string {
	if r == nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.path
}

func (r *Resolver) Available() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reader != nil
}

func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	reader := r.reader
	r.reader = nil
	r.mu.Unlock()

	if reader == nil {
		return nil
	}
	return reader.Close()
}

// Country returns the ISO code for ip. Bracketed, port-suffixed and
// IPv4-mapped forms are unwrapped first.
func (r *Resolver) Country(ip string) (string, bool) {
	if r == nil {
		return "", false
	}
	candidate, ok := netaddr.Unwrap(ip)
	if !ok {
		return "", false
	}
	parsed := net.ParseIP(candidate)
	if parsed == nil {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reader == nil {
		return "", false
	}

	record, err := r.reader.Country(parsed)
	if err != nil || record.Country.IsoCode == "" {
		return "", false
	}
	return record.Country.IsoCode, true
}
