package routing

import (
	"sync"

	"github.com/charmbracelet/log"

	"subgate/internal/config"
)

// Live serves a router built from the active config and rebuilds it after
// every config change. The private ranges follow the subscription section.
type Live struct {
	opts []Option

	mu       sync.Mutex
	revision uint64
	router   *Router
	err      error
	built    bool
}

func NewLive(opts ...Option) *Live {
	return &Live{opts: opts}
}

// Router returns the router for the current config. A config that fails to
// compile keeps the last good router in service and reports the error.
func (l *Live) Router() (*Router, error) {
	rev := config.Revision()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.built && l.revision == rev {
		return l.router, l.err
	}

	opts := append([]Option{WithPrivateRanges(config.CurrentSubscriptionPolicy().Private)}, l.opts...)
	router, err := FromConfig(config.GetConfig().Routing, opts...)
	l.built = true
	l.revision = rev
	if err != nil {
		log.Error("Routing rules rejected", "revision", rev, "error", err)
		if l.router == nil {
			l.err = err
			return nil, err
		}
		return l.router, nil
	}

	l.router = router
	l.err = nil
	return router, nil
}
