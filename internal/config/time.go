package config

import (
	"sync"
	"time"
)

const (
	defaultSubscriptionRefreshInterval = 6 * time.Hour
	defaultGeoLiteUpdateInterval       = 24 * time.Hour
)

// intervalSetting holds the current value of a timer-driven interval and
// fans changes out to listeners. Slow listeners miss intermediate values but
// always see the latest one on their next receive.
type intervalSetting struct {
	mu        sync.Mutex
	value     time.Duration
	fallback  time.Duration
	listeners []chan time.Duration
}

func newIntervalSetting(fallback time.Duration) *intervalSetting {
	return &intervalSetting{value: fallback, fallback: fallback}
}

func (s *intervalSetting) get() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *intervalSetting) set(interval time.Duration) {
	if interval <= 0 {
		interval = s.fallback
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == interval {
		return
	}
	s.value = interval

	for _, ch := range s.listeners {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- interval:
		default:
		}
	}
}

func (s *intervalSetting) subscribe() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	s.mu.Lock()
	s.listeners = append(s.listeners, ch)
	ch <- s.value
	s.mu.Unlock()
	return ch
}

var (
	subscriptionRefresh = newIntervalSetting(defaultSubscriptionRefreshInterval)
	geoLiteUpdate       = newIntervalSetting(defaultGeoLiteUpdateInterval)
)

// SetBetweenTime recomputes every interval from the active config.
func SetBetweenTime() {
	cfg := GetConfig()
	subscriptionRefresh.set(timerOrDefault(cfg.Subscription.RefreshTimer, defaultSubscriptionRefreshInterval))
	geoLiteUpdate.set(timerOrDefault(cfg.GeoLite.UpdateTimer, defaultGeoLiteUpdateInterval))
}

// CalculateBetweenTime converts timer into a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMilliseconds(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMilliseconds(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

// IsZero reports whether every field of the timer is unset.
func (t Timer) IsZero() bool {
	return t.Days == 0 && t.Hours == 0 && t.Minutes == 0 && t.Seconds == 0
}

func timerOrDefault(timer Timer, fallback time.Duration) time.Duration {
	if timer.IsZero() {
		return fallback
	}
	return CalculateBetweenTime(timer)
}

func GetSubscriptionRefreshInterval() time.Duration {
	return subscriptionRefresh.get()
}

// SubscriptionRefreshIntervalUpdates returns a channel that immediately holds
// the current refresh interval and receives every later change.
func SubscriptionRefreshIntervalUpdates() <-chan time.Duration {
	return subscriptionRefresh.subscribe()
}

func GetGeoLiteUpdateInterval() time.Duration {
	return geoLiteUpdate.get()
}

func GeoLiteUpdateIntervalUpdates() <-chan time.Duration {
	return geoLiteUpdate.subscribe()
}
