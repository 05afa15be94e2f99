package config

import (
	"testing"
	"time"
)

func TestCalculateMilliseconds(t *testing.T) {
	timer := Timer{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}
	want := uint64((24*60*60 + 2*60*60 + 3*60 + 4) * 1000)

	if got := CalculateMilliseconds(timer); got != want {
		t.Fatalf("CalculateMilliseconds returned %d, want %d", got, want)
	}
}

func TestCalculateBetweenTime(t *testing.T) {
	t.Run("enforces minimum interval", func(t *testing.T) {
		if got := CalculateBetweenTime(Timer{}); got != time.Second {
			t.Fatalf("CalculateBetweenTime returned %s, want 1s", got)
		}
	})

	t.Run("returns configured duration", func(t *testing.T) {
		if got := CalculateBetweenTime(Timer{Minutes: 1, Seconds: 30}); got != 90*time.Second {
			t.Fatalf("CalculateBetweenTime returned %s, want 1m30s", got)
		}
	})
}

func TestTimerOrDefault(t *testing.T) {
	if got := timerOrDefault(Timer{}, time.Hour); got != time.Hour {
		t.Fatalf("zero timer returned %s, want 1h", got)
	}
	if got := timerOrDefault(Timer{Hours: 2}, time.Hour); got != 2*time.Hour {
		t.Fatalf("configured timer returned %s, want 2h", got)
	}
}

func TestIntervalSettingNotifiesListeners(t *testing.T) {
	setting := newIntervalSetting(time.Minute)
	updates := setting.subscribe()

	if got := <-updates; got != time.Minute {
		t.Fatalf("initial value = %s, want 1m", got)
	}

	setting.set(5 * time.Second)
	setting.set(7 * time.Second)
	if got := <-updates; got != 7*time.Second {
		t.Fatalf("listener received %s, want the latest value 7s", got)
	}

	setting.set(7 * time.Second)
	select {
	case got := <-updates:
		t.Fatalf("unchanged interval should not notify, got %s", got)
	default:
	}

	setting.set(0)
	if got := setting.get(); got != time.Minute {
		t.Fatalf("non-positive interval should reset to fallback, got %s", got)
	}
}

func TestSetBetweenTime(t *testing.T) {
	origCfg := GetConfig()
	origInterval := GetSubscriptionRefreshInterval()
	t.Cleanup(func() {
		configValue.Store(origCfg)
		subscriptionRefresh.set(origInterval)
	})

	updates := SubscriptionRefreshIntervalUpdates()
	<-updates

	testCfg := Config{}
	testCfg.Subscription.RefreshTimer = Timer{Minutes: 30}
	configValue.Store(testCfg)
	SetBetweenTime()

	if got := GetSubscriptionRefreshInterval(); got != 30*time.Minute {
		t.Fatalf("GetSubscriptionRefreshInterval = %s, want 30m", got)
	}
	select {
	case got := <-updates:
		if got != 30*time.Minute {
			t.Fatalf("listener received %s, want 30m", got)
		}
	default:
		t.Fatal("expected listener to receive the new interval")
	}

	configValue.Store(Config{})
	SetBetweenTime()
	if got := GetSubscriptionRefreshInterval(); got != defaultSubscriptionRefreshInterval {
		t.Fatalf("zero timer should use default, got %s", got)
	}
}
