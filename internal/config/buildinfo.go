package config

import (
	"strings"
	"sync/atomic"

	"subgate/internal/support"
)

// DistributionChannel is the store a build was published through.
type DistributionChannel int

const (
	ChannelOther DistributionChannel = iota
	ChannelPlayStore
	ChannelFDroid
)

const xrayApplicationPrefix = "com.v2ray.ang"

func (c DistributionChannel) String() string {
	switch c {
	case ChannelPlayStore:
		return "Play Store"
	case ChannelFDroid:
		return "F-Droid"
	default:
		return "Other"
	}
}

func (c DistributionChannel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseDistributionChannel accepts flavor names ("playstore", "fdroid") and
// display names ("Play Store", "F-Droid") in any case. Anything else is
// ChannelOther.
func ParseDistributionChannel(raw string) DistributionChannel {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(key)
	switch key {
	case "playstore", "googleplay":
		return ChannelPlayStore
	case "fdroid":
		return ChannelFDroid
	default:
		return ChannelOther
	}
}

// BuildInfo identifies the client build that subscriptions are served for.
// It is resolved once at start and passed to the components that need it.
type BuildInfo struct {
	ApplicationID string              `json:"applicationId"`
	Channel       DistributionChannel `json:"distributionChannel"`
}

// IsXray reports whether the application id belongs to the Xray-based client.
func (b BuildInfo) IsXray() bool {
	return strings.HasPrefix(b.ApplicationID, xrayApplicationPrefix)
}

// IsGoogleFlavor reports whether the build was published on the Play Store.
func (b BuildInfo) IsGoogleFlavor() bool {
	return b.Channel == ChannelPlayStore
}

var buildInfo atomic.Pointer[BuildInfo]

// ResolveBuildInfo combines the compiled-in values with the APPLICATION_ID
// and DISTRIBUTION_CHANNEL environment overrides and stores the result.
func ResolveBuildInfo(applicationID, distribution string) BuildInfo {
	info := BuildInfo{
		ApplicationID: strings.TrimSpace(support.GetEnv("APPLICATION_ID", applicationID)),
		Channel:       ParseDistributionChannel(support.GetEnv("DISTRIBUTION_CHANNEL", distribution)),
	}
	buildInfo.Store(&info)
	return info
}

// GetBuildInfo returns the value stored by ResolveBuildInfo, or the zero
// BuildInfo before it runs.
func GetBuildInfo() BuildInfo {
	if info := buildInfo.Load(); info != nil {
		return *info
	}
	return BuildInfo{}
}
