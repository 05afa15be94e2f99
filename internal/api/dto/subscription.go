package dto

// SubscriptionCreateRequest only carries the fields a client may set.
type SubscriptionCreateRequest struct {
	URL     string   `json:"url"`
	Remarks string   `json:"remarks"`
	Tags    []string `json:"tags,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
}

type SubscriptionUpdateRequest struct {
	Enabled bool `json:"enabled"`
}

type SubscriptionRefreshResult struct {
	ID    string `json:"id"`
	Nodes int    `json:"nodes"`
}

type RefreshOutcome struct {
	Total      int   `json:"total"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	Nodes      int   `json:"nodes"`
	DurationMs int64 `json:"durationMs"`
}
