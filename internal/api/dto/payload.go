package dto

type PayloadRequest struct {
	Text          string `json:"text"`
	RemovePadding bool   `json:"removePadding,omitempty"`
}

type PayloadResult struct {
	Text string `json:"text"`
}
