package server

import (
	"net/http"

	"subgate/internal/api/dto"
	"subgate/internal/payload"
)

func payloadHandler(transform func(dto.PayloadRequest) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.PayloadRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		writeJSON(w, http.StatusOK, dto.PayloadResult{Text: transform(req)})
	}
}

var (
	decodePayload = payloadHandler(func(req dto.PayloadRequest) string {
		return payload.DecodeBase64Best(req.Text)
	})
	encodePayload = payloadHandler(func(req dto.PayloadRequest) string {
		return payload.EncodeBase64(req.Text, req.RemovePadding)
	})
	urlEncodePayload = payloadHandler(func(req dto.PayloadRequest) string {
		return payload.URLEncode(req.Text)
	})
	urlDecodePayload = payloadHandler(func(req dto.PayloadRequest) string {
		return payload.URLDecode(req.Text)
	})
)
