// Package api serves the SDHR control plane over HTTP/JSON. Handlers are
// thin wrappers over service.ControlPlaneService.
package api

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error code and message. Controller is set when
// the request addressed a single controller.
type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Controller string `json:"controller,omitempty"`
}

// PageResponse is the envelope for the controller and switch-history
// listings. It echoes the ordering that was applied.
type PageResponse[T any] struct {
	Items     []T       `json:"items"`
	Total     int       `json:"total"`
	Limit     int       `json:"limit"`
	Offset    int       `json:"offset"`
	SortBy    SortKey   `json:"sort_by"`
	SortOrder SortOrder `json:"sort_order"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail ErrorDetail) {
	writeJSON(w, status, ErrorResponse{Error: detail})
}
