// Package web provides HTTP request and response types for the generation API.
package web

import "github.com/dukex/tryon/pkg/archive"

// ListArchiveQuery is the query string of GET /api/archive/list.
type ListArchiveQuery struct {
	Token string `query:"token"`
	Since string `query:"since"`
	Limit int    `query:"limit" validate:"min=1,max=500"`
}

// ListArchiveResponse wraps index records, oldest first.
type ListArchiveResponse struct {
	Items []archive.Record `json:"items"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Message  string            `json:"message"`
	Checkers map[string]string `json:"checkers"`
}
