// Package fetcher performs rate-limited HTTP retrieval of source documents
// and reads identifier rosters from CSV and XLSX files.
package fetcher

import (
	"context"
	"net/http"
	"strings"
)

// Fetcher retrieves a single document.
type Fetcher interface {
	// Get fetches rawURL with the given extra headers. A non-2xx status
	// is returned as a *StatusError alongside the response.
	Get(ctx context.Context, rawURL string, headers http.Header) (*Response, error)
}

// Response is a fully read HTTP response body.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IsJSON reports whether the response declared a JSON content type.
func (r *Response) IsJSON() bool {
	return strings.Contains(strings.ToLower(r.ContentType), "application/json")
}
