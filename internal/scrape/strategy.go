package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
)

// Kind is the record kind a request targets.
type Kind string

const (
	KindCarrier      Kind = "carrier"
	KindRegistration Kind = "registration"
	KindSafety       Kind = "safety"
	KindInsurance    Kind = "insurance"
)

// Request describes one record to retrieve.
type Request struct {
	Kind Kind
	// ID is the MC number for carrier requests and the DOT number otherwise.
	ID string
	// SourceURL is the external page or API URL for the record.
	SourceURL string
	// PreferDirect skips the backend proxy.
	PreferDirect bool
	// AllowDirect permits fetching SourceURL without a relay.
	AllowDirect bool
}

// Payload is a successfully fetched document.
type Payload struct {
	Body        []byte
	ContentType string
	// Strategy names the attempt that produced the payload.
	Strategy string
	// Parsed is set when the payload is already-extracted JSON in the
	// record shape, as returned by the backend proxy.
	Parsed bool
}

// IsJSON reports whether the payload is JSON, by content type or by a
// best-effort parse of the body.
func (p *Payload) IsJSON() bool {
	if strings.Contains(strings.ToLower(p.ContentType), "json") {
		return true
	}
	trimmed := bytes.TrimSpace(p.Body)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	return json.Valid(trimmed)
}

// Text returns the body as a string.
func (p *Payload) Text() string {
	return string(p.Body)
}

// Strategy is one attempt in the fetch fallback chain.
type Strategy interface {
	Name() string
	Supports(req Request) bool
	Fetch(ctx context.Context, req Request) (*Payload, error)
}
