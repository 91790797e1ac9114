package scrape

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carrier-cli/internal/fetcher"
)

// BackendStrategy fetches already-parsed records from a carrier-cli server
// at {baseURL}/api/scrape/{kind}/{id}.
type BackendStrategy struct {
	baseURL string
	fetch   fetcher.Fetcher
}

// NewBackendStrategy creates a backend proxy strategy. An empty baseURL
// disables it.
func NewBackendStrategy(baseURL string, f fetcher.Fetcher) *BackendStrategy {
	return &BackendStrategy{baseURL: strings.TrimRight(baseURL, "/"), fetch: f}
}

func (b *BackendStrategy) Name() string { return "backend" }

func (b *BackendStrategy) Supports(req Request) bool {
	if b.baseURL == "" || req.PreferDirect || req.ID == "" {
		return false
	}
	switch req.Kind {
	case KindCarrier, KindSafety, KindInsurance:
		return true
	default:
		return false
	}
}

func (b *BackendStrategy) Fetch(ctx context.Context, req Request) (*Payload, error) {
	target := b.baseURL + "/api/scrape/" + string(req.Kind) + "/" + url.PathEscape(req.ID)
	resp, err := b.fetch.Get(ctx, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "backend: fetch")
	}
	return &Payload{Body: resp.Body, ContentType: resp.ContentType, Strategy: b.Name(), Parsed: true}, nil
}

// DirectStrategy fetches the source URL itself. Anti-bot challenge pages
// count as failures so the chain falls through to a relay.
type DirectStrategy struct {
	fetch fetcher.Fetcher
}

// NewDirectStrategy creates a direct-fetch strategy.
func NewDirectStrategy(f fetcher.Fetcher) *DirectStrategy {
	return &DirectStrategy{fetch: f}
}

func (d *DirectStrategy) Name() string { return "direct" }

func (d *DirectStrategy) Supports(req Request) bool {
	return req.AllowDirect && req.SourceURL != ""
}

func (d *DirectStrategy) Fetch(ctx context.Context, req Request) (*Payload, error) {
	resp, err := d.fetch.Get(ctx, req.SourceURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "direct: fetch")
	}
	if blocked, kind := DetectBlock(resp.StatusCode, nil, resp.Body); blocked {
		return nil, eris.Errorf("direct: blocked by %s", kind)
	}
	return &Payload{Body: resp.Body, ContentType: resp.ContentType, Strategy: d.Name()}, nil
}

// RelayStrategy fetches the source URL through a public CORS relay that
// takes the URL-encoded target appended to its prefix.
type RelayStrategy struct {
	prefix string
	name   string
	fetch  fetcher.Fetcher
}

// NewRelayStrategy creates a relay strategy for prefix, such as
// "https://api.allorigins.win/raw?url=".
func NewRelayStrategy(prefix string, f fetcher.Fetcher) *RelayStrategy {
	name := "relay"
	if u, err := url.Parse(prefix); err == nil && u.Host != "" {
		name = "relay:" + u.Host
	}
	return &RelayStrategy{prefix: prefix, name: name, fetch: f}
}

// RelayStrategies builds one relay strategy per prefix, preserving order.
func RelayStrategies(prefixes []string, f fetcher.Fetcher) []Strategy {
	out := make([]Strategy, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, NewRelayStrategy(p, f))
		}
	}
	return out
}

func (r *RelayStrategy) Name() string { return r.name }

func (r *RelayStrategy) Supports(req Request) bool { return req.SourceURL != "" }

// RelayURL returns the relay address for target.
func (r *RelayStrategy) RelayURL(target string) string {
	return r.prefix + url.QueryEscape(target)
}

func (r *RelayStrategy) Fetch(ctx context.Context, req Request) (*Payload, error) {
	resp, err := r.fetch.Get(ctx, r.RelayURL(req.SourceURL), nil)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: fetch", r.name)
	}
	return &Payload{Body: resp.Body, ContentType: resp.ContentType, Strategy: r.name}, nil
}
