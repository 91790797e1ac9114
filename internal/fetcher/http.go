package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/sells-group/carrier-cli/internal/resilience"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 10 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	RateLimiters map[string]*rate.Limiter
	// AdaptiveHosts get an AdaptiveLimiter starting at AdaptiveRate.
	AdaptiveHosts []string
	AdaptiveRate  rate.Limit
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetcher: unexpected status %d from %s", e.StatusCode, e.URL)
}

// AdaptiveLimiter is a rate.Limiter that speeds up while a host answers
// and slows down when it throttles. The rate stays within [initial/4,
// initial*2].
type AdaptiveLimiter struct {
	mu      sync.Mutex
	lim     *rate.Limiter
	floor   rate.Limit
	ceiling rate.Limit
}

// NewAdaptiveLimiter creates an AdaptiveLimiter starting at initial.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		lim:     rate.NewLimiter(initial, burst),
		floor:   initial / 4,
		ceiling: initial * 2,
	}
}

// Wait blocks until the limiter admits one request.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.lim.Wait(ctx)
}

// Ease raises the rate by a fifth.
func (a *AdaptiveLimiter) Ease() {
	a.scale(1.2)
}

// Throttle halves the rate.
func (a *AdaptiveLimiter) Throttle() {
	next := a.scale(0.5)
	zap.L().Warn("fetcher: host throttled, lowering request rate", zap.Float64("rate", float64(next)))
}

func (a *AdaptiveLimiter) scale(factor float64) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := min(max(a.lim.Limit()*rate.Limit(factor), a.floor), a.ceiling)
	a.lim.SetLimit(next)
	return next
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	return a.lim.Limit()
}

// HTTPFetcher implements Fetcher using net/http with retry and rate limiting.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*rate.Limiter
	adaptive map[string]*AdaptiveLimiter

	mu       sync.Mutex
	fallback map[string]*rate.Limiter
}

// DefaultAdaptiveHosts are the record-source hosts that get adaptive limits.
func DefaultAdaptiveHosts() []string {
	return []string{
		"safer.fmcsa.dot.gov",
		"ai.fmcsa.dot.gov",
		"searchcarriers.com",
	}
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "carrier-cli/1.0"
	}
	if opts.AdaptiveRate == 0 {
		opts.AdaptiveRate = 5
	}

	limiters := make(map[string]*rate.Limiter, len(opts.RateLimiters))
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}
	adaptive := make(map[string]*AdaptiveLimiter, len(opts.AdaptiveHosts))
	for _, h := range opts.AdaptiveHosts {
		adaptive[h] = NewAdaptiveLimiter(opts.AdaptiveRate, int(math.Max(1, float64(opts.AdaptiveRate))))
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
		adaptive: adaptive,
		fallback: make(map[string]*rate.Limiter),
	}
}

func (f *HTTPFetcher) wait(ctx context.Context, host string) error {
	if a, ok := f.adaptive[host]; ok {
		return a.Wait(ctx)
	}
	if lim, ok := f.limiters[host]; ok {
		return lim.Wait(ctx)
	}
	f.mu.Lock()
	lim, ok := f.fallback[host]
	if !ok {
		lim = rate.NewLimiter(20, 20)
		f.fallback[host] = lim
	}
	f.mu.Unlock()
	return lim.Wait(ctx)
}

// Get fetches rawURL and reads the whole body, decoding HTML to UTF-8.
// Transport failures, 429 and 5xx responses are retried up to MaxRetries
// attempts in total.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	var last *Response
	retry := resilience.RetryConfig{
		MaxAttempts:    f.opts.MaxRetries,
		InitialBackoff: f.opts.BackoffBase,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.25,
		ShouldRetry:    retryable,
		OnRetry: func(attempt int, err error) {
			zap.L().Debug("fetcher: retrying request",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}
	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		resp, err := f.attempt(ctx, req)
		if resp != nil {
			last = resp
		}
		return err
	})

	var se *StatusError
	switch {
	case err == nil:
		return last, nil
	case errors.As(err, &se):
		return last, err
	default:
		return nil, eris.Wrap(err, "fetcher: all retries exhausted")
	}
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// attempt performs one rate-limited round trip. A non-2xx status yields
// both the response and a *StatusError.
func (f *HTTPFetcher) attempt(ctx context.Context, req *http.Request) (*Response, error) {
	host := req.URL.Host
	if err := f.wait(ctx, host); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	resp, err := f.client.Do(req.Clone(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if a := f.adaptive[host]; a != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			a.Throttle()
		case resp.StatusCode < http.StatusBadRequest:
			a.Ease()
		}
	}

	ct := resp.Header.Get("Content-Type")
	var r io.Reader = io.LimitReader(resp.Body, maxBodyBytes)
	if strings.Contains(strings.ToLower(ct), "text/html") {
		if decoded, cerr := charset.NewReader(r, ct); cerr == nil {
			r = decoded
		}
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read body")
	}

	out := &Response{StatusCode: resp.StatusCode, ContentType: ct, Body: body}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &StatusError{StatusCode: resp.StatusCode, URL: req.URL.String()}
	}
	return out, nil
}
