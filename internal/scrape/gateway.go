// Package scrape implements the fetch gateway: an ordered chain of
// backend, direct, and relay strategies tried until one succeeds.
package scrape

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/resilience"
)

var (
	// ErrFetchFailure is returned when every strategy failed or none applied.
	ErrFetchFailure = eris.New("scrape: all fetch strategies failed")
	// ErrBlockedIP is returned when the caller's IP is on the blocklist.
	ErrBlockedIP = eris.New("scrape: client ip is blocked")
)

// Blocklist reports whether a client IP is refused.
type Blocklist interface {
	IsIPBlocked(ctx context.Context, ip string) (bool, error)
}

type clientIPKey struct{}

// WithClientIP returns a context carrying the client IP for blocklist checks.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the client IP carried by ctx, if any.
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	// AttemptTimeout bounds each strategy attempt. Default: 15s.
	AttemptTimeout time.Duration
	// Breakers guards each strategy by name. Optional.
	Breakers *resilience.ServiceBreakers
	// Blocklist is consulted before any attempt when ctx carries a client
	// IP. Optional.
	Blocklist Blocklist
}

// Gateway tries strategies in order and returns the first payload.
type Gateway struct {
	strategies []Strategy
	opts       GatewayOptions
}

// NewGateway creates a Gateway. Strategies are tried in the given order.
func NewGateway(opts GatewayOptions, strategies ...Strategy) *Gateway {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 15 * time.Second
	}
	return &Gateway{strategies: strategies, opts: opts}
}

// Strategies returns the names of the configured strategies in order.
func (g *Gateway) Strategies() []string {
	names := make([]string, len(g.strategies))
	for i, s := range g.strategies {
		names[i] = s.Name()
	}
	return names
}

// Fetch runs the fallback chain for req. The returned error wraps
// ErrFetchFailure when nothing succeeded, or ErrBlockedIP.
func (g *Gateway) Fetch(ctx context.Context, req Request) (*Payload, error) {
	if err := g.checkBlocklist(ctx); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("kind", string(req.Kind)), zap.String("id", req.ID))

	var lastErr error
	for _, s := range g.strategies {
		if !s.Supports(req) {
			continue
		}
		payload, err := g.attempt(ctx, s, req)
		if err == nil && payload != nil {
			log.Debug("scrape: fetched", zap.String("strategy", s.Name()))
			return payload, nil
		}
		if err == nil {
			err = eris.Errorf("scrape: %s returned no payload", s.Name())
		}
		log.Debug("scrape: strategy failed, trying next",
			zap.String("strategy", s.Name()),
			zap.Error(err),
		)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		return nil, eris.Wrapf(ErrFetchFailure, "no strategy supports %s %s", req.Kind, req.ID)
	}
	return nil, eris.Wrapf(ErrFetchFailure, "%s %s: %v", req.Kind, req.ID, lastErr)
}

func (g *Gateway) attempt(ctx context.Context, s Strategy, req Request) (*Payload, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.opts.AttemptTimeout)
	defer cancel()

	if g.opts.Breakers == nil {
		return s.Fetch(attemptCtx, req)
	}
	return resilience.ExecuteVal(attemptCtx, g.opts.Breakers.Get(s.Name()), func(ctx context.Context) (*Payload, error) {
		return s.Fetch(ctx, req)
	})
}

func (g *Gateway) checkBlocklist(ctx context.Context) error {
	ip := ClientIP(ctx)
	if ip == "" || g.opts.Blocklist == nil {
		return nil
	}
	blocked, err := g.opts.Blocklist.IsIPBlocked(ctx, ip)
	if err != nil {
		// A blocklist read failure does not stop extraction.
		zap.L().Warn("scrape: blocklist check failed", zap.String("ip", ip), zap.Error(err))
		return nil
	}
	if blocked {
		return eris.Wrapf(ErrBlockedIP, "ip %s", ip)
	}
	return nil
}
