package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/carrier-cli/internal/fetcher"
	"github.com/sells-group/carrier-cli/internal/lookup"
	"github.com/sells-group/carrier-cli/internal/model"
	"github.com/sells-group/carrier-cli/internal/quota"
	"github.com/sells-group/carrier-cli/internal/resilience"
	"github.com/sells-group/carrier-cli/internal/scrape"
	"github.com/sells-group/carrier-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "memory":
		st = store.NewMemory()
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func newHTTPFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:     cfg.Fetch.UserAgent,
		Timeout:       time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:    cfg.Fetch.MaxRetries,
		AdaptiveHosts: fetcher.DefaultAdaptiveHosts(),
		AdaptiveRate:  rate.Limit(cfg.Fetch.RatePerSec),
	})
}

// newGateway assembles the fetch strategies in order: backend proxy,
// direct, then the public relays. The server omits the backend hop since
// it is the backend. The returned breakers guard each strategy.
func newGateway(bl scrape.Blocklist, withBackend bool) (*scrape.Gateway, *resilience.ServiceBreakers) {
	f := newHTTPFetcher()

	var strategies []scrape.Strategy
	if withBackend && cfg.Fetch.BackendURL != "" {
		strategies = append(strategies, scrape.NewBackendStrategy(cfg.Fetch.BackendURL, f))
	}
	if !cfg.Fetch.DisableDirectFetch {
		strategies = append(strategies, scrape.NewDirectStrategy(f))
	}
	strategies = append(strategies, scrape.RelayStrategies(cfg.Fetch.Relays, f)...)

	breakers := resilience.NewServiceBreakers(
		resilience.FromCircuitConfig(cfg.Fetch.BreakerThreshold, cfg.Fetch.BreakerResetSecs),
	)
	gw := scrape.NewGateway(scrape.GatewayOptions{
		AttemptTimeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		Breakers:       breakers,
		Blocklist:      bl,
	}, strategies...)
	zap.L().Debug("fetch gateway ready", zap.Strings("strategies", gw.Strategies()))
	return gw, breakers
}

func newLookup(f lookup.Fetcher, preferDirect bool) *lookup.Service {
	return lookup.New(f, lookup.Options{
		Sources: lookup.Sources{
			CarrierURL:      cfg.Sources.CarrierURL,
			RegistrationURL: cfg.Sources.RegistrationURL,
			SafetyURL:       cfg.Sources.SafetyURL,
			InsuranceURL:    cfg.Sources.InsuranceURL,
		},
		AllowDirect:  !cfg.Fetch.DisableDirectFetch,
		PreferDirect: preferDirect,
		EmailTimeout: time.Duration(cfg.Fetch.EmailTimeoutSecs) * time.Second,
	})
}

// operatorTracker resolves the user a run is charged to. An empty email
// charges an unsaved Free-plan operator.
func operatorTracker(ctx context.Context, st store.Store, email string) (*quota.Tracker, error) {
	if email == "" {
		return quota.NewTracker(model.User{ID: "local", Name: "Local operator", Plan: model.PlanFree}, nil), nil
	}
	u, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve user %s", email)
	}
	if u.IsBlocked {
		return nil, eris.Errorf("user %s is blocked", u.Email)
	}
	return quota.NewTracker(*u, st), nil
}
