// Package monitoring computes dataset health snapshots and raises alerts
// when thresholds are breached.
package monitoring

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carrier-cli/internal/model"
	"github.com/sells-group/carrier-cli/internal/resilience"
)

// Snapshot is a point-in-time view of the dataset and fetch health.
type Snapshot struct {
	Carriers      int `json:"carriers"`
	WithInsurance int `json:"with_insurance"`
	WithSafety    int `json:"with_safety"`
	MissingDOT    int `json:"missing_dot"`
	// Coverage is the fraction of carriers with a usable DOT number that
	// carry insurance filings or a safety rating.
	Coverage float64 `json:"coverage"`

	Users        int `json:"users"`
	UsersOnline  int `json:"users_online"`
	UsersAtLimit int `json:"users_at_limit"`
	BlockedIPs   int `json:"blocked_ips"`

	OpenBreakers []string `json:"open_breakers,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// Source is the store surface the collector reads.
type Source interface {
	ListCarriers(ctx context.Context) ([]model.Carrier, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	ListBlockedIPs(ctx context.Context) ([]model.BlockedIP, error)
}

// BreakerStates reports fetch-strategy circuit states.
type BreakerStates interface {
	States() map[string]resilience.CircuitState
}

// Collector gathers snapshots from the store and the fetch breakers.
type Collector struct {
	src      Source
	breakers BreakerStates
}

// NewCollector creates a collector. breakers may be nil.
func NewCollector(src Source, breakers BreakerStates) *Collector {
	return &Collector{src: src, breakers: breakers}
}

// Collect builds a snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}

	carriers, err := c.src.ListCarriers(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list carriers")
	}
	snap.Carriers = len(carriers)
	enriched := 0
	for _, cr := range carriers {
		if !cr.HasValidDOT() {
			snap.MissingDOT++
			continue
		}
		hasIns := len(cr.InsurancePolicies) > 0
		hasSafety := cr.SafetyRating != "" && cr.SafetyRating != model.NotAvailable
		if hasIns {
			snap.WithInsurance++
		}
		if hasSafety {
			snap.WithSafety++
		}
		if hasIns || hasSafety {
			enriched++
		}
	}
	if eligible := snap.Carriers - snap.MissingDOT; eligible > 0 {
		snap.Coverage = float64(enriched) / float64(eligible)
	}

	users, err := c.src.ListUsers(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list users")
	}
	snap.Users = len(users)
	for _, u := range users {
		if u.IsOnline {
			snap.UsersOnline++
		}
		if u.DailyLimit > 0 && u.RecordsExtractedToday >= u.DailyLimit {
			snap.UsersAtLimit++
		}
	}

	ips, err := c.src.ListBlockedIPs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list blocked ips")
	}
	snap.BlockedIPs = len(ips)

	if c.breakers != nil {
		for name, st := range c.breakers.States() {
			if st == resilience.CircuitOpen {
				snap.OpenBreakers = append(snap.OpenBreakers, name)
			}
		}
		slices.Sort(snap.OpenBreakers)
	}

	return snap, nil
}
