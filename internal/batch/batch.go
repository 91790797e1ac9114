// Package batch runs bounded-concurrency extraction over a range of MC
// numbers: fetch, filter, quota, persist, and report progress.
package batch

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carrier-cli/internal/model"
)

var (
	// ErrLimitReached is returned when the user has no quota left at entry.
	ErrLimitReached = eris.New("batch: daily extraction limit reached")
	// ErrAlreadyRunning is returned when Run is called during an active run.
	ErrAlreadyRunning = eris.New("batch: a run is already active")
	// ErrBlocked is returned when the user or its client IP is blocked.
	ErrBlocked = eris.New("batch: user is blocked")
	// ErrNothingToResume is returned by Resume before any run.
	ErrNothingToResume = eris.New("batch: no previous run to resume")
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StateCompleted    State = "completed"
	StateStopped      State = "stopped"
	StateLimitReached State = "limit_reached"
)

// Config describes one run.
type Config struct {
	// Start is the first MC number of the range [Start, Start+Count).
	Start string
	Count int
	// Identifiers, when set, replaces the range with an explicit list.
	Identifiers []string

	IncludeCarriers bool
	IncludeBrokers  bool
	OnlyAuthorized  bool
	// UseMockData substitutes the simulated generator for network fetches.
	UseMockData bool
	// UseProxy sends source fetches through the relays instead of direct.
	UseProxy bool
}

// Mode returns the human-readable fetch mode.
func (c Config) Mode() string {
	switch {
	case c.UseMockData:
		return "Simulation"
	case c.UseProxy:
		return "Proxy Network"
	default:
		return "Direct"
	}
}

// Targets returns the identifiers to process in dispatch order.
func (c Config) Targets() ([]string, error) {
	if len(c.Identifiers) > 0 {
		return append([]string(nil), c.Identifiers...), nil
	}
	if c.Count <= 0 {
		return nil, eris.Errorf("batch: count must be positive, got %d", c.Count)
	}
	start, err := strconv.Atoi(strings.TrimSpace(c.Start))
	if err != nil || start < 0 {
		return nil, eris.Errorf("batch: invalid start MC number %q", c.Start)
	}
	ids := make([]string, c.Count)
	for i := range ids {
		ids[i] = strconv.Itoa(start + i)
	}
	return ids, nil
}

// Matches reports whether a record passes the inclusion filter. A record
// tagged as both carrier and broker passes when either flag is set. With
// onlyAuthorized, "NOT AUTHORIZED" is checked before "AUTHORIZED".
func Matches(entityType, status string, includeCarriers, includeBrokers, onlyAuthorized bool) bool {
	t := strings.ToUpper(entityType)
	isCarrier := strings.Contains(t, "CARRIER")
	isBroker := strings.Contains(t, "BROKER")
	if !(isCarrier && includeCarriers) && !(isBroker && includeBrokers) {
		return false
	}
	if onlyAuthorized {
		s := strings.ToUpper(status)
		if strings.Contains(s, "NOT AUTHORIZED") || !strings.Contains(s, "AUTHORIZED") {
			return false
		}
	}
	return true
}

// Source fetches and parses one carrier record.
type Source interface {
	Carrier(ctx context.Context, mc string, useProxy bool) (*model.Carrier, error)
}

// Quota is the per-user extraction allowance. *quota.Tracker satisfies it.
type Quota interface {
	CanExtract() bool
	TryRecord(ctx context.Context) (bool, error)
}

// Sink persists accepted records.
type Sink interface {
	UpsertCarrier(ctx context.Context, c model.Carrier) error
}

// Blocklist reports blocked client IPs.
type Blocklist interface {
	IsIPBlocked(ctx context.Context, ip string) (bool, error)
}

// Summary reports the outcome of one run.
type Summary struct {
	State         State           `json:"state"`
	Total         int             `json:"total"`
	Dispatched    int             `json:"dispatched"`
	Completed     int             `json:"completed"`
	Accepted      int             `json:"accepted"`
	Filtered      int             `json:"filtered"`
	Failed        int             `json:"failed"`
	Persisted     int             `json:"persisted"`
	PersistFailed int             `json:"persistFailed"`
	Records       []model.Carrier `json:"records"`
	// ChainEnrichment asks the caller to run enrichment over Records.
	ChainEnrichment bool `json:"chainEnrichment"`
}

// Hooks receive run events. Calls are serialized; a hook never runs
// concurrently with another hook of the same orchestrator.
type Hooks struct {
	OnLog          func(line string)
	OnProgress     func(completed, total int)
	OnRecords      func(records []model.Carrier)
	OnLimitReached func()
	OnFinish       func(Summary)
}
