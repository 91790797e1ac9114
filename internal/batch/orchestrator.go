package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/carrier-cli/internal/model"
	"github.com/sells-group/carrier-cli/internal/parser"
	"github.com/sells-group/carrier-cli/internal/resilience"
	"github.com/sells-group/carrier-cli/internal/scrape"
)

// Options configures an Orchestrator.
type Options struct {
	// Workers bounds the number of units in flight. Default: 5.
	Workers int
	// ProgressEvery emits OnRecords after this many accepted records. Default: 3.
	ProgressEvery int
	// SimulatedDelay is the per-unit delay of the simulated generator.
	SimulatedDelay time.Duration
	// PersistRetries is the number of retries for a failed store write.
	PersistRetries int
	// PersistBackoff is the delay before the first persistence retry.
	PersistBackoff time.Duration

	// User is the operator the run is charged to.
	User model.User
	// Blocklist, when set, refuses runs from a blocked client IP.
	Blocklist Blocklist

	// Coin decides carrier vs broker in simulated runs. Default: random.
	Coin func() bool

	Hooks Hooks
}

// Orchestrator drives extraction runs. One instance owns the state of one
// run at a time.
type Orchestrator struct {
	src   Source
	quota Quota
	sink  Sink
	opts  Options

	running atomic.Bool
	stop    atomic.Bool

	mu      sync.Mutex
	state   State
	logs    []string
	lastCfg *Config
	done    map[string]bool

	hookMu sync.Mutex
}

// New creates an Orchestrator. quota and sink may be nil for unlimited,
// unpersisted runs.
func New(src Source, quota Quota, sink Sink, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 3
	}
	if opts.PersistRetries < 0 {
		opts.PersistRetries = 0
	}
	if opts.Coin == nil {
		opts.Coin = defaultCoin
	}
	return &Orchestrator{
		src:   src,
		quota: quota,
		sink:  sink,
		opts:  opts,
		state: StateIdle,
		done:  make(map[string]bool),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Logs returns a copy of the run transcript.
func (o *Orchestrator) Logs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.logs...)
}

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Stop asks workers to finish their current unit and start no new one.
func (o *Orchestrator) Stop() {
	if !o.running.Load() {
		return
	}
	o.stop.Store(true)
}

// Run processes cfg. It returns ErrAlreadyRunning during an active run,
// ErrBlocked for a blocked user, and ErrLimitReached when no quota remains
// at entry. Otherwise it blocks until every dispatched unit and every
// pending store write has finished.
func (o *Orchestrator) Run(ctx context.Context, cfg Config) (*Summary, error) {
	targets, err := cfg.Targets()
	if err != nil {
		return nil, err
	}
	return o.start(ctx, cfg, targets, false)
}

// Resume re-runs the previous configuration over the identifiers the
// previous run did not complete.
func (o *Orchestrator) Resume(ctx context.Context) (*Summary, error) {
	o.mu.Lock()
	if o.lastCfg == nil {
		o.mu.Unlock()
		return nil, ErrNothingToResume
	}
	cfg := *o.lastCfg
	o.mu.Unlock()

	targets, err := cfg.Targets()
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	residual := targets[:0]
	for _, mc := range targets {
		if !o.done[mc] {
			residual = append(residual, mc)
		}
	}
	o.mu.Unlock()

	return o.start(ctx, cfg, residual, true)
}

func (o *Orchestrator) start(ctx context.Context, cfg Config, targets []string, resume bool) (*Summary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)

	if err := o.checkBlocked(ctx); err != nil {
		return nil, err
	}
	if o.quota != nil && !o.quota.CanExtract() {
		o.log("DAILY LIMIT REACHED: Upgrade to extract more.")
		o.hook(func(h Hooks) {
			if h.OnLimitReached != nil {
				h.OnLimitReached()
			}
		})
		return nil, ErrLimitReached
	}

	o.stop.Store(false)
	o.mu.Lock()
	o.state = StateRunning
	if !resume {
		o.lastCfg = &cfg
		o.done = make(map[string]bool)
		o.logs = nil
	}
	o.mu.Unlock()

	if resume {
		o.log(fmt.Sprintf("Resuming: %d records remaining", len(targets)))
	} else {
		o.log("Initializing scraper...")
	}
	o.log("Mode: " + cfg.Mode())
	if len(targets) > 0 {
		o.log(fmt.Sprintf("Targeting %d records starting at MC# %s", len(targets), targets[0]))
	}

	r := &run{cfg: cfg, total: len(targets)}
	sum := o.execute(ctx, r, targets)

	o.mu.Lock()
	o.state = sum.State
	o.mu.Unlock()

	if o.stop.Load() {
		o.log("Process paused by user.")
	}

	o.log(fmt.Sprintf("Batch job complete. Found %d records.", sum.Accepted))
	o.log(fmt.Sprintf("Database: %d records persisted", sum.Persisted))
	if sum.ChainEnrichment {
		o.log("Transitioning to automatic insurance extraction...")
	}
	zap.L().Info("batch: run finished",
		zap.String("state", string(sum.State)),
		zap.Int("total", sum.Total),
		zap.Int("accepted", sum.Accepted),
		zap.Int("failed", sum.Failed),
		zap.Int("persisted", sum.Persisted),
	)

	o.hook(func(h Hooks) {
		if h.OnFinish != nil {
			h.OnFinish(*sum)
		}
	})
	return sum, nil
}

func (o *Orchestrator) checkBlocked(ctx context.Context) error {
	u := o.opts.User
	if u.IsBlocked {
		o.log("Account is blocked.")
		return ErrBlocked
	}
	if o.opts.Blocklist == nil || u.IPAddress == "" {
		return nil
	}
	blocked, err := o.opts.Blocklist.IsIPBlocked(ctx, u.IPAddress)
	if err != nil {
		return eris.Wrap(err, "batch: check ip blocklist")
	}
	if blocked {
		o.log("Access denied: IP " + u.IPAddress + " is blocked.")
		return ErrBlocked
	}
	return nil
}

// run holds the mutable state of one run.
type run struct {
	cfg   Config
	total int

	limitHit  atomic.Bool
	limitOnce sync.Once

	mu        sync.Mutex
	completed int
	failed    int
	filtered  int
	persisted int
	persistKO int
	accepted  []model.Carrier
	pending   []model.Carrier

	writes sync.WaitGroup
}

func (o *Orchestrator) execute(ctx context.Context, r *run, targets []string) *Summary {
	// Units run to completion once started, even if ctx is cancelled.
	unitCtx := scrape.WithClientIP(context.WithoutCancel(ctx), o.opts.User.IPAddress)

	g := new(errgroup.Group)
	g.SetLimit(o.opts.Workers)

	dispatched := 0
	for _, mc := range targets {
		if o.stop.Load() || r.limitHit.Load() || ctx.Err() != nil {
			break
		}
		dispatched++
		g.Go(func() error {
			o.process(unitCtx, r, mc)
			return nil
		})
	}
	_ = g.Wait()
	r.writes.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) > 0 {
		o.emitRecords(r.pending)
		r.pending = nil
	}

	state := StateCompleted
	switch {
	case r.limitHit.Load():
		state = StateLimitReached
	case r.completed < r.total:
		state = StateStopped
	}

	return &Summary{
		State:           state,
		Total:           r.total,
		Dispatched:      dispatched,
		Completed:       r.completed,
		Accepted:        len(r.accepted),
		Filtered:        r.filtered,
		Failed:          r.failed,
		Persisted:       r.persisted,
		PersistFailed:   r.persistKO,
		Records:         r.accepted,
		ChainEnrichment: len(r.accepted) > 0,
	}
}

func (o *Orchestrator) process(ctx context.Context, r *run, mc string) {
	if o.stop.Load() || r.limitHit.Load() {
		return
	}
	if o.quota != nil && !o.quota.CanExtract() {
		o.limitReached(r)
		return
	}

	rec, err := o.fetch(ctx, r.cfg, mc)
	if err != nil || rec == nil {
		o.logFetchFailure(mc, err)
		o.finishUnit(r, mc, func() { r.failed++ })
		return
	}

	if !Matches(rec.EntityType, rec.Status, r.cfg.IncludeCarriers, r.cfg.IncludeBrokers, r.cfg.OnlyAuthorized) {
		zap.L().Debug("batch: record filtered",
			zap.String("mc", mc),
			zap.String("entity_type", rec.EntityType),
			zap.String("status", rec.Status),
		)
		o.finishUnit(r, mc, func() { r.filtered++ })
		return
	}

	if o.quota != nil {
		ok, err := o.quota.TryRecord(ctx)
		if err != nil {
			zap.L().Warn("batch: quota propagation failed", zap.String("mc", mc), zap.Error(err))
		}
		if !ok {
			o.limitReached(r)
			return
		}
	}

	o.persist(ctx, r, *rec)
	o.finishUnit(r, mc, func() {
		r.accepted = append(r.accepted, *rec)
		r.pending = append(r.pending, *rec)
		if len(r.accepted)%o.opts.ProgressEvery == 0 {
			o.emitRecords(r.pending)
			r.pending = nil
		}
	})
}

func (o *Orchestrator) fetch(ctx context.Context, cfg Config, mc string) (*model.Carrier, error) {
	if cfg.UseMockData {
		return o.simulate(ctx, cfg, mc)
	}
	return o.src.Carrier(ctx, mc, cfg.UseProxy)
}

func (o *Orchestrator) logFetchFailure(mc string, err error) {
	o.log(fmt.Sprintf("[Fail] MC %s - No Data", mc))
	switch {
	case eris.Is(err, parser.ErrNotFound):
		zap.L().Debug("batch: record not found", zap.String("mc", mc))
	case eris.Is(err, scrape.ErrFetchFailure):
		zap.L().Warn("batch: all fetch strategies failed", zap.String("mc", mc), zap.Error(err))
	default:
		zap.L().Warn("batch: fetch failed", zap.String("mc", mc), zap.Error(err))
	}
}

// finishUnit applies update, marks mc done, and reports progress.
func (o *Orchestrator) finishUnit(r *run, mc string, update func()) {
	r.mu.Lock()
	update()
	r.completed++
	completed := r.completed
	r.mu.Unlock()

	o.mu.Lock()
	o.done[mc] = true
	o.mu.Unlock()

	o.hook(func(h Hooks) {
		if h.OnProgress != nil {
			h.OnProgress(completed, r.total)
		}
	})
}

func (o *Orchestrator) limitReached(r *run) {
	r.limitOnce.Do(func() {
		r.limitHit.Store(true)
		o.log("DAILY LIMIT REACHED: Upgrade to extract more.")
		o.hook(func(h Hooks) {
			if h.OnLimitReached != nil {
				h.OnLimitReached()
			}
		})
	})
}

// persist writes c in the background. Failures are logged and counted; the
// record stays accepted.
func (o *Orchestrator) persist(ctx context.Context, r *run, c model.Carrier) {
	if o.sink == nil {
		o.log(fmt.Sprintf("[Success] MC %s: %s", c.MCNumber, c.LegalName))
		return
	}
	retry := resilience.RetryFromAttempts(o.opts.PersistRetries+1, o.opts.PersistBackoff)
	retry.OnRetry = resilience.RetryLogger("batch", "upsert_carrier")

	r.writes.Add(1)
	go func() {
		defer r.writes.Done()
		err := resilience.Do(ctx, retry, func(ctx context.Context) error {
			return o.sink.UpsertCarrier(ctx, c)
		})
		r.mu.Lock()
		if err != nil {
			r.persistKO++
		} else {
			r.persisted++
		}
		r.mu.Unlock()

		if err != nil {
			zap.L().Error("batch: persist carrier failed", zap.String("mc", c.MCNumber), zap.Error(err))
			o.log(fmt.Sprintf("[Success] MC %s: %s → DB Error: %v", c.MCNumber, c.LegalName, err))
			return
		}
		o.log(fmt.Sprintf("[Success] MC %s: %s → Saved to DB", c.MCNumber, c.LegalName))
	}()
}

// emitRecords sends a copy of records to OnRecords. Callers hold r.mu.
func (o *Orchestrator) emitRecords(records []model.Carrier) {
	batch := append([]model.Carrier(nil), records...)
	o.hook(func(h Hooks) {
		if h.OnRecords != nil {
			h.OnRecords(batch)
		}
	})
}

func (o *Orchestrator) log(line string) {
	o.mu.Lock()
	o.logs = append(o.logs, line)
	o.mu.Unlock()

	o.hook(func(h Hooks) {
		if h.OnLog != nil {
			h.OnLog(line)
		}
	})
}

func (o *Orchestrator) hook(fn func(Hooks)) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	fn(o.opts.Hooks)
}
