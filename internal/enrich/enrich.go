// Package enrich attaches insurance filings and safety profiles to
// extracted carriers in two serial stages.
package enrich

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-cli/internal/model"
	"github.com/sells-group/carrier-cli/internal/parser"
	"github.com/sells-group/carrier-cli/internal/resilience"
	"github.com/sells-group/carrier-cli/internal/store"
)

var (
	// ErrInvalidDOT is returned for a record without a usable DOT number.
	ErrInvalidDOT = eris.New("enrich: invalid DOT number")
	// ErrAlreadyRunning is returned when Run is called during an active run.
	ErrAlreadyRunning = eris.New("enrich: a run is already active")
	// ErrNoCarriers is returned when Run is given an empty record set.
	ErrNoCarriers = eris.New("enrich: no carriers to enrich")
)

// Stage is the current enrichment stage.
type Stage string

const (
	StageIdle      Stage = "IDLE"
	StageInsurance Stage = "INSURANCE"
	StageSafety    Stage = "SAFETY"
)

// Source looks up enrichment data by DOT number.
type Source interface {
	Insurance(ctx context.Context, dot string) (*parser.InsuranceResult, error)
	Safety(ctx context.Context, dot string) (*model.SafetyRecord, error)
}

// Sink persists enrichment deltas.
type Sink interface {
	UpdatePartial(ctx context.Context, dot string, patch store.CarrierPatch) error
}

// Stats counts per-stage outcomes.
type Stats struct {
	Total        int `json:"total"`
	InsFound     int `json:"insFound"`
	InsFailed    int `json:"insFailed"`
	SafetyFound  int `json:"safetyFound"`
	SafetyFailed int `json:"safetyFailed"`
	Persisted    int `json:"persisted"`
}

// Result is the outcome of one run.
type Result struct {
	Stats
	Records []model.Carrier `json:"records"`
	Stopped bool            `json:"stopped"`
}

// Hooks receive run events. Calls are made from the Run goroutine.
type Hooks struct {
	OnLog      func(line string)
	OnStage    func(Stage)
	OnProgress func(percent int)
	OnUpdate   func(records []model.Carrier)
	OnFinish   func(Result)
}

// Options configures an Orchestrator.
type Options struct {
	// ProgressEvery emits OnUpdate after this many records. Default: 3.
	ProgressEvery int
	// PersistRetries is the number of retries for a failed store write.
	PersistRetries int
	PersistBackoff time.Duration
	Hooks          Hooks
}

// Orchestrator runs the insurance then safety stages over a record set.
type Orchestrator struct {
	src  Source
	sink Sink
	opts Options

	running atomic.Bool
	stop    atomic.Bool

	mu    sync.Mutex
	stage Stage
	stats Stats
	logs  []string
}

// New creates an Orchestrator. sink may be nil to skip persistence.
func New(src Source, sink Sink, opts Options) *Orchestrator {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 3
	}
	return &Orchestrator{src: src, sink: sink, opts: opts, stage: StageIdle}
}

// Stage returns the current stage.
func (o *Orchestrator) Stage() Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Logs returns a copy of the run transcript.
func (o *Orchestrator) Logs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.logs...)
}

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// Stop ends the run before the next record. A stop during the insurance
// stage skips the safety stage.
func (o *Orchestrator) Stop() {
	if o.running.Load() {
		o.stop.Store(true)
	}
}

// Run enriches a working copy of carriers and returns it. The input order
// is preserved.
func (o *Orchestrator) Run(ctx context.Context, carriers []model.Carrier) (*Result, error) {
	if len(carriers) == 0 {
		o.log("Error: No carriers found in database. Load carriers first.")
		return nil, ErrNoCarriers
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)
	o.stop.Store(false)

	records := append([]model.Carrier(nil), carriers...)
	o.mu.Lock()
	o.stats = Stats{Total: len(records)}
	o.logs = nil
	o.mu.Unlock()

	o.log("Enrichment initialized: automatic multi-stage enrichment")
	o.log(fmt.Sprintf("Targeting: %d USDOT records", len(records)))

	o.setStage(StageInsurance)
	o.log("STAGE 1: Insurance extraction")
	o.runStage(ctx, records, 0, o.insurance)

	if !o.halted(ctx) {
		o.setStage(StageSafety)
		o.log("STAGE 2: Safety rating and BASIC performance")
		o.runStage(ctx, records, 50, o.safety)
	}

	stopped := o.halted(ctx)
	o.setStage(StageIdle)
	stats := o.Stats()
	if stopped {
		o.log("Enrichment stopped.")
	} else {
		o.log("Enrichment complete.")
	}
	o.log(fmt.Sprintf("Total database updates: %d", stats.Persisted))
	zap.L().Info("enrich: run finished",
		zap.Int("total", stats.Total),
		zap.Int("ins_found", stats.InsFound),
		zap.Int("ins_failed", stats.InsFailed),
		zap.Int("safety_found", stats.SafetyFound),
		zap.Int("safety_failed", stats.SafetyFailed),
		zap.Int("persisted", stats.Persisted),
		zap.Bool("stopped", stopped),
	)

	res := &Result{Stats: stats, Records: records, Stopped: stopped}
	if h := o.opts.Hooks.OnFinish; h != nil {
		h(*res)
	}
	return res, nil
}

func (o *Orchestrator) halted(ctx context.Context) bool {
	return o.stop.Load() || ctx.Err() != nil
}

// runStage applies step to each record in order. Progress covers
// [base, base+50].
func (o *Orchestrator) runStage(ctx context.Context, records []model.Carrier, base int,
	step func(ctx context.Context, rec *model.Carrier, label string)) {
	n := len(records)
	for i := range records {
		if o.halted(ctx) {
			return
		}
		step(ctx, &records[i], fmt.Sprintf("[%d/%d]", i+1, n))

		if h := o.opts.Hooks.OnProgress; h != nil {
			h(base + int(math.Round(float64(i+1)/float64(n)*50)))
		}
		if (i+1)%o.opts.ProgressEvery == 0 || i+1 == n {
			if h := o.opts.Hooks.OnUpdate; h != nil {
				h(append([]model.Carrier(nil), records...))
			}
		}
	}
}

func (o *Orchestrator) insurance(ctx context.Context, rec *model.Carrier, label string) {
	dot := rec.DOTNumber
	o.log(fmt.Sprintf("[INSURANCE] %s Querying DOT: %s...", label, dot))
	if !rec.HasValidDOT() {
		o.count(func(s *Stats) { s.InsFailed++ })
		o.log(fmt.Sprintf("Fail: Invalid DOT for MC %s", rec.MCNumber))
		return
	}

	res, err := o.src.Insurance(ctx, dot)
	if err != nil {
		o.count(func(s *Stats) { s.InsFailed++ })
		zap.L().Warn("enrich: insurance lookup failed", zap.String("dot", dot), zap.Error(err))
		o.log(fmt.Sprintf("Fail: Insurance lookup failed for DOT %s", dot))
		return
	}

	rec.InsurancePolicies = res.Policies
	synced := o.persist(ctx, dot, store.InsurancePatch(res.Policies))
	if len(res.Policies) > 0 {
		o.count(func(s *Stats) { s.InsFound++ })
		o.log(fmt.Sprintf("Success: Extracted %d insurance filings for %s%s", len(res.Policies), dot, synced))
	} else {
		o.log(fmt.Sprintf("Info: No active insurance found for %s", dot))
	}
}

func (o *Orchestrator) safety(ctx context.Context, rec *model.Carrier, label string) {
	dot := rec.DOTNumber
	o.log(fmt.Sprintf("[SAFETY] %s Querying DOT: %s...", label, dot))
	if !rec.HasValidDOT() {
		o.count(func(s *Stats) { s.SafetyFailed++ })
		o.log(fmt.Sprintf("Fail: Invalid DOT for MC %s", rec.MCNumber))
		return
	}

	sr, err := o.src.Safety(ctx, dot)
	if err != nil {
		o.count(func(s *Stats) { s.SafetyFailed++ })
		zap.L().Warn("enrich: safety lookup failed", zap.String("dot", dot), zap.Error(err))
		o.log(fmt.Sprintf("Fail: Safety lookup failed for DOT %s", dot))
		return
	}

	rec.ApplySafety(sr)
	synced := o.persist(ctx, dot, store.SafetyPatch(sr))
	if sr.Found() {
		o.count(func(s *Stats) { s.SafetyFound++ })
		o.log(fmt.Sprintf("Safety: %s rating captured for %s%s", sr.Rating, dot, synced))
	} else {
		o.log(fmt.Sprintf("Safety: No formal rating on record for %s", dot))
	}
}

// persist writes patch and returns the log suffix describing the outcome.
func (o *Orchestrator) persist(ctx context.Context, dot string, patch store.CarrierPatch) string {
	if o.sink == nil {
		return ""
	}
	retry := resilience.RetryFromAttempts(o.opts.PersistRetries+1, o.opts.PersistBackoff)
	retry.OnRetry = resilience.RetryLogger("enrich", "update_partial")
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		return o.sink.UpdatePartial(ctx, dot, patch)
	})
	if err != nil {
		zap.L().Error("enrich: persist failed", zap.String("dot", dot), zap.Error(err))
		return " → DB Error"
	}
	o.count(func(s *Stats) { s.Persisted++ })
	return " → DB synced"
}

func (o *Orchestrator) count(fn func(*Stats)) {
	o.mu.Lock()
	fn(&o.stats)
	o.mu.Unlock()
}

func (o *Orchestrator) setStage(s Stage) {
	o.mu.Lock()
	o.stage = s
	o.mu.Unlock()
	if h := o.opts.Hooks.OnStage; h != nil {
		h(s)
	}
}

func (o *Orchestrator) log(line string) {
	o.mu.Lock()
	o.logs = append(o.logs, line)
	o.mu.Unlock()
	if h := o.opts.Hooks.OnLog; h != nil {
		h(line)
	}
}
