package enrich

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carrier-cli/internal/model"
)

// CheckResult is the outcome of a manual single-DOT lookup.
type CheckResult struct {
	DOT      string                  `json:"dot"`
	Policies []model.InsurancePolicy `json:"policies"`
	Safety   *model.SafetyRecord     `json:"safety"`
}

// Check fetches insurance and safety data for one DOT number without
// persisting anything.
func (o *Orchestrator) Check(ctx context.Context, dot string) (*CheckResult, error) {
	dot = strings.TrimSpace(dot)
	if !model.ValidDOT(dot) {
		return nil, ErrInvalidDOT
	}
	ins, err := o.src.Insurance(ctx, dot)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: check insurance %s", dot)
	}
	sr, err := o.src.Safety(ctx, dot)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: check safety %s", dot)
	}
	return &CheckResult{DOT: dot, Policies: ins.Policies, Safety: sr}, nil
}

// AutoStarter starts one enrichment run the first time it observes a
// non-empty record set while the orchestrator is idle.
type AutoStarter struct {
	o       *Orchestrator
	enabled bool
	fired   atomic.Bool
}

// NewAutoStarter creates an AutoStarter. A disabled starter never fires.
func NewAutoStarter(o *Orchestrator, enabled bool) *AutoStarter {
	return &AutoStarter{o: o, enabled: enabled}
}

// Observe runs enrichment over carriers if the starter has not fired yet.
// It reports whether a run was started.
func (a *AutoStarter) Observe(ctx context.Context, carriers []model.Carrier) (*Result, bool, error) {
	if !a.enabled || len(carriers) == 0 || a.o.Running() {
		return nil, false, nil
	}
	if !a.fired.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	res, err := a.o.Run(ctx, carriers)
	return res, true, err
}

// Fired reports whether the starter has fired.
func (a *AutoStarter) Fired() bool { return a.fired.Load() }
