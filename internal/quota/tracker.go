// Package quota tracks a user's daily extraction allowance.
package quota

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carrier-cli/internal/model"
)

// ErrQuotaExceeded is returned when the user has no extractions left today.
var ErrQuotaExceeded = eris.New("quota: daily limit reached")

// UserUpdater persists quota changes.
type UserUpdater interface {
	UpdateUser(ctx context.Context, u model.User) error
}

// Tracker owns one user's quota state. It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	user      model.User
	listeners []func(model.User)

	// persistMu orders store writes so the last write carries the latest count.
	persistMu sync.Mutex
	store     UserUpdater
}

// NewTracker creates a tracker for u. store may be nil, in which case
// changes stay in memory.
func NewTracker(u model.User, store UserUpdater) *Tracker {
	if u.DailyLimit <= 0 {
		u.DailyLimit = LimitFor(u.Plan)
	}
	return &Tracker{user: u, store: store}
}

// OnChange registers fn to receive the user after every change.
func (t *Tracker) OnChange(fn func(model.User)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// CanExtract reports whether at least one extraction remains today.
func (t *Tracker) CanExtract() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.user.RecordsExtractedToday < t.user.DailyLimit
}

// Check returns ErrQuotaExceeded when no extraction remains.
func (t *Tracker) Check() error {
	if !t.CanExtract() {
		return ErrQuotaExceeded
	}
	return nil
}

// Remaining returns the number of extractions left today.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return max(t.user.DailyLimit-t.user.RecordsExtractedToday, 0)
}

// Snapshot returns a copy of the tracked user.
func (t *Tracker) Snapshot() model.User {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.user
}

// RecordExtraction adds n to today's counter and propagates the change.
// The in-memory count is kept even when the store write fails.
func (t *Tracker) RecordExtraction(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	t.mu.Lock()
	t.user.RecordsExtractedToday += n
	t.mu.Unlock()
	return t.propagate(ctx)
}

// TryRecord increments the counter by one only if the ceiling has not been
// reached. It returns false, with no change, when the quota is exhausted.
func (t *Tracker) TryRecord(ctx context.Context) (bool, error) {
	t.mu.Lock()
	if t.user.RecordsExtractedToday >= t.user.DailyLimit {
		t.mu.Unlock()
		return false, nil
	}
	t.user.RecordsExtractedToday++
	t.mu.Unlock()
	return true, t.propagate(ctx)
}

// ResetDaily zeroes today's counter.
func (t *Tracker) ResetDaily(ctx context.Context) error {
	t.mu.Lock()
	t.user.RecordsExtractedToday = 0
	t.mu.Unlock()
	return t.propagate(ctx)
}

func (t *Tracker) propagate(ctx context.Context) error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	t.mu.Lock()
	u := t.user
	listeners := append([]func(model.User){}, t.listeners...)
	t.mu.Unlock()

	var err error
	if t.store != nil {
		if werr := t.store.UpdateUser(ctx, u); werr != nil {
			err = eris.Wrapf(werr, "quota: persist user %s", u.ID)
		}
	}
	for _, fn := range listeners {
		fn(u)
	}
	return err
}
