package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carrier-cli/internal/model"
	"github.com/sells-group/carrier-cli/internal/parser"
	"github.com/sells-group/carrier-cli/internal/quota"
	"github.com/sells-group/carrier-cli/internal/store"
)

func TestMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                              string
		entity, status                    string
		carriers, brokers, onlyAuthorized bool
		want                              bool
	}{
		{"broker authorized", "BROKER", "AUTHORIZED FOR PROPERTY", false, true, true, true},
		{"not authorized rejected", "CARRIER", "NOT AUTHORIZED", true, true, true, false},
		{"not authorized allowed without flag", "CARRIER", "NOT AUTHORIZED", true, false, false, true},
		{"carrier excluded", "CARRIER", "AUTHORIZED", false, true, false, false},
		{"both tags carrier flag", "CARRIER/BROKER", "AUTHORIZED", true, false, true, true},
		{"both tags broker flag", "CARRIER/BROKER", "AUTHORIZED", false, true, true, true},
		{"case insensitive", "carrier", "authorized for hire", true, false, true, true},
		{"missing marker", "CARRIER", "OUT-OF-SERVICE", true, false, true, false},
		{"neither tag", "SHIPPER", "AUTHORIZED", true, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Matches(tt.entity, tt.status, tt.carriers, tt.brokers, tt.onlyAuthorized))
		})
	}
}

func TestConfigTargets(t *testing.T) {
	t.Parallel()

	ids, err := Config{Start: "1580000", Count: 3}.Targets()
	require.NoError(t, err)
	assert.Equal(t, []string{"1580000", "1580001", "1580002"}, ids)

	ids, err = Config{Start: "x", Identifiers: []string{"9", "7"}}.Targets()
	require.NoError(t, err)
	assert.Equal(t, []string{"9", "7"}, ids)

	_, err = Config{Start: "abc", Count: 3}.Targets()
	assert.Error(t, err)
	_, err = Config{Start: "1", Count: 0}.Targets()
	assert.Error(t, err)
}

func TestSimulatedCarrier(t *testing.T) {
	t.Parallel()

	c := SimulatedCarrier("1580000", false)
	assert.Equal(t, "2580000", c.DOTNumber)
	assert.Equal(t, "Carrier 1580000 Logistics", c.LegalName)
	assert.Equal(t, "CARRIER", c.EntityType)
	assert.Equal(t, "AUTHORIZED", c.Status)
	assert.Equal(t, "BROKER", SimulatedCarrier("1", true).EntityType)
}

// fakeSource returns records keyed by MC number, tracking concurrency.
type fakeSource struct {
	mu       sync.Mutex
	calls    []string
	records  map[string]model.Carrier
	errs     map[string]error
	delay    time.Duration
	onFetch  func(mc string)
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeSource) Carrier(_ context.Context, mc string, _ bool) (*model.Carrier, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, mc)
	f.mu.Unlock()

	if f.onFetch != nil {
		f.onFetch(mc)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.errs[mc]; err != nil {
		return nil, err
	}
	if c, ok := f.records[mc]; ok {
		return &c, nil
	}
	c := model.Carrier{MCNumber: mc, DOTNumber: "D" + mc, LegalName: "Co " + mc, EntityType: "CARRIER", Status: "AUTHORIZED"}
	return &c, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTracker(limit, used int) *quota.Tracker {
	return quota.NewTracker(model.User{ID: "u1", DailyLimit: limit, RecordsExtractedToday: used}, nil)
}

func TestRun_SimulatedEndToEnd(t *testing.T) {
	st := store.NewMemory()
	tr := newTracker(100, 10)

	var finishes, recordBatches int
	var recordTotal int
	var summary Summary
	o := New(nil, tr, st, Options{
		Coin: func() bool { return false },
		Hooks: Hooks{
			OnRecords: func(r []model.Carrier) { recordBatches++; recordTotal += len(r) },
			OnFinish:  func(s Summary) { finishes++; summary = s },
		},
	})

	sum, err := o.Run(context.Background(), Config{
		Start: "1580000", Count: 3,
		IncludeCarriers: true, OnlyAuthorized: true, UseMockData: true,
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, sum.State)
	assert.Equal(t, 3, sum.Accepted)
	assert.Equal(t, 3, sum.Persisted)
	assert.True(t, sum.ChainEnrichment)
	assert.Equal(t, 13, tr.Snapshot().RecordsExtractedToday)
	assert.Equal(t, 1, finishes)
	assert.Equal(t, *sum, summary)
	assert.Equal(t, 1, recordBatches)
	assert.Equal(t, 3, recordTotal)
	assert.Equal(t, StateCompleted, o.State())

	saved, err := st.ListCarriers(context.Background())
	require.NoError(t, err)
	assert.Len(t, saved, 3)

	logs := strings.Join(o.Logs(), "\n")
	assert.Contains(t, logs, "Mode: Simulation")
	assert.Contains(t, logs, "[Success] MC 1580001: Carrier 1580001 Logistics → Saved to DB")
	assert.Contains(t, logs, "Transitioning to automatic insurance extraction")
}

func TestRun_DispatchesAllUnitsWithinWorkerBound(t *testing.T) {
	src := &fakeSource{
		delay: 5 * time.Millisecond,
		errs: map[string]error{
			"103": parser.ErrNotFound,
			"107": errors.New("boom"),
		},
		records: map[string]model.Carrier{
			"105": {MCNumber: "105", EntityType: "BROKER", Status: "AUTHORIZED"},
		},
	}
	var progress []int
	o := New(src, nil, nil, Options{
		Workers: 3,
		Hooks:   Hooks{OnProgress: func(done, total int) { progress = append(progress, done) }},
	})

	sum, err := o.Run(context.Background(), Config{Start: "100", Count: 20, IncludeCarriers: true})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, sum.State)
	assert.Equal(t, 20, sum.Dispatched)
	assert.Equal(t, 20, sum.Completed)
	assert.Equal(t, 20, src.callCount())
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 1, sum.Filtered)
	assert.Equal(t, 17, sum.Accepted)
	assert.LessOrEqual(t, src.maxSeen.Load(), int32(3))
	assert.Len(t, progress, 20)
	assert.Equal(t, 20, progress[len(progress)-1])
	assert.Contains(t, o.Logs(), "[Fail] MC 103 - No Data")
}

func TestRun_RecordsBatchedEveryThird(t *testing.T) {
	var sizes []int
	o := New(&fakeSource{}, nil, nil, Options{
		Workers: 1,
		Hooks:   Hooks{OnRecords: func(r []model.Carrier) { sizes = append(sizes, len(r)) }},
	})
	_, err := o.Run(context.Background(), Config{Start: "1", Count: 7, IncludeCarriers: true})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sizes)
}

func TestRun_LimitAtEntry(t *testing.T) {
	var prompts int
	o := New(&fakeSource{}, newTracker(5, 5), nil, Options{
		Hooks: Hooks{OnLimitReached: func() { prompts++ }},
	})

	_, err := o.Run(context.Background(), Config{Start: "1", Count: 3, IncludeCarriers: true})
	assert.ErrorIs(t, err, ErrLimitReached)
	assert.Equal(t, 1, prompts)
	assert.Equal(t, StateIdle, o.State())
	assert.False(t, o.Running())
}

func TestRun_LimitMidRunNeverExceedsCeiling(t *testing.T) {
	tr := newTracker(4, 1)
	var prompts int
	src := &fakeSource{delay: time.Millisecond}
	o := New(src, tr, nil, Options{
		Workers: 5,
		Hooks:   Hooks{OnLimitReached: func() { prompts++ }},
	})

	sum, err := o.Run(context.Background(), Config{Start: "1", Count: 50, IncludeCarriers: true})
	require.NoError(t, err)

	assert.Equal(t, StateLimitReached, sum.State)
	assert.Equal(t, 3, sum.Accepted)
	assert.Equal(t, 4, tr.Snapshot().RecordsExtractedToday)
	assert.Equal(t, 1, prompts)
	assert.Less(t, sum.Dispatched, 50)
}

func TestRun_AlreadyRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	src := &fakeSource{onFetch: func(string) {
		once.Do(func() { close(started) })
		<-release
	}}
	o := New(src, nil, nil, Options{Workers: 1})

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), Config{Start: "1", Count: 1, IncludeCarriers: true})
		done <- err
	}()
	<-started

	_, err := o.Run(context.Background(), Config{Start: "1", Count: 1, IncludeCarriers: true})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, StateRunning, o.State())

	close(release)
	require.NoError(t, <-done)
}

func TestStopAndResume_ProcessesOnlyResidual(t *testing.T) {
	var o *Orchestrator
	src := &fakeSource{}
	src.onFetch = func(mc string) {
		if mc == "3" {
			o.Stop()
		}
	}
	o = New(src, nil, nil, Options{Workers: 1})

	sum, err := o.Run(context.Background(), Config{Start: "1", Count: 6, IncludeCarriers: true})
	require.NoError(t, err)
	assert.Equal(t, StateStopped, sum.State)
	assert.Equal(t, 3, sum.Completed)
	assert.True(t, sum.ChainEnrichment)
	assert.Contains(t, o.Logs(), "Process paused by user.")

	sum, err = o.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, sum.State)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 3, sum.Accepted)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, src.calls)
}

func TestResume_WithoutRun(t *testing.T) {
	_, err := New(&fakeSource{}, nil, nil, Options{}).Resume(context.Background())
	assert.ErrorIs(t, err, ErrNothingToResume)
}

func TestRun_ContextCancelStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{onFetch: func(mc string) {
		if mc == "2" {
			cancel()
		}
	}}
	o := New(src, nil, nil, Options{Workers: 1})

	sum, err := o.Run(ctx, Config{Start: "1", Count: 10, IncludeCarriers: true})
	require.NoError(t, err)
	assert.Equal(t, StateStopped, sum.State)
	assert.Less(t, src.callCount(), 10)
	assert.Equal(t, sum.Completed, sum.Accepted)
}

type failingSink struct{ calls atomic.Int32 }

func (f *failingSink) UpsertCarrier(context.Context, model.Carrier) error {
	f.calls.Add(1)
	return errors.New("constraint violation")
}

func TestRun_PersistFailureKeepsRecord(t *testing.T) {
	sink := &failingSink{}
	tr := newTracker(10, 0)
	o := New(&fakeSource{}, tr, sink, Options{})

	sum, err := o.Run(context.Background(), Config{Start: "1", Count: 2, IncludeCarriers: true})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Accepted)
	assert.Equal(t, 0, sum.Persisted)
	assert.Equal(t, 2, sum.PersistFailed)
	assert.Equal(t, int32(2), sink.calls.Load(), "non-transient errors are not retried")
	assert.Equal(t, 2, tr.Snapshot().RecordsExtractedToday)
	assert.Contains(t, strings.Join(o.Logs(), "\n"), "DB Error: constraint violation")
}

func TestRun_BlockedUser(t *testing.T) {
	o := New(&fakeSource{}, nil, nil, Options{User: model.User{IsBlocked: true}})
	_, err := o.Run(context.Background(), Config{Start: "1", Count: 1, IncludeCarriers: true})
	assert.ErrorIs(t, err, ErrBlocked)

	st := store.NewMemory()
	require.NoError(t, st.BlockIP(context.Background(), "10.1.1.1", "abuse"))
	o = New(&fakeSource{}, nil, nil, Options{User: model.User{IPAddress: "10.1.1.1"}, Blocklist: st})
	_, err = o.Run(context.Background(), Config{Start: "1", Count: 1, IncludeCarriers: true})
	assert.ErrorIs(t, err, ErrBlocked)
	assert.False(t, o.Running())
}
