package eviction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kestrelstore/pageguard/internal/clock"
	"github.com/kestrelstore/pageguard/internal/logx"
)

type fakeUsage struct {
	total, avail uint64
	maxPct       uint8
	minAvail     uint64
}

func (u fakeUsage) HasPressure() bool {
	if u.avail < u.minAvail {
		return true
	}
	if u.total == 0 {
		return false
	}
	usedPct := 100.0 * (1.0 - float64(u.avail)/float64(u.total))
	return uint64(usedPct) > uint64(u.maxPct)
}

func (u fakeUsage) AddAvailableBytes(n uint64) Usage {
	u.avail += n
	return u
}

func (u fakeUsage) Snapshot() UsageSnapshot {
	return UsageSnapshot{TotalBytes: u.total, AvailBytes: u.avail, MaxUsagePct: u.maxPct, MinAvailBytes: u.minAvail, HasPressure: u.HasPressure()}
}

type fakeProber struct {
	usages []Usage
	i      int
	err    error
}

func (p *fakeProber) Probe() (Usage, error) {
	if p.err != nil {
		return nil, p.err
	}
	u := p.usages[p.i]
	if p.i < len(p.usages)-1 {
		p.i++
	}
	return u, nil
}

type panicTenantSource struct{}

func (panicTenantSource) ListTenantIDs(ctx context.Context) ([]string, error) {
	panic("collector must not run when there is no pressure")
}

func (panicTenantSource) GetTenant(ctx context.Context, id string) (Tenant, bool) {
	panic("unreachable")
}

func newTestLoop(prober UsageProber, tenants TenantSource) *Loop {
	log := logx.Nop()
	return &Loop{
		tenants:   tenants,
		storage:   NopStorageHook{},
		prober:    prober,
		collector: NewCollector(tenants, log),
		clk:       clock.Real,
		log:       log,
		metrics:   noopMetrics{},
	}
}

func TestLoop_NoPressureShortCircuit(t *testing.T) {
	prober := &fakeProber{usages: []Usage{fakeUsage{total: 1000, avail: 900, maxPct: 100, minAvail: 0}}}
	l := newTestLoop(prober, panicTenantSource{})

	report, err := l.iterate(context.Background(), 1, time.Now())
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if report.Kind != NoPressure {
		t.Fatalf("Kind = %v, want NoPressure", report.Kind)
	}
}

func TestLoop_UsageProbeFailed(t *testing.T) {
	l := newTestLoop(&fakeProber{err: errors.New("statfs boom")}, panicTenantSource{})
	_, err := l.iterate(context.Background(), 1, time.Now())
	if err == nil {
		t.Fatalf("expected error from failed probe")
	}
}

func TestLoop_FinishedRelievesPressure(t *testing.T) {
	tl := &fakeTimeline{
		active: true,
		snapshot: LayerSnapshot{
			MaxLayerSize: 100,
			ResidentLayers: []LayerInfo{
				{Layer: fakeLayer{id: "a", size: 100}, LastActivityTS: time.Now()},
				{Layer: fakeLayer{id: "b", size: 100}, LastActivityTS: time.Now().Add(-time.Minute)},
			},
		},
	}
	tenant := &fakeTenant{id: "t", timelines: []Timeline{tl}, minResident: 500, hasOverride: true}
	src := &fakeTenantSource{ids: []string{"t"}, tenants: map[string]Tenant{"t": tenant}}

	before := fakeUsage{total: 1000, avail: 50, maxPct: 50, minAvail: 0} // 95% used: pressure
	after := fakeUsage{total: 1000, avail: 600, maxPct: 50, minAvail: 0} // 40% used: relieved

	prober := &fakeProber{usages: []Usage{before, after}}
	l := newTestLoop(prober, src)

	report, err := l.iterate(context.Background(), 1, time.Now())
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if report.Kind != Finished {
		t.Fatalf("Kind = %v, want Finished", report.Kind)
	}
	if report.Assumed.Failed.Count != 0 {
		t.Fatalf("Failed.Count = %d, want 0", report.Assumed.Failed.Count)
	}
	if !report.PressureRelieved() {
		t.Fatalf("expected pressure relieved, got %+v", report.Assumed)
	}
}

func TestLoop_ExecuteRespectsCancellation(t *testing.T) {
	called := false
	tl := &recordingTimeline{onEvict: func() { called = true }}
	l := newTestLoop(&fakeProber{}, panicTenantSource{})

	batches := map[Timeline][]Layer{tl: {fakeLayer{id: "a", size: 10}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := l.execute(ctx, fakeUsage{}, batches)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("execute err = %v, want ErrCancelled", err)
	}
	if called {
		t.Fatalf("no eviction should have been attempted after cancellation")
	}
}

type recordingTimeline struct {
	onEvict func()
}

func (recordingTimeline) IsActive() bool                                 { return true }
func (recordingTimeline) LocalLayersForDiskUsageEviction() LayerSnapshot { return LayerSnapshot{} }
func (t *recordingTimeline) EvictLayers(ctx context.Context, storage StorageHook, batch []Layer) []LayerEvictOutcome {
	if t.onEvict != nil {
		t.onEvict()
	}
	out := make([]LayerEvictOutcome, len(batch))
	for i := range batch {
		out[i] = LayerEvictOutcome{Kind: Evicted}
	}
	return out
}

func TestLoop_PlanFallsBackIntoReservation(t *testing.T) {
	l := newTestLoop(&fakeProber{}, panicTenantSource{})
	tl := &fakeTimeline{}

	// Only one Above candidate, not enough to clear pressure on its own;
	// the plan must continue into Below and mark a fallback projection.
	candidates := PartitionedCandidates{
		Above: []EvictionCandidate{
			{Timeline: tl, Layer: fakeLayer{id: "old", size: 10}, Partition: Above},
		},
		Below: []EvictionCandidate{
			{Timeline: tl, Layer: fakeLayer{id: "reserved", size: 500}, Partition: Below},
		},
	}
	before := fakeUsage{total: 1000, avail: 0, maxPct: 50, minAvail: 0}

	batches, planned := l.plan(before, candidates)
	if planned.Fallback == nil {
		t.Fatalf("expected a fallback projection once the plan dips into Below")
	}
	if planned.Respecting.AvailBytes != 10 {
		t.Fatalf("Respecting.AvailBytes = %d, want 10 (only the Above candidate)", planned.Respecting.AvailBytes)
	}
	total := 0
	for _, layers := range batches {
		total += len(layers)
	}
	if total != 2 {
		t.Fatalf("expected both candidates batched once the plan fell back, got %d", total)
	}
}

func TestLoop_TriggerNowRejectsConcurrentIteration(t *testing.T) {
	l := newTestLoop(&fakeProber{usages: []Usage{fakeUsage{total: 1, avail: 1}}}, panicTenantSource{})
	l.iterMu.Lock()
	defer l.iterMu.Unlock()

	_, err := l.TriggerNow(context.Background())
	if !errors.Is(err, ErrIterationAlreadyRunning) {
		t.Fatalf("err = %v, want ErrIterationAlreadyRunning", err)
	}
}
