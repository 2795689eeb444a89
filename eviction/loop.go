package eviction

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kestrelstore/pageguard/internal/clock"
	"github.com/kestrelstore/pageguard/internal/logx"
	"github.com/kestrelstore/pageguard/internal/pgconfig"
)

// ErrIterationAlreadyRunning is returned by TriggerNow (and logged,
// internally, by the periodic ticker) when the single-iteration
// serialization lock is already held (spec §4.F step 1, §7).
var ErrIterationAlreadyRunning = errors.New("eviction: iteration already running")

// Metrics is the narrow surface EvictionLoop reports through.
type Metrics interface {
	ObserveIteration(outcome string, d time.Duration)
	ObserveBytesEvicted(n uint64)
	ObserveLayersFailed(n uint64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveIteration(string, time.Duration) {}
func (noopMetrics) ObserveBytesEvicted(uint64)             {}
func (noopMetrics) ObserveLayersFailed(uint64)             {}

// UsageProber is the collaborator an EvictionLoop probes at the start and
// end of every iteration (spec §4.D).
type UsageProber interface {
	Probe() (Usage, error)
}

// FilesystemProber adapts ProbeFilesystem to UsageProber.
type FilesystemProber struct {
	Path          string
	MaxUsagePct   uint8
	MinAvailBytes uint64
}

// Probe implements UsageProber.
func (p FilesystemProber) Probe() (Usage, error) {
	u, err := ProbeFilesystem(p.Path, p.MaxUsagePct, p.MinAvailBytes)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithClock injects a clock.Clock, for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clk = c }
}

// WithLogger attaches a logger for iteration diagnostics.
func WithLogger(log *logx.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// WithMetrics attaches a Metrics sink observing every iteration.
func WithMetrics(m Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// Loop is the periodic disk-pressure eviction controller (spec §4.F). It
// owns no goroutine of its own until Launch starts its ticker; TriggerNow
// can be driven directly by callers (tests, the admin trigger endpoint)
// without waiting for the ticker.
type Loop struct {
	period  time.Duration
	prober  UsageProber
	tenants TenantSource
	storage StorageHook

	collector *Collector
	clk       clock.Clock
	log       *logx.Logger
	metrics   Metrics

	iterMu sync.Mutex // the single-iteration serialization try-lock (spec §5)

	reportMu sync.Mutex
	lastRpt  Report
	iterNo   uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// Launch starts a Loop per spec §6: `launch(conf, storage, state)`. A nil
// conf (no disk_usage_based_eviction section configured) is a no-op:
// Launch returns (nil, nil) and no goroutine is started.
func Launch(conf *pgconfig.EvictionConfig, storage StorageHook, tenants TenantSource, opts ...Option) (*Loop, error) {
	if conf == nil {
		return nil, nil
	}
	if conf.PeriodDuration <= 0 {
		return nil, fmt.Errorf("eviction: launch: period %q did not parse to a positive duration", conf.Period)
	}

	l := &Loop{
		period:  conf.PeriodDuration,
		tenants: tenants,
		storage: storage,
		clk:     clock.Real,
		log:     logx.Nop(),
		metrics: noopMetrics{},
	}
	for _, o := range opts {
		o(l)
	}
	l.prober = FilesystemProber{Path: conf.TenantsDir, MaxUsagePct: conf.MaxUsagePct, MinAvailBytes: conf.MinAvailBytes}
	l.collector = NewCollector(tenants, l.log)

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(ctx)
	return l, nil
}

// Stop signals the loop to exit at its next suspension point (ticker
// sleep, or mid-iteration cancellation check) and waits for it to return.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

// LastReport returns the most recently completed iteration's report. The
// zero Report (Kind == NoPressure, IterationNo == 0) is returned before
// the first iteration has run.
func (l *Loop) LastReport() Report {
	l.reportMu.Lock()
	defer l.reportMu.Unlock()
	return l.lastRpt
}

// TriggerNow runs a single iteration immediately, outside the ticker
// cadence (the admin-triggered path). It returns ErrIterationAlreadyRunning
// without running anything if the ticker's own iteration currently holds
// the serialization lock.
func (l *Loop) TriggerNow(ctx context.Context) (Report, error) {
	return l.runOnce(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	// Desynchronize fleets: wait a random fraction of one period before
	// the first tick (spec §4.F "Startup").
	initialDelay := time.Duration(rand.Int64N(int64(l.period)))
	select {
	case <-time.After(initialDelay):
	case <-ctx.Done():
		return
	}

	for {
		start := l.clk.Now()
		if _, err := l.runOnce(ctx); err != nil {
			l.log.Warnf("iteration", "eviction iteration failed: %v", err)
		}

		sleepFor := l.period - l.clk.Now().Sub(start)
		if sleepFor < 0 {
			sleepFor = 0
		}
		select {
		case <-time.After(sleepFor):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce implements one full iteration of spec §4.F's "Single iteration
// protocol".
func (l *Loop) runOnce(ctx context.Context) (Report, error) {
	if !l.iterMu.TryLock() {
		return Report{}, ErrIterationAlreadyRunning
	}
	defer l.iterMu.Unlock()

	iterStart := l.clk.Now()
	l.reportMu.Lock()
	l.iterNo++
	iter := l.iterNo
	l.reportMu.Unlock()

	report, err := l.iterate(ctx, iter, iterStart)
	l.metrics.ObserveIteration(report.Kind.String(), l.clk.Now().Sub(iterStart))

	l.reportMu.Lock()
	l.lastRpt = report
	l.reportMu.Unlock()

	return report, err
}

func (l *Loop) iterate(ctx context.Context, iter uint64, now time.Time) (Report, error) {
	before, err := l.prober.Probe()
	if err != nil {
		return Report{}, fmt.Errorf("eviction: usage probe failed: %w", err)
	}
	if !before.HasPressure() {
		return noPressureReport(iter, now), nil
	}

	candidates, err := l.collector.Collect(ctx)
	if errors.Is(err, ErrCancelled) {
		return cancelledReport(iter, now), nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("eviction: candidate collection failed: %w", err)
	}

	batches, projected := l.plan(before, candidates)

	assumed, failed, err := l.execute(ctx, before, batches)
	if errors.Is(err, ErrCancelled) {
		return cancelledReport(iter, now), nil
	}

	l.metrics.ObserveBytesEvicted(assumed.Snapshot().AvailBytes - before.Snapshot().AvailBytes)
	l.metrics.ObserveLayersFailed(failed.Count)

	after, probeErr := l.prober.Probe()
	if probeErr != nil {
		l.log.Warnf("verify_probe", "post-eviction usage probe failed: %v", probeErr)
		after = assumed
	} else if after.HasPressure() {
		l.log.Warnf("pressure_remains", "iteration %d finished but usage still over threshold: %+v", iter, after.Snapshot())
	} else {
		l.log.Infof("pressure_relieved", "iteration %d relieved pressure", iter)
	}

	return finishedReport(iter, now, before.Snapshot(), projected, AssumedUsage{
		ProjectedAfter: after.Snapshot(),
		Failed:         failed,
	}), nil
}

// plan implements phase 1 (spec §4.F step 5-6): walk candidates in
// eviction order, simulating the effect of evicting each, until projected
// usage clears pressure or candidates run out. Returns per-timeline
// batches to evict and the planned-usage projection(s).
func (l *Loop) plan(before Usage, candidates PartitionedCandidates) (map[Timeline][]Layer, PlannedUsage) {
	batches := make(map[Timeline][]Layer)
	planned := before
	var respecting Usage
	warned := false

	for _, cand := range candidates.InEvictionOrder() {
		if !planned.HasPressure() {
			break
		}
		if cand.Partition == Below && !warned {
			respecting = planned
			warned = true
			l.log.Warnf("reservation_fallback", "disk pressure persists after respecting reservations; evicting into reserved layers")
		}
		planned = planned.AddAvailableBytes(cand.Layer.FileSize())
		batches[cand.Timeline] = append(batches[cand.Timeline], cand.Layer)
	}

	if !warned {
		return batches, PlannedUsage{Respecting: planned.Snapshot()}
	}
	fallback := planned.Snapshot()
	return batches, PlannedUsage{Respecting: respecting.Snapshot(), Fallback: &fallback}
}

// execute implements phase 2 (spec §4.F step 7): for each owning timeline,
// ask it to evict its batch and fold the per-layer outcomes into the
// assumed usage and failure tally.
func (l *Loop) execute(ctx context.Context, before Usage, batches map[Timeline][]Layer) (Usage, FailedLayers, error) {
	assumed := before
	var failed FailedLayers

	for tl, batch := range batches {
		if ctx.Err() != nil {
			return assumed, failed, ErrCancelled
		}

		outcomes := tl.EvictLayers(ctx, l.storage, batch)
		if len(outcomes) != len(batch) {
			l.log.Errorf("batch_mismatch", "timeline returned %d outcomes for a %d-layer batch", len(outcomes), len(batch))
			continue
		}

		for i, outcome := range outcomes {
			switch outcome.Kind {
			case Evicted:
				assumed = assumed.AddAvailableBytes(batch[i].FileSize())
			case NotFoundOrUnexpected:
				failed.Count++
				failed.FileSizes += batch[i].FileSize()
			case Cancelled:
				return assumed, failed, ErrCancelled
			case Err:
				l.log.Errorf("layer_eviction_error", "evicting layer: %v", outcome.Err)
			}
		}
	}

	return assumed, failed, nil
}
