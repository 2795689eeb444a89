package eviction

import (
	"context"
	"sort"
	"time"

	"github.com/kestrelstore/pageguard/internal/logx"
)

// Layer is the minimal capability eviction candidates need: its byte
// size. Batching is keyed by the owning Timeline, not by the Layer.
// Grounded on the original's
// `Arc<dyn PersistentLayer>` trait object — a Go interface plays the
// same role as dynamic dispatch over layer kinds.
type Layer interface {
	FileSize() uint64
}

// Timeline is the eviction callee: the unit that phase 2 batches
// candidates by and asks to evict them. Implementations are used as map
// keys by the collector/loop, so two Timeline values referring to the
// same underlying timeline must compare `==` equal (e.g. both are the
// same *ConcreteTimeline pointer). Interface values holding pointers
// already compare by identity, so this needs no extra wrapper in Go,
// unlike the original's Arc<Timeline> + TimelineKey newtype.
type Timeline interface {
	IsActive() bool
	// LocalLayersForDiskUsageEviction returns this timeline's resident
	// layers (with last-activity timestamps) and the largest single
	// layer's size, used to default the tenant's min_resident_size.
	LocalLayersForDiskUsageEviction() LayerSnapshot
	// EvictLayers asks this timeline to evict the given batch, returning
	// one outcome per layer in the same order. See LayerEvictOutcome's doc
	// comment for the meaning of each value.
	EvictLayers(ctx context.Context, storage StorageHook, batch []Layer) []LayerEvictOutcome
}

// LayerInfo pairs a resident Layer with its last-activity timestamp.
type LayerInfo struct {
	Layer          Layer
	LastActivityTS time.Time
}

// LayerSnapshot is the result of Timeline.LocalLayersForDiskUsageEviction.
type LayerSnapshot struct {
	ResidentLayers []LayerInfo
	MaxLayerSize   uint64
}

// LayerEvictOutcome is the per-layer result of Timeline.EvictLayers,
// mirroring the original's Option<Result<bool>>:
//   - Evicted: the layer was evicted.
//   - NotFoundOrUnexpected: the layer couldn't be evicted (e.g. its file
//     was deleted between collection and eviction) — counted in Failed.
//   - Cancelled: the cancellation signal fired during this layer's
//     eviction; the loop short-circuits on the first one seen.
//   - Err: an unexpected error; logged, not retried this iteration.
type LayerEvictOutcome struct {
	Kind LayerEvictKind
	Err  error
}

// LayerEvictKind enumerates the possible outcomes of evicting one layer.
type LayerEvictKind int

const (
	Evicted LayerEvictKind = iota
	NotFoundOrUnexpected
	Cancelled
	Err
)

// Tenant groups timelines and carries the optional min-resident-size
// override (spec §4.E).
type Tenant interface {
	ID() string
	ListTimelines() []Timeline
	MinResidentSizeOverride() (uint64, bool)
}

// TenantSource is the top-level collaborator the collector walks (spec
// §6's `list_tenants()`/`get_tenant(id)`).
type TenantSource interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
	GetTenant(ctx context.Context, id string) (Tenant, bool)
}

// Partition tags whether evicting a candidate would keep its tenant at
// or above its reservation (Above) or dip below it (Below).
type Partition int

const (
	Above Partition = iota
	Below
)

// EvictionCandidate is one layer eligible for eviction, tagged with the
// timeline that owns it, its last-activity timestamp, and which side of
// its tenant's reservation it falls on (spec §3).
type EvictionCandidate struct {
	Timeline       Timeline
	Layer          Layer
	LastActivityTS time.Time
	Partition      Partition
}

// PartitionedCandidates is CandidateCollector's output: above (oldest
// first) then below (oldest first) is the iteration order consumers must
// use (spec §4.E step 4).
type PartitionedCandidates struct {
	Above []EvictionCandidate
	Below []EvictionCandidate
}

// NumCandidates returns the total candidate count across both partitions.
func (p PartitionedCandidates) NumCandidates() int {
	return len(p.Above) + len(p.Below)
}

// InEvictionOrder returns all candidates in the order consumers must
// walk them: all of Above oldest-first, then all of Below oldest-first.
func (p PartitionedCandidates) InEvictionOrder() []EvictionCandidate {
	out := make([]EvictionCandidate, 0, p.NumCandidates())
	out = append(out, p.Above...)
	out = append(out, p.Below...)
	return out
}

// Collector implements spec §4.E: walks all tenants and timelines,
// gathers resident layers, partitions each tenant's layers around its
// min-resident-size reservation, and emits a globally ordered eviction
// list.
type Collector struct {
	tenants TenantSource
	log     *logx.Logger
}

// NewCollector constructs a Collector over the given tenant source.
func NewCollector(tenants TenantSource, log *logx.Logger) *Collector {
	if log == nil {
		log = logx.Nop()
	}
	return &Collector{tenants: tenants, log: log}
}

// ErrCancelled is returned by Collect when ctx is done partway through
// the walk (spec §4.E: "Output: either Cancelled or Finished").
var ErrCancelled = cancelError{}

type cancelError struct{}

func (cancelError) Error() string { return "eviction: candidate collection cancelled" }

// Collect walks all tenants and timelines, per spec §4.E's procedure,
// and returns the globally ordered, partitioned candidate list.
func (c *Collector) Collect(ctx context.Context) (PartitionedCandidates, error) {
	ids, err := c.tenants.ListTenantIDs(ctx)
	if err != nil {
		return PartitionedCandidates{}, err
	}

	var above, below []EvictionCandidate

	for _, id := range ids {
		if ctx.Err() != nil {
			return PartitionedCandidates{}, ErrCancelled
		}

		tenant, ok := c.tenants.GetTenant(ctx, id)
		if !ok {
			// Tenant lifecycle race: it was listed but is already gone.
			c.log.Debugf("tenant_lookup_race", "tenant %s disappeared between list and get", id)
			continue
		}

		type ownedLayer struct {
			LayerInfo
			owner Timeline
		}
		var tenantLayers []ownedLayer
		var maxLayerSize uint64
		for _, tl := range tenant.ListTimelines() {
			if ctx.Err() != nil {
				return PartitionedCandidates{}, ErrCancelled
			}
			if !tl.IsActive() {
				continue
			}
			snap := tl.LocalLayersForDiskUsageEviction()
			for _, li := range snap.ResidentLayers {
				tenantLayers = append(tenantLayers, ownedLayer{LayerInfo: li, owner: tl})
			}
			if snap.MaxLayerSize > maxLayerSize {
				maxLayerSize = snap.MaxLayerSize
			}
		}

		minResidentSize := maxLayerSize
		if override, ok := tenant.MinResidentSizeOverride(); ok {
			minResidentSize = override
			c.log.Infof("min_resident_size", "using overridden min resident size %d for tenant %s", minResidentSize, id)
		} else {
			c.log.Infof("min_resident_size", "using max layer size %d for tenant %s", minResidentSize, id)
		}

		// Sort most-recently-used first, then walk front-to-back
		// accumulating cumsum; while cumsum <= minResidentSize the
		// layer belongs to the reservation (Below); once it tips over,
		// this and all older layers are eligible (Above).
		sort.SliceStable(tenantLayers, func(i, j int) bool {
			return tenantLayers[i].LastActivityTS.After(tenantLayers[j].LastActivityTS)
		})

		var cumsum uint64
		for _, li := range tenantLayers {
			cand := EvictionCandidate{Timeline: li.owner, Layer: li.Layer, LastActivityTS: li.LastActivityTS}
			if cumsum <= minResidentSize {
				cand.Partition = Below
				below = append(below, cand)
			} else {
				cand.Partition = Above
				above = append(above, cand)
			}
			cumsum += li.Layer.FileSize()
		}
	}

	sort.SliceStable(above, func(i, j int) bool { return above[i].LastActivityTS.Before(above[j].LastActivityTS) })
	sort.SliceStable(below, func(i, j int) bool { return below[i].LastActivityTS.Before(below[j].LastActivityTS) })

	return PartitionedCandidates{Above: above, Below: below}, nil
}
