package eviction

import (
	"context"
	"testing"
	"time"
)

type fakeLayer struct {
	id   string
	size uint64
}

func (l fakeLayer) FileSize() uint64 { return l.size }

type fakeTimeline struct {
	id       string
	active   bool
	snapshot LayerSnapshot
}

func (t *fakeTimeline) IsActive() bool { return t.active }

func (t *fakeTimeline) LocalLayersForDiskUsageEviction() LayerSnapshot { return t.snapshot }

func (t *fakeTimeline) EvictLayers(ctx context.Context, storage StorageHook, batch []Layer) []LayerEvictOutcome {
	out := make([]LayerEvictOutcome, len(batch))
	for i := range batch {
		out[i] = LayerEvictOutcome{Kind: Evicted}
	}
	return out
}

type fakeTenant struct {
	id          string
	timelines   []Timeline
	minResident uint64
	hasOverride bool
}

func (t *fakeTenant) ID() string                { return t.id }
func (t *fakeTenant) ListTimelines() []Timeline { return t.timelines }
func (t *fakeTenant) MinResidentSizeOverride() (uint64, bool) {
	return t.minResident, t.hasOverride
}

type fakeTenantSource struct {
	ids     []string
	tenants map[string]Tenant
}

func (s *fakeTenantSource) ListTenantIDs(ctx context.Context) ([]string, error) {
	return s.ids, nil
}

func (s *fakeTenantSource) GetTenant(ctx context.Context, id string) (Tenant, bool) {
	t, ok := s.tenants[id]
	return t, ok
}

// TestCollector_PartitionsAroundReservation works through the spec's
// worked example: five 100-byte layers, most-recent first, with an
// overridden min_resident_size of 250. Walking front-to-back, the three
// most-recent layers keep cumsum at or under 250 (0, 100, 200) and land in
// Below; the two oldest push cumsum past 250 and land in Above.
func TestCollector_PartitionsAroundReservation(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	mk := func(id string, ageMinutes int) LayerInfo {
		return LayerInfo{Layer: fakeLayer{id: id, size: 100}, LastActivityTS: base.Add(-time.Duration(ageMinutes) * time.Minute)}
	}

	tl := &fakeTimeline{
		id:     "tl-1",
		active: true,
		snapshot: LayerSnapshot{
			MaxLayerSize: 100,
			ResidentLayers: []LayerInfo{
				mk("newest", 0),
				mk("second", 10),
				mk("third", 20),
				mk("fourth", 30),
				mk("oldest", 40),
			},
		},
	}
	tenant := &fakeTenant{id: "tenant-a", timelines: []Timeline{tl}, minResident: 250, hasOverride: true}
	src := &fakeTenantSource{ids: []string{"tenant-a"}, tenants: map[string]Tenant{"tenant-a": tenant}}

	c := NewCollector(src, nil)
	got, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if len(got.Below) != 3 {
		t.Fatalf("len(Below) = %d, want 3", len(got.Below))
	}
	if len(got.Above) != 2 {
		t.Fatalf("len(Above) = %d, want 2", len(got.Above))
	}

	below := map[string]bool{}
	for _, c := range got.Below {
		below[c.Layer.(fakeLayer).id] = true
	}
	for _, want := range []string{"newest", "second", "third"} {
		if !below[want] {
			t.Errorf("expected %q in Below, got %+v", want, got.Below)
		}
	}

	// Both partitions must come back sorted ascending (oldest first).
	for i := 1; i < len(got.Above); i++ {
		if got.Above[i-1].LastActivityTS.After(got.Above[i].LastActivityTS) {
			t.Fatalf("Above not sorted ascending by LastActivityTS")
		}
	}
	for i := 1; i < len(got.Below); i++ {
		if got.Below[i-1].LastActivityTS.After(got.Below[i].LastActivityTS) {
			t.Fatalf("Below not sorted ascending by LastActivityTS")
		}
	}

	if order := got.InEvictionOrder(); len(order) != 5 {
		t.Fatalf("InEvictionOrder length = %d, want 5", len(order))
	} else {
		for i := 0; i < len(got.Above); i++ {
			if order[i].Partition != Above {
				t.Fatalf("InEvictionOrder[%d] should be Above", i)
			}
		}
	}
}

// TestCollector_GlobalOrderAcrossTenants works through spec §8's two-tenant
// worked example: tenants A and B each have five 100-byte layers and a
// min_resident_size of 150, so each tenant partitions into two Below
// layers and three Above layers. The per-tenant partitions alone are
// already sorted, but their ages are interleaved across tenants (B's
// layers sit 5 minutes older than A's at every rank), so the final
// concatenate-then-resort step (collector.go's two closing
// sort.SliceStable calls) is the only thing that can produce the correct
// global order; a regression there (e.g. dropping the resort and only
// appending per-tenant slices) would leave this order wrong.
func TestCollector_GlobalOrderAcrossTenants(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	mkLayers := func(prefix string, ageOffset int) []LayerInfo {
		ages := []int{0, 10, 20, 30, 40}
		out := make([]LayerInfo, len(ages))
		for i, age := range ages {
			out[i] = LayerInfo{
				Layer:          fakeLayer{id: prefix, size: 100},
				LastActivityTS: base.Add(-time.Duration(age+ageOffset) * time.Minute),
			}
		}
		return out
	}

	tlA := &fakeTimeline{id: "tl-a", active: true, snapshot: LayerSnapshot{
		MaxLayerSize: 100, ResidentLayers: mkLayers("a", 0),
	}}
	tlB := &fakeTimeline{id: "tl-b", active: true, snapshot: LayerSnapshot{
		MaxLayerSize: 100, ResidentLayers: mkLayers("b", 5),
	}}
	tenantA := &fakeTenant{id: "tenant-a", timelines: []Timeline{tlA}, minResident: 150, hasOverride: true}
	tenantB := &fakeTenant{id: "tenant-b", timelines: []Timeline{tlB}, minResident: 150, hasOverride: true}
	src := &fakeTenantSource{
		ids: []string{"tenant-a", "tenant-b"},
		tenants: map[string]Tenant{
			"tenant-a": tenantA,
			"tenant-b": tenantB,
		},
	}

	got, err := NewCollector(src, nil).Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	// Each tenant: cumsum 0, 100 stay Below (<=150); cumsum 200, 300, 400
	// tip Above. So each tenant contributes 2 Below and 3 Above.
	if len(got.Above) != 6 {
		t.Fatalf("len(Above) = %d, want 6", len(got.Above))
	}
	if len(got.Below) != 4 {
		t.Fatalf("len(Below) = %d, want 4", len(got.Below))
	}

	tsKey := func(c EvictionCandidate) (string, int) {
		l := c.Layer.(fakeLayer)
		age := int(base.Sub(c.LastActivityTS).Minutes())
		return l.id, age
	}

	wantAbove := [][2]interface{}{
		{"b", 45}, {"a", 40}, {"b", 35}, {"a", 30}, {"b", 25}, {"a", 20},
	}
	for i, cand := range got.Above {
		id, age := tsKey(cand)
		if id != wantAbove[i][0] || age != wantAbove[i][1] {
			t.Fatalf("Above[%d] = (%s, %d), want (%v, %v)", i, id, age, wantAbove[i][0], wantAbove[i][1])
		}
	}

	wantBelow := [][2]interface{}{
		{"b", 15}, {"a", 10}, {"b", 5}, {"a", 0},
	}
	for i, cand := range got.Below {
		id, age := tsKey(cand)
		if id != wantBelow[i][0] || age != wantBelow[i][1] {
			t.Fatalf("Below[%d] = (%s, %d), want (%v, %v)", i, id, age, wantBelow[i][0], wantBelow[i][1])
		}
	}

	order := got.InEvictionOrder()
	if len(order) != 10 {
		t.Fatalf("InEvictionOrder length = %d, want 10", len(order))
	}
	for i := 0; i < 6; i++ {
		if order[i].Partition != Above {
			t.Fatalf("InEvictionOrder[%d] should be Above", i)
		}
	}
	for i := 6; i < 10; i++ {
		if order[i].Partition != Below {
			t.Fatalf("InEvictionOrder[%d] should be Below", i)
		}
	}
}

// TestCollector_NoOverride falls back to the tenant's max layer size.
func TestCollector_NoOverride(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	tl := &fakeTimeline{
		id:     "tl-1",
		active: true,
		snapshot: LayerSnapshot{
			MaxLayerSize: 300,
			ResidentLayers: []LayerInfo{
				{Layer: fakeLayer{id: "a", size: 300}, LastActivityTS: base},
				{Layer: fakeLayer{id: "b", size: 50}, LastActivityTS: base.Add(-time.Minute)},
			},
		},
	}
	tenant := &fakeTenant{id: "tenant-a", timelines: []Timeline{tl}}
	src := &fakeTenantSource{ids: []string{"tenant-a"}, tenants: map[string]Tenant{"tenant-a": tenant}}

	got, err := NewCollector(src, nil).Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	// min_resident_size defaults to max layer size (300); the first layer
	// (cumsum 0 <= 300) is Below, the second (cumsum 300 > 300 is false,
	// so still Below) also lands Below: both layers fit the reservation.
	if len(got.Below) != 2 || len(got.Above) != 0 {
		t.Fatalf("got Above=%d Below=%d, want Above=0 Below=2", len(got.Above), len(got.Below))
	}
}

// TestCollector_SkipsInactiveTimelines verifies non-active timelines
// contribute no candidates.
func TestCollector_SkipsInactiveTimelines(t *testing.T) {
	active := &fakeTimeline{active: true, snapshot: LayerSnapshot{ResidentLayers: []LayerInfo{
		{Layer: fakeLayer{id: "a", size: 10}, LastActivityTS: time.Now()},
	}}}
	inactive := &fakeTimeline{active: false, snapshot: LayerSnapshot{ResidentLayers: []LayerInfo{
		{Layer: fakeLayer{id: "b", size: 999}, LastActivityTS: time.Now()},
	}}}
	tenant := &fakeTenant{id: "t", timelines: []Timeline{active, inactive}, minResident: 0, hasOverride: true}
	src := &fakeTenantSource{ids: []string{"t"}, tenants: map[string]Tenant{"t": tenant}}

	got, err := NewCollector(src, nil).Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got.NumCandidates() != 1 {
		t.Fatalf("NumCandidates() = %d, want 1", got.NumCandidates())
	}
}

// TestCollector_TenantLookupRace verifies a tenant that vanishes between
// ListTenantIDs and GetTenant is skipped, not an error.
func TestCollector_TenantLookupRace(t *testing.T) {
	src := &fakeTenantSource{ids: []string{"ghost"}, tenants: map[string]Tenant{}}
	got, err := NewCollector(src, nil).Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got.NumCandidates() != 0 {
		t.Fatalf("expected no candidates, got %d", got.NumCandidates())
	}
}

// TestCollector_Cancelled verifies a pre-cancelled context yields
// ErrCancelled rather than a partial result.
func TestCollector_Cancelled(t *testing.T) {
	src := &fakeTenantSource{ids: []string{"a", "b"}, tenants: map[string]Tenant{
		"a": &fakeTenant{id: "a"},
		"b": &fakeTenant{id: "b"},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCollector(src, nil).Collect(ctx)
	if err != ErrCancelled {
		t.Fatalf("got err %v, want ErrCancelled", err)
	}
}
