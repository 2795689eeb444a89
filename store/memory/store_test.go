package memory_test

import (
	"context"
	"testing"

	"github.com/kestrelstore/pageguard/store"
	"github.com/kestrelstore/pageguard/store/memory"
)

func TestMemoryStore_LPushOrdersMostRecentFirst(t *testing.T) {
	s := memory.New()
	defer s.Close()
	ctx := context.Background()

	if _, err := s.LPush(ctx, "k", "a"); err != nil {
		t.Fatal(err)
	}
	n, err := s.LPush(ctx, "k", "b")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected length 2, got %d", n)
	}

	got, err := s.LRange(ctx, "k", 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b", "a"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("LRange = %v, want %v", got, want)
	}
}

func TestMemoryStore_LTrimCaps(t *testing.T) {
	s := memory.New()
	defer s.Close()
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		if _, err := s.LPush(ctx, "k", v); err != nil {
			t.Fatal(err)
		}
	}
	// Most recent first: e, d, c, b, a. Keep only the 3 newest.
	if err := s.LTrim(ctx, "k", 0, 2); err != nil {
		t.Fatal(err)
	}

	got, err := s.LRange(ctx, "k", 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"e", "d", "c"}
	if len(got) != len(want) {
		t.Fatalf("LRange after trim = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LRange after trim = %v, want %v", got, want)
		}
	}
}

func TestMemoryStore_LRangeOnMissingKey(t *testing.T) {
	s := memory.New()
	defer s.Close()
	ctx := context.Background()

	got, err := s.LRange(ctx, "nope", 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result for missing key, got %v", got)
	}
}

func TestMemoryStore_InterfaceCompliance(t *testing.T) {
	var _ store.Store = (*memory.Store)(nil)
}
