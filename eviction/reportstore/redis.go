package reportstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestrelstore/pageguard/eviction"
	"github.com/kestrelstore/pageguard/store"
)

// RedisReportStore is a Store backed by the store.Store abstraction,
// keeping one more-recent-first list at a single key via LPUSH+LTRIM.
type RedisReportStore struct {
	backend store.Store
	key     string
	max     int64
}

// NewRedisReportStore constructs a RedisReportStore. An empty key
// defaults to "pageguard:eviction:reports"; max <= 0 defaults to 100.
func NewRedisReportStore(backend store.Store, key string, max int) *RedisReportStore {
	if key == "" {
		key = "pageguard:eviction:reports"
	}
	if max <= 0 {
		max = defaultMaxReports
	}
	return &RedisReportStore{backend: backend, key: key, max: int64(max)}
}

// Append implements Store.
func (s *RedisReportStore) Append(ctx context.Context, r eviction.Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("reportstore: marshal report: %w", err)
	}
	if _, err := s.backend.LPush(ctx, s.key, string(b)); err != nil {
		return fmt.Errorf("reportstore: lpush: %w", err)
	}
	if err := s.backend.LTrim(ctx, s.key, 0, s.max-1); err != nil {
		return fmt.Errorf("reportstore: ltrim: %w", err)
	}
	return nil
}

// Recent implements Store.
func (s *RedisReportStore) Recent(ctx context.Context, n int) ([]eviction.Report, error) {
	if n <= 0 || int64(n) > s.max {
		n = int(s.max)
	}
	raws, err := s.backend.LRange(ctx, s.key, 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("reportstore: lrange: %w", err)
	}
	reports := make([]eviction.Report, 0, len(raws))
	for _, raw := range raws {
		var r eviction.Report
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("reportstore: unmarshal report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Close implements Store. The backend's lifecycle belongs to whoever
// constructed it, so Close is a no-op here.
func (s *RedisReportStore) Close() error { return nil }
