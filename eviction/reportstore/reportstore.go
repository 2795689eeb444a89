// Package reportstore persists eviction.Report values for diagnostics:
// an operator or an admin endpoint can ask "what did the last few
// eviction iterations do" without having scraped every log line.
//
// Two backends are provided: RedisReportStore, which writes through a
// store.Store (Redis, or the in-memory store), and BoltReportStore, an
// embedded, restart-durable ring for single-process deployments.
package reportstore

import (
	"context"

	"github.com/kestrelstore/pageguard/eviction"
)

// defaultMaxReports bounds how many reports a Store retains when the
// caller doesn't specify a limit.
const defaultMaxReports = 100

// Store persists a bounded, most-recent-first ring of eviction reports.
type Store interface {
	// Append records r, pruning the oldest entry if the store is at
	// capacity.
	Append(ctx context.Context, r eviction.Report) error
	// Recent returns up to n reports, most recent first. n <= 0 means
	// "as many as the store retains."
	Recent(ctx context.Context, n int) ([]eviction.Report, error)
	// Close releases any resources held by the store.
	Close() error
}
