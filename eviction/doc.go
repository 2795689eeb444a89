// Package eviction implements a periodic, disk-usage-driven cache
// eviction controller for a multi-tenant layer store.
//
// UsageProber abstracts the current-vs-threshold disk usage snapshot;
// Collector walks tenants and timelines to produce a globally ordered,
// reservation-aware eviction candidate list; Loop ties the two together
// into a single-flight periodic controller that plans a batch, executes
// it against each owning Timeline, and reports the outcome as a Report.
//
// Unlike fairgcra, this package's entry point (Launch) owns a background
// goroutine: it is meant to be started once at process startup and driven
// by its own ticker, with TriggerNow available for out-of-band admin
// requests.
package eviction
