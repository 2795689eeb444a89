package eviction

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Usage is an abstract current-vs-threshold disk-usage snapshot (spec
// §3, "Usage snapshot"). Implementations must be cheap to copy: the
// eviction loop copies a Usage by value repeatedly while simulating the
// effect of eviction, without re-probing the filesystem.
type Usage interface {
	// HasPressure reports whether at least one configured threshold is
	// violated: avail_bytes < min_avail_bytes, or used_pct > max_usage_pct.
	HasPressure() bool
	// AddAvailableBytes returns a copy of this Usage with n additional
	// bytes simulated free, leaving the receiver untouched. Value
	// semantics let the loop branch a single probe into independent
	// "what if we evicted this" projections without re-probing.
	AddAvailableBytes(n uint64) Usage
	// Snapshot renders the usage as a value safe to log or serialize into
	// a BackpressureReport.
	Snapshot() UsageSnapshot
}

// UsageSnapshot is the serializable rendering of a Usage value, used by
// Report and by diagnostic logging.
type UsageSnapshot struct {
	TotalBytes    uint64 `json:"total_bytes"`
	AvailBytes    uint64 `json:"avail_bytes"`
	MaxUsagePct   uint8  `json:"max_usage_pct"`
	MinAvailBytes uint64 `json:"min_avail_bytes"`
	HasPressure   bool   `json:"has_pressure"`
}

// FilesystemUsage is the concrete Usage backing the production
// EvictionLoop, grounded on the original's filesystem_level_usage::Usage
// (a statvfs-derived total/avail byte pair checked against two
// thresholds).
type FilesystemUsage struct {
	MaxUsagePct   uint8
	MinAvailBytes uint64

	TotalBytes uint64
	AvailBytes uint64
}

// HasPressure implements Usage.
func (u FilesystemUsage) HasPressure() bool {
	if u.AvailBytes < u.MinAvailBytes {
		return true
	}
	if u.TotalBytes == 0 {
		return false
	}
	usedPct := 100.0 * (1.0 - float64(u.AvailBytes)/float64(u.TotalBytes))
	return uint64(usedPct) > uint64(u.MaxUsagePct)
}

// AddAvailableBytes implements Usage.
func (u FilesystemUsage) AddAvailableBytes(n uint64) Usage {
	u.AvailBytes += n
	return u
}

// Snapshot implements Usage.
func (u FilesystemUsage) Snapshot() UsageSnapshot {
	return UsageSnapshot{
		TotalBytes:    u.TotalBytes,
		AvailBytes:    u.AvailBytes,
		MaxUsagePct:   u.MaxUsagePct,
		MinAvailBytes: u.MinAvailBytes,
		HasPressure:   u.HasPressure(),
	}
}

// ProbeFilesystem reads filesystem statistics for path via statfs(2) and
// evaluates them against the configured thresholds, mirroring the
// original's nix::sys::statvfs::fstatvfs call: prefer the fragment size
// when the kernel reports one, otherwise fall back to the block size.
func ProbeFilesystem(path string, maxUsagePct uint8, minAvailBytes uint64) (FilesystemUsage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return FilesystemUsage{}, fmt.Errorf("eviction: statfs %s: %w", path, err)
	}

	blockSize := uint64(stat.Frsize)
	if blockSize == 0 {
		blockSize = uint64(stat.Bsize)
	}

	return FilesystemUsage{
		MaxUsagePct:   maxUsagePct,
		MinAvailBytes: minAvailBytes,
		TotalBytes:    stat.Blocks * blockSize,
		AvailBytes:    stat.Bavail * blockSize,
	}, nil
}
