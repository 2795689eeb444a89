package eviction

import (
	"fmt"
	"time"
)

// Kind discriminates the three shapes a Report can take (spec §4.G).
type Kind int

const (
	NoPressure Kind = iota
	Cancelled
	Finished
)

func (k Kind) String() string {
	switch k {
	case NoPressure:
		return "no_pressure"
	case Cancelled:
		return "cancelled"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// MarshalJSON renders Kind as its string name rather than the bare int.
func (k Kind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON parses the string name written by MarshalJSON.
func (k *Kind) UnmarshalJSON(b []byte) error {
	for _, c := range []Kind{NoPressure, Cancelled, Finished} {
		if string(b) == `"`+c.String()+`"` {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("eviction: unknown report kind %s", b)
}

// FailedLayers accrues the layers phase 2 could not evict (spec §4.F step
// 7, "NotFound/Unexpected").
type FailedLayers struct {
	FileSizes uint64 `json:"file_sizes"`
	Count     uint64 `json:"count"`
}

// PlannedUsage is phase 1's projection. Fallback is populated only when
// the plan had to cross into the reservation to relieve pressure (spec
// §4.F step 6).
type PlannedUsage struct {
	Respecting UsageSnapshot  `json:"respecting"`
	Fallback   *UsageSnapshot `json:"fallback,omitempty"`
}

// AssumedUsage is phase 2's outcome plus the tally of failures.
// ProjectedAfter holds the usage measured by the post-eviction probe; only
// when that probe fails does it hold the projection computed from the
// layers that actually evicted. That projection is not otherwise recorded
// in the report.
type AssumedUsage struct {
	ProjectedAfter UsageSnapshot `json:"projected_after"`
	Failed         FailedLayers  `json:"failed"`
}

// Report is the structured, serializable outcome of one eviction
// iteration (spec §4.G). Exactly one of the three Kind values applies;
// Before/Planned/Assumed are populated only when Kind == Finished.
type Report struct {
	Kind        Kind      `json:"kind"`
	IterationNo uint64    `json:"iteration_no"`
	At          time.Time `json:"at"`

	Before  *UsageSnapshot `json:"before,omitempty"`
	Planned *PlannedUsage  `json:"planned,omitempty"`
	Assumed *AssumedUsage  `json:"assumed,omitempty"`
}

func noPressureReport(iter uint64, at time.Time) Report {
	return Report{Kind: NoPressure, IterationNo: iter, At: at}
}

func cancelledReport(iter uint64, at time.Time) Report {
	return Report{Kind: Cancelled, IterationNo: iter, At: at}
}

func finishedReport(iter uint64, at time.Time, before UsageSnapshot, planned PlannedUsage, assumed AssumedUsage) Report {
	return Report{
		Kind:        Finished,
		IterationNo: iter,
		At:          at,
		Before:      &before,
		Planned:     &planned,
		Assumed:     &assumed,
	}
}

// PressureRelieved reports whether a Finished iteration's post-eviction
// probe (§4.F step 8) found the thresholds satisfied.
func (r Report) PressureRelieved() bool {
	return r.Kind == Finished && r.Assumed != nil && !r.Assumed.ProjectedAfter.HasPressure
}
