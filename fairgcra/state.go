package fairgcra

import (
	"fmt"
	"time"

	"github.com/kestrelstore/pageguard/internal/clock"
)

// Config is the immutable GCRA tuning: cost is the "time price" of one
// token unit (the reciprocal of the steady-state tokens-per-second);
// bucketWidth is cost * burst, the maximum tolerated burst expressed as
// time.
type Config struct {
	Cost        time.Duration
	BucketWidth time.Duration
}

// NewConfig builds a Config from a steady-state rate (tokens/sec) and a
// burst capacity (tokens). Mirrors the original LeakyBucketConfig::new.
func NewConfig(rps, burst float64) Config {
	cost := time.Duration(float64(time.Second) / rps)
	return Config{
		Cost:        cost,
		BucketWidth: time.Duration(float64(cost) * burst),
	}
}

// notReadyError is returned internally by State.AddTokens when the
// bucket cannot accept the request yet. It is never surfaced from
// FairGCRA.Acquire; the acquire loop sleeps until ReadyAt and retries.
type notReadyError struct {
	ReadyAt time.Time
}

func (e *notReadyError) Error() string {
	return fmt.Sprintf("fairgcra: not enough tokens until %s", e.ReadyAt.Format(time.RFC3339Nano))
}

// State is the GCRA bucket: a single "empty_at" timestamp, the instant
// at which the bucket would be empty if no further tokens were added.
// allow_at = empty_at - bucket_width is the earliest instant a one-unit
// request placed now would succeed.
type State struct {
	clk     clock.Clock
	emptyAt time.Time
}

// NewState constructs a State with initialTokens already accounted for,
// as of the clock's current instant.
func NewState(clk clock.Clock, cfg Config, initialTokens float64) *State {
	if clk == nil {
		clk = clock.Real
	}
	return &State{
		clk:     clk,
		emptyAt: clk.Now().Add(time.Duration(float64(cfg.Cost) * initialTokens)),
	}
}

// IsEmpty reports whether the bucket holds zero tokens at now: i.e.
// empty_at <= now.
func (s *State) IsEmpty(now time.Time) bool {
	return !s.emptyAt.After(now)
}

// AddTokens attempts to add n tokens to the bucket, as if the caller had
// been waiting since started (started <= now, the caller's own wait
// start). On success, empty_at advances and nil is returned. On
// rejection, the bucket is left unchanged and a *notReadyError naming
// the earliest retry instant is returned.
//
// Clamping the bucket's base to started (when the bucket is further
// behind than started) prevents a caller from accumulating a "negative
// token balance" left over from an earlier pressure episode; started is
// the caller's own wait-start, so this can never let a caller bypass a
// present backlog — it only forgives backlog that predates the caller's
// own arrival.
func (s *State) AddTokens(cfg Config, started time.Time, n float64) error {
	now := s.clk.Now()

	base := s.emptyAt
	if base.Before(started) {
		base = started
	}

	newEmptyAt := base.Add(time.Duration(float64(cfg.Cost) * n))
	allowAt := newEmptyAt.Add(-cfg.BucketWidth)

	if now.Before(allowAt) {
		return &notReadyError{ReadyAt: allowAt}
	}

	s.emptyAt = newEmptyAt
	return nil
}
