// Package fairgcra implements a fair, FIFO, async rate limiter whose
// steady-state behavior follows the Generic Cell Rate Algorithm (GCRA)
// leaky-bucket, and whose queuing discipline guarantees that waiters are
// admitted strictly in arrival order with no head-of-line bypass.
//
// It is composed of three pieces (spec §4):
//
//   - State: a pure GCRA bucket, storing a single "empty_at" timestamp.
//   - queue (FairQueue): an intrusive-style FIFO of waiters sharing a
//     single lock-token, guaranteeing exactly one leader at a time and
//     leader order equal to arrival order.
//   - FairGCRA: composes the two into an async Acquire(n) that returns
//     once n tokens are admitted, reporting whether the call blocked.
//
// Unlike a keyed, per-request limiter that throttles by tenant or
// connection key, FairGCRA guards a single shared resource with one
// queue: every caller contends for the same bucket, and fairness
// across callers — not just correctness of the rate — is the point.
//
//	limiter := fairgcra.New(1000, 50, 50)
//	blocked, err := limiter.Acquire(ctx, 1)
package fairgcra
