package core

import (
	"sync"
)

// RoundLimiter enforces a maximum number of rounds (model calls, forwards)
// per request.
type RoundLimiter struct {
	op    string
	max   int
	count int
	mu    sync.Mutex
}

// NewRoundLimiter creates a new limiter with a max number of rounds.
// If max <= 0, unlimited rounds are allowed.
func NewRoundLimiter(op string, max int) *RoundLimiter {
	return &RoundLimiter{op: op, max: max}
}

// Increment increases the round counter and returns ErrLoopBoundExceeded
// once the limit is exceeded.
func (rl *RoundLimiter) Increment() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.count++
	if rl.max > 0 && rl.count > rl.max {
		return NewError(KindLoopBoundExceeded, rl.op, "exceeded max rounds: %d", rl.max)
	}

	return nil
}

// Count returns the current number of rounds.
func (rl *RoundLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.count
}

// Remaining returns how many rounds are left before hitting the limit.
func (rl *RoundLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.max <= 0 {
		return -1 // unlimited
	}

	return rl.max - rl.count
}
