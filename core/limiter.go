package core

import (
	"fmt"
	"sync"
)

// PromptLimiter enforces a maximum number of prompts per kernel.
type PromptLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewPromptLimiter creates a new limiter with a max number of prompts.
// If max == 0, unlimited prompts are allowed.
func NewPromptLimiter(max int) *PromptLimiter {
	return &PromptLimiter{max: max}
}

// Acquire counts one prompt and returns an error if the limit is exceeded.
// A rejected prompt does not consume budget.
func (pl *PromptLimiter) Acquire() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.max > 0 && pl.count >= pl.max {
		return fmt.Errorf("%w: %d", ErrPromptLimit, pl.max)
	}
	pl.count++

	return nil
}

// Reset clears the counter, e.g. after a kernel restart.
func (pl *PromptLimiter) Reset() {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	pl.count = 0
}

// Remaining returns how many prompts are left before hitting the limit.
func (pl *PromptLimiter) Remaining() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.max == 0 {
		return -1 // unlimited
	}

	return pl.max - pl.count
}
