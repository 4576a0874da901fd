// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package retry paces retry loops with capped exponential backoff and full
// jitter: the wait before attempt n+1 is random_between(0, min(max, base*2^n)).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrAttemptsExhausted is returned by StartAttempt once WithMaxAttempts
// attempts have been started.
var ErrAttemptsExhausted = errors.New("retry: attempts exhausted")

// Retry holds the backoff state of one retry loop.
//
//	r := retry.New(5*time.Millisecond, time.Second, retry.WithMaxAttempts(5))
//	for {
//	    if err := r.StartAttempt(ctx); err != nil {
//	        return err
//	    }
//	    if err := op(); err == nil {
//	        return nil
//	    }
//	}
type Retry struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int
	jitter      bool
	after       func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	attempt int
}

// Option configures a Retry.
type Option func(*Retry)

// WithMaxAttempts bounds the number of attempts. Zero means unbounded.
func WithMaxAttempts(n int) Option {
	return func(r *Retry) { r.maxAttempts = n }
}

// withoutJitter makes delays deterministic.
func withoutJitter() Option {
	return func(r *Retry) { r.jitter = false }
}

// withAfter replaces time.After.
func withAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(r *Retry) { r.after = after }
}

// New creates a Retry. It panics if base or max is not positive or base
// exceeds max.
func New(base, max time.Duration, opts ...Option) *Retry {
	if base <= 0 {
		panic("retry: base delay must be positive")
	}
	if max <= 0 {
		panic("retry: max delay must be positive")
	}
	if base > max {
		panic("retry: base delay cannot be greater than max delay")
	}
	now := uint64(time.Now().UnixNano())
	r := &Retry{
		base:   base,
		max:    max,
		jitter: true,
		after:  time.After,
		rng:    rand.New(rand.NewPCG(now, now)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartAttempt waits out the backoff before every attempt but the first. It
// returns the context error if ctx ends first, or ErrAttemptsExhausted.
func (r *Retry) StartAttempt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.maxAttempts > 0 && r.attempt >= r.maxAttempts {
		r.mu.Unlock()
		return ErrAttemptsExhausted
	}
	var delay time.Duration
	wait := r.attempt > 0
	if wait {
		delay = r.delayLocked(r.attempt - 1)
	}
	r.attempt++
	r.mu.Unlock()

	if !wait {
		return nil
	}
	select {
	case <-r.after(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attempt returns the number of attempts started so far.
func (r *Retry) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

func (r *Retry) delayLocked(n int) time.Duration {
	// Shifting past 62 bits overflows int64.
	n = min(n, 62)
	delay := r.max
	if mult := int64(1) << n; int64(r.base) <= math.MaxInt64/mult {
		delay = min(time.Duration(int64(r.base)*mult), r.max)
	}
	if r.jitter {
		delay = time.Duration(float64(delay) * r.rng.Float64())
	}
	return delay
}

// Do runs fn until it succeeds, returns an error retryable rejects, or r
// stops granting attempts. In the last case the error wraps fn's last error.
func Do(ctx context.Context, r *Retry, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var last error
	for {
		if err := r.StartAttempt(ctx); err != nil {
			if last == nil {
				return err
			}
			return fmt.Errorf("after %d attempts: %w", r.Attempt(), errors.Join(last, err))
		}
		last = fn(ctx)
		if last == nil || !retryable(last) {
			return last
		}
	}
}
