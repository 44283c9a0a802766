// Package ratelimit provides the token bucket used to cap inbound signaling
// message rates per connection.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// nanoPerToken is the fixed-point scale: one token is 1e9 nano-tokens, so a
// fill rate of N tokens/sec adds N nano-tokens per elapsed nanosecond.
const nanoPerToken = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) up to a fixed capacity.
// It is safe for concurrent use.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	rate     int64 // tokens/sec == nano-tokens/ns
	avail    int64 // nano-tokens
	last     time.Time
}

// NewTokenBucket returns a full bucket. A nil clock uses RealClock.
func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if fillRate < 0 {
		fillRate = 0
	}
	capacity := toNano(capacityTokens)
	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     fillRate,
		avail:    capacity,
		last:     clock.Now(),
	}
}

// Allow consumes n tokens if they are available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.avail < cost {
		return false
	}
	b.avail -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	// A clock that went backwards only moves the reference point.
	if elapsed <= 0 || b.rate == 0 || b.avail >= b.capacity {
		return
	}

	missing := b.capacity - b.avail
	if elapsed >= missing/b.rate {
		b.avail = b.capacity
		return
	}
	b.avail += elapsed * b.rate
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoPerToken {
		return maxInt64
	}
	return tokens * nanoPerToken
}
