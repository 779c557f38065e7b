package ratelimit

import (
	"sync"
	"time"
)

// bucket is a token bucket refilled continuously at rate tokens/sec.
type bucket struct {
	mu sync.Mutex

	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
}

func newBucket(rate float64, capacity int) *bucket {
	if rate <= 0 {
		rate = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &bucket{
		rate:     rate,
		capacity: float64(capacity),
		tokens:   float64(capacity),
		last:     time.Now(),
	}
}

// take consumes one token if available.
func (b *bucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now

	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// available reports the current token count, for metrics.
func (b *bucket) available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	tokens := b.tokens + now.Sub(b.last).Seconds()*b.rate
	if tokens > b.capacity {
		tokens = b.capacity
	}
	return tokens
}
