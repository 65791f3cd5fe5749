package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tb := newTokenBucket(3, 2, clock.Now)

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "request %d within burst", i)
	}
	assert.False(t, tb.Allow())

	clock.Advance(500 * time.Millisecond)
	assert.True(t, tb.Allow(), "one token refilled after half a second at 2 rps")
	assert.False(t, tb.Allow())
}

func TestTokenBucket_FractionalRefillAccumulates(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tb := newTokenBucket(1, 1, clock.Now)
	assert.True(t, tb.Allow())

	for i := 0; i < 3; i++ {
		clock.Advance(250 * time.Millisecond)
		assert.False(t, tb.Allow())
	}
	clock.Advance(250 * time.Millisecond)
	assert.True(t, tb.Allow())
}

func TestTokenBucket_CapsAtCapacity(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tb := newTokenBucket(2, 10, clock.Now)
	clock.Advance(time.Hour)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestRateLimiter_PerKey(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	rl := NewRateLimiter(1, 1)
	rl.now = clock.Now

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "separate clients have separate buckets")
}

func TestNewRateLimiter_BurstAtLeastRPS(t *testing.T) {
	rl := NewRateLimiter(5, 0)
	assert.Equal(t, 5, rl.burst)
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(1, 50)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("client") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, allowed, 50)
	assert.LessOrEqual(t, allowed, 51)
}
