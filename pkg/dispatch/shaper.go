package dispatch

import (
    "context"
    "sync"
    "time"
)

// TokenBucket is a simple token bucket for shaping.
type TokenBucket struct {
    mu       sync.Mutex
    capacity float64
    tokens   float64
    rate     float64 // tokens per second
    last     time.Time
    now      func() time.Time
}

func NewTokenBucket(ratePerSec, capacity float64) *TokenBucket {
    if capacity <= 0 { capacity = ratePerSec }
    if capacity < 1 { capacity = 1 }
    return &TokenBucket{capacity: capacity, tokens: capacity, rate: ratePerSec, now: time.Now}
}

// Allow tries to consume n tokens; if not enough, returns duration to wait.
func (b *TokenBucket) Allow(n float64) (ok bool, wait time.Duration) {
    b.mu.Lock(); defer b.mu.Unlock()
    now := b.now()
    if b.last.IsZero() { b.last = now }
    // Refill
    if dt := now.Sub(b.last); dt > 0 {
        b.tokens += b.rate * dt.Seconds()
        if b.tokens > b.capacity { b.tokens = b.capacity }
        b.last = now
    }
    if b.tokens >= n {
        b.tokens -= n
        return true, 0
    }
    if b.rate <= 0 { return false, time.Duration(1<<63 - 1) }
    need := n - b.tokens
    return false, time.Duration(need / b.rate * float64(time.Second))
}

// Wait blocks until n tokens are available or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context, n float64) error {
    for {
        ok, wait := b.Allow(n)
        if ok { return nil }
        t := time.NewTimer(wait)
        select {
        case <-ctx.Done():
            t.Stop()
            return ctx.Err()
        case <-t.C:
        }
    }
}
