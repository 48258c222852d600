package throttle

import (
	"math"
	"time"
)

// Persisted state of one (actor, capability) token bucket.
type Bucket struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"lastRefill"`
}

// Capacity C and refill rate R (tokens per second) of a bucket.
type Policy struct {
	Capacity        float64
	RefillPerSecond float64
}

// New buckets start full.
func (p Policy) Full(now time.Time) Bucket {
	return Bucket{Tokens: p.Capacity, LastRefill: now}
}

// Refill computes tokens = min(C, tokens + elapsed*R). A clock that went backwards counts as no elapsed time, and the refill timestamp never moves backwards.
func (p Policy) Refill(b Bucket, now time.Time) Bucket {
	elapsed := now.Sub(b.LastRefill)
	if elapsed <= 0 {
		b.Tokens = clamp(b.Tokens, 0, p.Capacity)
		return b
	}
	b.Tokens = clamp(b.Tokens+elapsed.Seconds()*p.RefillPerSecond, 0, p.Capacity)
	b.LastRefill = now
	return b
}

// Take refills the bucket, then removes cost tokens if at least that many are available.
func (p Policy) Take(b Bucket, now time.Time, cost float64) (Bucket, bool) {
	b = p.Refill(b, now)
	if b.Tokens >= cost {
		b.Tokens -= cost
		return b, true
	}
	return b, false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
