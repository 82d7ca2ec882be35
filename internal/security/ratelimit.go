package security

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket.
type RateLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      int
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewRateLimiter creates a limiter that sustains rate operations per second
// with bursts of up to burst operations.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow reports whether one operation may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.rate
	if r.tokens > float64(r.burst) {
		r.tokens = float64(r.burst)
	}
	r.lastRefill = now

	if r.tokens >= 1.0 {
		r.tokens--
		return true
	}
	return false
}

func (r *RateLimiter) idleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRefill
}

// KeyedRateLimiter keeps one RateLimiter per key, e.g. per client address.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
	rate     float64
	burst    int
	idle     time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewKeyedRateLimiter creates a per-key limiter. Limiters idle for longer
// than idle are dropped by a background sweep until Stop is called.
func NewKeyedRateLimiter(rate float64, burst int, idle time.Duration) *KeyedRateLimiter {
	k := &KeyedRateLimiter{
		limiters: make(map[string]*RateLimiter),
		rate:     rate,
		burst:    burst,
		idle:     idle,
		stop:     make(chan struct{}),
	}
	go k.sweepLoop()
	return k
}

// Allow reports whether an operation for key may proceed.
func (k *KeyedRateLimiter) Allow(key string) bool {
	k.mu.Lock()
	limiter, ok := k.limiters[key]
	if !ok {
		limiter = NewRateLimiter(k.rate, k.burst)
		k.limiters[key] = limiter
	}
	k.mu.Unlock()

	return limiter.Allow()
}

// Stop ends the background sweep.
func (k *KeyedRateLimiter) Stop() {
	k.once.Do(func() { close(k.stop) })
}

func (k *KeyedRateLimiter) sweepLoop() {
	ticker := time.NewTicker(k.idle)
	defer ticker.Stop()

	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			k.sweep(time.Now())
		}
	}
}

func (k *KeyedRateLimiter) sweep(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, limiter := range k.limiters {
		if now.Sub(limiter.idleSince()) > k.idle {
			delete(k.limiters, key)
		}
	}
}
