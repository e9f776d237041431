package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by every request a client makes.
type RateLimiter struct {
	mu sync.Mutex

	perMinute int
	tokens    float64
	last      time.Time

	now   func() time.Time
	timer Timer

	consumed  int64
	waited    time.Duration
	throttled time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	LastThrottled   time.Time     `json:"last_throttled,omitempty"`
}

// NewRateLimiter creates a limiter allowing perMinute requests per minute,
// starting with a full bucket.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{
		perMinute: perMinute,
		tokens:    float64(perMinute),
		last:      time.Now(),
		now:       time.Now,
		timer:     RealTimer,
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.consumed++
			r.mu.Unlock()
			return nil
		}
		d := r.untilNextToken()
		r.mu.Unlock()

		if err := sleep(ctx, r.timer, d); err != nil {
			return err
		}
		r.mu.Lock()
		r.waited += d
		r.mu.Unlock()
	}
}

// Record429 drains the bucket after the service throttled a request with a
// Retry-After hint.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.throttled = r.now()
	if retryAfter > 0 {
		r.tokens = 0
	}
}

// Status returns current limiter state.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     r.perMinute,
		TotalConsumed:   r.consumed,
		TotalWaited:     r.waited,
		LastThrottled:   r.throttled,
	}
}

// refill adds tokens for elapsed time. Must be called with lock held.
func (r *RateLimiter) refill() {
	now := r.now()
	elapsed := now.Sub(r.last).Seconds()
	r.last = now

	r.tokens += elapsed * float64(r.perMinute) / 60
	if r.tokens > float64(r.perMinute) {
		r.tokens = float64(r.perMinute)
	}
}

// untilNextToken must be called with lock held.
func (r *RateLimiter) untilNextToken() time.Duration {
	perSecond := float64(r.perMinute) / 60
	d := time.Duration((1 - r.tokens) / perSecond * float64(time.Second))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
