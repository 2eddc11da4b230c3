package channels

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedUsers caps the limiter map so rotating identities cannot
// exhaust memory.
const maxTrackedUsers = 4096

// UserRateLimiter enforces a per-user inbound request quota. Safe for
// concurrent use.
type UserRateLimiter struct {
	perMinute int
	burst     int

	mu    sync.Mutex
	users map[string]*rate.Limiter
}

// NewUserRateLimiter allows requestsPerMinute sustained per user with
// the given burst. Burst 0 defaults to the per-minute quota, matching a
// fixed one-minute window. requestsPerMinute <= 0 disables limiting.
func NewUserRateLimiter(requestsPerMinute, burst int) *UserRateLimiter {
	if burst <= 0 {
		burst = requestsPerMinute
	}
	return &UserRateLimiter{
		perMinute: requestsPerMinute,
		burst:     burst,
		users:     make(map[string]*rate.Limiter),
	}
}

// Enabled reports whether a quota is configured.
func (r *UserRateLimiter) Enabled() bool { return r != nil && r.perMinute > 0 }

// Allow reports whether the user is within quota and consumes one slot.
func (r *UserRateLimiter) Allow(userID string) bool {
	if !r.Enabled() {
		return true
	}

	r.mu.Lock()
	lim, ok := r.users[userID]
	if !ok {
		if len(r.users) >= maxTrackedUsers {
			for k := range r.users {
				delete(r.users, k)
				break
			}
		}
		lim = rate.NewLimiter(rate.Limit(float64(r.perMinute)/60.0), r.burst)
		r.users[userID] = lim
	}
	r.mu.Unlock()

	return lim.Allow()
}
