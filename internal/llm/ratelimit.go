package llm

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-org and global invocation rate limits using a
// token bucket per caller.
type RateLimiter struct {
	mu     sync.Mutex
	global *rate.Limiter
	orgs   map[string]*rate.Limiter
	perOrg rate.Limit
	burst  int
}

// NewRateLimiter creates a limiter. globalRPM is the total invocations/minute
// across all orgs; perOrgRPM is the per-org rate.
func NewRateLimiter(globalRPM, perOrgRPM int) *RateLimiter {
	globalBurst := globalRPM
	if globalBurst < 1 {
		globalBurst = 1
	}
	orgBurst := perOrgRPM
	if orgBurst < 1 {
		orgBurst = 1
	}
	return &RateLimiter{
		global: rate.NewLimiter(rate.Limit(float64(globalRPM)/60.0), globalBurst),
		orgs:   make(map[string]*rate.Limiter),
		perOrg: rate.Limit(float64(perOrgRPM) / 60.0),
		burst:  orgBurst,
	}
}

// Allow reports whether an invocation for the given org may proceed.
func (rl *RateLimiter) Allow(orgID string) bool {
	if !rl.global.Allow() {
		return false
	}
	rl.mu.Lock()
	limiter, ok := rl.orgs[orgID]
	if !ok {
		limiter = rate.NewLimiter(rl.perOrg, rl.burst)
		rl.orgs[orgID] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}
