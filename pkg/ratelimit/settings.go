// Package ratelimit implements per-(route, api-key) token bucket rate
// limiting with continuous refill.
package ratelimit

import (
	"os"
	"strconv"

	"lightapi/router/pkg/config"
)

const (
	// EnvRequestsPerMinute sets the default requests-per-minute limit when
	// neither the endpoint nor the transformer configures one.
	EnvRequestsPerMinute = "RATE_LIMIT_REQUESTS_PER_MINUTE"

	// EnvBurst sets the default burst capacity.
	EnvBurst = "RATE_LIMIT_BURST"
)

// Settings is a resolved, enforceable rate limit.
type Settings struct {
	RequestsPerMinute int
	Burst             int
}

// Resolve computes the effective rate limit for a route.
//
// Precedence, highest first: the endpoint's rateLimit block, the
// transformer-level rateLimit block, the environment defaults, then
// unlimited. A requestsPerMinute of 0 at any level means unlimited; the
// second return value is false in that case. Burst defaults to
// requestsPerMinute and is never below 1.
func Resolve(routePath string, cfg *config.ApiConfig) (Settings, bool) {
	endpoint := cfg.Endpoint(routePath)

	requestsPerMinute, ok := firstInt(
		rateLimitField(endpoint.RateLimit, func(rl *config.RateLimitConfig) *int { return rl.RequestsPerMinute }),
		rateLimitField(cfg.RateLimit, func(rl *config.RateLimitConfig) *int { return rl.RequestsPerMinute }),
		envInt(EnvRequestsPerMinute),
	)
	if !ok || requestsPerMinute == 0 {
		return Settings{}, false
	}

	burst, ok := firstInt(
		rateLimitField(endpoint.RateLimit, func(rl *config.RateLimitConfig) *int { return rl.Burst }),
		rateLimitField(cfg.RateLimit, func(rl *config.RateLimitConfig) *int { return rl.Burst }),
		envInt(EnvBurst),
	)
	if !ok {
		burst = requestsPerMinute
	}
	if burst < 1 {
		burst = 1
	}

	return Settings{RequestsPerMinute: requestsPerMinute, Burst: burst}, true
}

func rateLimitField(rl *config.RateLimitConfig, field func(*config.RateLimitConfig) *int) *int {
	if rl == nil {
		return nil
	}
	return field(rl)
}

func envInt(name string) *int {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return nil
	}
	return &value
}

func firstInt(candidates ...*int) (int, bool) {
	for _, candidate := range candidates {
		if candidate != nil {
			return *candidate, true
		}
	}
	return 0, false
}
