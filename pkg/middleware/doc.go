// Package middleware throttles clients of the REST frontend.
//
// LoginGuard limits login attempts per user name and per client address
// over any Limiter: the in-process token bucket RateLimiter for a single
// instance, or DistributedRateLimiter to share windows through Redis.
// RateLimitMiddleware applies a per client limit to the whole HTTP router.
package middleware
