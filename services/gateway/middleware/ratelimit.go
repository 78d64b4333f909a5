// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianGate/services/gateway/observability"
)

// errorBody is the JSON rejection shape shared by middleware that refuses a
// request with an explanation. Authentication failures deliberately do not
// use it: a 401 carries no body at all.
type errorBody struct {
	Reason string `json:"reason"`
	Code   string `json:"code"`
}

// keyLimiter holds one token bucket per API key.
//
// Thread Safety: Safe for concurrent use.
type keyLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// limiterFor returns the bucket for key, creating it on first sight.
func (l *keyLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.buckets[key] = lim
	}
	return lim
}

// RateLimitMiddleware creates a per-API-key token-bucket limiter.
//
// # Description
//
// Each authenticated key gets its own bucket with the configured
// sustained rate and burst. Requests that find the bucket empty are
// rejected with HTTP 429 and code RATE_LIMITED. A non-positive rps
// disables limiting entirely.
//
// Must run after APIKeyMiddleware; an unauthenticated request (no matched
// key in context) is bucketed under the empty key.
//
// # Inputs
//
//   - rps: sustained requests per second per key. <= 0 disables.
//   - burst: bucket capacity; values below 1 are raised to 1.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}

	limiter := &keyLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}

	return func(c *gin.Context) {
		if !limiter.limiterFor(MatchedAPIKey(c)).Allow() {
			observability.DefaultMetrics.RecordRateLimited()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{
				Reason: "rate limit exceeded",
				Code:   "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
