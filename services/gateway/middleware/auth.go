// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the moderation gateway.
//
// This package contains the shared-secret API-key check and the per-key
// rate limiter that front every moderation endpoint.
//
// # Authentication Flow
//
// The auth middleware reads the X-API-Key header and compares it against
// the configured allow-list in constant time. The matched key is stored
// in the Gin context so the rate limiter can bucket by key.
//
//	Request
//	   │
//	   ▼
//	APIKeyMiddleware
//	   │
//	   ├─► Read "X-API-Key" header
//	   │
//	   ├─► Constant-time compare against allow-list
//	   │
//	   └─► Store matched key in context
//	           │
//	           ▼
//	       RateLimitMiddleware → Handler
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader is the inbound authentication header.
const APIKeyHeader = "X-API-Key"

// apiKeyContextKey is the context key for the matched API key.
// Using a namespaced key prevents collisions with other context values.
const apiKeyContextKey = "aleutian_gateway_api_key"

// MatchedAPIKey returns the API key that authenticated the request, or
// empty when the request has not passed the auth middleware.
func MatchedAPIKey(c *gin.Context) string {
	if v, exists := c.Get(apiKeyContextKey); exists {
		if key, ok := v.(string); ok {
			return key
		}
	}
	return ""
}

// APIKeyMiddleware creates a Gin middleware that authenticates requests
// against a shared-secret allow-list.
//
// # Description
//
// The X-API-Key header is compared against every configured key using a
// constant-time comparison, so response timing does not reveal how much
// of a guessed key matched. A missing header, an unrecognized key, or an
// empty allow-list all produce HTTP 401 with an empty body: the refusal
// tells a prober nothing about why.
//
// # Inputs
//
//   - keys: the configured allow-list. An empty list rejects everything.
//
// # Outputs
//
//   - gin.HandlerFunc: middleware ready for use with Gin.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func APIKeyMiddleware(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(APIKeyHeader)
		if presented == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		// Check every key so the comparison cost does not depend on
		// which entry matches.
		matched := ""
		for _, key := range keys {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
				matched = key
			}
		}
		if matched == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set(apiKeyContextKey, matched)
		c.Next()
	}
}
