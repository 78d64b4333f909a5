// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianGate/services/gateway/middleware"
)

// NewRouter builds the gateway's HTTP router.
//
// Description:
//
//	Registers the full inbound surface:
//
//	  POST /validate     - multi-analyzer moderation
//	  POST /<analyzer>   - single-analyzer moderation, one route per analyzer
//	  GET  /health       - liveness + breaker snapshot (unauthenticated)
//	  GET  /services     - configured analyzer listing (unauthenticated)
//
//	All POST endpoints sit behind the X-API-Key middleware and the
//	per-key rate limiter. Panics anywhere in the chain surface as
//	HTTP 500 with a JSON body that never leaks internals.
func NewRouter(cfg Config, h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, _ any) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": StatusError})
	}))
	r.Use(otelgin.Middleware("aleutian-gateway"))

	r.GET("/health", h.HandleHealth)
	r.GET("/services", h.HandleServices)

	authed := r.Group("/",
		middleware.APIKeyMiddleware(cfg.APIKeys),
		middleware.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)
	authed.POST("/validate", h.HandleValidate)
	for _, name := range AnalyzerPriority {
		authed.POST("/"+name, h.AnalyzerEndpoint(name))
	}

	return r
}
