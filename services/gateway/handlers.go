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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGate/services/gateway/advisor"
	"github.com/AleutianAI/AleutianGate/services/gateway/breaker"
	"github.com/AleutianAI/AleutianGate/services/gateway/observability"
)

// Handlers contains the HTTP handlers for the moderation gateway.
type Handlers struct {
	cfg      Config
	executor *Executor
	breakers *breaker.Registry
	advisor  *advisor.Advisor
	logger   *slog.Logger
	draining atomic.Bool
}

// NewHandlers creates handlers wired to the executor and breaker
// registry. adv may be nil, which disables advisory routing.
func NewHandlers(cfg Config, executor *Executor, breakers *breaker.Registry, adv *advisor.Advisor, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		cfg:      cfg,
		executor: executor,
		breakers: breakers,
		advisor:  adv,
		logger:   logger,
	}
}

// SetDraining flips the shutdown drain flag. While draining, all
// moderation endpoints answer 503.
func (h *Handlers) SetDraining(v bool) {
	h.draining.Store(v)
}

// HandleValidate handles POST /validate.
//
// Description:
//
//	The primary multi-analyzer moderation endpoint. Normalizes the body,
//	routes it to a plan, fans out to the analyzers, aggregates the
//	verdicts, and answers with the unified moderation response. Any
//	successful moderation decision, including "blocked", is HTTP 200.
//
// Response:
//
//	200 OK: ModerationResponse
//	400 Bad Request: INVALID_INPUT
//	401 Unauthorized: UNAUTHENTICATED (middleware)
//	503 Service Unavailable: SHUTTING_DOWN (during drain)
func (h *Handlers) HandleValidate(c *gin.Context) {
	h.moderate(c, "validate", "")
}

// AnalyzerEndpoint returns the handler for POST /<analyzer>, which runs
// exactly one analyzer: checks is forced to {name: true} with all other
// analyzers false.
func (h *Handlers) AnalyzerEndpoint(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.moderate(c, name, name)
	}
}

// moderate is the shared request path behind /validate and the
// per-analyzer endpoints. forced, when non-empty, restricts the plan to
// that single analyzer.
func (h *Handlers) moderate(c *gin.Context, endpoint, forced string) {
	if h.draining.Load() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Reason: ErrShuttingDown.Error(),
			Code:   "SHUTTING_DOWN",
		})
		return
	}

	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "endpoint", endpoint)
	start := time.Now()

	var body ValidateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		observability.DefaultMetrics.RecordRequest(endpoint, "rejected", time.Since(start).Seconds())
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Reason: "invalid JSON body: " + err.Error(),
			Code:   "INVALID_INPUT",
		})
		return
	}

	if forced != "" {
		checks := make(map[string]*bool, len(AnalyzerPriority))
		for _, name := range AnalyzerPriority {
			enabled := name == forced
			checks[name] = &enabled
		}
		body.Checks = checks
	}

	norm, err := Normalize(body, h.cfg.MaxTextBytes)
	if err != nil {
		observability.DefaultMetrics.RecordRequest(endpoint, "rejected", time.Since(start).Seconds())
		c.JSON(statusCodeFor(err), ErrorResponse{
			Reason: err.Error(),
			Code:   "INVALID_INPUT",
		})
		return
	}

	// The advisory call and the analyzer fan-out spend from one
	// request-wide budget: a stalled advisor shrinks what is left for
	// the analyzers, never the total.
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.GlobalDeadline)
	defer cancel()

	plan := Route(norm)
	if forced == "" {
		plan = h.advise(ctx, norm, plan)
	}

	verdicts := h.executor.Execute(ctx, plan, norm)
	decision := Aggregate(verdicts)
	cleanText := Sanitize(norm.Text, decision, plan.Action, h.cfg.MaskToken)

	elapsed := time.Since(start)
	resp := ModerationResponse{
		Status:            decision.Status,
		CleanText:         cleanText,
		BlockedCategories: emptyIfNil(decision.BlockedCategories),
		Reasons:           emptyIfNil(decision.Reasons),
		Results:           verdicts,
		ProcessingTimeMs:  float64(elapsed.Microseconds()) / 1000.0,
		ServicesChecked:   len(plan.Analyzers),
		GatewayVersion:    GatewayVersion,
		Timestamp:         NewTimestamp(),
	}

	observability.DefaultMetrics.RecordRequest(endpoint, decision.Status, elapsed.Seconds())
	logger.Info("Moderation decision",
		"status", decision.Status,
		"analyzers", len(plan.Analyzers),
		"blocked_categories", decision.BlockedCategories,
		"duration_ms", resp.ProcessingTimeMs)

	c.JSON(http.StatusOK, resp)
}

// advise runs the optional advisory router and merges its suggestions
// into the plan. Suggestions are additive only: an analyzer the caller
// explicitly disabled is never re-added, and advisor failure leaves the
// plan untouched. ctx already carries the request's global deadline.
func (h *Handlers) advise(ctx context.Context, norm NormalizedRequest, plan Plan) Plan {
	if h.advisor == nil {
		return plan
	}

	suggested := h.advisor.Suggest(ctx, norm.Text, h.cfg.ConfiguredAnalyzers())
	if len(suggested) == 0 {
		return plan
	}

	include := make(map[string]bool, len(plan.Analyzers))
	for _, name := range plan.Analyzers {
		include[name] = true
	}
	for _, name := range suggested {
		if flag, ok := norm.Checks[name]; ok && flag != nil && !*flag {
			continue
		}
		include[name] = true
	}

	var names []string
	for _, name := range AnalyzerPriority {
		if include[name] {
			names = append(names, name)
		}
	}
	return Plan{Analyzers: names, Action: plan.Action}
}

// HandleHealth handles GET /health.
//
// Description:
//
//	Liveness endpoint. Reports the gateway version and a per-analyzer
//	breaker-state snapshot; the snapshot may be slightly stale under
//	concurrent load.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  GatewayVersion,
		"breakers": h.breakers.Snapshot(),
	})
}

// HandleServices handles GET /services.
//
// Description:
//
//	Lists the configured analyzers. Endpoint URLs are redacted to
//	scheme and host so credentials or internal paths never leak.
func (h *Handlers) HandleServices(c *gin.Context) {
	type serviceInfo struct {
		Name     string `json:"name"`
		Endpoint string `json:"endpoint"`
	}

	var services []serviceInfo
	for _, name := range h.cfg.ConfiguredAnalyzers() {
		services = append(services, serviceInfo{
			Name:     name,
			Endpoint: redactEndpoint(h.cfg.Analyzers[name].URL),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"services": services,
		"count":    len(services),
	})
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// redactEndpoint reduces an analyzer URL to scheme and host.
func redactEndpoint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(invalid)"
	}
	return u.Scheme + "://" + u.Host
}

// emptyIfNil keeps response arrays as [] instead of null.
func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// statusCodeFor maps a sentinel error to its HTTP status.
func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrEmptyText),
		errors.Is(err, ErrTextTooLarge),
		errors.Is(err, ErrInvalidAction),
		errors.Is(err, ErrUnknownAnalyzer):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
