// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the moderation
// gateway.
//
// # Description
//
// Metrics cover the whole request path:
//   - Request counters and latency histograms (by endpoint, status)
//   - Per-analyzer outbound call counters and latency
//   - Breaker state transitions and short-circuits
//   - Policy fallback hits
//   - Rate-limit rejections
//
// # Integration
//
// Metrics are exposed on the dedicated metrics listener via
// promhttp.Handler(). Use with Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for gateway metrics
const gatewaySubsystem = "gateway"

// GatewayMetrics holds all Prometheus metrics for the moderation gateway.
//
// Initialize once at startup via InitMetrics(). All helper methods are
// nil-safe so code paths under test run without a registry.
type GatewayMetrics struct {
	// RequestsTotal counts moderation requests by endpoint and final status.
	// Labels: endpoint (validate, health, or an analyzer name), status
	// (pass, fixed, blocked, error, rejected)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures end-to-end moderation latency.
	// Labels: endpoint
	RequestDurationSeconds *prometheus.HistogramVec

	// AnalyzerCallsTotal counts outbound analyzer calls by result.
	// Labels: analyzer, result (success, error, timeout, canceled)
	AnalyzerCallsTotal *prometheus.CounterVec

	// AnalyzerCallDurationSeconds measures per-analyzer call latency.
	// Labels: analyzer
	AnalyzerCallDurationSeconds *prometheus.HistogramVec

	// ShortCircuitsTotal counts breaker admission refusals.
	// Labels: analyzer
	ShortCircuitsTotal *prometheus.CounterVec

	// BreakerState mirrors each breaker cell's state as a gauge.
	// Labels: analyzer. Values: 0 closed, 1 open, 2 half-open.
	BreakerState *prometheus.GaugeVec

	// FallbackHitsTotal counts policy fallback rule matches.
	// Labels: rule
	FallbackHitsTotal *prometheus.CounterVec

	// RateLimitedTotal counts requests rejected by the per-key limiter.
	RateLimitedTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of GatewayMetrics.
// Initialized by InitMetrics(); nil until then.
var DefaultMetrics *GatewayMetrics

// InitMetrics creates and registers all gateway metrics.
//
// # Description
//
// Should be called once at application startup. Panics if called twice
// (duplicate registration in the default Prometheus registry).
//
// # Outputs
//
//   - *GatewayMetrics: the initialized metrics instance.
func InitMetrics() *GatewayMetrics {
	DefaultMetrics = &GatewayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "requests_total",
				Help:      "Total moderation requests by endpoint and final status",
			},
			[]string{"endpoint", "status"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end moderation request latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint"},
		),

		AnalyzerCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "analyzer_calls_total",
				Help:      "Total outbound analyzer calls by result",
			},
			[]string{"analyzer", "result"},
		),

		AnalyzerCallDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "analyzer_call_duration_seconds",
				Help:      "Per-analyzer outbound call latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"analyzer"},
		),

		ShortCircuitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "short_circuits_total",
				Help:      "Breaker admission refusals by analyzer",
			},
			[]string{"analyzer"},
		),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "breaker_state",
				Help:      "Breaker cell state per analyzer (0 closed, 1 open, 2 half-open)",
			},
			[]string{"analyzer"},
		),

		FallbackHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "fallback_hits_total",
				Help:      "Policy fallback rule matches while the analyzer was unavailable",
			},
			[]string{"rule"},
		),

		RateLimitedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-key rate limiter",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed moderation request.
func (m *GatewayMetrics) RecordRequest(endpoint, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDurationSeconds.WithLabelValues(endpoint).Observe(seconds)
}

// RecordAnalyzerCall records one outbound analyzer call.
//
// # Inputs
//
//   - analyzer: the analyzer name.
//   - result: success, error, timeout, or canceled.
//   - seconds: call duration in seconds.
func (m *GatewayMetrics) RecordAnalyzerCall(analyzer, result string, seconds float64) {
	if m == nil {
		return
	}
	m.AnalyzerCallsTotal.WithLabelValues(analyzer, result).Inc()
	m.AnalyzerCallDurationSeconds.WithLabelValues(analyzer).Observe(seconds)
}

// RecordShortCircuit records a breaker admission refusal.
func (m *GatewayMetrics) RecordShortCircuit(analyzer string) {
	if m == nil {
		return
	}
	m.ShortCircuitsTotal.WithLabelValues(analyzer).Inc()
}

// SetBreakerState mirrors a breaker cell state into the gauge.
func (m *GatewayMetrics) SetBreakerState(analyzer string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(analyzer).Set(float64(state))
}

// RecordFallbackHit records a policy fallback rule match.
func (m *GatewayMetrics) RecordFallbackHit(rule string) {
	if m == nil {
		return
	}
	m.FallbackHitsTotal.WithLabelValues(rule).Inc()
}

// RecordRateLimited records a rate-limited request.
func (m *GatewayMetrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
