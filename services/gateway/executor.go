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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianGate/services/gateway/breaker"
	"github.com/AleutianAI/AleutianGate/services/gateway/observability"
	"github.com/AleutianAI/AleutianGate/services/gateway/policy"
)

// Executor fans out analyzer calls for one request and collects the
// verdict map.
//
// # Description
//
// Each admitted analyzer is called concurrently under two nested
// deadlines: the per-call timeout and the request-wide global deadline.
// Analyzer failures are independent; one analyzer's failure never cancels
// another's in-flight call. The breaker registry gates every call and is
// fed the outcome of every completion.
//
// Thread Safety: Safe for concurrent use; all per-request state lives on
// the stack of Execute.
type Executor struct {
	cfg      Config
	client   *Client
	breakers *breaker.Registry
	fallback *policy.Fallback
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewExecutor wires the executor. fallback may be nil, which disables the
// policy short-circuit fallback.
func NewExecutor(cfg Config, client *Client, breakers *breaker.Registry, fallback *policy.Fallback, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:      cfg,
		client:   client,
		breakers: breakers,
		fallback: fallback,
		logger:   logger,
		tracer:   otel.Tracer("aleutian.gateway.executor"),
	}
}

// Execute runs the plan's analyzers concurrently and returns their
// verdicts keyed by analyzer name.
//
// # Inputs
//   - ctx: the request context; caller disconnect cancels all in-flight
//     calls through it.
//   - plan: the analyzers to invoke and the effective action.
//   - req: the normalized request.
//
// # Outputs
//   - map[string]Verdict: one verdict per planned analyzer, always
//     complete; failures surface as error/skipped/short_circuited
//     verdicts, never as missing entries.
func (e *Executor) Execute(ctx context.Context, plan Plan, req NormalizedRequest) map[string]Verdict {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.GlobalDeadline)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "gateway.fanout",
		trace.WithAttributes(attribute.Int("plan.size", len(plan.Analyzers))))
	defer span.End()

	results := make([]Verdict, len(plan.Analyzers))
	var g errgroup.Group
	for i, name := range plan.Analyzers {
		g.Go(func() error {
			results[i] = e.runOne(ctx, name, plan, req)
			return nil
		})
	}
	_ = g.Wait()

	verdicts := make(map[string]Verdict, len(results))
	for _, v := range results {
		verdicts[v.Name] = v
	}
	return verdicts
}

// runOne drives a single analyzer call: breaker admission, the outbound
// HTTP exchange with its per-call timeout, adaptation, and breaker
// feedback.
func (e *Executor) runOne(ctx context.Context, name string, plan Plan, req NormalizedRequest) Verdict {
	target, ok := e.cfg.Analyzers[name]
	if !ok || target.URL == "" {
		return Verdict{
			Name:    name,
			Outcome: OutcomeSkipped,
			Reasons: []string{"analyzer not configured"},
		}
	}

	ticket, err := e.breakers.Admit(name)
	if err != nil {
		observability.DefaultMetrics.RecordShortCircuit(name)
		return e.shortCircuitVerdict(name, req.Text)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.AnalyzerTimeout(name))
	defer cancel()

	payload := CallPayload{
		Text:         req.Text,
		ReturnSpans:  req.ReturnSpans,
		ActionOnFail: string(plan.Action),
	}
	if name == AnalyzerPII {
		payload.Entities = req.Entities
	}

	start := time.Now()
	raw, err := e.client.Call(callCtx, name, target, payload)
	elapsed := time.Since(start)

	if err != nil {
		// Caller cancellation is not an analyzer fault: hand the ticket
		// back without feeding the window, so a burst of client
		// disconnects cannot trip breakers on healthy analyzers. The
		// global deadline expires as DeadlineExceeded and still counts.
		if errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled) {
			e.breakers.Discard(ticket)
			observability.DefaultMetrics.RecordAnalyzerCall(name, "canceled", elapsed.Seconds())
			return Verdict{
				Name:    name,
				Outcome: OutcomeError,
				Reasons: []string{"canceled"},
			}
		}

		e.breakers.Record(ticket, false)
		e.recordBreakerGauge(name)

		reason, result := classifyCallError(err)
		observability.DefaultMetrics.RecordAnalyzerCall(name, result, elapsed.Seconds())
		e.logger.Warn("Analyzer call failed",
			"analyzer", name, "reason", reason, "error", err)
		return Verdict{
			Name:    name,
			Outcome: OutcomeError,
			Reasons: []string{reason},
		}
	}

	verdict := AdaptVerdict(name, raw)

	// A 2xx body that the adapter cannot parse counts as a breaker failure.
	success := verdict.Outcome != OutcomeError
	e.breakers.Record(ticket, success)
	e.recordBreakerGauge(name)

	result := "success"
	if !success {
		result = "error"
	}
	observability.DefaultMetrics.RecordAnalyzerCall(name, result, elapsed.Seconds())
	return verdict
}

// shortCircuitVerdict synthesises the verdict for a breaker refusal. For
// the policy analyzer only, the local fallback classifier runs against the
// text; a hit upgrades the verdict to a must-block.
func (e *Executor) shortCircuitVerdict(name, text string) Verdict {
	if name == AnalyzerPolicy && e.fallback != nil {
		if rule, hit := e.fallback.Classify(text); hit {
			observability.DefaultMetrics.RecordFallbackHit(rule)
			return Verdict{
				Name:     name,
				Outcome:  OutcomeFlagged,
				Severity: 4,
				Reasons:  []string{"policy_fallback:" + rule},
			}
		}
	}
	return Verdict{
		Name:    name,
		Outcome: OutcomeShortCircuited,
		Reasons: []string{"analyzer unavailable"},
	}
}

// recordBreakerGauge mirrors the breaker state into the Prometheus gauge.
func (e *Executor) recordBreakerGauge(name string) {
	observability.DefaultMetrics.SetBreakerState(name, int(e.breakers.State(name)))
}

// classifyCallError maps an outbound call error to a verdict reason and a
// metrics result label.
func classifyCallError(err error) (reason, result string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", "timeout"
	case errors.Is(err, context.Canceled):
		return "timeout", "timeout"
	case errors.Is(err, errUpstreamServer):
		return "upstream server error", "error"
	case errors.Is(err, errTransport):
		return "transport error", "error"
	default:
		return "analyzer call failed", "error"
	}
}
