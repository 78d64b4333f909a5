// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway implements the Aleutian content-moderation gateway.
//
// The gateway sits in front of a fleet of independent moderation analyzers
// (policy, toxicity, bias, PII, secrets, jailbreak, brand, gibberish,
// format) and exposes a single unified HTTP surface. For each request it:
//
//  1. Normalizes and authenticates the inbound payload.
//  2. Routes: decides which analyzers to invoke.
//  3. Fans out to the chosen analyzers concurrently, gated by per-analyzer
//     circuit breakers and nested deadlines.
//  4. Aggregates the verdicts into one decision and builds the sanitized
//     clean_text via the mitigation pipeline.
//
// The gateway holds no state across requests except the breaker registry.
package gateway

import (
	"encoding/json"
	"time"
)

// GatewayVersion is reported in every moderation response.
const GatewayVersion = "1.1.0"

// =============================================================================
// Analyzers
// =============================================================================

// Analyzer names, stable identifiers used in routing, breaker cells,
// metrics labels, and response maps.
const (
	AnalyzerPolicy    = "policy"
	AnalyzerSecrets   = "secrets"
	AnalyzerPII       = "pii"
	AnalyzerJailbreak = "jailbreak"
	AnalyzerToxicity  = "toxicity"
	AnalyzerBias      = "bias"
	AnalyzerBrand     = "brand"
	AnalyzerGibberish = "gibberish"
	AnalyzerFormat    = "format"
)

// AnalyzerPriority is the canonical analyzer ordering. It determines
// tie-breaks in aggregation and the ordering of reasons and
// blocked_categories in the response, so response assembly is
// deterministic for identical verdicts.
var AnalyzerPriority = []string{
	AnalyzerPolicy,
	AnalyzerSecrets,
	AnalyzerPII,
	AnalyzerJailbreak,
	AnalyzerToxicity,
	AnalyzerBias,
	AnalyzerBrand,
	AnalyzerGibberish,
	AnalyzerFormat,
}

// priorityRank maps analyzer name to its position in AnalyzerPriority.
var priorityRank = func() map[string]int {
	m := make(map[string]int, len(AnalyzerPriority))
	for i, name := range AnalyzerPriority {
		m[name] = i
	}
	return m
}()

// PriorityRank returns the canonical rank of an analyzer (lower is higher
// priority). Unknown analyzers sort after all known ones.
func PriorityRank(name string) int {
	if r, ok := priorityRank[name]; ok {
		return r
	}
	return len(AnalyzerPriority)
}

// KnownAnalyzer reports whether name is one of the supported analyzers.
func KnownAnalyzer(name string) bool {
	_, ok := priorityRank[name]
	return ok
}

// =============================================================================
// Mitigation Actions
// =============================================================================

// Action is the mitigation applied to text when a request is flagged.
type Action string

const (
	// ActionPass returns the text unchanged even when flagged.
	ActionPass Action = "pass"

	// ActionMask replaces each flagged span with the mask token.
	ActionMask Action = "mask"

	// ActionFilter replaces each flagged span with its replacement
	// (e.g. "[EMAIL]"), or removes it when no replacement is supplied.
	ActionFilter Action = "filter"

	// ActionRefrain returns an empty clean_text.
	ActionRefrain Action = "refrain"

	// ActionReask returns a fixed reask prompt as clean_text.
	ActionReask Action = "reask"
)

// DefaultAction is applied when the request does not specify action_on_fail.
const DefaultAction = ActionFilter

// ValidAction reports whether a is one of the enumerated mitigation actions.
func ValidAction(a Action) bool {
	switch a {
	case ActionPass, ActionMask, ActionFilter, ActionRefrain, ActionReask:
		return true
	default:
		return false
	}
}

// ReaskPrompt is the clean_text substituted under ActionReask.
const ReaskPrompt = "Your input could not be processed; please rephrase."

// =============================================================================
// Inbound Request
// =============================================================================

// ValidateRequest is the inbound body for POST /validate.
//
// Unknown top-level fields are ignored for forward compatibility.
// Absent per-check flags are left undefined (not false) so the router
// can apply its default policy.
type ValidateRequest struct {
	// Text is the content to moderate. Required, non-empty after trimming,
	// bounded by Config.MaxTextBytes.
	Text string `json:"text"`

	// Checks maps analyzer name to an explicit on/off flag.
	// Explicit flags always win over the router heuristics.
	Checks map[string]*bool `json:"checks,omitempty"`

	// ActionOnFail selects the mitigation applied when status is "fixed".
	// One of pass/mask/filter/refrain/reask. Default: filter.
	ActionOnFail string `json:"action_on_fail,omitempty"`

	// ReturnSpans asks analyzers to return character offsets.
	ReturnSpans bool `json:"return_spans,omitempty"`

	// Entities is forwarded verbatim to the PII analyzer only.
	Entities []string `json:"entities,omitempty"`
}

// NormalizedRequest is the immutable, validated form of a ValidateRequest.
// Produced by Normalize; consumed by the router and executor.
type NormalizedRequest struct {
	Text        string
	Checks      map[string]*bool
	Action      Action
	ReturnSpans bool
	Entities    []string
}

// =============================================================================
// Plan
// =============================================================================

// Plan is the ordered set of analyzers the gateway will invoke for a
// single request, plus the effective mitigation action. Analyzers are
// in canonical priority order; a plan is never empty.
type Plan struct {
	Analyzers []string
	Action    Action
}

// Contains reports whether the plan includes the named analyzer.
func (p Plan) Contains(name string) bool {
	for _, a := range p.Analyzers {
		if a == name {
			return true
		}
	}
	return false
}

// =============================================================================
// Verdicts
// =============================================================================

// Outcome classifies a single analyzer's result.
type Outcome string

const (
	// OutcomePass means the analyzer examined the text and found nothing.
	OutcomePass Outcome = "pass"

	// OutcomeFlagged means the analyzer found violating content.
	OutcomeFlagged Outcome = "flagged"

	// OutcomeError means the call failed (timeout, transport, malformed body).
	OutcomeError Outcome = "error"

	// OutcomeSkipped means the analyzer was planned but not configured.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeShortCircuited means the breaker refused the call and the
	// verdict was synthesised locally.
	OutcomeShortCircuited Outcome = "short_circuited"
)

// Span is a half-open [Start, End) interval over UTF-8 code points of the
// original text. Replacement, when non-empty, is substituted under the
// filter action.
type Span struct {
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Label       string `json:"label,omitempty"`
	Replacement string `json:"replacement,omitempty"`
}

// Verdict is the normalized per-analyzer result produced by an adapter
// (or synthesised by the executor for short-circuited or failed calls).
type Verdict struct {
	// Name is the analyzer identifier.
	Name string `json:"name"`

	// Outcome classifies the result.
	Outcome Outcome `json:"outcome"`

	// Severity is an integer in [0,4]; 4 means must-block. Meaningful
	// only when Outcome is flagged or short_circuited.
	Severity int `json:"severity"`

	// Reasons are human-readable explanations, ordered.
	Reasons []string `json:"reasons,omitempty"`

	// Spans are the flagged regions over the original text. Spans within
	// a single verdict never overlap (adapters merge before emission).
	Spans []Span `json:"spans,omitempty"`

	// Raw is the analyzer's response body, stored verbatim for debugging.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// =============================================================================
// Unified Response
// =============================================================================

// Overall moderation statuses.
const (
	// StatusPass means no analyzer objected; clean_text equals text.
	StatusPass = "pass"

	// StatusFixed means a mitigation was applied to produce clean_text.
	StatusFixed = "fixed"

	// StatusBlocked means the content must not pass; clean_text is empty.
	StatusBlocked = "blocked"

	// StatusError means every planned analyzer failed and no fallback fired.
	StatusError = "error"
)

// ModerationResponse is the unified outbound body for all moderation
// endpoints. The envelope extras (processing time, services checked,
// version, timestamp) mirror the legacy gateway contract.
type ModerationResponse struct {
	Status            string             `json:"status"`
	CleanText         string             `json:"clean_text"`
	BlockedCategories []string           `json:"blocked_categories"`
	Reasons           []string           `json:"reasons"`
	Results           map[string]Verdict `json:"results"`
	ProcessingTimeMs  float64            `json:"processing_time_ms"`
	ServicesChecked   int                `json:"services_checked"`
	GatewayVersion    string             `json:"gateway_version"`
	Timestamp         string             `json:"timestamp"`
}

// NewTimestamp returns the RFC3339 UTC timestamp used in response envelopes.
func NewTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ErrorResponse is the JSON error body for rejected requests. Refused
// authentication is the one exception: it answers 401 with an empty
// body so the response carries nothing a prober could use.
type ErrorResponse struct {
	Reason string `json:"reason"`
	Code   string `json:"code"`
}
