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
	"encoding/json"
	"fmt"
	"strings"
)

// Each analyzer has its own response schema. An adapter consumes that
// analyzer's JSON body and produces the common Verdict; the upstream's
// field names and flag conventions never leak past this file.
//
// Adapters never fail loudly: anything malformed produces an error
// verdict, which counts as a breaker failure upstream. The raw body is
// always preserved on the verdict for debugging.

// adapterFunc converts one analyzer's raw body into a Verdict.
type adapterFunc func(name string, raw json.RawMessage) Verdict

var adapters = map[string]adapterFunc{
	AnalyzerPolicy:    adaptPolicy,
	AnalyzerPII:       adaptPII,
	AnalyzerSecrets:   adaptSecrets,
	AnalyzerJailbreak: adaptJailbreak,
	AnalyzerToxicity:  adaptScored(3, "toxicity"),
	AnalyzerBias:      adaptScored(2, "bias"),
	AnalyzerBrand:     adaptBrand,
	AnalyzerGibberish: adaptGibberish,
	AnalyzerFormat:    adaptFormat,
}

// AdaptVerdict converts an analyzer's 2xx response body into a Verdict.
func AdaptVerdict(name string, raw json.RawMessage) Verdict {
	adapt, ok := adapters[name]
	if !ok {
		return malformedVerdict(name, raw, fmt.Sprintf("no adapter for analyzer %q", name))
	}
	return adapt(name, raw)
}

// malformedVerdict synthesises the error verdict for an unparseable body.
func malformedVerdict(name string, raw json.RawMessage, reason string) Verdict {
	return Verdict{
		Name:    name,
		Outcome: OutcomeError,
		Reasons: []string{reason},
		Raw:     raw,
	}
}

// flaggedStatus reports whether an upstream status string means "flagged".
// The fleet is not consistent about this, so the variants are normalized
// here.
func flaggedStatus(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blocked", "flagged", "violated", "fail", "failed", "unsafe":
		return true
	default:
		return false
	}
}

// clampSeverity bounds severity to [0,4].
func clampSeverity(s int) int {
	if s < 0 {
		return 0
	}
	if s > 4 {
		return 4
	}
	return s
}

// ====== policy ======

func adaptPolicy(name string, raw json.RawMessage) Verdict {
	var body struct {
		Violated   bool     `json:"violated"`
		Severity   *int     `json:"severity"`
		Categories []string `json:"categories"`
		Reasons    []string `json:"reasons"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return malformedVerdict(name, raw, "malformed policy response")
	}
	if !body.Violated {
		return Verdict{Name: name, Outcome: OutcomePass, Raw: raw}
	}

	severity := 4
	if body.Severity != nil {
		severity = clampSeverity(*body.Severity)
	}
	reasons := body.Reasons
	if len(reasons) == 0 {
		for _, c := range body.Categories {
			reasons = append(reasons, "policy:"+c)
		}
	}
	return Verdict{
		Name:     name,
		Outcome:  OutcomeFlagged,
		Severity: severity,
		Reasons:  reasons,
		Raw:      raw,
	}
}

// ====== pii ======

func adaptPII(name string, raw json.RawMessage) Verdict {
	var body struct {
		Status   string `json:"status"`
		Entities []struct {
			Type        string  `json:"type"`
			Value       string  `json:"value"`
			Start       int     `json:"start"`
			End         int     `json:"end"`
			Score       float64 `json:"score"`
			Replacement string  `json:"replacement"`
		} `json:"entities"`
		Reasons []string `json:"reasons"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return malformedVerdict(name, raw, "malformed pii response")
	}
	if len(body.Entities) == 0 && !flaggedStatus(body.Status) {
		return Verdict{Name: name, Outcome: OutcomePass, Raw: raw}
	}

	var spans []Span
	reasons := body.Reasons
	seen := map[string]bool{}
	for _, e := range body.Entities {
		replacement := e.Replacement
		if replacement == "" {
			replacement = "[" + strings.ToUpper(e.Type) + "]"
		}
		spans = append(spans, Span{
			Start:       e.Start,
			End:         e.End,
			Label:       e.Type,
			Replacement: replacement,
		})
		if len(body.Reasons) == 0 && !seen[e.Type] {
			seen[e.Type] = true
			reasons = append(reasons, "pii:"+strings.ToLower(e.Type))
		}
	}

	return Verdict{
		Name:     name,
		Outcome:  OutcomeFlagged,
		Severity: 3,
		Reasons:  reasons,
		Spans:    mergeSpans(spans),
		Raw:      raw,
	}
}

// ====== secrets ======

func adaptSecrets(name string, raw json.RawMessage) Verdict {
	var body struct {
		Status     string `json:"status"`
		Detections []struct {
			Category string `json:"category"`
			Severity int    `json:"severity"`
			Start    int    `json:"start"`
			End      int    `json:"end"`
		} `json:"detections"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return malformedVerdict(name, raw, "malformed secrets response")
	}
	if len(body.Detections) == 0 && !flaggedStatus(body.Status) {
		return Verdict{Name: name, Outcome: OutcomePass, Raw: raw}
	}

	severity := 3
	var spans []Span
	var reasons []string
	seen := map[string]bool{}
	for _, d := range body.Detections {
		if s := clampSeverity(d.Severity); s > severity {
			severity = s
		}
		spans = append(spans, Span{
			Start:       d.Start,
			End:         d.End,
			Label:       d.Category,
			Replacement: "[REDACTED]",
		})
		if !seen[d.Category] {
			seen[d.Category] = true
			reasons = append(reasons, "secrets:"+strings.ToLower(d.Category))
		}
	}

	return Verdict{
		Name:     name,
		Outcome:  OutcomeFlagged,
		Severity: severity,
		Reasons:  reasons,
		Spans:    mergeSpans(spans),
		Raw:      raw,
	}
}

// ====== jailbreak ======

// adaptJailbreak understands both the enhanced classifier body
// (prediction/confidence/reasoning) and the legacy status-only body.
func adaptJailbreak(name string, raw json.RawMessage) Verdict {
	var body struct {
		Prediction string  `json:"prediction"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
		Status     string  `json:"status"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return malformedVerdict(name, raw, "malformed jailbreak response")
	}

	flagged := strings.EqualFold(body.Prediction, "jailbreak") ||
		(body.Prediction == "" && flaggedStatus(body.Status))
	if !flagged {
		return Verdict{Name: name, Outcome: OutcomePass, Raw: raw}
	}

	reason := body.Reasoning
	if reason == "" {
		reason = "jailbreak attempt detected"
		if body.Confidence > 0 {
			reason = fmt.Sprintf("jailbreak attempt detected (confidence %.2f)", body.Confidence)
		}
	}
	return Verdict{
		Name:     name,
		Outcome:  OutcomeFlagged,
		Severity: 4,
		Reasons:  []string{reason},
		Raw:      raw,
	}
}

// ====== toxicity / bias ======

// adaptScored builds the adapter for the score-based analyzers, which
// share a schema but differ in severity.
func adaptScored(severity int, prefix string) adapterFunc {
	return func(name string, raw json.RawMessage) Verdict {
		var body struct {
			Status     string   `json:"status"`
			Score      float64  `json:"score"`
			Categories []string `json:"categories"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return malformedVerdict(name, raw, "malformed "+prefix+" response")
		}
		if !flaggedStatus(body.Status) {
			return Verdict{Name: name, Outcome: OutcomePass, Raw: raw}
		}

		var reasons []string
		for _, c := range body.Categories {
			reasons = append(reasons, prefix+":"+strings.ToLower(c))
		}
		if len(reasons) == 0 {
			reasons = []string{fmt.Sprintf("%s score %.2f", prefix, body.Score)}
		}
		return Verdict{
			Name:     name,
			Outcome:  OutcomeFlagged,
			Severity: severity,
			Reasons:  reasons,
			Raw:      raw,
		}
	}
}

// ====== brand ======

func adaptBrand(name string, raw json.RawMessage) Verdict {
	var body struct {
		Status       string   `json:"status"`
		MatchedTerms []string `json:"matched_terms"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return malformedVerdict(name, raw, "malformed brand response")
	}
	if !flaggedStatus(body.Status) && len(body.MatchedTerms) == 0 {
		return Verdict{Name: name, Outcome: OutcomePass, Raw: raw}
	}

	var reasons []string
	for _, term := range body.MatchedTerms {
		reasons = append(reasons, "brand:"+strings.ToLower(term))
	}
	if len(reasons) == 0 {
		reasons = []string{"banned term detected"}
	}
	return Verdict{
		Name:     name,
		Outcome:  OutcomeFlagged,
		Severity: 3,
		Reasons:  reasons,
		Raw:      raw,
	}
}

// ====== gibberish ======

func adaptGibberish(name string, raw json.RawMessage) Verdict {
	var body struct {
		IsGibberish bool    `json:"is_gibberish"`
		Label       string  `json:"label"`
		Confidence  float64 `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return malformedVerdict(name, raw, "malformed gibberish response")
	}
	if !body.IsGibberish {
		return Verdict{Name: name, Outcome: OutcomePass, Raw: raw}
	}

	severity := 1
	switch strings.ToLower(body.Label) {
	case "word salad", "noise":
		severity = 2
	}
	label := body.Label
	if label == "" {
		label = "gibberish"
	}
	return Verdict{
		Name:     name,
		Outcome:  OutcomeFlagged,
		Severity: severity,
		Reasons:  []string{"gibberish:" + strings.ToLower(label)},
		Raw:      raw,
	}
}

// ====== format ======

func adaptFormat(name string, raw json.RawMessage) Verdict {
	var body struct {
		Status string   `json:"status"`
		Issues []string `json:"issues"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return malformedVerdict(name, raw, "malformed format response")
	}
	if !flaggedStatus(body.Status) && len(body.Issues) == 0 {
		return Verdict{Name: name, Outcome: OutcomePass, Raw: raw}
	}

	reasons := make([]string, 0, len(body.Issues))
	for _, issue := range body.Issues {
		reasons = append(reasons, "format:"+issue)
	}
	if len(reasons) == 0 {
		reasons = []string{"format check failed"}
	}
	return Verdict{
		Name:     name,
		Outcome:  OutcomeFlagged,
		Severity: 1,
		Reasons:  reasons,
		Raw:      raw,
	}
}
