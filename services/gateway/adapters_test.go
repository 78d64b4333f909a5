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
	"testing"
)

func TestAdaptPolicy(t *testing.T) {
	v := AdaptVerdict("policy", json.RawMessage(`{"violated": true, "categories": ["weapons"]}`))
	if v.Outcome != OutcomeFlagged {
		t.Fatalf("Outcome = %q, want flagged", v.Outcome)
	}
	if v.Severity != 4 {
		t.Errorf("Severity = %d, want 4 when upstream omits it", v.Severity)
	}
	if len(v.Reasons) != 1 || v.Reasons[0] != "policy:weapons" {
		t.Errorf("Reasons = %v", v.Reasons)
	}

	v = AdaptVerdict("policy", json.RawMessage(`{"violated": true, "severity": 2, "reasons": ["borderline"]}`))
	if v.Severity != 2 {
		t.Errorf("Severity = %d, want upstream value 2", v.Severity)
	}

	v = AdaptVerdict("policy", json.RawMessage(`{"violated": false}`))
	if v.Outcome != OutcomePass {
		t.Errorf("Outcome = %q, want pass", v.Outcome)
	}
}

func TestAdaptPII(t *testing.T) {
	body := `{"status": "flagged", "entities": [
		{"type": "EMAIL", "value": "jane@example.com", "start": 12, "end": 28, "score": 0.99},
		{"type": "PHONE", "value": "555-0100", "start": 40, "end": 48, "score": 0.9, "replacement": "[TEL]"}
	]}`
	v := AdaptVerdict("pii", json.RawMessage(body))
	if v.Outcome != OutcomeFlagged || v.Severity != 3 {
		t.Fatalf("Outcome/Severity = %q/%d", v.Outcome, v.Severity)
	}
	if len(v.Spans) != 2 {
		t.Fatalf("Spans = %v, want 2", v.Spans)
	}
	if v.Spans[0].Replacement != "[EMAIL]" {
		t.Errorf("default replacement = %q, want [EMAIL]", v.Spans[0].Replacement)
	}
	if v.Spans[1].Replacement != "[TEL]" {
		t.Errorf("explicit replacement = %q, want [TEL]", v.Spans[1].Replacement)
	}
	if len(v.Reasons) != 2 || v.Reasons[0] != "pii:email" {
		t.Errorf("Reasons = %v", v.Reasons)
	}
}

func TestAdaptPIIOverlappingEntitiesMerged(t *testing.T) {
	body := `{"entities": [
		{"type": "NAME", "start": 0, "end": 6},
		{"type": "NAME", "start": 4, "end": 10}
	]}`
	v := AdaptVerdict("pii", json.RawMessage(body))
	if len(v.Spans) != 1 {
		t.Fatalf("Spans = %v, want merged single span", v.Spans)
	}
	if v.Spans[0].Start != 0 || v.Spans[0].End != 10 {
		t.Errorf("merged span = %+v, want [0,10)", v.Spans[0])
	}
}

func TestAdaptSecrets(t *testing.T) {
	body := `{"status": "blocked", "detections": [
		{"category": "api_key", "severity": 5, "start": 0, "end": 20}
	]}`
	v := AdaptVerdict("secrets", json.RawMessage(body))
	if v.Outcome != OutcomeFlagged {
		t.Fatalf("Outcome = %q, want flagged", v.Outcome)
	}
	if v.Severity != 4 {
		t.Errorf("Severity = %d, want upstream 5 clamped to 4", v.Severity)
	}
	if v.Spans[0].Replacement != "[REDACTED]" {
		t.Errorf("Replacement = %q, want [REDACTED]", v.Spans[0].Replacement)
	}
	if v.Reasons[0] != "secrets:api_key" {
		t.Errorf("Reasons = %v", v.Reasons)
	}
}

func TestAdaptJailbreakEnhancedAndLegacy(t *testing.T) {
	v := AdaptVerdict("jailbreak", json.RawMessage(`{"prediction": "jailbreak", "confidence": 0.97}`))
	if v.Outcome != OutcomeFlagged || v.Severity != 4 {
		t.Errorf("enhanced: Outcome/Severity = %q/%d, want flagged/4", v.Outcome, v.Severity)
	}

	v = AdaptVerdict("jailbreak", json.RawMessage(`{"prediction": "benign", "confidence": 0.2}`))
	if v.Outcome != OutcomePass {
		t.Errorf("enhanced benign: Outcome = %q, want pass", v.Outcome)
	}

	v = AdaptVerdict("jailbreak", json.RawMessage(`{"status": "blocked"}`))
	if v.Outcome != OutcomeFlagged || v.Severity != 4 {
		t.Errorf("legacy: Outcome/Severity = %q/%d, want flagged/4", v.Outcome, v.Severity)
	}

	v = AdaptVerdict("jailbreak", json.RawMessage(`{"status": "pass"}`))
	if v.Outcome != OutcomePass {
		t.Errorf("legacy pass: Outcome = %q, want pass", v.Outcome)
	}
}

func TestAdaptToxicityAndBiasSeverities(t *testing.T) {
	v := AdaptVerdict("toxicity", json.RawMessage(`{"status": "flagged", "score": 0.91, "categories": ["insult"]}`))
	if v.Severity != 3 || v.Reasons[0] != "toxicity:insult" {
		t.Errorf("toxicity: Severity=%d Reasons=%v", v.Severity, v.Reasons)
	}

	v = AdaptVerdict("bias", json.RawMessage(`{"status": "flagged", "score": 0.8}`))
	if v.Severity != 2 {
		t.Errorf("bias: Severity = %d, want 2", v.Severity)
	}
	if len(v.Reasons) != 1 {
		t.Errorf("bias: score-only body should synthesize one reason, got %v", v.Reasons)
	}
}

func TestAdaptStatusVariantsNormalized(t *testing.T) {
	for _, status := range []string{"blocked", "FLAGGED", "violated", "fail", "unsafe"} {
		v := AdaptVerdict("toxicity", json.RawMessage(`{"status": "`+status+`"}`))
		if v.Outcome != OutcomeFlagged {
			t.Errorf("status %q: Outcome = %q, want flagged", status, v.Outcome)
		}
	}
	for _, status := range []string{"pass", "ok", "clean", ""} {
		v := AdaptVerdict("toxicity", json.RawMessage(`{"status": "`+status+`"}`))
		if v.Outcome != OutcomePass {
			t.Errorf("status %q: Outcome = %q, want pass", status, v.Outcome)
		}
	}
}

func TestAdaptGibberishLabels(t *testing.T) {
	cases := []struct {
		label        string
		wantSeverity int
	}{
		{"mild gibberish", 1},
		{"word salad", 2},
		{"noise", 2},
	}
	for _, tc := range cases {
		body := `{"is_gibberish": true, "label": "` + tc.label + `", "confidence": 0.9}`
		v := AdaptVerdict("gibberish", json.RawMessage(body))
		if v.Outcome != OutcomeFlagged || v.Severity != tc.wantSeverity {
			t.Errorf("label %q: Outcome/Severity = %q/%d, want flagged/%d",
				tc.label, v.Outcome, v.Severity, tc.wantSeverity)
		}
	}

	v := AdaptVerdict("gibberish", json.RawMessage(`{"is_gibberish": false, "label": "clean"}`))
	if v.Outcome != OutcomePass {
		t.Errorf("clean: Outcome = %q, want pass", v.Outcome)
	}
}

func TestAdaptBrandAndFormat(t *testing.T) {
	v := AdaptVerdict("brand", json.RawMessage(`{"status": "flagged", "matched_terms": ["AcmeCorp"]}`))
	if v.Severity != 3 || v.Reasons[0] != "brand:acmecorp" {
		t.Errorf("brand: Severity=%d Reasons=%v", v.Severity, v.Reasons)
	}

	v = AdaptVerdict("format", json.RawMessage(`{"status": "fail", "issues": ["not valid json"]}`))
	if v.Severity != 1 || v.Reasons[0] != "format:not valid json" {
		t.Errorf("format: Severity=%d Reasons=%v", v.Severity, v.Reasons)
	}
}

func TestAdaptMalformedBodiesNeverPanic(t *testing.T) {
	bodies := []string{
		`not json at all`,
		`{"violated": "maybe"}`,
		`[]`,
		`42`,
	}
	for _, name := range AnalyzerPriority {
		for _, body := range bodies {
			v := AdaptVerdict(name, json.RawMessage(body))
			if v.Outcome != OutcomeError && v.Outcome != OutcomePass && v.Outcome != OutcomeFlagged {
				t.Errorf("%s/%q: unexpected outcome %q", name, body, v.Outcome)
			}
			if string(v.Raw) != body {
				t.Errorf("%s: raw body not preserved", name)
			}
		}
	}
}

func TestAdaptUnknownAnalyzerIsError(t *testing.T) {
	v := AdaptVerdict("sentiment", json.RawMessage(`{}`))
	if v.Outcome != OutcomeError {
		t.Errorf("Outcome = %q, want error", v.Outcome)
	}
}
