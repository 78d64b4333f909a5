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

// Decision is the outcome of verdict aggregation: the overall status plus
// everything the sanitizer and response assembly need.
type Decision struct {
	Status            string
	BlockedCategories []string
	Reasons           []string

	// Spans is the union of flagged spans from contributing verdicts,
	// merged and sorted, ready for mitigation.
	Spans []Span
}

// Aggregate merges the per-analyzer verdicts into one Decision.
//
// # Description
//
// The rules, applied in order:
//
//   - Any verdict with severity 4 and outcome flagged or short_circuited
//     forces status "blocked".
//   - Otherwise any flagged verdict with spans, or with severity >= 2,
//     forces status "fixed". A flagged verdict below that bar (e.g. mild
//     gibberish with no spans) is advisory only and does not change the
//     status.
//   - Otherwise, if every verdict errored, status is "error".
//   - Otherwise status is "pass".
//
// Assembly is deterministic: analyzers are visited in canonical priority
// order, so identical verdicts always produce byte-identical responses.
// blocked_categories lists the analyzers that contributed to a non-pass
// status; reasons concatenates contributing analyzers' reasons,
// de-duplicated with first occurrence preserved.
func Aggregate(verdicts map[string]Verdict) Decision {
	var (
		blocked      bool
		contributors []string
		reasons      []string
		spans        []Span
		errorCount   int
		total        int
	)
	seenReason := map[string]bool{}

	addReasons := func(rs []string) {
		for _, r := range rs {
			if !seenReason[r] {
				seenReason[r] = true
				reasons = append(reasons, r)
			}
		}
	}

	for _, name := range AnalyzerPriority {
		v, ok := verdicts[name]
		if !ok {
			continue
		}
		total++
		if v.Outcome == OutcomeError {
			errorCount++
		}

		mustBlock := v.Severity == 4 &&
			(v.Outcome == OutcomeFlagged || v.Outcome == OutcomeShortCircuited)
		mitigates := v.Outcome == OutcomeFlagged && (len(v.Spans) > 0 || v.Severity >= 2)

		if !mustBlock && !mitigates {
			continue
		}
		blocked = blocked || mustBlock
		contributors = append(contributors, name)
		addReasons(v.Reasons)
		spans = append(spans, v.Spans...)
	}

	status := StatusPass
	switch {
	case blocked:
		status = StatusBlocked
	case len(contributors) > 0:
		status = StatusFixed
	case total > 0 && errorCount == total:
		status = StatusError
		for _, name := range AnalyzerPriority {
			if v, ok := verdicts[name]; ok {
				addReasons(v.Reasons)
			}
		}
	}

	return Decision{
		Status:            status,
		BlockedCategories: contributors,
		Reasons:           reasons,
		Spans:             mergeSpans(spans),
	}
}
