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
	"sort"
	"strings"
	"unicode"
)

// Sanitize builds clean_text from the original text and the aggregated
// decision.
//
// # Description
//
// Exactly one action applies:
//
//  1. status "blocked": clean_text is empty, regardless of the action.
//  2. status "pass" or "error": clean_text is the text unchanged.
//  3. status "fixed": the requested action runs against the merged spans.
//
// Span indices address UTF-8 code points of the original text, never
// bytes, so multibyte characters are never split. Spans arrive already
// merged and sorted from Aggregate.
func Sanitize(text string, decision Decision, action Action, maskToken string) string {
	switch decision.Status {
	case StatusBlocked:
		return ""
	case StatusPass, StatusError:
		return text
	}

	switch action {
	case ActionPass:
		return text
	case ActionRefrain:
		return ""
	case ActionReask:
		return ReaskPrompt
	case ActionMask:
		return applySpans(text, decision.Spans, func(Span) string { return maskToken }, false)
	default: // ActionFilter
		return applySpans(text, decision.Spans, func(s Span) string { return s.Replacement }, true)
	}
}

// applySpans rebuilds text in a single pass, substituting each span with
// the string produced by repl. When collapse is true and a span is
// removed outright, whitespace adjacent to the removal collapses to a
// single space.
func applySpans(text string, spans []Span, repl func(Span) string, collapse bool) string {
	if len(spans) == 0 {
		return text
	}

	runes := []rune(text)
	var b strings.Builder
	cursor := 0

	for _, s := range spans {
		start, end := s.Start, s.End
		if start < 0 {
			start = 0
		}
		if end > len(runes) {
			end = len(runes)
		}
		if start >= end || start < cursor {
			continue
		}

		b.WriteString(string(runes[cursor:start]))
		replacement := repl(s)
		b.WriteString(replacement)
		cursor = end

		if collapse && replacement == "" {
			out := b.String()
			if strings.HasSuffix(out, " ") || out == "" {
				for cursor < len(runes) && unicode.IsSpace(runes[cursor]) {
					cursor++
				}
			}
		}
	}
	b.WriteString(string(runes[cursor:]))
	return b.String()
}

// mergeSpans sorts spans by start and merges overlaps, so every region of
// the original text is replaced at most once even when multiple analyzers
// flag it. When overlapping spans disagree on the replacement, the
// earlier-starting span wins; an empty replacement yields to a non-empty
// one from the span it swallowed.
func mergeSpans(spans []Span) []Span {
	if len(spans) <= 1 {
		return spans
	}

	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End > sorted[j].End
	})

	merged := sorted[:1]
	for _, s := range sorted[1:] {
		last := &merged[len(merged)-1]
		if s.Start < last.End {
			if s.End > last.End {
				last.End = s.End
			}
			if last.Replacement == "" {
				last.Replacement = s.Replacement
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}
