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
	"strings"
	"unicode"
	"unicode/utf8"
)

// credentialKeywords hint that the text may carry secrets or credentials.
var credentialKeywords = []string{"key", "token", "password", "secret", "sk-", "api"}

// jailbreakSentinels are substrings characteristic of prompt-injection
// attempts. All but "DAN" are matched case-insensitively; "DAN" is matched
// exactly to avoid flagging the given name.
var jailbreakSentinels = []string{"ignore", "previous instructions", "system prompt", "developer mode"}

// Route chooses the set of analyzers to invoke for a request and the
// effective mitigation action.
//
// # Description
//
// The routing policy is layered:
//
//  1. A heuristic default set is computed from lightweight inspection of
//     the text (always including policy).
//  2. Explicit per-check flags win: checks[name]=true adds the analyzer,
//     checks[name]=false removes it, regardless of the heuristics.
//  3. If the result is empty, the plan falls back to {policy} alone; a
//     plan is never empty.
//
// Analyzers in the returned plan are in canonical priority order, which
// fixes the tie-break order in aggregation and reason assembly.
//
// Route is pure and deterministic; the advisory LLM router, when enabled,
// runs later and may only add analyzers on top of this plan.
func Route(req NormalizedRequest) Plan {
	selected := heuristicSet(req.Text)

	for name, flag := range req.Checks {
		if flag == nil {
			continue
		}
		selected[name] = *flag
	}

	var names []string
	for _, name := range AnalyzerPriority {
		if selected[name] {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		names = []string{AnalyzerPolicy}
	}

	return Plan{Analyzers: names, Action: req.Action}
}

// heuristicSet inspects the text and returns the default analyzer set.
// Format and brand run only on explicit request, so they never appear here.
func heuristicSet(text string) map[string]bool {
	selected := map[string]bool{AnalyzerPolicy: true}

	lower := strings.ToLower(text)
	runeLen := utf8.RuneCountInString(text)

	if looksCredentialBearing(text, lower, runeLen) {
		selected[AnalyzerPII] = true
		selected[AnalyzerSecrets] = true
	}

	if hasAlphabeticWords(text) && len(strings.Fields(text)) >= 3 {
		selected[AnalyzerToxicity] = true
		selected[AnalyzerBias] = true
	}

	if looksJailbreaky(text, lower, runeLen) {
		selected[AnalyzerJailbreak] = true
	}

	if runeLen >= 8 && nonWhitespaceLen(text) < 200 {
		selected[AnalyzerGibberish] = true
	}

	return selected
}

// looksCredentialBearing reports whether the text plausibly contains
// contact details, identifiers, or credentials.
func looksCredentialBearing(text, lower string, runeLen int) bool {
	if strings.ContainsRune(text, '@') {
		return true
	}
	if hasConsecutiveDigits(text, 3) {
		return true
	}
	for _, kw := range credentialKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return runeLen > 40
}

// looksJailbreaky reports whether the text carries prompt-injection
// sentinels or is long enough to warrant a jailbreak check.
func looksJailbreaky(text, lower string, runeLen int) bool {
	for _, s := range jailbreakSentinels {
		if strings.Contains(lower, s) {
			return true
		}
	}
	if strings.Contains(text, "DAN") {
		return true
	}
	return runeLen >= 80
}

// hasConsecutiveDigits reports whether text contains a run of at least n
// consecutive decimal digits.
func hasConsecutiveDigits(text string, n int) bool {
	run := 0
	for _, r := range text {
		if unicode.IsDigit(r) {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// hasAlphabeticWords reports whether at least one whitespace-delimited
// token contains a letter.
func hasAlphabeticWords(text string) bool {
	for _, tok := range strings.Fields(text) {
		for _, r := range tok {
			if unicode.IsLetter(r) {
				return true
			}
		}
	}
	return false
}

// nonWhitespaceLen counts the non-whitespace code points in text.
func nonWhitespaceLen(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
