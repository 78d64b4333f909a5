// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy implements the local fallback keyword classifier that
// stands in for the policy analyzer when its circuit breaker is open.
package policy

import (
	"fmt"

	"github.com/AleutianAI/AleutianGate/services/gateway/policy/enforcement"
	"gopkg.in/yaml.v3"
)

// Fallback is the last-resort classifier. It holds the compiled rules and
// provides a single Classify operation.
//
// Thread Safety: Safe for concurrent use after construction; the rule set
// is immutable.
type Fallback struct {
	Rules []Rule
}

// NewFallback initializes the fallback classifier from the rules embedded
// in the binary via the enforcement package.
//
// It performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts rules by priority.
//
// Returns an error if the embedded YAML is malformed or contains an
// invalid regex.
func NewFallback() (*Fallback, error) {
	var file FallbackRuleFile
	if err := yaml.Unmarshal(enforcement.FallbackPatterns, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded fallback rules: %w", err)
	}

	if err := file.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a fallback regex: %w", err)
	}

	file.SortByPriority()

	return &Fallback{Rules: file.Rules}, nil
}

// Classify checks the text against the fallback rules.
//
// It iterates through rules by priority and returns the name of the first
// rule whose patterns match. The boolean is false when nothing matched.
func (f *Fallback) Classify(text string) (string, bool) {
	for _, rule := range f.Rules {
		for _, pattern := range rule.Patterns {
			if pattern.compiled.MatchString(text) {
				return rule.Name, true
			}
		}
	}
	return "", false
}
