// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package policy

import (
	"fmt"
	"regexp"
	"sort"
)

// FallbackRuleFile mirrors the structure of the embedded rules YAML.
type FallbackRuleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Rule is one fallback category with its match patterns.
type Rule struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Pattern is a single regex belonging to a rule.
type Pattern struct {
	Id          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`

	compiled *regexp.Regexp `yaml:"-"`
}

// CompileRegexes compiles every pattern in the file, failing fast on the
// first invalid regex.
func (f *FallbackRuleFile) CompileRegexes() error {
	for i := range f.Rules {
		for j := range f.Rules[i].Patterns {
			pattern := &f.Rules[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
			}
			pattern.compiled = re
		}
	}
	return nil
}

// SortByPriority orders rules from highest to lowest priority so the
// highest-priority matching rule wins.
func (f *FallbackRuleFile) SortByPriority() {
	sort.Slice(f.Rules, func(i, j int) bool {
		return f.Rules[i].Priority > f.Rules[j].Priority
	})
}
