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
	"reflect"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.PerCallTimeout != 4*time.Second {
		t.Errorf("PerCallTimeout = %v, want 4s", cfg.PerCallTimeout)
	}
	if cfg.GlobalDeadline != 8*time.Second {
		t.Errorf("GlobalDeadline = %v, want 8s", cfg.GlobalDeadline)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.Window != 20 {
		t.Errorf("Breaker = %+v, want threshold 5 window 20", cfg.Breaker)
	}
	if cfg.Breaker.Cooldown != 30*time.Second {
		t.Errorf("Cooldown = %v, want 30s", cfg.Breaker.Cooldown)
	}
	if cfg.MaskToken != "***" {
		t.Errorf("MaskToken = %q, want ***", cfg.MaskToken)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "9999")
	t.Setenv("GATEWAY_API_KEYS", "alpha, beta ,,gamma")
	t.Setenv("PII_URL", "http://pii.internal:9000/validate")
	t.Setenv("PII_API_KEY", "pii-secret")
	t.Setenv("PII_TIMEOUT_MS", "750")
	t.Setenv("BREAKER_COOLDOWN_MS", "5000")

	cfg := LoadConfig()

	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if !reflect.DeepEqual(cfg.APIKeys, []string{"alpha", "beta", "gamma"}) {
		t.Errorf("APIKeys = %v", cfg.APIKeys)
	}
	pii := cfg.Analyzers["pii"]
	if pii.URL != "http://pii.internal:9000/validate" || pii.APIKey != "pii-secret" {
		t.Errorf("pii config = %+v", pii)
	}
	if cfg.AnalyzerTimeout("pii") != 750*time.Millisecond {
		t.Errorf("AnalyzerTimeout(pii) = %v, want 750ms", cfg.AnalyzerTimeout("pii"))
	}
	if cfg.AnalyzerTimeout("toxicity") != cfg.PerCallTimeout {
		t.Errorf("unset analyzer timeout should fall back to PerCallTimeout")
	}
	if cfg.Breaker.Cooldown != 5*time.Second {
		t.Errorf("Cooldown = %v, want 5s", cfg.Breaker.Cooldown)
	}
}

func TestLoadConfigInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "not-a-number")
	t.Setenv("BREAKER_RATIO_THRESHOLD", "half")

	cfg := LoadConfig()
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want default 8080 on parse failure", cfg.Port)
	}
	if cfg.Breaker.RatioThreshold != 0.5 {
		t.Errorf("RatioThreshold = %v, want default 0.5", cfg.Breaker.RatioThreshold)
	}
}

func TestLoadConfigRejectsMalformedURLs(t *testing.T) {
	t.Setenv("PII_URL", "not a url at all")
	t.Setenv("TOXICITY_URL", "http://tox.internal:8200")
	t.Setenv("ADVISOR_BASE_URL", "::also-not-a-url")

	cfg := LoadConfig()
	if cfg.Analyzers["pii"].URL != "" {
		t.Errorf("malformed PII URL should be dropped, got %q", cfg.Analyzers["pii"].URL)
	}
	if cfg.Analyzers["toxicity"].URL == "" {
		t.Error("valid toxicity URL should survive")
	}
	if cfg.AdvisorBaseURL != "" {
		t.Errorf("malformed advisor URL should disable the advisor, got %q", cfg.AdvisorBaseURL)
	}
}

func TestConfiguredAnalyzersOrdered(t *testing.T) {
	cfg := Config{Analyzers: map[string]AnalyzerConfig{
		"gibberish": {URL: "http://g:1"},
		"policy":    {URL: "http://p:1"},
		"pii":       {URL: "http://pii:1"},
	}}
	got := cfg.ConfiguredAnalyzers()
	want := []string{"policy", "pii", "gibberish"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ConfiguredAnalyzers() = %v, want %v", got, want)
	}
}
