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
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianGate/services/gateway/breaker"
)

// validate checks URL-shaped configuration values at startup.
var validate = validator.New()

// AnalyzerConfig is the per-analyzer outbound configuration.
type AnalyzerConfig struct {
	// URL is the analyzer's validate endpoint. Empty means not configured;
	// planned calls to an unconfigured analyzer yield a skipped verdict.
	URL string

	// APIKey is the shared secret forwarded on the X-API-Key header.
	APIKey string

	// Timeout overrides the default per-call timeout when non-zero.
	Timeout time.Duration
}

// Config is the gateway configuration. Loaded once at startup from the
// environment and treated as immutable afterwards; live reload is
// deliberately unsupported.
type Config struct {
	// Port is the main HTTP listen port.
	Port int

	// MetricsPort is the Prometheus listener port.
	MetricsPort int

	// APIKeys are the shared secrets accepted on inbound requests.
	APIKeys []string

	// Analyzers maps analyzer name to its outbound configuration.
	Analyzers map[string]AnalyzerConfig

	// PerCallTimeout is the default per-outbound-call deadline.
	PerCallTimeout time.Duration

	// GlobalDeadline bounds the whole fan-out for one request.
	GlobalDeadline time.Duration

	// Breaker tunes the per-analyzer circuit breakers.
	Breaker breaker.Config

	// MaxTextBytes rejects oversize text with INVALID_INPUT.
	MaxTextBytes int

	// MaskToken replaces flagged spans under the mask action.
	MaskToken string

	// RateLimitRPS is the per-key sustained request rate. 0 disables
	// rate limiting.
	RateLimitRPS float64

	// RateLimitBurst is the per-key burst allowance.
	RateLimitBurst int

	// AdvisorBaseURL enables the advisory LLM router when non-empty.
	AdvisorBaseURL string

	// AdvisorModel is the model name for advisory calls.
	AdvisorModel string

	// AdvisorTimeout bounds the advisory call; it spends from the same
	// global deadline as the fan-out.
	AdvisorTimeout time.Duration
}

// LoadConfig reads the gateway configuration from the environment,
// applying defaults for anything unset. Invalid numeric values fall
// back to the default with a warning rather than failing startup.
func LoadConfig() Config {
	cfg := Config{
		Port:           envInt("GATEWAY_PORT", 8080),
		MetricsPort:    envInt("GATEWAY_METRICS_PORT", 9090),
		APIKeys:        splitCSV(os.Getenv("GATEWAY_API_KEYS")),
		Analyzers:      make(map[string]AnalyzerConfig, len(AnalyzerPriority)),
		PerCallTimeout: envMillis("PER_CALL_TIMEOUT_MS", 4000),
		GlobalDeadline: envMillis("GLOBAL_DEADLINE_MS", 8000),
		Breaker: breaker.Config{
			FailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
			Window:           envInt("BREAKER_WINDOW", 20),
			RatioThreshold:   envFloat("BREAKER_RATIO_THRESHOLD", 0.5),
			MinimumSamples:   envInt("BREAKER_MINIMUM_SAMPLES", 10),
			Cooldown:         envMillis("BREAKER_COOLDOWN_MS", 30000),
		},
		MaxTextBytes:   envInt("MAX_TEXT_BYTES", 32768),
		MaskToken:      envString("MASK_TOKEN", "***"),
		RateLimitRPS:   envFloat("GATEWAY_RATE_LIMIT_RPS", 0),
		RateLimitBurst: envInt("GATEWAY_RATE_LIMIT_BURST", 10),
		AdvisorBaseURL: strings.TrimSuffix(os.Getenv("ADVISOR_BASE_URL"), "/"),
		AdvisorModel:   os.Getenv("ADVISOR_MODEL"),
		AdvisorTimeout: envMillis("ADVISOR_TIMEOUT_MS", 1500),
	}

	for _, name := range AnalyzerPriority {
		prefix := strings.ToUpper(name)
		ac := AnalyzerConfig{
			URL:    strings.Trim(os.Getenv(prefix+"_URL"), "\"' "),
			APIKey: os.Getenv(prefix + "_API_KEY"),
		}
		if ac.URL != "" {
			if err := validate.Var(ac.URL, "url"); err != nil {
				slog.Warn("Invalid analyzer URL, treating analyzer as unconfigured",
					"analyzer", name, "url", ac.URL)
				ac.URL = ""
			}
		}
		if ms := envInt(prefix+"_TIMEOUT_MS", 0); ms > 0 {
			ac.Timeout = time.Duration(ms) * time.Millisecond
		}
		cfg.Analyzers[name] = ac
	}

	if cfg.AdvisorBaseURL != "" {
		if err := validate.Var(cfg.AdvisorBaseURL, "url"); err != nil {
			slog.Warn("Invalid advisor base URL, disabling advisory routing", "url", cfg.AdvisorBaseURL)
			cfg.AdvisorBaseURL = ""
		}
	}

	if len(cfg.APIKeys) == 0 {
		slog.Warn("GATEWAY_API_KEYS not set, all inbound requests will be rejected")
	}

	return cfg
}

// ConfiguredAnalyzers returns the names of analyzers with an endpoint,
// in canonical priority order.
func (c Config) ConfiguredAnalyzers() []string {
	var names []string
	for _, name := range AnalyzerPriority {
		if c.Analyzers[name].URL != "" {
			names = append(names, name)
		}
	}
	return names
}

// AnalyzerTimeout returns the effective per-call timeout for an analyzer.
func (c Config) AnalyzerTimeout(name string) time.Duration {
	if ac, ok := c.Analyzers[name]; ok && ac.Timeout > 0 {
		return ac.Timeout
	}
	return c.PerCallTimeout
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		slog.Warn("Invalid float in environment, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return v
}

func envMillis(key string, defMs int) time.Duration {
	return time.Duration(envInt(key, defMs)) * time.Millisecond
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
