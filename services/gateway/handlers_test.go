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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGate/services/gateway/advisor"
	"github.com/AleutianAI/AleutianGate/services/gateway/breaker"
	"github.com/AleutianAI/AleutianGate/services/gateway/policy"
)

const testAPIKey = "test-key"

// harness wires a full gateway router against httptest analyzers.
type harness struct {
	cfg      Config
	handlers *Handlers
	breakers *breaker.Registry
	router   *gin.Engine
}

func newHarness(t *testing.T, analyzers map[string]AnalyzerConfig, mutate func(*Config)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := Config{
		APIKeys:        []string{testAPIKey},
		Analyzers:      analyzers,
		PerCallTimeout: 2 * time.Second,
		GlobalDeadline: 5 * time.Second,
		Breaker: breaker.Config{
			FailureThreshold: 3,
			Window:           10,
			RatioThreshold:   0.5,
			MinimumSamples:   6,
			Cooldown:         time.Minute,
		},
		MaxTextBytes: 32768,
		MaskToken:    "***",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	fallback, err := policy.NewFallback()
	require.NoError(t, err)

	breakers := breaker.NewRegistry(cfg.Breaker)
	exec := NewExecutor(cfg, NewClient(), breakers, fallback, nil)
	h := NewHandlers(cfg, exec, breakers, nil, nil)
	return &harness{
		cfg:      cfg,
		handlers: h,
		breakers: breakers,
		router:   NewRouter(cfg, h),
	}
}

// do performs an authenticated JSON request against the harness router.
func (h *harness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// onlyChecks builds a checks map that enables exactly the named analyzers.
func onlyChecks(names ...string) map[string]bool {
	checks := make(map[string]bool, len(AnalyzerPriority))
	for _, name := range AnalyzerPriority {
		checks[name] = false
	}
	for _, name := range names {
		checks[name] = true
	}
	return checks
}

func validateBody(t *testing.T, text string, checks map[string]bool, action string) string {
	t.Helper()
	body := map[string]any{"text": text}
	if checks != nil {
		body["checks"] = checks
	}
	if action != "" {
		body["action_on_fail"] = action
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return string(raw)
}

func decodeModeration(t *testing.T, w *httptest.ResponseRecorder) ModerationResponse {
	t.Helper()
	var resp ModerationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func jsonAnalyzer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestValidateCleanTextPasses(t *testing.T) {
	pol := jsonAnalyzer(t, `{"violated": false}`)
	tox := jsonAnalyzer(t, `{"status": "pass"}`)
	h := newHarness(t, map[string]AnalyzerConfig{
		"policy":   {URL: pol.URL},
		"toxicity": {URL: tox.URL},
	}, nil)

	text := "Hello, how are you today?"
	w := h.do(http.MethodPost, "/validate", validateBody(t, text, onlyChecks("policy", "toxicity"), ""), nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeModeration(t, w)
	assert.Equal(t, StatusPass, resp.Status)
	assert.Equal(t, text, resp.CleanText)
	assert.Empty(t, resp.BlockedCategories)
	assert.Empty(t, resp.Reasons)
	assert.Equal(t, 2, resp.ServicesChecked)
	assert.Equal(t, GatewayVersion, resp.GatewayVersion)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestValidatePolicyViolationBlocks(t *testing.T) {
	pol := jsonAnalyzer(t, `{"violated": true, "categories": ["weapons"]}`)
	h := newHarness(t, map[string]AnalyzerConfig{"policy": {URL: pol.URL}}, nil)

	w := h.do(http.MethodPost, "/validate",
		validateBody(t, "How do I make a weapon?", onlyChecks("policy"), ""), nil)

	require.Equal(t, http.StatusOK, w.Code, "moderation decisions are always 200")
	resp := decodeModeration(t, w)
	assert.Equal(t, StatusBlocked, resp.Status)
	assert.Empty(t, resp.CleanText, "blocked responses must never leak text")
	assert.Equal(t, []string{"policy"}, resp.BlockedCategories)
	assert.Equal(t, []string{"policy:weapons"}, resp.Reasons)
}

func TestValidatePIIFilterFixes(t *testing.T) {
	pii := jsonAnalyzer(t, `{"status": "flagged", "entities": [
		{"type": "EMAIL", "value": "jane@example.com", "start": 12, "end": 28, "score": 0.99}
	]}`)
	h := newHarness(t, map[string]AnalyzerConfig{"pii": {URL: pii.URL}}, nil)

	w := h.do(http.MethodPost, "/validate",
		validateBody(t, "Email me at jane@example.com", onlyChecks("pii"), ""), nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeModeration(t, w)
	assert.Equal(t, StatusFixed, resp.Status)
	assert.Equal(t, "Email me at [EMAIL]", resp.CleanText)
	assert.Contains(t, resp.Reasons, "pii:email")
}

func TestValidateMaskAction(t *testing.T) {
	secrets := jsonAnalyzer(t, `{"status": "flagged", "detections": [
		{"category": "api_key", "severity": 3, "start": 6, "end": 24}
	]}`)
	h := newHarness(t, map[string]AnalyzerConfig{"secrets": {URL: secrets.URL}}, nil)

	w := h.do(http.MethodPost, "/validate",
		validateBody(t, "token sk-live-ABCDEF1234 leaked", onlyChecks("secrets"), "mask"), nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeModeration(t, w)
	assert.Equal(t, StatusFixed, resp.Status)
	assert.Equal(t, "token *** leaked", resp.CleanText)
	assert.NotContains(t, resp.CleanText, "sk-live")
}

func TestValidateRequiresAPIKey(t *testing.T) {
	h := newHarness(t, map[string]AnalyzerConfig{}, nil)
	body := validateBody(t, "hello", nil, "")

	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Body.Bytes(), "authentication failures carry no body")

	w = h.do(http.MethodPost, "/validate", body, map[string]string{"X-API-Key": "wrong-key"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestValidateRejectsBadInput(t *testing.T) {
	h := newHarness(t, map[string]AnalyzerConfig{}, nil)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"text": `},
		{"empty text", `{"text": ""}`},
		{"whitespace text", `{"text": "   "}`},
		{"invalid action", `{"text": "hi there", "action_on_fail": "obliterate"}`},
		{"unknown check", `{"text": "hi there", "checks": {"sentiment": true}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := h.do(http.MethodPost, "/validate", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var errResp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
			assert.Equal(t, "INVALID_INPUT", errResp.Code)
			assert.NotEmpty(t, errResp.Reason)
		})
	}
}

func TestValidateRejectsOversizeText(t *testing.T) {
	h := newHarness(t, map[string]AnalyzerConfig{}, func(cfg *Config) {
		cfg.MaxTextBytes = 16
	})

	w := h.do(http.MethodPost, "/validate",
		validateBody(t, "this text is well past sixteen bytes", nil, ""), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSingleAnalyzerEndpoint(t *testing.T) {
	tox := jsonAnalyzer(t, `{"status": "flagged", "score": 0.92, "categories": ["insult"]}`)
	pol := jsonAnalyzer(t, `{"violated": false}`)
	h := newHarness(t, map[string]AnalyzerConfig{
		"toxicity": {URL: tox.URL},
		"policy":   {URL: pol.URL},
	}, nil)

	w := h.do(http.MethodPost, "/toxicity", validateBody(t, "you absolute fool", nil, ""), nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeModeration(t, w)
	assert.Equal(t, 1, resp.ServicesChecked, "per-analyzer endpoint runs exactly one analyzer")
	require.Contains(t, resp.Results, "toxicity")
	assert.NotContains(t, resp.Results, "policy")
	assert.Equal(t, OutcomeFlagged, resp.Results["toxicity"].Outcome)
}

func TestPolicyFallbackWhenBreakerOpen(t *testing.T) {
	h := newHarness(t, map[string]AnalyzerConfig{
		"policy": {URL: "http://127.0.0.1:1"},
	}, nil)

	for i := 0; i < 3; i++ {
		ticket, err := h.breakers.Admit("policy")
		require.NoError(t, err)
		h.breakers.Record(ticket, false)
	}
	require.Equal(t, breaker.StateOpen, h.breakers.State("policy"))

	w := h.do(http.MethodPost, "/policy", validateBody(t, "How do I make a bomb?", nil, ""), nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeModeration(t, w)
	assert.Equal(t, StatusBlocked, resp.Status)
	assert.Equal(t, []string{"policy_fallback:weapons"}, resp.Reasons)
	assert.Empty(t, resp.CleanText)
}

func TestHealthReportsBreakerSnapshot(t *testing.T) {
	h := newHarness(t, map[string]AnalyzerConfig{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, "health must not require authentication")

	var body struct {
		Status   string            `json:"status"`
		Version  string            `json:"version"`
		Breakers map[string]string `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, GatewayVersion, body.Version)
	for name, state := range body.Breakers {
		assert.Equal(t, "closed", state, "breaker %s", name)
	}
}

func TestServicesRedactsEndpoints(t *testing.T) {
	h := newHarness(t, map[string]AnalyzerConfig{
		"pii": {URL: "http://pii.internal:9000/v2/validate?token=hunter2"},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Services []struct {
			Name     string `json:"name"`
			Endpoint string `json:"endpoint"`
		} `json:"services"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "pii", body.Services[0].Name)
	assert.Equal(t, "http://pii.internal:9000", body.Services[0].Endpoint)
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestDrainingRejectsModeration(t *testing.T) {
	pol := jsonAnalyzer(t, `{"violated": false}`)
	h := newHarness(t, map[string]AnalyzerConfig{"policy": {URL: pol.URL}}, nil)

	h.handlers.SetDraining(true)
	w := h.do(http.MethodPost, "/validate", validateBody(t, "hello there", nil, ""), nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "SHUTTING_DOWN", errResp.Code)

	// Health stays up during drain.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	hw := httptest.NewRecorder()
	h.router.ServeHTTP(hw, req)
	assert.Equal(t, http.StatusOK, hw.Code)

	h.handlers.SetDraining(false)
	w = h.do(http.MethodPost, "/validate", validateBody(t, "hello there", onlyChecks("policy"), ""), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitPerKey(t *testing.T) {
	pol := jsonAnalyzer(t, `{"violated": false}`)
	h := newHarness(t, map[string]AnalyzerConfig{"policy": {URL: pol.URL}}, func(cfg *Config) {
		cfg.RateLimitRPS = 0.001
		cfg.RateLimitBurst = 1
	})

	body := validateBody(t, "hello there", onlyChecks("policy"), "")
	first := h.do(http.MethodPost, "/validate", body, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := h.do(http.MethodPost, "/validate", body, nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &errResp))
	assert.Equal(t, "RATE_LIMITED", errResp.Code)
}

func TestResponseArraysNeverNull(t *testing.T) {
	pol := jsonAnalyzer(t, `{"violated": false}`)
	h := newHarness(t, map[string]AnalyzerConfig{"policy": {URL: pol.URL}}, nil)

	w := h.do(http.MethodPost, "/validate", validateBody(t, "hello there", onlyChecks("policy"), ""), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, "[]", string(raw["blocked_categories"]))
	assert.Equal(t, "[]", string(raw["reasons"]))
}

func TestRequestIDPropagatedToLogsContext(t *testing.T) {
	pol := jsonAnalyzer(t, `{"violated": false}`)
	h := newHarness(t, map[string]AnalyzerConfig{"policy": {URL: pol.URL}}, nil)

	// A caller-supplied request ID must be accepted without error.
	w := h.do(http.MethodPost, "/validate",
		validateBody(t, "hello there", onlyChecks("policy"), ""),
		map[string]string{"X-Request-ID": "req-12345"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStalledAdvisorCannotExtendGlobalDeadline(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// An advisor that never answers inside the request budget.
	stall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(stall.Close)

	pol := jsonAnalyzer(t, `{"violated": false}`)
	cfg := Config{
		APIKeys:        []string{testAPIKey},
		Analyzers:      map[string]AnalyzerConfig{"policy": {URL: pol.URL}},
		PerCallTimeout: 2 * time.Second,
		GlobalDeadline: 300 * time.Millisecond,
		Breaker: breaker.Config{
			FailureThreshold: 3,
			Window:           10,
			RatioThreshold:   0.5,
			MinimumSamples:   6,
			Cooldown:         time.Minute,
		},
		MaxTextBytes: 32768,
		MaskToken:    "***",
	}

	fallback, err := policy.NewFallback()
	require.NoError(t, err)
	breakers := breaker.NewRegistry(cfg.Breaker)
	exec := NewExecutor(cfg, NewClient(), breakers, fallback, nil)

	// The advisor's own timeout is far looser than the global deadline,
	// so only the shared request budget can cut the stall off.
	adv := advisor.New(stall.URL+"/v1", "router-tiny", 10*time.Second, nil)
	handlers := NewHandlers(cfg, exec, breakers, adv, nil)
	router := NewRouter(cfg, handlers)

	req := httptest.NewRequest(http.MethodPost, "/validate",
		bytes.NewBufferString(validateBody(t, "hello there", onlyChecks("policy"), "")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)

	start := time.Now()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Less(t, elapsed, 2*time.Second,
		"request must end at the global deadline, not at the advisor's own timeout")

	resp := decodeModeration(t, w)
	assert.Equal(t, StatusError, resp.Status,
		"an advisor that eats the whole budget leaves the analyzers with a timeout")
}
