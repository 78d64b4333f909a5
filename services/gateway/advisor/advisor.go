// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package advisor implements the optional LLM-assisted router.
//
// The advisor is strictly additive: it may suggest extra analyzers for a
// request, but it never removes an analyzer chosen by the caller or by
// the heuristic router, and any advisor failure leaves the plan
// untouched. Its latency is budgeted inside the request's global
// deadline via its own short timeout.
package advisor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You route text to content-moderation analyzers.
Given the user text, reply with a comma-separated subset of these analyzer
names that should additionally inspect it: %s.
Reply with only the names, or "none".`

// Advisor suggests additional analyzers via an OpenAI-compatible
// chat-completion endpoint.
//
// Thread Safety: Safe for concurrent use.
type Advisor struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an advisor against an OpenAI-compatible base URL. Returns
// nil when baseURL is empty, which disables advisory routing.
func New(baseURL, model string, timeout time.Duration, logger *slog.Logger) *Advisor {
	if baseURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig("")
	cfg.BaseURL = baseURL
	return &Advisor{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

// Suggest returns analyzer names the advisor recommends adding for the
// text. Only names present in the known list are returned. Every failure
// path (timeout, transport, unparseable reply) returns nil; the advisor
// never degrades a request.
func (a *Advisor) Suggest(ctx context.Context, text string, known []string) []string {
	if a == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: strings.Replace(systemPrompt, "%s", strings.Join(known, ", "), 1),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		Temperature: 0,
		MaxTokens:   64,
	})
	if err != nil {
		a.logger.Debug("Advisor call failed, continuing without suggestions", "error", err)
		return nil
	}
	if len(resp.Choices) == 0 {
		return nil
	}

	return parseSuggestions(resp.Choices[0].Message.Content, known)
}

// parseSuggestions extracts known analyzer names from the model reply.
func parseSuggestions(reply string, known []string) []string {
	allowed := make(map[string]bool, len(known))
	for _, name := range known {
		allowed[name] = true
	}

	var out []string
	seen := map[string]bool{}
	for _, part := range strings.FieldsFunc(reply, func(r rune) bool {
		return r == ',' || r == '\n' || r == ' '
	}) {
		name := strings.ToLower(strings.Trim(part, ".\"'`[]"))
		if allowed[name] && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
