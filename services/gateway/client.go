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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxAnalyzerResponseBytes caps how much of an analyzer response body is
// read; anything beyond it is treated as malformed.
const maxAnalyzerResponseBytes = 1 << 20

// Transport-level failure classes. Both are retryable; everything else
// (4xx, deadline expiry, caller cancellation) is not.
var (
	errTransport      = errors.New("analyzer transport error")
	errUpstreamServer = errors.New("analyzer server error")
)

// CallPayload is the wire body POSTed to every analyzer.
type CallPayload struct {
	Text         string   `json:"text"`
	ReturnSpans  bool     `json:"return_spans"`
	ActionOnFail string   `json:"action_on_fail"`
	Entities     []string `json:"entities,omitempty"`
}

// Client issues outbound calls to analyzer services.
//
// # Description
//
// One Client is shared by all requests. Calls are retried at most once,
// and only on transport errors or 5xx responses; 4xx responses and
// deadline expiry are terminal. The caller is responsible for bounding
// ctx with the per-call and global deadlines.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewClient creates the shared analyzer client with a pooled transport.
// Deadlines come from the request context, not the client, so no
// client-level timeout is set.
func NewClient() *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport},
		tracer:     otel.Tracer("aleutian.gateway.client"),
	}
}

// Call POSTs the payload to the analyzer endpoint and returns the raw
// response body.
//
// # Inputs
//   - ctx: already bounded by the per-call timeout and global deadline.
//   - name: analyzer identifier, used for span attributes only.
//   - target: endpoint URL and forwarded API key.
//   - payload: the wire body.
//
// # Outputs
//   - json.RawMessage: the verbatim 2xx response body.
//   - error: wraps errTransport or errUpstreamServer for retryable
//     classes; other errors are terminal.
func (c *Client) Call(ctx context.Context, name string, target AnalyzerConfig, payload CallPayload) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "analyzer.call",
		trace.WithAttributes(attribute.String("analyzer.name", name)))
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyzer payload: %w", err)
	}

	raw, err := c.doOnce(ctx, target, body)
	if err != nil && retryable(err) && ctx.Err() == nil {
		span.AddEvent("retry")
		raw, err = c.doOnce(ctx, target, body)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return raw, nil
}

// doOnce performs a single HTTP exchange against the analyzer.
func (c *Client) doOnce(ctx context.Context, target AnalyzerConfig, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build analyzer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if target.APIKey != "" {
		req.Header.Set("X-API-Key", target.APIKey)
	}

	// Wrap with %w on both sides so deadline expiry stays visible to
	// errors.Is through the transport classification.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAnalyzerResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", errTransport, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", errUpstreamServer, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("analyzer rejected request with status %d", resp.StatusCode)
	}
	return data, nil
}

// retryable reports whether a single immediate retry is permitted for err.
// Deadline expiry and caller cancellation are never retried, even when
// they surface wrapped inside a transport error.
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, errTransport) || errors.Is(err, errUpstreamServer)
}
