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
	"fmt"
	"strings"
)

// Normalize validates an inbound request body and produces the immutable
// NormalizedRequest consumed by the router and executor.
//
// # Description
//
// Normalize performs no I/O; it is pure and deterministic. Authentication
// happens earlier, in the API-key middleware. The original text is kept
// verbatim (not trimmed) so analyzer span offsets line up with what the
// caller sent.
//
// # Inputs
//   - req: the decoded request body. Unknown top-level JSON fields were
//     already dropped by decoding.
//   - maxTextBytes: byte cap on text; 0 disables the cap.
//
// # Outputs
//   - NormalizedRequest: the validated request.
//   - error: ErrEmptyText, ErrTextTooLarge, ErrInvalidAction, or
//     ErrUnknownAnalyzer (all map to HTTP 400).
func Normalize(req ValidateRequest, maxTextBytes int) (NormalizedRequest, error) {
	if strings.TrimSpace(req.Text) == "" {
		return NormalizedRequest{}, ErrEmptyText
	}
	if maxTextBytes > 0 && len(req.Text) > maxTextBytes {
		return NormalizedRequest{}, fmt.Errorf("%w: %d bytes exceeds cap of %d",
			ErrTextTooLarge, len(req.Text), maxTextBytes)
	}

	action := DefaultAction
	if req.ActionOnFail != "" {
		action = Action(strings.ToLower(strings.TrimSpace(req.ActionOnFail)))
		if !ValidAction(action) {
			return NormalizedRequest{}, fmt.Errorf("%w: %q", ErrInvalidAction, req.ActionOnFail)
		}
	}

	for name := range req.Checks {
		if !KnownAnalyzer(name) {
			return NormalizedRequest{}, fmt.Errorf("%w: %q", ErrUnknownAnalyzer, name)
		}
	}

	return NormalizedRequest{
		Text:        req.Text,
		Checks:      req.Checks,
		Action:      action,
		ReturnSpans: req.ReturnSpans,
		Entities:    req.Entities,
	}, nil
}
