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

import "errors"

// Sentinel errors for the gateway service.
var (
	// ErrUnauthenticated indicates a missing or unrecognized API key.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrEmptyText indicates the text field was missing or blank.
	ErrEmptyText = errors.New("text is required and must be non-empty")

	// ErrTextTooLarge indicates the text exceeds the configured byte cap.
	ErrTextTooLarge = errors.New("text exceeds maximum size")

	// ErrInvalidAction indicates an unrecognized action_on_fail value.
	ErrInvalidAction = errors.New("action_on_fail must be one of pass, mask, filter, refrain, reask")

	// ErrUnknownAnalyzer indicates a checks key that is not a supported analyzer.
	ErrUnknownAnalyzer = errors.New("unknown analyzer name")

	// ErrShuttingDown indicates the server is draining and refuses new work.
	ErrShuttingDown = errors.New("server is shutting down")
)
