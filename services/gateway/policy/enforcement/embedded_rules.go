// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file bridges the build system and the runtime logic. It uses the Go
embed package to bake the fallback_patterns.yaml file directly into the
compiled binary, so the fallback rules are immutable at runtime and travel
with the executable.
*/

package enforcement

import (
	_ "embed"
)

// FallbackPatterns holds the raw byte content of the 'fallback_patterns.yaml' file.
//
// This variable is populated at compile-time using the Go 'embed' directive.
// Baking the YAML into the binary means the last-resort policy rules cannot
// be tampered with on the host filesystem without recompiling the gateway.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(enforcement.FallbackPatterns, &targetStruct)
//
//go:embed fallback_patterns.yaml
var FallbackPatterns []byte
