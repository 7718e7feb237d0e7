// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auditor

import "errors"

var (
	// ErrFileNotInCache is returned when a requested path does not exist
	// inside the cached workspace.
	ErrFileNotInCache = errors.New("file not present in cache workspace")

	// ErrEmptyResponse is returned when the analysis service answers with
	// no usable content.
	ErrEmptyResponse = errors.New("analysis service returned empty response")
)
