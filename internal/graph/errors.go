// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "errors"

// Sentinel errors shared by all store adapters.
var (
	// ErrAuditNotFound is returned when no audit entity exists for a UUID.
	ErrAuditNotFound = errors.New("audit not found")

	// ErrStatusIntegrity is returned when more than one audit_status value
	// is attached to a single audit. This indicates corrupted prior state,
	// not a new failure, and must halt the run.
	ErrStatusIntegrity = errors.New("multiple audit_status values attached to audit")

	// ErrTerminalStatus is returned when a transition is attempted from
	// completed or failed. Terminal states accept no further transitions;
	// attempting one is a programming-contract violation.
	ErrTerminalStatus = errors.New("audit is in a terminal status")

	// ErrInvalidTransition is returned when the requested status is not
	// reachable from the current one.
	ErrInvalidTransition = errors.New("invalid audit status transition")

	// ErrUnknownFile is returned when a finding is ingested for a path that
	// has no File entity in the same audit.
	ErrUnknownFile = errors.New("finding references unknown file")
)
