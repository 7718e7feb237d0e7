// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status enforces the audit status lifecycle on top of a graph
// store's transactional replace protocol.
package status

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/repoaudit/internal/graph"
)

// Store validates and applies audit status transitions.
//
// Every Set call runs the single-valued attribute replace protocol inside
// the adapter's transaction boundary, so no partial status change is ever
// visible to other readers.
type Store struct {
	graph graph.Store
}

// NewStore creates a status store over the given graph adapter.
func NewStore(g graph.Store) *Store {
	return &Store{graph: g}
}

// Set transitions the audit to next.
//
// Description:
//
//	Reads the current status, validates the transition against the
//	lifecycle state machine, and replaces the attribute atomically.
//	A transition attempted from completed or failed returns
//	graph.ErrTerminalStatus; any other disallowed jump returns
//	graph.ErrInvalidTransition. Both leave the stored status unchanged.
//
// Inputs:
//
//	ctx - Context for cancellation
//	auditUUID - The audit's unique identifier
//	next - The status to attach
//
// Outputs:
//
//	error - Non-nil on invalid transition, integrity violation, or store
//	        failure
func (s *Store) Set(ctx context.Context, auditUUID string, next graph.AuditStatus) error {
	if !next.Valid() {
		return fmt.Errorf("unknown audit status %q", next)
	}

	committed, err := s.graph.ReplaceAuditStatus(ctx, auditUUID, func(current graph.AuditStatus) (graph.AuditStatus, error) {
		if current.Terminal() {
			return "", fmt.Errorf("%w: %s -> %s", graph.ErrTerminalStatus, current, next)
		}
		if !graph.CanTransition(current, next) {
			return "", fmt.Errorf("%w: %s -> %s", graph.ErrInvalidTransition, current, next)
		}
		return next, nil
	})
	if err != nil {
		return fmt.Errorf("setting status of audit %s: %w", auditUUID, err)
	}

	slog.Info("Audit status updated", "audit_uuid", auditUUID, "status", committed)
	return nil
}

// Get returns the current status of an audit.
func (s *Store) Get(ctx context.Context, auditUUID string) (graph.AuditStatus, error) {
	audit, err := s.graph.GetAudit(ctx, auditUUID)
	if err != nil {
		return "", err
	}
	return audit.Status, nil
}
