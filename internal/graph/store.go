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

import "context"

// ReplaceFunc inspects the current status of an audit and returns the next
// one. current is empty when no status is attached yet. Returning an error
// aborts the replacement; the adapter guarantees nothing is committed in
// that case.
type ReplaceFunc func(current AuditStatus) (AuditStatus, error)

// Store is the persistence port for the audit graph.
//
// The pipeline depends only on these primitives: entity upsert, attribute
// replace with rollback, relation creation, and pattern reads. Adapters may
// be backed by any store with equivalent transactional semantics.
//
// # Thread Safety
//
// Implementations are safe for concurrent use. ReplaceAuditStatus in
// particular must remain correct when two status-changing calls for the
// same audit overlap, even though one run owning one audit should make
// that impossible.
type Store interface {
	// EnsureSchema prepares classes/buckets. Idempotent.
	EnsureSchema(ctx context.Context) error

	// UpsertRepository creates or refreshes a repository keyed by URL.
	UpsertRepository(ctx context.Context, repo Repository) error

	// CreateAudit persists a new audit entity. The status attribute is not
	// written here; attach it through ReplaceAuditStatus.
	CreateAudit(ctx context.Context, audit Audit) error

	// GetAudit returns the audit with its current status, or
	// ErrAuditNotFound. ErrStatusIntegrity is returned when more than one
	// status value is attached.
	GetAudit(ctx context.Context, auditUUID string) (*Audit, error)

	// UpsertFile creates or refreshes a file keyed by (audit, path).
	// Re-importing the same workspace never creates duplicates.
	UpsertFile(ctx context.Context, file File) error

	// AddDependency records a depends_on edge. Dangling targets are
	// accepted; duplicate edges collapse to one.
	AddDependency(ctx context.Context, dep Dependency) error

	// FilePaths returns the deduplicated repository-relative paths of all
	// files belonging to the given audit and repository. Order is not
	// significant.
	FilePaths(ctx context.Context, repoURL, auditUUID string) ([]string, error)

	// IngestFinding appends a finding. The referenced file must exist in
	// the same audit (ErrUnknownFile otherwise). Existing findings for the
	// path are preserved.
	IngestFinding(ctx context.Context, finding Finding) error

	// ReplaceAuditStatus runs the single-valued attribute replace protocol
	// inside the adapter's transaction boundary: read the current status
	// (more than one value is ErrStatusIntegrity), call replace, delete the
	// old attribute, insert the returned one, commit. Any failure rolls the
	// whole replacement back. The committed status is returned.
	ReplaceAuditStatus(ctx context.Context, auditUUID string, replace ReplaceFunc) (AuditStatus, error)

	// Close releases adapter resources.
	Close() error
}
