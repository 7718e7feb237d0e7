// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auditor selects auditable code files, reads their content from
// the cache workspace, and runs per-file content analysis, persisting each
// finding as soon as it is produced.
package auditor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/repoaudit/internal/graph"
)

// ContentAuditor analyzes one file's content and returns a structured
// finding payload.
type ContentAuditor interface {
	Audit(ctx context.Context, filePath, content string) (string, error)
}

// FindingSink persists audit findings. Findings are append-only: a sink
// never overwrites an earlier finding for the same file.
type FindingSink interface {
	Ingest(ctx context.Context, finding graph.Finding) error
}

// FileFailure records why one file's audit did not complete.
type FileFailure struct {
	Path string
	Err  error
}

// BatchReport summarizes one AuditFiles call.
//
// Requested counts the input paths, Filtered the paths that survived the
// code filter, Audited the files whose findings were ingested. A false
// overall result with Filtered == 0 means there was nothing to audit; with
// Failures non-empty it means at least one file failed.
type BatchReport struct {
	Requested int
	Filtered  int
	Audited   int
	Failures  []FileFailure
	Duration  time.Duration
}

// FileAuditor drives the per-file audit loop for one repository.
//
// # Thread Safety
//
// FileAuditor holds no mutable state; safe for concurrent use if its
// ContentAuditor and FindingSink are.
type FileAuditor struct {
	store   graph.Store
	content ContentAuditor
	sink    FindingSink
	filter  FilterTable
}

// NewFileAuditor assembles a FileAuditor. Findings go to the given sink;
// pass NewGraphSink(store) to persist them in the graph.
func NewFileAuditor(store graph.Store, content ContentAuditor, sink FindingSink, filter FilterTable) *FileAuditor {
	return &FileAuditor{store: store, content: content, sink: sink, filter: filter}
}

// FetchFilesFromRepo returns the distinct file paths imported for an
// audit, in stable order.
func (a *FileAuditor) FetchFilesFromRepo(ctx context.Context, repoURL, auditUUID string) ([]string, error) {
	paths, err := a.store.FilePaths(ctx, repoURL, auditUUID)
	if err != nil {
		return nil, fmt.Errorf("fetching file paths for audit %s: %w", auditUUID, err)
	}

	seen := make(map[string]bool, len(paths))
	distinct := paths[:0]
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		distinct = append(distinct, p)
	}
	return distinct, nil
}

// AuditFiles audits every auditable file in paths.
//
// Description:
//
//	Applies the code filter, then for each surviving path reads content
//	from the workspace, requests an analysis, and ingests the finding
//	immediately. One file's failure (unreadable, analysis error, ingest
//	error) is recorded and the loop continues, so findings for the files
//	that did succeed are preserved. The boolean is true only when the
//	filter selected at least one file and every selected file completed.
//	An empty filtered set returns false without contacting the analysis
//	service.
//
// Inputs:
//
//	ctx - Context for cancellation
//	repoURL - Canonical repository URL (for logging)
//	auditUUID - Audit the findings belong to
//	paths - Candidate repository-relative paths
//	workspace - Cache workspace holding the clone
//
// Outputs:
//
//	bool - Overall success as described above
//	*BatchReport - Per-file accounting; never nil
func (a *FileAuditor) AuditFiles(ctx context.Context, repoURL, auditUUID string, paths []string, workspace string) (bool, *BatchReport) {
	start := time.Now()
	report := &BatchReport{Requested: len(paths)}

	filtered := a.filter.FilterCodeFiles(paths)
	report.Filtered = len(filtered)
	if len(filtered) == 0 {
		report.Duration = time.Since(start)
		slog.Info("No auditable code files in repository",
			"repository", repoURL, "audit_uuid", auditUUID, "requested", report.Requested)
		return false, report
	}

	for _, filePath := range filtered {
		if err := ctx.Err(); err != nil {
			report.Failures = append(report.Failures, FileFailure{Path: filePath, Err: err})
			break
		}
		if err := a.auditOne(ctx, auditUUID, filePath, workspace); err != nil {
			slog.Warn("File audit failed",
				"repository", repoURL, "path", filePath, "error", err)
			report.Failures = append(report.Failures, FileFailure{Path: filePath, Err: err})
			continue
		}
		report.Audited++
	}

	report.Duration = time.Since(start)
	ok := len(report.Failures) == 0
	slog.Info("File audit batch complete",
		"repository", repoURL,
		"audit_uuid", auditUUID,
		"filtered", report.Filtered,
		"audited", report.Audited,
		"failed", len(report.Failures),
		"duration", report.Duration)
	return ok, report
}

func (a *FileAuditor) auditOne(ctx context.Context, auditUUID, filePath, workspace string) error {
	content, err := ReadFileContentFromCache(workspace, filePath)
	if err != nil {
		return err
	}

	payload, err := a.content.Audit(ctx, filePath, content)
	if err != nil {
		return fmt.Errorf("analyzing %s: %w", filePath, err)
	}

	finding := graph.Finding{
		FindingID: uuid.NewString(),
		AuditUUID: auditUUID,
		FilePath:  filePath,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.sink.Ingest(ctx, finding); err != nil {
		return fmt.Errorf("ingesting finding for %s: %w", filePath, err)
	}
	return nil
}

// ReadFileContentFromCache loads a repository file from a cache workspace.
//
// The path is normalized to the canonical repository-relative form
// (forward slashes, no leading slash) before lookup. A path outside the
// workspace or with no file behind it returns ErrFileNotInCache.
func ReadFileContentFromCache(workspace, filePath string) (string, error) {
	rel := strings.TrimPrefix(filepath.ToSlash(filePath), "/")
	if rel == "" || rel == "." || strings.HasPrefix(rel, "../") || strings.Contains(rel, "/../") {
		return "", fmt.Errorf("%w: %s", ErrFileNotInCache, filePath)
	}

	content, err := os.ReadFile(filepath.Join(workspace, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrFileNotInCache, filePath)
		}
		return "", fmt.Errorf("reading %s from cache: %w", filePath, err)
	}
	return string(content), nil
}

// GraphSink persists findings through the graph store.
type GraphSink struct {
	store graph.Store
}

// NewGraphSink wraps a graph store as a FindingSink.
func NewGraphSink(store graph.Store) *GraphSink {
	return &GraphSink{store: store}
}

// Ingest stores the finding, attached to its file entity.
func (s *GraphSink) Ingest(ctx context.Context, finding graph.Finding) error {
	return s.store.IngestFinding(ctx, finding)
}
