// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orchestrates a full repository audit run: probe,
// clone, structure import, per-file content audit, status lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/repoaudit/internal/auditor"
	"github.com/AleutianAI/repoaudit/internal/cache"
	"github.com/AleutianAI/repoaudit/internal/graph"
	"github.com/AleutianAI/repoaudit/internal/importer"
	"github.com/AleutianAI/repoaudit/internal/status"
	"github.com/AleutianAI/repoaudit/internal/vcs"
)

// Stage names the pipeline phase a run ended in.
type Stage string

const (
	StageProbe  Stage = "probe"
	StageImport Stage = "import"
	StageAudit  Stage = "audit"
	StageDone   Stage = "done"
)

// Prober probes and clones repositories.
type Prober interface {
	Probe(ctx context.Context, repoURL string, creds *vcs.Credentials) (vcs.ProbeResult, error)
}

// StructureImporter imports a cloned workspace into the graph.
type StructureImporter interface {
	Import(ctx context.Context, repoURL, auditUUID, workspace string) (*importer.Report, error)
}

// FileAuditor runs content audits over imported files.
type FileAuditor interface {
	FetchFilesFromRepo(ctx context.Context, repoURL, auditUUID string) ([]string, error)
	AuditFiles(ctx context.Context, repoURL, auditUUID string, paths []string, workspace string) (bool, *auditor.BatchReport)
}

// CredentialPrompt supplies credentials when a repository rejects
// anonymous access. Returning nil credentials declines; the run then
// fails at the probe stage.
type CredentialPrompt func(ctx context.Context, repoURL string) (*vcs.Credentials, error)

// RunResult reports how far a run got and what it produced.
type RunResult struct {
	AuditUUID     string
	RepositoryURL string
	Stage         Stage
	Succeeded     bool
	Message       string
	FilesImported int
	FilesAudited  int
	FailedFiles   []string
	Duration      time.Duration
}

// Runner executes audit runs end to end.
//
// # Thread Safety
//
// Runner is safe for concurrent Run calls; each run owns its audit UUID
// and workspace, and shares only the store and status machinery, which
// are themselves concurrency-safe.
type Runner struct {
	store    graph.Store
	status   *status.Store
	prober   Prober
	importer StructureImporter
	auditor  FileAuditor
	cache    *cache.Manager
	prompt   CredentialPrompt

	// onWorkspace is invoked when a clone workspace is acquired and again
	// (with empty path) when it is released, so a signal handler can clean
	// up workspaces of interrupted runs.
	onWorkspace func(auditUUID, path string)
}

// Option customizes a Runner.
type Option func(*Runner)

// WithCredentialPrompt installs an interactive credential source.
func WithCredentialPrompt(prompt CredentialPrompt) Option {
	return func(r *Runner) { r.prompt = prompt }
}

// WithWorkspaceHook registers a callback observing workspace acquisition
// and release per audit.
func WithWorkspaceHook(hook func(auditUUID, path string)) Option {
	return func(r *Runner) { r.onWorkspace = hook }
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(store graph.Store, statusStore *status.Store, prober Prober, structureImporter StructureImporter, fileAuditor FileAuditor, cacheManager *cache.Manager, opts ...Option) *Runner {
	r := &Runner{
		store:    store,
		status:   statusStore,
		prober:   prober,
		importer: structureImporter,
		auditor:  fileAuditor,
		cache:    cacheManager,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one complete audit of repoURL.
//
// Description:
//
//	Creates the audit, probes the repository (once anonymously, once more
//	with prompted credentials if the remote requires them), imports the
//	cloned structure, audits the code files, and drives the status
//	lifecycle created -> probing [-> auth_required -> probing] ->
//	importing -> auditing -> completed/failed. The workspace is released
//	before returning regardless of outcome; a cleanup failure is logged,
//	never fatal.
//
// Outputs:
//
//	*RunResult - Always non-nil when error is nil; describes the stage
//	             reached and per-file audit failures
//	error - Non-nil only for infrastructure faults (store writes, status
//	        integrity violations). Remote-side outcomes such as rejected
//	        credentials are reported in the result, not as errors.
func (r *Runner) Run(ctx context.Context, repoURL string) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{
		AuditUUID:     uuid.NewString(),
		RepositoryURL: repoURL,
		Stage:         StageProbe,
	}
	log := slog.With("audit_uuid", result.AuditUUID, "repository", repoURL)
	log.Info("Starting audit run")

	audit := graph.Audit{
		UUID:          result.AuditUUID,
		RepositoryURL: repoURL,
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.store.CreateAudit(ctx, audit); err != nil {
		return nil, fmt.Errorf("creating audit: %w", err)
	}
	if err := r.status.Set(ctx, result.AuditUUID, graph.StatusCreated); err != nil {
		return nil, err
	}
	if err := r.status.Set(ctx, result.AuditUUID, graph.StatusProbing); err != nil {
		return nil, err
	}

	probe, accessibility, err := r.probe(ctx, result.AuditUUID, repoURL)
	if err != nil {
		return nil, err
	}

	// The workspace is owned from this point on: release is registered
	// before any further store write, so no error branch can leak it.
	workspace := probe.Workspace
	if workspace != "" {
		r.notifyWorkspace(result.AuditUUID, workspace)
		defer func() {
			if relErr := r.cache.Release(workspace); relErr != nil {
				log.Warn("Workspace cleanup failed", "workspace", workspace, "error", relErr)
			}
			r.notifyWorkspace(result.AuditUUID, "")
		}()
	}

	if upErr := r.store.UpsertRepository(ctx, graph.Repository{URL: repoURL, Accessibility: accessibility}); upErr != nil {
		return nil, fmt.Errorf("recording repository accessibility: %w", upErr)
	}
	if probe.Status != vcs.StatusSuccess {
		result.Message = probe.Message
		result.Duration = time.Since(start)
		return result, r.fail(ctx, result.AuditUUID)
	}

	result.Stage = StageImport
	if err := r.status.Set(ctx, result.AuditUUID, graph.StatusImporting); err != nil {
		return nil, err
	}
	importReport, err := r.importer.Import(ctx, repoURL, result.AuditUUID, workspace)
	if err != nil {
		log.Error("Structure import failed", "error", err)
		result.Message = err.Error()
		result.Duration = time.Since(start)
		return result, r.fail(ctx, result.AuditUUID)
	}
	result.FilesImported = importReport.Files

	result.Stage = StageAudit
	if err := r.status.Set(ctx, result.AuditUUID, graph.StatusAuditing); err != nil {
		return nil, err
	}
	paths, err := r.auditor.FetchFilesFromRepo(ctx, repoURL, result.AuditUUID)
	if err != nil {
		log.Error("Fetching imported files failed", "error", err)
		result.Message = err.Error()
		result.Duration = time.Since(start)
		return result, r.fail(ctx, result.AuditUUID)
	}

	ok, batch := r.auditor.AuditFiles(ctx, repoURL, result.AuditUUID, paths, workspace)
	result.FilesAudited = batch.Audited
	for _, failure := range batch.Failures {
		result.FailedFiles = append(result.FailedFiles, failure.Path)
	}

	if !ok {
		if batch.Filtered == 0 {
			result.Message = "no auditable code files"
		} else {
			result.Message = fmt.Sprintf("%d of %d file audits failed", len(batch.Failures), batch.Filtered)
		}
		result.Duration = time.Since(start)
		return result, r.fail(ctx, result.AuditUUID)
	}

	if err := r.status.Set(ctx, result.AuditUUID, graph.StatusCompleted); err != nil {
		return nil, err
	}
	result.Stage = StageDone
	result.Succeeded = true
	result.Duration = time.Since(start)
	log.Info("Audit run completed",
		"files_imported", result.FilesImported,
		"files_audited", result.FilesAudited,
		"duration", result.Duration)
	return result, nil
}

// probe resolves repository accessibility, looping through auth_required
// exactly once when a credential prompt is available.
func (r *Runner) probe(ctx context.Context, auditUUID, repoURL string) (vcs.ProbeResult, graph.Accessibility, error) {
	probe, err := r.prober.Probe(ctx, repoURL, nil)
	if err != nil {
		return vcs.ProbeResult{}, graph.AccessibilityUnknown, fmt.Errorf("probing %s: %w", repoURL, err)
	}

	switch probe.Status {
	case vcs.StatusSuccess:
		return probe, graph.AccessibilityPublic, nil
	case vcs.StatusUnreachable:
		return probe, graph.AccessibilityUnreachable, nil
	}

	// Anonymous access rejected.
	if err := r.status.Set(ctx, auditUUID, graph.StatusAuthRequired); err != nil {
		return vcs.ProbeResult{}, graph.AccessibilityAuthRequired, err
	}
	if r.prompt == nil {
		return probe, graph.AccessibilityAuthRequired, nil
	}
	creds, err := r.prompt(ctx, repoURL)
	if err != nil {
		return vcs.ProbeResult{}, graph.AccessibilityAuthRequired, fmt.Errorf("prompting for credentials: %w", err)
	}
	if creds == nil {
		return probe, graph.AccessibilityAuthRequired, nil
	}

	if err := r.status.Set(ctx, auditUUID, graph.StatusProbing); err != nil {
		return vcs.ProbeResult{}, graph.AccessibilityAuthRequired, err
	}
	probe, err = r.prober.Probe(ctx, repoURL, creds)
	if err != nil {
		return vcs.ProbeResult{}, graph.AccessibilityAuthRequired, fmt.Errorf("probing %s with credentials: %w", repoURL, err)
	}
	if probe.Status == vcs.StatusSuccess {
		return probe, graph.AccessibilityPublic, nil
	}
	return probe, graph.AccessibilityAuthRequired, nil
}

// fail moves the audit to failed. Integrity violations and terminal-state
// conflicts surface to the caller; an already-failed audit is tolerated.
func (r *Runner) fail(ctx context.Context, auditUUID string) error {
	err := r.status.Set(ctx, auditUUID, graph.StatusFailed)
	if err == nil || errors.Is(err, graph.ErrTerminalStatus) {
		return nil
	}
	return err
}

func (r *Runner) notifyWorkspace(auditUUID, path string) {
	if r.onWorkspace != nil {
		r.onWorkspace(auditUUID, path)
	}
}
