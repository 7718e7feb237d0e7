// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package importer walks a cloned workspace and records its file and
// dependency structure in the graph store.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/repoaudit/internal/graph"
)

// maxReferenceFileSize caps how much of a file is read for dependency
// extraction. Larger files still get a File entity, just no edges.
const maxReferenceFileSize = 4 << 20

// Report summarizes one import run.
type Report struct {
	Files    int
	Edges    int
	Dangling int
	Warnings []string
	Duration time.Duration
}

// Importer imports workspace structure into the graph.
type Importer struct {
	store graph.Store
}

// New creates an Importer writing to the given store.
func New(store graph.Store) *Importer {
	return &Importer{store: store}
}

// Import records every regular file of the workspace, plus the dependency
// edges their import statements declare, under the given audit.
//
// Description:
//
//	Walks the workspace tree (skipping .git), collects the full file set,
//	then upserts File entities and Dependency edges. Entity identity is
//	derived from (repository URL, audit UUID, path), so re-importing the
//	same tree is a no-op. A file that cannot be read is skipped with a
//	warning; only a workspace whose root cannot be walked fails the
//	import. Dangling references are recorded as edges and counted, never
//	treated as errors.
//
// Inputs:
//
//	ctx - Context for cancellation
//	repoURL - Canonical repository URL
//	auditUUID - Audit the structure belongs to
//	workspace - Path of the cloned tree
//
// Outputs:
//
//	*Report - Counts and per-file warnings
//	error - Non-nil if the walk or a store write fails
func (i *Importer) Import(ctx context.Context, repoURL, auditUUID, workspace string) (*Report, error) {
	start := time.Now()
	report := &Report{}

	if err := i.store.UpsertRepository(ctx, graph.Repository{URL: repoURL}); err != nil {
		return nil, fmt.Errorf("upserting repository %s: %w", repoURL, err)
	}

	paths, warnings, err := collectFiles(workspace)
	if err != nil {
		return nil, fmt.Errorf("walking workspace %s: %w", workspace, err)
	}
	report.Warnings = warnings

	fileSet := make(map[string]bool, len(paths))
	for _, p := range paths {
		fileSet[p] = true
	}
	exists := func(p string) bool { return fileSet[p] }

	for _, relPath := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content, err := os.ReadFile(filepath.Join(workspace, filepath.FromSlash(relPath)))
		if err != nil {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("skipping unreadable file %s: %v", relPath, err))
			slog.Warn("Skipping unreadable file", "path", relPath, "error", err)
			continue
		}

		sum := sha256.Sum256(content)
		file := graph.File{
			AuditUUID:     auditUUID,
			RepositoryURL: repoURL,
			Path:          relPath,
			Language:      languageForPath(relPath),
			ContentHash:   hex.EncodeToString(sum[:]),
		}
		if err := i.store.UpsertFile(ctx, file); err != nil {
			return nil, fmt.Errorf("upserting file %s: %w", relPath, err)
		}
		report.Files++

		if len(content) > maxReferenceFileSize {
			continue
		}
		for _, target := range ExtractReferences(relPath, string(content), exists) {
			dep := graph.Dependency{
				AuditUUID: auditUUID,
				FromPath:  relPath,
				ToPath:    target,
			}
			if err := i.store.AddDependency(ctx, dep); err != nil {
				return nil, fmt.Errorf("adding dependency %s -> %s: %w", relPath, target, err)
			}
			report.Edges++
			if !fileSet[target] {
				report.Dangling++
			}
		}
	}

	report.Duration = time.Since(start)
	slog.Info("Structure import complete",
		"repository", repoURL,
		"audit_uuid", auditUUID,
		"files", report.Files,
		"edges", report.Edges,
		"dangling", report.Dangling,
		"warnings", len(report.Warnings),
		"duration", report.Duration)
	return report, nil
}

// collectFiles lists all regular files under root as sorted slash-form
// relative paths. The .git directory is skipped wholesale. Unreadable
// directories below the root produce warnings, not errors.
func collectFiles(root string) ([]string, []string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, nil, err
	}

	var paths []string
	var warnings []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			warnings = append(warnings, fmt.Sprintf("skipping %s: %v", p, walkErr))
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Strings(paths)
	return paths, warnings, nil
}

// NormalizePath converts an OS-specific or root-anchored path into the
// canonical repository-relative slash form used for entity identity.
func NormalizePath(p string) string {
	return strings.TrimPrefix(filepath.ToSlash(p), "/")
}
