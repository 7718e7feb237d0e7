// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package weaviatestore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Weaviate class names for the audit graph.
const (
	RepositoryClassName = "AuditRepository"
	AuditClassName      = "CodeAudit"
	FileClassName       = "CodeFile"
	DependencyClassName = "DependencyEdge"
	FindingClassName    = "AuditFinding"
)

// auditClasses returns the class definitions for the audit graph.
//
// All classes use Vectorizer "none": the graph is keyed and filtered, never
// semantically searched, so nothing is vectorized.
func auditClasses() []*models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	keyed := func(name, description string) *models.Property {
		return &models.Property{
			Name:            name,
			DataType:        []string{"text"},
			Description:     description,
			IndexFilterable: indexFilterable,
			Tokenization:    "field",
		}
	}

	return []*models.Class{
		{
			Class:       RepositoryClassName,
			Description: "A probed source repository",
			Vectorizer:  "none",
			Properties: []*models.Property{
				keyed("url", "Repository URL, unique key per audit context"),
				keyed("accessibility", "unknown, public, auth_required, unreachable"),
			},
		},
		{
			Class:       AuditClassName,
			Description: "One audit run against a repository snapshot",
			Vectorizer:  "none",
			InvertedIndexConfig: &models.InvertedIndexConfig{
				IndexTimestamps: true,
			},
			Properties: []*models.Property{
				keyed("auditUuid", "Unique audit identifier"),
				keyed("repositoryUrl", "URL of the audited repository"),
				keyed("auditStatus", "Single-valued lifecycle status"),
				{
					Name:        "createdAt",
					DataType:    []string{"date"},
					Description: "When the audit was initiated",
				},
			},
		},
		{
			Class:       FileClassName,
			Description: "A code file imported from the cloned workspace",
			Vectorizer:  "none",
			Properties: []*models.Property{
				keyed("auditUuid", "Audit the file belongs to"),
				keyed("repositoryUrl", "Repository the file is contained in"),
				keyed("path", "Repository-relative path, unique within the audit"),
				keyed("language", "Detected source language"),
				keyed("contentHash", "SHA-256 of the file content at import time"),
			},
		},
		{
			Class:       DependencyClassName,
			Description: "Directed depends_on edge between two file paths",
			Vectorizer:  "none",
			Properties: []*models.Property{
				keyed("auditUuid", "Audit the edge belongs to"),
				keyed("fromPath", "Path of the referencing file"),
				keyed("toPath", "Referenced path; may be dangling"),
			},
		},
		{
			Class:       FindingClassName,
			Description: "Append-only content-analysis result for one file",
			Vectorizer:  "none",
			InvertedIndexConfig: &models.InvertedIndexConfig{
				IndexTimestamps: true,
			},
			Properties: []*models.Property{
				keyed("findingId", "Unique finding identifier"),
				keyed("auditUuid", "Audit the finding belongs to"),
				keyed("filePath", "Path of the audited file"),
				{
					Name:         "payload",
					DataType:     []string{"text"},
					Description:  "Opaque structured result from the content-analysis service",
					Tokenization: "word",
				},
				{
					Name:        "createdAt",
					DataType:    []string{"date"},
					Description: "When the finding was ingested",
				},
			},
		},
	}
}

// ensureClasses creates each audit graph class if it doesn't exist.
// Idempotent.
func ensureClasses(ctx context.Context, client *weaviate.Client) error {
	for _, class := range auditClasses() {
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
		if err == nil {
			continue
		}
		slog.Info("Creating audit graph class", "class", class.Class)
		if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("creating %s schema: %w", class.Class, err)
		}
	}
	return nil
}
