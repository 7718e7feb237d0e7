// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package weaviatestore persists the audit graph in a Weaviate instance.
//
// Entities are stored as objects with deterministic UUIDv5 IDs derived from
// their natural keys, so upserts through the batch API are idempotent:
// re-importing a workspace rewrites the same objects instead of duplicating
// them.
//
// Weaviate has no multi-operation transactions. The status replace protocol
// is therefore serialized per audit UUID behind a mutex, with the write
// performed as a single atomic object merge; this provides the equivalent
// read-modify-write isolation for the one attribute that needs it.
package weaviatestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/repoaudit/internal/graph"
)

// queryPageSize bounds one page of a pattern read. Exhaustive listings use
// cursor iteration, so the page size only has to stay under Weaviate's
// QUERY_MAXIMUM_RESULTS cap, never the total result count.
const queryPageSize = 1000

// Store is a Weaviate-backed graph.Store.
type Store struct {
	client *weaviate.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-audit status replace serialization
}

// New creates a store for the Weaviate instance at url
// (e.g. "http://localhost:8080").
func New(url string) (*Store, error) {
	if url == "" {
		return nil, errors.New("weaviate URL must not be empty")
	}
	cfg := weaviate.Config{Host: url, Scheme: "http"}
	if strings.HasPrefix(url, "https://") {
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		cfg.Host = strings.TrimPrefix(url, "http://")
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating weaviate client: %w", err)
	}
	return &Store{
		client: client,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Close is a no-op: the weaviate client holds no resources to release.
func (s *Store) Close() error { return nil }

// EnsureSchema creates the audit graph classes if missing. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return ensureClasses(ctx, s.client)
}

// objectID derives a deterministic UUIDv5 from an entity's natural key.
func objectID(parts ...string) strfmt.UUID {
	name := "repoaudit/" + strings.Join(parts, "/")
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String())
}

// upsertObjects writes objects through the batch API, which replaces
// existing objects with the same ID.
func (s *Store) upsertObjects(ctx context.Context, objects ...*models.Object) error {
	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch upsert: %w", err)
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch upsert %s: %s", obj.Class, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// UpsertRepository creates or refreshes a repository keyed by URL.
func (s *Store) UpsertRepository(ctx context.Context, repo graph.Repository) error {
	if repo.URL == "" {
		return errors.New("repository URL must not be empty")
	}
	return s.upsertObjects(ctx, &models.Object{
		Class: RepositoryClassName,
		ID:    objectID("repository", repo.URL),
		Properties: map[string]interface{}{
			"url":           repo.URL,
			"accessibility": string(repo.Accessibility),
		},
	})
}

// CreateAudit persists a new audit entity without a status attribute.
func (s *Store) CreateAudit(ctx context.Context, audit graph.Audit) error {
	if audit.UUID == "" {
		return errors.New("audit UUID must not be empty")
	}
	createdAt := audit.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.client.Data().Creator().
		WithClassName(AuditClassName).
		WithID(string(objectID("audit", audit.UUID))).
		WithProperties(map[string]interface{}{
			"auditUuid":     audit.UUID,
			"repositoryUrl": audit.RepositoryURL,
			"auditStatus":   "",
			"createdAt":     createdAt.Format(time.RFC3339),
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("creating audit %s: %w", audit.UUID, err)
	}
	return nil
}

// GetAudit returns the audit with its current status.
func (s *Store) GetAudit(ctx context.Context, auditUUID string) (*graph.Audit, error) {
	obj, err := s.auditObject(ctx, auditUUID)
	if err != nil {
		return nil, err
	}
	audit := &graph.Audit{
		UUID:          getString(obj.props, "auditUuid"),
		RepositoryURL: getString(obj.props, "repositoryUrl"),
		Status:        graph.AuditStatus(getString(obj.props, "auditStatus")),
	}
	if createdStr := getString(obj.props, "createdAt"); createdStr != "" {
		if t, err := time.Parse(time.RFC3339, createdStr); err == nil {
			audit.CreatedAt = t
		}
	}
	return audit, nil
}

// UpsertFile creates or refreshes a file keyed by (audit, path).
func (s *Store) UpsertFile(ctx context.Context, file graph.File) error {
	if file.AuditUUID == "" || file.Path == "" {
		return errors.New("file audit UUID and path must not be empty")
	}
	return s.upsertObjects(ctx, &models.Object{
		Class: FileClassName,
		ID:    objectID("file", file.AuditUUID, file.Path),
		Properties: map[string]interface{}{
			"auditUuid":     file.AuditUUID,
			"repositoryUrl": file.RepositoryURL,
			"path":          file.Path,
			"language":      file.Language,
			"contentHash":   file.ContentHash,
		},
	})
}

// AddDependency records a depends_on edge. The deterministic ID collapses
// duplicate edges.
func (s *Store) AddDependency(ctx context.Context, dep graph.Dependency) error {
	if dep.AuditUUID == "" || dep.FromPath == "" || dep.ToPath == "" {
		return errors.New("dependency audit UUID and paths must not be empty")
	}
	return s.upsertObjects(ctx, &models.Object{
		Class: DependencyClassName,
		ID:    objectID("dep", dep.AuditUUID, dep.FromPath, dep.ToPath),
		Properties: map[string]interface{}{
			"auditUuid": dep.AuditUUID,
			"fromPath":  dep.FromPath,
			"toPath":    dep.ToPath,
		},
	})
}

// FilePaths returns the deduplicated paths of files belonging to the audit.
//
// Listing is exhaustive via the cursor API: offset paging is capped by
// Weaviate's QUERY_MAXIMUM_RESULTS, so repositories above that cap would
// silently lose files. The cursor cannot be combined with a where filter,
// so audit/repository scoping happens on the returned properties.
func (s *Store) FilePaths(ctx context.Context, repoURL, auditUUID string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	cursor := ""
	for {
		query := s.client.GraphQL().Get().
			WithClassName(FileClassName).
			WithFields(
				graphql.Field{Name: "path"},
				graphql.Field{Name: "auditUuid"},
				graphql.Field{Name: "repositoryUrl"},
				graphql.Field{Name: "_additional { id }"},
			).
			WithLimit(queryPageSize)
		if cursor != "" {
			query = query.WithAfter(cursor)
		}
		result, err := query.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}
		if len(result.Errors) > 0 {
			return nil, fmt.Errorf("query error: %s", result.Errors[0].Message)
		}

		objects := resultObjects(result, FileClassName)
		if len(objects) == 0 {
			break
		}
		for _, props := range objects {
			cursor = objectCursor(props)
			if !matchesFileScope(props, repoURL, auditUUID) {
				continue
			}
			path := getString(props, "path")
			if path == "" || seen[path] {
				continue
			}
			seen[path] = true
			paths = append(paths, path)
		}
		if cursor == "" || len(objects) < queryPageSize {
			break
		}
	}
	return paths, nil
}

// matchesFileScope reports whether a file object belongs to the requested
// audit (and repository, when one is given).
func matchesFileScope(props map[string]interface{}, repoURL, auditUUID string) bool {
	if getString(props, "auditUuid") != auditUUID {
		return false
	}
	return repoURL == "" || getString(props, "repositoryUrl") == repoURL
}

// objectCursor extracts the object ID used to continue a cursor listing.
func objectCursor(props map[string]interface{}) string {
	additional, ok := props["_additional"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := additional["id"].(string)
	return id
}

// IngestFinding appends a finding for an existing file. Findings get a
// random object ID, so repeated audits of a path accumulate history.
func (s *Store) IngestFinding(ctx context.Context, finding graph.Finding) error {
	if finding.AuditUUID == "" || finding.FilePath == "" {
		return errors.New("finding audit UUID and file path must not be empty")
	}
	if finding.FindingID == "" {
		return errors.New("finding ID must not be empty")
	}
	if err := s.requireFile(ctx, finding.AuditUUID, finding.FilePath); err != nil {
		return err
	}
	createdAt := finding.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.client.Data().Creator().
		WithClassName(FindingClassName).
		WithProperties(map[string]interface{}{
			"findingId": finding.FindingID,
			"auditUuid": finding.AuditUUID,
			"filePath":  finding.FilePath,
			"payload":   finding.Payload,
			"createdAt": createdAt.Format(time.RFC3339),
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("ingesting finding for %s: %w", finding.FilePath, err)
	}
	return nil
}

// ReplaceAuditStatus serializes the read-validate-replace sequence per
// audit UUID and commits the new status as one atomic object merge. An
// error from replace leaves the stored status untouched.
func (s *Store) ReplaceAuditStatus(ctx context.Context, auditUUID string, replace graph.ReplaceFunc) (graph.AuditStatus, error) {
	lock := s.auditLock(auditUUID)
	lock.Lock()
	defer lock.Unlock()

	obj, err := s.auditObject(ctx, auditUUID)
	if err != nil {
		return "", err
	}
	current := graph.AuditStatus(getString(obj.props, "auditStatus"))

	next, err := replace(current)
	if err != nil {
		return "", err
	}
	if !next.Valid() {
		return "", fmt.Errorf("unknown audit status %q", next)
	}

	err = s.client.Data().Updater().
		WithClassName(AuditClassName).
		WithID(obj.id).
		WithProperties(map[string]interface{}{
			"auditStatus": string(next),
		}).
		WithMerge().
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("replacing audit status: %w", err)
	}
	return next, nil
}

func (s *Store) auditLock(auditUUID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[auditUUID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[auditUUID] = lock
	}
	return lock
}

type auditObject struct {
	id    string
	props map[string]interface{}
}

// auditObject fetches the single audit object for a UUID. More than one
// object carrying the same auditUuid means a prior invariant violation.
func (s *Store) auditObject(ctx context.Context, auditUUID string) (*auditObject, error) {
	where := filters.Where().
		WithPath([]string{"auditUuid"}).
		WithOperator(filters.Equal).
		WithValueString(auditUUID)

	result, err := s.client.GraphQL().Get().
		WithClassName(AuditClassName).
		WithFields(
			graphql.Field{Name: "auditUuid"},
			graphql.Field{Name: "repositoryUrl"},
			graphql.Field{Name: "auditStatus"},
			graphql.Field{Name: "createdAt"},
			graphql.Field{Name: "_additional { id }"},
		).
		WithWhere(where).
		WithLimit(2).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying audit %s: %w", auditUUID, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("query error: %s", result.Errors[0].Message)
	}

	objects := resultObjects(result, AuditClassName)
	switch {
	case len(objects) == 0:
		return nil, graph.ErrAuditNotFound
	case len(objects) > 1:
		return nil, graph.ErrStatusIntegrity
	}

	props := objects[0]
	id := objectCursor(props)
	if id == "" {
		return nil, fmt.Errorf("audit %s: missing object id in _additional", auditUUID)
	}
	return &auditObject{id: id, props: props}, nil
}

// requireFile verifies a File entity exists for (audit, path).
func (s *Store) requireFile(ctx context.Context, auditUUID, path string) error {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"auditUuid"}).
				WithOperator(filters.Equal).
				WithValueString(auditUUID),
			filters.Where().
				WithPath([]string{"path"}).
				WithOperator(filters.Equal).
				WithValueString(path),
		})

	result, err := s.client.GraphQL().Get().
		WithClassName(FileClassName).
		WithFields(graphql.Field{Name: "path"}).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("checking file %s: %w", path, err)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("query error: %s", result.Errors[0].Message)
	}
	if len(resultObjects(result, FileClassName)) == 0 {
		return fmt.Errorf("%w: %s", graph.ErrUnknownFile, path)
	}
	return nil
}

// resultObjects unwraps a GraphQL Get response into property maps.
func resultObjects(result *models.GraphQLResponse, className string) []map[string]interface{} {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return nil
	}
	props := make([]map[string]interface{}, 0, len(objects))
	for _, obj := range objects {
		if m, ok := obj.(map[string]interface{}); ok {
			props = append(props, m)
		}
	}
	return props
}

// getString safely extracts a string from a property map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
