// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore persists the audit graph in an embedded Badger
// database.
//
// Badger transactions are ACID, so the audit-status replace protocol runs
// literally as specified: read current value, delete its key, insert the
// new one, commit — all inside a single db.Update. A crash or error at any
// step leaves the previous status untouched.
//
// Key layout (parts joined by a 0x1f unit separator):
//
//	repo    <url>                      -> Repository JSON
//	audit   <uuid>                     -> Audit JSON (without status)
//	status  <uuid> <value>             -> RFC3339 timestamp
//	file    <uuid> <path>              -> File JSON
//	dep     <uuid> <from> <to>         -> empty
//	finding <uuid> <path> <finding-id> -> Finding JSON
//
// Status values are stored as separate attribute records rather than a
// field on the audit, so a corrupted multi-value state is representable
// and detected as ErrStatusIntegrity instead of being silently masked.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/repoaudit/internal/graph"
)

const sep = "\x1f"

// Store is a Badger-backed graph.Store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a Badger store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store. Used by tests and dry runs.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory badger store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema is a no-op: Badger is schemaless.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return nil
}

func key(parts ...string) []byte {
	return []byte(strings.Join(parts, sep))
}

// UpsertRepository creates or refreshes a repository record.
func (s *Store) UpsertRepository(ctx context.Context, repo graph.Repository) error {
	if repo.URL == "" {
		return errors.New("repository URL must not be empty")
	}
	data, err := json.Marshal(repo)
	if err != nil {
		return fmt.Errorf("encoding repository: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key("repo", repo.URL), data)
	})
}

// CreateAudit persists a new audit entity without a status attribute.
func (s *Store) CreateAudit(ctx context.Context, audit graph.Audit) error {
	if audit.UUID == "" {
		return errors.New("audit UUID must not be empty")
	}
	audit.Status = ""
	data, err := json.Marshal(audit)
	if err != nil {
		return fmt.Errorf("encoding audit: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key("audit", audit.UUID), data)
	})
}

// GetAudit returns the audit together with its current status.
func (s *Store) GetAudit(ctx context.Context, auditUUID string) (*graph.Audit, error) {
	var audit graph.Audit
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key("audit", auditUUID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return graph.ErrAuditNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &audit)
		}); err != nil {
			return fmt.Errorf("decoding audit %s: %w", auditUUID, err)
		}

		statuses, err := statusValues(txn, auditUUID)
		if err != nil {
			return err
		}
		if len(statuses) > 1 {
			return graph.ErrStatusIntegrity
		}
		if len(statuses) == 1 {
			audit.Status = statuses[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &audit, nil
}

// UpsertFile creates or refreshes a file record keyed by (audit, path).
func (s *Store) UpsertFile(ctx context.Context, file graph.File) error {
	if file.AuditUUID == "" || file.Path == "" {
		return errors.New("file audit UUID and path must not be empty")
	}
	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("encoding file: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key("file", file.AuditUUID, file.Path), data)
	})
}

// AddDependency records a depends_on edge. The edge key collapses
// duplicates; dangling targets are stored unchanged.
func (s *Store) AddDependency(ctx context.Context, dep graph.Dependency) error {
	if dep.AuditUUID == "" || dep.FromPath == "" || dep.ToPath == "" {
		return errors.New("dependency audit UUID and paths must not be empty")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key("dep", dep.AuditUUID, dep.FromPath, dep.ToPath), nil)
	})
}

// FilePaths returns the deduplicated paths of files belonging to the audit.
func (s *Store) FilePaths(ctx context.Context, repoURL, auditUUID string) ([]string, error) {
	var paths []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = key("file", auditUUID, "")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var file graph.File
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &file)
			}); err != nil {
				return fmt.Errorf("decoding file record: %w", err)
			}
			if repoURL != "" && file.RepositoryURL != repoURL {
				continue
			}
			paths = append(paths, file.Path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// IngestFinding appends a finding for an existing file.
func (s *Store) IngestFinding(ctx context.Context, finding graph.Finding) error {
	if finding.AuditUUID == "" || finding.FilePath == "" {
		return errors.New("finding audit UUID and file path must not be empty")
	}
	if finding.FindingID == "" {
		return errors.New("finding ID must not be empty")
	}
	if finding.CreatedAt.IsZero() {
		finding.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(finding)
	if err != nil {
		return fmt.Errorf("encoding finding: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key("file", finding.AuditUUID, finding.FilePath))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", graph.ErrUnknownFile, finding.FilePath)
		}
		if err != nil {
			return err
		}
		return txn.Set(key("finding", finding.AuditUUID, finding.FilePath, finding.FindingID), data)
	})
}

// ReplaceAuditStatus runs the delete-then-insert status protocol inside a
// single transaction. On any error the transaction is discarded and the
// previous status stays attached.
func (s *Store) ReplaceAuditStatus(ctx context.Context, auditUUID string, replace graph.ReplaceFunc) (graph.AuditStatus, error) {
	var next graph.AuditStatus
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key("audit", auditUUID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return graph.ErrAuditNotFound
			}
			return err
		}

		statuses, err := statusValues(txn, auditUUID)
		if err != nil {
			return err
		}
		if len(statuses) > 1 {
			return graph.ErrStatusIntegrity
		}

		var current graph.AuditStatus
		if len(statuses) == 1 {
			current = statuses[0]
		}

		next, err = replace(current)
		if err != nil {
			return err
		}
		if !next.Valid() {
			return fmt.Errorf("unknown audit status %q", next)
		}

		if current != "" {
			if err := txn.Delete(key("status", auditUUID, string(current))); err != nil {
				return fmt.Errorf("deleting status attribute: %w", err)
			}
		}
		stamp := time.Now().UTC().Format(time.RFC3339Nano)
		if err := txn.Set(key("status", auditUUID, string(next)), []byte(stamp)); err != nil {
			return fmt.Errorf("inserting status attribute: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return next, nil
}

// statusValues lists every status attribute attached to the audit.
func statusValues(txn *badger.Txn, auditUUID string) ([]graph.AuditStatus, error) {
	prefix := key("status", auditUUID, "")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var statuses []graph.AuditStatus
	for it.Rewind(); it.Valid(); it.Next() {
		k := string(it.Item().Key())
		statuses = append(statuses, graph.AuditStatus(k[len(prefix):]))
	}
	return statuses, nil
}
