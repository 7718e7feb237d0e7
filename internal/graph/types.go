// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph defines the entities of the repository audit graph and the
// store port that persistence adapters implement.
//
// The model mirrors the audit pipeline: a Repository is probed, an Audit is
// created against it, CodeFile entities are imported from the cloned
// workspace, DependencyEdge records connect files, and AuditFinding records
// accumulate as files are analyzed. The audit's status attribute is the only
// mutable value in the model and is replaced exclusively through the store's
// transactional ReplaceAuditStatus protocol.
package graph

import "time"

// Accessibility describes what a repository probe established about a URL.
type Accessibility string

const (
	AccessibilityUnknown      Accessibility = "unknown"
	AccessibilityPublic       Accessibility = "public"
	AccessibilityAuthRequired Accessibility = "auth_required"
	AccessibilityUnreachable  Accessibility = "unreachable"
)

// AuditStatus is the lifecycle state of an audit run.
//
// Exactly one status value is attached to an audit at any instant. The
// store enforces this through ReplaceAuditStatus; observing more than one
// value is a fatal integrity error, not a recoverable condition.
type AuditStatus string

const (
	StatusCreated      AuditStatus = "created"
	StatusProbing      AuditStatus = "probing"
	StatusAuthRequired AuditStatus = "auth_required"
	StatusImporting    AuditStatus = "importing"
	StatusAuditing     AuditStatus = "auditing"
	StatusCompleted    AuditStatus = "completed"
	StatusFailed       AuditStatus = "failed"
)

// transitions maps each status to the statuses it may move to.
//
// auth_required is deliberately not terminal: a run loops back to probing
// once credentials are supplied. completed and failed have no successors.
var transitions = map[AuditStatus][]AuditStatus{
	StatusCreated:      {StatusProbing, StatusFailed},
	StatusProbing:      {StatusAuthRequired, StatusImporting, StatusFailed},
	StatusAuthRequired: {StatusProbing, StatusFailed},
	StatusImporting:    {StatusAuditing, StatusFailed},
	StatusAuditing:     {StatusCompleted, StatusFailed},
	StatusCompleted:    {},
	StatusFailed:       {},
}

// Valid reports whether s is a known status value.
func (s AuditStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition is accepted from s.
func (s AuditStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the state machine permits from -> to.
//
// An empty from means the audit has no status yet; only StatusCreated may
// be attached then.
func CanTransition(from, to AuditStatus) bool {
	if from == "" {
		return to == StatusCreated
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Repository is a probed source repository. The URL is the unique key per
// audit context; the record is immutable once successfully imported.
type Repository struct {
	URL           string        `json:"url"`
	Accessibility Accessibility `json:"accessibility"`
}

// Audit is one pipeline run against a repository snapshot.
type Audit struct {
	UUID          string      `json:"audit_uuid"`
	RepositoryURL string      `json:"repository_url"`
	Status        AuditStatus `json:"audit_status,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// File is a code file imported from the cloned workspace. Path is
// repository-relative with forward slashes and is unique within an audit.
type File struct {
	AuditUUID     string `json:"audit_uuid"`
	RepositoryURL string `json:"repository_url"`
	Path          string `json:"path"`
	Language      string `json:"language,omitempty"`
	ContentHash   string `json:"content_hash,omitempty"`
}

// Dependency is a directed depends_on edge between two file paths within
// one audit. ToPath may name a path with no File entity (a dangling
// reference); the store accepts it unchanged.
type Dependency struct {
	AuditUUID string `json:"audit_uuid"`
	FromPath  string `json:"from_path"`
	ToPath    string `json:"to_path"`
}

// Finding is the structured output of one file's content analysis. Findings
// are append-only: re-auditing a file creates a new Finding and the old one
// is preserved.
type Finding struct {
	FindingID string    `json:"finding_id"`
	AuditUUID string    `json:"audit_uuid"`
	FilePath  string    `json:"file_path"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
