// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache manages ephemeral filesystem workspaces for audit runs.
//
// Each run gets a fresh, exclusively-owned directory under the manager's
// root. Release is defensive: version-control checkouts routinely contain
// read-only objects (.git/objects is the usual offender), so permissions
// are normalized before removal and the whole removal retries a bounded
// number of times. A cleanup that still fails is reported to the caller
// but must never abort the pipeline — callers log it and move on.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrOutsideRoot is returned when Release is asked to delete a path the
// manager does not own.
var ErrOutsideRoot = errors.New("workspace path outside cache root")

const (
	defaultRetries = 3
	defaultDelay   = 2 * time.Second
)

// Manager issues and destroys workspace directories.
//
// # Thread Safety
//
// Manager is safe for concurrent use: Acquire relies on the operating
// system for collision-free directory creation, and Release touches only
// the directory it is given.
type Manager struct {
	root    string
	retries int
	delay   time.Duration
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRetryPolicy overrides the cleanup retry count and delay.
func WithRetryPolicy(retries int, delay time.Duration) Option {
	return func(m *Manager) {
		if retries > 0 {
			m.retries = retries
		}
		if delay >= 0 {
			m.delay = delay
		}
	}
}

// NewManager creates a Manager rooted at root. The root directory is
// created on first Acquire.
func NewManager(root string, opts ...Option) *Manager {
	m := &Manager{
		root:    root,
		retries: defaultRetries,
		delay:   defaultDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire creates a fresh workspace directory tied to scopeKey.
//
// Description:
//
//	The directory name embeds a sanitized scopeKey (audit UUID or
//	repository URL) plus a random suffix, so concurrent runs with the
//	same scope never collide.
//
// Inputs:
//
//	scopeKey - Run identity; must not be empty.
//
// Outputs:
//
//	string - Absolute path of the new workspace
//	error - Non-nil if the directory cannot be created
func (m *Manager) Acquire(scopeKey string) (string, error) {
	if scopeKey == "" {
		return "", errors.New("scopeKey must not be empty")
	}
	if err := os.MkdirAll(m.root, 0o750); err != nil {
		return "", fmt.Errorf("creating cache root: %w", err)
	}
	dir, err := os.MkdirTemp(m.root, sanitizeScope(scopeKey)+"-")
	if err != nil {
		return "", fmt.Errorf("creating workspace for %s: %w", scopeKey, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving workspace path: %w", err)
	}
	slog.Debug("Acquired workspace", "path", abs, "scope", scopeKey)
	return abs, nil
}

// Release recursively deletes a workspace.
//
// Description:
//
//	Clears read-only permission bits on every entry (some platforms
//	refuse to unlink read-only or hidden files) and removes the tree,
//	retrying up to the configured attempt count with a fixed delay.
//	Releasing an already-removed workspace succeeds.
//
// Outputs:
//
//	error - The terminal removal error after all retries. Callers treat
//	        it as non-fatal: log and continue.
func (m *Manager) Release(path string) error {
	if path == "" {
		return nil
	}
	if !m.owns(path) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}

	var lastErr error
	for attempt := 1; attempt <= m.retries; attempt++ {
		normalizeAttributes(path)
		if err := os.RemoveAll(path); err == nil {
			slog.Debug("Released workspace", "path", path)
			return nil
		} else {
			lastErr = err
		}
		slog.Warn("Workspace cleanup failed, retrying",
			"path", path, "attempt", attempt, "error", lastErr)
		if attempt < m.retries {
			time.Sleep(m.delay)
		}
	}
	return fmt.Errorf("releasing workspace %s after %d attempts: %w", path, m.retries, lastErr)
}

// owns reports whether path is inside the manager's root.
func (m *Manager) owns(path string) bool {
	absRoot, err := filepath.Abs(m.root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// normalizeAttributes makes every entry under path writable so unlinking
// cannot be refused. Errors are ignored: entries that stay read-only will
// surface through RemoveAll.
func normalizeAttributes(path string) {
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = os.Chmod(p, 0o700)
		} else {
			_ = os.Chmod(p, 0o600)
		}
		return nil
	})
}

// sanitizeScope converts a scope key to a safe directory name fragment.
func sanitizeScope(scope string) string {
	mapper := func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}
	s := strings.Map(mapper, scope)
	const maxLen = 48
	if len(s) > maxLen {
		s = s[len(s)-maxLen:]
	}
	return s
}
