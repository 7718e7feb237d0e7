// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vcs probes repository accessibility and materializes clones into
// cache workspaces.
//
// Probing and cloning are one operation: a depth-1 clone is attempted and
// the failure mode, if any, is classified from git's stderr. A clone that
// fails partway never leaves a partial workspace behind — the workspace is
// released before the result is returned.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"strings"

	"github.com/AleutianAI/repoaudit/internal/cache"
)

// ProbeStatus is the outcome class of an accessibility probe.
type ProbeStatus string

const (
	// StatusSuccess: the repository was cloned into a workspace.
	StatusSuccess ProbeStatus = "success"
	// StatusAuthRequired: the remote rejected anonymous access. Not
	// terminal — the caller may re-probe with credentials.
	StatusAuthRequired ProbeStatus = "auth_required"
	// StatusUnreachable: the host is unreachable or supplied credentials
	// were rejected. Terminal for the run.
	StatusUnreachable ProbeStatus = "unreachable"
)

// Credentials is a username/password (or token) pair for HTTPS remotes.
type Credentials struct {
	Username string
	Password string
}

// ProbeResult reports what a probe established about a repository URL.
// Workspace is populated only on StatusSuccess and then contains a full
// clone owned by the caller.
type ProbeResult struct {
	Status    ProbeStatus
	Message   string
	Workspace string
}

// Prober clones repositories through the git CLI.
type Prober struct {
	cache  *cache.Manager
	gitBin string
}

// NewProber creates a Prober that materializes clones into workspaces from
// the given cache manager.
func NewProber(cacheManager *cache.Manager) *Prober {
	return &Prober{cache: cacheManager, gitBin: "git"}
}

// Probe determines whether url is reachable anonymously, requires
// credentials, or is unreachable.
//
// Description:
//
//	Attempts a shallow clone into a fresh workspace. On success the
//	workspace is handed to the caller. Anonymous rejection returns
//	StatusAuthRequired without retrying; a rejection with credentials
//	supplied, or an unreachable host, returns StatusUnreachable.
//
// Inputs:
//
//	ctx - Context for cancellation
//	repoURL - Repository URL (https or ssh form)
//	creds - Optional credentials; nil means anonymous
//
// Outputs:
//
//	ProbeResult - Classified outcome; Workspace set on success
//	error - Non-nil only for local failures (workspace creation), never
//	        for remote-side outcomes, which are encoded in the result
func (p *Prober) Probe(ctx context.Context, repoURL string, creds *Credentials) (ProbeResult, error) {
	cloneURL, err := injectCredentials(repoURL, creds)
	if err != nil {
		return ProbeResult{
			Status:  StatusUnreachable,
			Message: fmt.Sprintf("invalid repository URL %q: %v", repoURL, err),
		}, nil
	}

	workspace, err := p.cache.Acquire(repoURL)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("acquiring workspace: %w", err)
	}

	slog.Info("Probing repository accessibility", "url", repoURL, "anonymous", creds == nil)
	stderr, cloneErr := p.clone(ctx, cloneURL, workspace)
	if cloneErr == nil {
		return ProbeResult{
			Status:    StatusSuccess,
			Message:   "repository cloned",
			Workspace: workspace,
		}, nil
	}

	// No partial clone may remain registered as ready.
	if relErr := p.cache.Release(workspace); relErr != nil {
		slog.Warn("Failed to release workspace after clone failure",
			"workspace", workspace, "error", relErr)
	}

	status, message := ClassifyCloneFailure(stderr, creds != nil)
	slog.Info("Repository probe failed", "url", repoURL, "status", status)
	return ProbeResult{Status: status, Message: message}, nil
}

// clone runs git clone and returns captured stderr on failure.
func (p *Prober) clone(ctx context.Context, cloneURL, workspace string) (string, error) {
	cmd := exec.CommandContext(ctx, p.gitBin, "clone", "--depth", "1", "--", cloneURL, workspace)
	// Never fall back to an interactive credential prompt.
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0", "GCM_INTERACTIVE=never")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stderr.String(), fmt.Errorf("git clone: %w", err)
	}
	return "", nil
}

// authFailurePatterns are stderr fragments git emits when the remote
// rejects the presented identity.
var authFailurePatterns = []string{
	"authentication failed",
	"could not read username",
	"could not read password",
	"invalid username or password",
	"http basic: access denied",
	"terminal prompts disabled",
	"401",
	"403",
}

// ClassifyCloneFailure maps git clone stderr to a probe status.
//
// With no credentials supplied, an authentication failure means the
// repository exists but requires credentials. With credentials supplied,
// the same failure is terminal: the credentials were rejected.
func ClassifyCloneFailure(stderr string, credentialed bool) (ProbeStatus, string) {
	lower := strings.ToLower(stderr)

	for _, pattern := range authFailurePatterns {
		if strings.Contains(lower, pattern) {
			if credentialed {
				return StatusUnreachable, "credentials rejected by remote"
			}
			return StatusAuthRequired, "repository requires authentication"
		}
	}

	message := strings.TrimSpace(stderr)
	if message == "" {
		message = "repository unreachable"
	}
	return StatusUnreachable, message
}

// injectCredentials embeds credentials into an https URL. Non-URL remotes
// (ssh shorthand) are passed through untouched.
func injectCredentials(repoURL string, creds *Credentials) (string, error) {
	if creds == nil {
		return repoURL, nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return repoURL, nil
	}
	u.User = url.UserPassword(creds.Username, creds.Password)
	return u.String(), nil
}
