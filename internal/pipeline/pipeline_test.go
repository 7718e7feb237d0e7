// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/repoaudit/internal/auditor"
	"github.com/AleutianAI/repoaudit/internal/cache"
	"github.com/AleutianAI/repoaudit/internal/graph"
	"github.com/AleutianAI/repoaudit/internal/graph/badgerstore"
	"github.com/AleutianAI/repoaudit/internal/importer"
	"github.com/AleutianAI/repoaudit/internal/status"
	"github.com/AleutianAI/repoaudit/internal/vcs"
)

const testRepoURL = "https://example.com/org/repo.git"

type fakeProber struct {
	cache   *cache.Manager
	results []vcs.ProbeResult
	creds   []*vcs.Credentials
}

func (f *fakeProber) Probe(_ context.Context, _ string, creds *vcs.Credentials) (vcs.ProbeResult, error) {
	f.creds = append(f.creds, creds)
	result := f.results[len(f.creds)-1]
	if result.Status == vcs.StatusSuccess {
		ws, err := f.cache.Acquire("test")
		if err != nil {
			return vcs.ProbeResult{}, err
		}
		result.Workspace = ws
	}
	return result, nil
}

type fakeImporter struct {
	report *importer.Report
	err    error
	calls  int
}

func (f *fakeImporter) Import(context.Context, string, string, string) (*importer.Report, error) {
	f.calls++
	return f.report, f.err
}

type fakeAuditor struct {
	paths  []string
	ok     bool
	report *auditor.BatchReport
	calls  int
}

func (f *fakeAuditor) FetchFilesFromRepo(context.Context, string, string) ([]string, error) {
	return f.paths, nil
}

func (f *fakeAuditor) AuditFiles(context.Context, string, string, []string, string) (bool, *auditor.BatchReport) {
	f.calls++
	return f.ok, f.report
}

type fixture struct {
	store     graph.Store
	cache     *cache.Manager
	cacheRoot string
	prober    *fakeProber
	imp       *fakeImporter
	aud       *fakeAuditor
	statuss   *status.Store
}

func newFixture(t *testing.T, probeResults ...vcs.ProbeResult) *fixture {
	t.Helper()
	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cacheRoot := filepath.Join(t.TempDir(), "cache")
	cacheManager := cache.NewManager(cacheRoot, cache.WithRetryPolicy(1, 0))
	return &fixture{
		store:     store,
		cacheRoot: cacheRoot,
		cache:  cacheManager,
		prober: &fakeProber{cache: cacheManager, results: probeResults},
		imp:    &fakeImporter{report: &importer.Report{Files: 3}},
		aud: &fakeAuditor{
			paths:  []string{"main.py"},
			ok:     true,
			report: &auditor.BatchReport{Requested: 1, Filtered: 1, Audited: 1},
		},
		statuss: status.NewStore(store),
	}
}

func (f *fixture) runner(opts ...Option) *Runner {
	return NewRunner(f.store, f.statuss, f.prober, f.imp, f.aud, f.cache, opts...)
}

func (f *fixture) auditStatus(t *testing.T, uuid string) graph.AuditStatus {
	t.Helper()
	current, err := f.statuss.Get(context.Background(), uuid)
	require.NoError(t, err)
	return current
}

func TestRunCompletes(t *testing.T) {
	f := newFixture(t, vcs.ProbeResult{Status: vcs.StatusSuccess})

	result, err := f.runner().Run(context.Background(), testRepoURL)
	require.NoError(t, err)

	assert.True(t, result.Succeeded)
	assert.Equal(t, StageDone, result.Stage)
	assert.Equal(t, 3, result.FilesImported)
	assert.Equal(t, 1, result.FilesAudited)
	assert.Equal(t, graph.StatusCompleted, f.auditStatus(t, result.AuditUUID))
	assert.Equal(t, 1, f.imp.calls)
	assert.Equal(t, 1, f.aud.calls)
}

func TestRunAuthFlow(t *testing.T) {
	t.Run("credentials accepted on second probe", func(t *testing.T) {
		f := newFixture(t,
			vcs.ProbeResult{Status: vcs.StatusAuthRequired, Message: "repository requires authentication"},
			vcs.ProbeResult{Status: vcs.StatusSuccess},
		)
		creds := &vcs.Credentials{Username: "bot", Password: "token"}
		prompt := func(context.Context, string) (*vcs.Credentials, error) { return creds, nil }

		result, err := f.runner(WithCredentialPrompt(prompt)).Run(context.Background(), testRepoURL)
		require.NoError(t, err)

		assert.True(t, result.Succeeded)
		require.Len(t, f.prober.creds, 2)
		assert.Nil(t, f.prober.creds[0])
		assert.Equal(t, creds, f.prober.creds[1])
		assert.Equal(t, graph.StatusCompleted, f.auditStatus(t, result.AuditUUID))
	})

	t.Run("no prompt installed fails the run", func(t *testing.T) {
		f := newFixture(t,
			vcs.ProbeResult{Status: vcs.StatusAuthRequired, Message: "repository requires authentication"},
		)

		result, err := f.runner().Run(context.Background(), testRepoURL)
		require.NoError(t, err)

		assert.False(t, result.Succeeded)
		assert.Equal(t, StageProbe, result.Stage)
		assert.Equal(t, graph.StatusFailed, f.auditStatus(t, result.AuditUUID))
		assert.Zero(t, f.imp.calls)
	})

	t.Run("declined prompt fails the run", func(t *testing.T) {
		f := newFixture(t,
			vcs.ProbeResult{Status: vcs.StatusAuthRequired},
		)
		prompt := func(context.Context, string) (*vcs.Credentials, error) { return nil, nil }

		result, err := f.runner(WithCredentialPrompt(prompt)).Run(context.Background(), testRepoURL)
		require.NoError(t, err)

		assert.False(t, result.Succeeded)
		require.Len(t, f.prober.creds, 1)
	})

	t.Run("rejected credentials fail the run", func(t *testing.T) {
		f := newFixture(t,
			vcs.ProbeResult{Status: vcs.StatusAuthRequired},
			vcs.ProbeResult{Status: vcs.StatusUnreachable, Message: "credentials rejected by remote"},
		)
		prompt := func(context.Context, string) (*vcs.Credentials, error) {
			return &vcs.Credentials{Username: "bot", Password: "bad"}, nil
		}

		result, err := f.runner(WithCredentialPrompt(prompt)).Run(context.Background(), testRepoURL)
		require.NoError(t, err)

		assert.False(t, result.Succeeded)
		assert.Equal(t, "credentials rejected by remote", result.Message)
		assert.Equal(t, graph.StatusFailed, f.auditStatus(t, result.AuditUUID))
	})
}

func TestRunUnreachable(t *testing.T) {
	f := newFixture(t, vcs.ProbeResult{Status: vcs.StatusUnreachable, Message: "could not resolve host"})

	result, err := f.runner().Run(context.Background(), testRepoURL)
	require.NoError(t, err)

	assert.False(t, result.Succeeded)
	assert.Equal(t, StageProbe, result.Stage)
	assert.Equal(t, "could not resolve host", result.Message)
	assert.Equal(t, graph.StatusFailed, f.auditStatus(t, result.AuditUUID))
}

func TestRunImportFailure(t *testing.T) {
	f := newFixture(t, vcs.ProbeResult{Status: vcs.StatusSuccess})
	f.imp.report = nil
	f.imp.err = errors.New("disk full")

	result, err := f.runner().Run(context.Background(), testRepoURL)
	require.NoError(t, err)

	assert.False(t, result.Succeeded)
	assert.Equal(t, StageImport, result.Stage)
	assert.Equal(t, graph.StatusFailed, f.auditStatus(t, result.AuditUUID))
	assert.Zero(t, f.aud.calls)
}

func TestRunAuditFailures(t *testing.T) {
	t.Run("no auditable code files", func(t *testing.T) {
		f := newFixture(t, vcs.ProbeResult{Status: vcs.StatusSuccess})
		f.aud.ok = false
		f.aud.report = &auditor.BatchReport{Requested: 2}

		result, err := f.runner().Run(context.Background(), testRepoURL)
		require.NoError(t, err)

		assert.False(t, result.Succeeded)
		assert.Equal(t, StageAudit, result.Stage)
		assert.Equal(t, "no auditable code files", result.Message)
		assert.Equal(t, graph.StatusFailed, f.auditStatus(t, result.AuditUUID))
	})

	t.Run("partial file failures listed in the result", func(t *testing.T) {
		f := newFixture(t, vcs.ProbeResult{Status: vcs.StatusSuccess})
		f.aud.ok = false
		f.aud.report = &auditor.BatchReport{
			Requested: 2, Filtered: 2, Audited: 1,
			Failures: []auditor.FileFailure{{Path: "bad.py", Err: errors.New("boom")}},
		}

		result, err := f.runner().Run(context.Background(), testRepoURL)
		require.NoError(t, err)

		assert.False(t, result.Succeeded)
		assert.Equal(t, 1, result.FilesAudited)
		assert.Equal(t, []string{"bad.py"}, result.FailedFiles)
		assert.Equal(t, graph.StatusFailed, f.auditStatus(t, result.AuditUUID))
	})
}

// failingRepoStore delegates everything except the repository write.
type failingRepoStore struct {
	graph.Store
	err error
}

func (s *failingRepoStore) UpsertRepository(context.Context, graph.Repository) error {
	return s.err
}

func TestRunReleasesWorkspaceWhenRepositoryWriteFails(t *testing.T) {
	f := newFixture(t, vcs.ProbeResult{Status: vcs.StatusSuccess})
	failing := &failingRepoStore{Store: f.store, err: errors.New("write refused")}

	type event struct{ uuid, path string }
	var events []event
	hook := func(uuid, path string) { events = append(events, event{uuid, path}) }

	runner := NewRunner(failing, status.NewStore(failing), f.prober, f.imp, f.aud, f.cache,
		WithWorkspaceHook(hook))

	_, err := runner.Run(context.Background(), testRepoURL)
	require.Error(t, err)

	// The clone was handed over and released despite the failed write.
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].path)
	assert.Empty(t, events[1].path)

	entries, readErr := os.ReadDir(f.cacheRoot)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestRunWorkspaceHook(t *testing.T) {
	f := newFixture(t, vcs.ProbeResult{Status: vcs.StatusSuccess})

	type event struct{ uuid, path string }
	var events []event
	hook := func(uuid, path string) { events = append(events, event{uuid, path}) }

	result, err := f.runner(WithWorkspaceHook(hook)).Run(context.Background(), testRepoURL)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, result.AuditUUID, events[0].uuid)
	assert.NotEmpty(t, events[0].path)
	assert.Empty(t, events[1].path)
	// Workspace was released before the run returned.
	assert.NoDirExists(t, events[0].path)
}
