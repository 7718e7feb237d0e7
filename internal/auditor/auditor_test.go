// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auditor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/repoaudit/internal/graph"
)

type fakeContentAuditor struct {
	calls  []string
	failOn map[string]error
}

func (f *fakeContentAuditor) Audit(_ context.Context, filePath, _ string) (string, error) {
	f.calls = append(f.calls, filePath)
	if err, ok := f.failOn[filePath]; ok {
		return "", err
	}
	return `{"summary":"ok"}`, nil
}

type fakeSink struct {
	ingested []graph.Finding
	failOn   map[string]error
}

func (f *fakeSink) Ingest(_ context.Context, finding graph.Finding) error {
	if err, ok := f.failOn[finding.FilePath]; ok {
		return err
	}
	f.ingested = append(f.ingested, finding)
	return nil
}

// fakePathStore stubs just the path listing; the embedded nil Store panics
// on anything else, which is the point.
type fakePathStore struct {
	graph.Store
	paths []string
}

func (f *fakePathStore) FilePaths(context.Context, string, string) ([]string, error) {
	return f.paths, nil
}

func newWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	ws := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(ws, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return ws
}

func TestAuditFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("no code files returns false without calling the service", func(t *testing.T) {
		content := &fakeContentAuditor{}
		sink := &fakeSink{}
		a := NewFileAuditor(nil, content, sink, DefaultFilterTable())

		ok, report := a.AuditFiles(ctx, "repo", "audit-1",
			[]string{"README.md", "LICENSE", "logo.png"}, t.TempDir())

		assert.False(t, ok)
		assert.Equal(t, 3, report.Requested)
		assert.Zero(t, report.Filtered)
		assert.Empty(t, content.calls)
		assert.Empty(t, sink.ingested)
	})

	t.Run("empty input returns false", func(t *testing.T) {
		content := &fakeContentAuditor{}
		a := NewFileAuditor(nil, content, &fakeSink{}, DefaultFilterTable())

		ok, report := a.AuditFiles(ctx, "repo", "audit-1", nil, t.TempDir())
		assert.False(t, ok)
		assert.Zero(t, report.Filtered)
		assert.Empty(t, content.calls)
	})

	t.Run("all files succeed", func(t *testing.T) {
		ws := newWorkspace(t, map[string]string{
			"src/main.py": "print('hi')\n",
			"util.sh":     "echo hi\n",
		})
		content := &fakeContentAuditor{}
		sink := &fakeSink{}
		a := NewFileAuditor(nil, content, sink, DefaultFilterTable())

		ok, report := a.AuditFiles(ctx, "repo", "audit-1",
			[]string{"src/main.py", "util.sh", "README.md"}, ws)

		assert.True(t, ok)
		assert.Equal(t, 2, report.Filtered)
		assert.Equal(t, 2, report.Audited)
		assert.Empty(t, report.Failures)
		require.Len(t, sink.ingested, 2)
		for _, finding := range sink.ingested {
			assert.Equal(t, "audit-1", finding.AuditUUID)
			assert.NotEmpty(t, finding.FindingID)
			assert.JSONEq(t, `{"summary":"ok"}`, finding.Payload)
		}
	})

	t.Run("one failure preserves the other file's finding", func(t *testing.T) {
		ws := newWorkspace(t, map[string]string{
			"good.py": "x = 1\n",
			"bad.py":  "y = 2\n",
		})
		analysisErr := errors.New("model overloaded")
		content := &fakeContentAuditor{failOn: map[string]error{"bad.py": analysisErr}}
		sink := &fakeSink{}
		a := NewFileAuditor(nil, content, sink, DefaultFilterTable())

		ok, report := a.AuditFiles(ctx, "repo", "audit-1", []string{"bad.py", "good.py"}, ws)

		assert.False(t, ok)
		assert.Equal(t, 1, report.Audited)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, "bad.py", report.Failures[0].Path)
		assert.ErrorIs(t, report.Failures[0].Err, analysisErr)
		require.Len(t, sink.ingested, 1)
		assert.Equal(t, "good.py", sink.ingested[0].FilePath)
	})

	t.Run("missing file recorded as cache miss", func(t *testing.T) {
		ws := newWorkspace(t, map[string]string{"present.py": "x\n"})
		content := &fakeContentAuditor{}
		a := NewFileAuditor(nil, content, &fakeSink{}, DefaultFilterTable())

		ok, report := a.AuditFiles(ctx, "repo", "audit-1", []string{"present.py", "absent.py"}, ws)

		assert.False(t, ok)
		require.Len(t, report.Failures, 1)
		assert.ErrorIs(t, report.Failures[0].Err, ErrFileNotInCache)
		// The analysis service is never asked about the missing file.
		assert.Equal(t, []string{"present.py"}, content.calls)
	})

	t.Run("sink failure counts against the file", func(t *testing.T) {
		ws := newWorkspace(t, map[string]string{"main.py": "x\n"})
		sinkErr := errors.New("store down")
		sink := &fakeSink{failOn: map[string]error{"main.py": sinkErr}}
		a := NewFileAuditor(nil, &fakeContentAuditor{}, sink, DefaultFilterTable())

		ok, report := a.AuditFiles(ctx, "repo", "audit-1", []string{"main.py"}, ws)
		assert.False(t, ok)
		require.Len(t, report.Failures, 1)
		assert.ErrorIs(t, report.Failures[0].Err, sinkErr)
	})
}

func TestFetchFilesFromRepo(t *testing.T) {
	store := &fakePathStore{paths: []string{"a.py", "b.py", "a.py", "c.py", "b.py"}}
	a := NewFileAuditor(store, &fakeContentAuditor{}, &fakeSink{}, DefaultFilterTable())

	paths, err := a.FetchFilesFromRepo(context.Background(), "repo", "audit-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "b.py", "c.py"}, paths)
}

func TestReadFileContentFromCache(t *testing.T) {
	ws := newWorkspace(t, map[string]string{"src/main.py": "print('hi')\n"})

	t.Run("plain relative path", func(t *testing.T) {
		content, err := ReadFileContentFromCache(ws, "src/main.py")
		require.NoError(t, err)
		assert.Equal(t, "print('hi')\n", content)
	})

	t.Run("leading slash normalized", func(t *testing.T) {
		content, err := ReadFileContentFromCache(ws, "/src/main.py")
		require.NoError(t, err)
		assert.Equal(t, "print('hi')\n", content)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFileContentFromCache(ws, "src/ghost.py")
		assert.ErrorIs(t, err, ErrFileNotInCache)
	})

	t.Run("traversal rejected", func(t *testing.T) {
		_, err := ReadFileContentFromCache(ws, "../outside.py")
		assert.ErrorIs(t, err, ErrFileNotInCache)
	})

	t.Run("empty path rejected", func(t *testing.T) {
		_, err := ReadFileContentFromCache(ws, "")
		assert.ErrorIs(t, err, ErrFileNotInCache)
	})
}
