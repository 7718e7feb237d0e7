// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/repoaudit/internal/auditor"
	"github.com/AleutianAI/repoaudit/internal/cache"
	"github.com/AleutianAI/repoaudit/internal/config"
	"github.com/AleutianAI/repoaudit/internal/graph"
	"github.com/AleutianAI/repoaudit/internal/graph/badgerstore"
	"github.com/AleutianAI/repoaudit/internal/graph/weaviatestore"
	"github.com/AleutianAI/repoaudit/internal/importer"
	"github.com/AleutianAI/repoaudit/internal/pipeline"
	"github.com/AleutianAI/repoaudit/internal/status"
	"github.com/AleutianAI/repoaudit/internal/vcs"
)

// maxConcurrentRuns bounds parallel audits so clone traffic and API usage
// stay reasonable on a workstation.
const maxConcurrentRuns = 4

func runAudits(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("preparing store schema: %w", err)
	}

	cacheManager := cache.NewManager(cfg.Cache.Root,
		cache.WithRetryPolicy(cfg.Cache.CleanupRetries, time.Duration(cfg.Cache.CleanupDelaySeconds)*time.Second))

	contentAuditor, err := auditor.NewOpenAIAuditor(cfg.OpenAI.Model)
	if err != nil {
		return err
	}

	fileAuditor := auditor.NewFileAuditor(store, contentAuditor, auditor.NewGraphSink(store), filterTable(cfg))

	tracker := newWorkspaceTracker(cacheManager)
	defer tracker.releaseAll()

	opts := []pipeline.Option{pipeline.WithWorkspaceHook(tracker.observe)}
	if !noPrompt {
		opts = append(opts, pipeline.WithCredentialPrompt(promptCredentials))
	}

	runner := pipeline.NewRunner(store, status.NewStore(store),
		vcs.NewProber(cacheManager), importer.New(store), fileAuditor, cacheManager, opts...)

	// Serialize runs when credentials may be prompted; interleaved stdin
	// reads from concurrent runs are unusable.
	concurrency := maxConcurrentRuns
	if !noPrompt && len(args) > 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	results := make([]*pipeline.RunResult, 0, len(args))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for _, repoURL := range args {
		group.Go(func() error {
			result, runErr := runner.Run(groupCtx, repoURL)
			if runErr != nil {
				return fmt.Errorf("audit of %s: %w", repoURL, runErr)
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	waitErr := group.Wait()

	// Audits that finished before another run errored still get reported.
	failed := reportResults(cmd, results)
	if waitErr != nil {
		return waitErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d audits did not complete", failed, len(results))
	}
	return nil
}

// reportResults prints every collected result and returns how many runs
// did not complete.
func reportResults(cmd *cobra.Command, results []*pipeline.RunResult) int {
	failed := 0
	for _, result := range results {
		printResult(cmd, result)
		if !result.Succeeded {
			failed++
		}
	}
	return failed
}

func printResult(cmd *cobra.Command, result *pipeline.RunResult) {
	state := "completed"
	if !result.Succeeded {
		state = fmt.Sprintf("failed at %s stage", result.Stage)
	}
	cmd.Printf("%s\n  audit: %s\n  state: %s\n  files imported: %d, audited: %d\n",
		result.RepositoryURL, result.AuditUUID, state, result.FilesImported, result.FilesAudited)
	if result.Message != "" {
		cmd.Printf("  detail: %s\n", result.Message)
	}
	for _, path := range result.FailedFiles {
		cmd.Printf("  failed file: %s\n", path)
	}
}

// newStore opens the configured graph store backend.
func newStore(ctx context.Context, cfg config.Config) (graph.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendWeaviate:
		return weaviatestore.New(cfg.Store.Weaviate.URL)
	case config.BackendBadger:
		return badgerstore.Open(cfg.Store.Badger.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// filterTable applies config overrides on top of the default filter.
func filterTable(cfg config.Config) auditor.FilterTable {
	table := auditor.DefaultFilterTable()
	for _, ext := range cfg.Filter.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		table.Extensions[ext] = true
	}
	for _, name := range cfg.Filter.Filenames {
		table.Filenames[name] = true
	}
	return table
}

// promptCredentials reads a username and password from the terminal.
func promptCredentials(ctx context.Context, repoURL string) (*vcs.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "Repository %s requires authentication.\n", repoURL)
	reader := bufio.NewReader(os.Stdin)

	fmt.Fprint(os.Stderr, "Username (empty to skip): ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading username: %w", err)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil
	}

	fmt.Fprint(os.Stderr, "Password or token: ")
	password, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return &vcs.Credentials{Username: username, Password: strings.TrimSpace(password)}, nil
}

// workspaceTracker remembers live clone workspaces so an interrupted
// process can still release them on the way out.
type workspaceTracker struct {
	mu     sync.Mutex
	cache  *cache.Manager
	active map[string]string
}

func newWorkspaceTracker(cacheManager *cache.Manager) *workspaceTracker {
	return &workspaceTracker{cache: cacheManager, active: make(map[string]string)}
}

func (t *workspaceTracker) observe(auditUUID, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if path == "" {
		delete(t.active, auditUUID)
		return
	}
	t.active[auditUUID] = path
}

func (t *workspaceTracker) releaseAll() {
	t.mu.Lock()
	paths := make([]string, 0, len(t.active))
	for _, path := range t.active {
		paths = append(paths, path)
	}
	t.active = make(map[string]string)
	t.mu.Unlock()

	for _, path := range paths {
		if err := t.cache.Release(path); err != nil {
			slog.Warn("Could not release workspace on shutdown", "workspace", path, "error", err)
		}
	}
}
