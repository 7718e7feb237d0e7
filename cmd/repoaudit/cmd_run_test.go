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
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/repoaudit/internal/config"
	"github.com/AleutianAI/repoaudit/internal/pipeline"
)

func TestReportResults(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	results := []*pipeline.RunResult{
		{
			RepositoryURL: "https://example.com/org/good.git",
			AuditUUID:     "uuid-good",
			Stage:         pipeline.StageDone,
			Succeeded:     true,
			FilesImported: 4,
			FilesAudited:  2,
		},
		{
			RepositoryURL: "https://example.com/org/bad.git",
			AuditUUID:     "uuid-bad",
			Stage:         pipeline.StageAudit,
			Message:       "1 of 2 file audits failed",
			FailedFiles:   []string{"src/bad.py"},
			FilesImported: 2,
			FilesAudited:  1,
		},
	}

	failed := reportResults(cmd, results)
	assert.Equal(t, 1, failed)

	// Completed runs are reported even when others did not finish.
	output := out.String()
	assert.Contains(t, output, "https://example.com/org/good.git")
	assert.Contains(t, output, "uuid-good")
	assert.Contains(t, output, "state: completed")
	assert.Contains(t, output, "https://example.com/org/bad.git")
	assert.Contains(t, output, "failed at audit stage")
	assert.Contains(t, output, "detail: 1 of 2 file audits failed")
	assert.Contains(t, output, "failed file: src/bad.py")
}

func TestFilterTableOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Filter.Extensions = []string{"zig", ".nim"}
	cfg.Filter.Filenames = []string{"BUILD"}

	table := filterTable(cfg)
	assert.True(t, table.Extensions[".zig"])
	assert.True(t, table.Extensions[".nim"])
	assert.True(t, table.Filenames["BUILD"])
	// Defaults stay in place.
	assert.True(t, table.Extensions[".py"])
	assert.True(t, table.Filenames["Makefile"])
}
