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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterCodeFiles(t *testing.T) {
	table := DefaultFilterTable()

	t.Run("mixed repository listing", func(t *testing.T) {
		input := []string{
			"src/main.py",
			"docs/README.md",
			"LICENSE",
			"src/utils.js",
			"image.jpg",
			"script.sh",
			"Makefile",
			"Dockerfile",
		}
		got := table.FilterCodeFiles(input)
		assert.Equal(t, []string{
			"src/main.py",
			"src/utils.js",
			"script.sh",
			"Makefile",
			"Dockerfile",
		}, got)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, table.FilterCodeFiles(nil))
		assert.Empty(t, table.FilterCodeFiles([]string{}))
	})

	t.Run("no code files", func(t *testing.T) {
		got := table.FilterCodeFiles([]string{"README.md", "logo.png", "data.csv"})
		assert.Empty(t, got)
	})

	t.Run("input order preserved", func(t *testing.T) {
		got := table.FilterCodeFiles([]string{"z.go", "a.py", "m.rb"})
		assert.Equal(t, []string{"z.go", "a.py", "m.rb"}, got)
	})

	t.Run("matching is case sensitive", func(t *testing.T) {
		got := table.FilterCodeFiles([]string{"main.PY", "makefile", "MAKEFILE", "main.py"})
		assert.Equal(t, []string{"main.py"}, got)
	})

	t.Run("extensionless build files match by exact name", func(t *testing.T) {
		got := table.FilterCodeFiles([]string{"ci/Jenkinsfile", "deep/nested/Dockerfile", "Rakefile"})
		assert.Equal(t, []string{"ci/Jenkinsfile", "deep/nested/Dockerfile", "Rakefile"}, got)
	})

	t.Run("input slice not mutated", func(t *testing.T) {
		input := []string{"README.md", "main.py"}
		_ = table.FilterCodeFiles(input)
		assert.Equal(t, []string{"README.md", "main.py"}, input)
	})
}

func TestFilterTableOverrides(t *testing.T) {
	table := FilterTable{
		Extensions: setOf(".zig"),
		Filenames:  setOf("BUILD"),
	}
	got := table.FilterCodeFiles([]string{"main.zig", "main.py", "BUILD", "Makefile"})
	assert.Equal(t, []string{"main.zig", "BUILD"}, got)
}
