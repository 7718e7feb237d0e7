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

import "path"

// FilterTable decides which repository files are auditable code.
//
// Matching is case-sensitive and purely name-based: a file qualifies if
// its extension is listed in Extensions or its exact base name is listed
// in Filenames. The table is configuration data, not logic, so deployments
// can widen or narrow it without code changes.
type FilterTable struct {
	Extensions map[string]bool
	Filenames  map[string]bool
}

// DefaultFilterTable returns the stock set of auditable extensions and
// extensionless build files.
func DefaultFilterTable() FilterTable {
	return FilterTable{
		Extensions: setOf(
			".py", ".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs",
			".go", ".java", ".rb", ".rs", ".c", ".h", ".cc", ".cpp", ".hpp", ".hh",
			".cs", ".php", ".swift", ".kt", ".scala",
			".sh", ".bash", ".ps1", ".sql", ".pl", ".lua", ".r", ".m",
		),
		Filenames: setOf(
			"Makefile", "Dockerfile", "Jenkinsfile", "Rakefile",
			"CMakeLists.txt", "Gemfile", "Vagrantfile",
		),
	}
}

// Matches reports whether relPath names an auditable code file.
func (t FilterTable) Matches(relPath string) bool {
	if t.Filenames[path.Base(relPath)] {
		return true
	}
	ext := path.Ext(relPath)
	return ext != "" && t.Extensions[ext]
}

// FilterCodeFiles returns the subset of paths that are auditable code,
// preserving input order. The input is never modified; an empty or nil
// input yields an empty result.
func (t FilterTable) FilterCodeFiles(paths []string) []string {
	filtered := make([]string, 0, len(paths))
	for _, p := range paths {
		if t.Matches(p) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func setOf(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}
