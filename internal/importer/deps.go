// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package importer

import (
	"bufio"
	"path"
	"regexp"
	"strings"
)

// Declared-dependency extraction.
//
// References are taken from import/include statements only; no build
// system or module resolution is attempted. A reference that resolves to
// a path with no imported File entity is still recorded as an edge (a
// dangling reference), so cycles and unresolved targets never fail an
// import.

var (
	pythonImportPattern = regexp.MustCompile(`^\s*import\s+([\w\. ,]+)`)
	pythonFromPattern   = regexp.MustCompile(`^\s*from\s+([\w\.]+)\s+import\b`)
	jsImportPattern     = regexp.MustCompile(`\bfrom\s+['"]([^'"]+)['"]`)
	jsRequirePattern    = regexp.MustCompile(`\brequire\(\s*['"]([^'"]+)['"]\s*\)`)
	jsBareImportPattern = regexp.MustCompile(`^\s*import\s+['"]([^'"]+)['"]`)
	cIncludePattern     = regexp.MustCompile(`^\s*#\s*include\s+"([^"]+)"`)
)

// jsExtensions are tried, in order, when a relative specifier has no
// extension of its own.
var jsExtensions = []string{".js", ".ts", ".jsx", ".tsx", ".mjs", ".cjs"}

// ExtractReferences returns the repository-relative paths a file declares a
// dependency on.
//
// Inputs:
//
//	relPath - Repository-relative path of the referencing file (slash form)
//	content - File content
//	exists - Reports whether a candidate path was imported as a File;
//	         used only to pick between resolution candidates
//
// Outputs:
//
//	[]string - Deduplicated candidate targets in declaration order
func ExtractReferences(relPath, content string, exists func(string) bool) []string {
	if exists == nil {
		exists = func(string) bool { return false }
	}

	var refs []string
	switch strings.ToLower(path.Ext(relPath)) {
	case ".py":
		refs = extractPython(relPath, content, exists)
	case ".js", ".ts", ".jsx", ".tsx", ".mjs", ".cjs":
		refs = extractJavaScript(relPath, content, exists)
	case ".c", ".h", ".cpp", ".hpp", ".cc", ".hh":
		refs = extractCInclude(relPath, content)
	default:
		return nil
	}

	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, ref := range refs {
		if ref == "" || ref == relPath || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

func extractPython(relPath, content string, exists func(string) bool) []string {
	dir := path.Dir(relPath)
	var refs []string

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if m := pythonFromPattern.FindStringSubmatch(line); m != nil {
			refs = append(refs, resolvePythonModule(dir, m[1], exists))
			continue
		}
		if m := pythonImportPattern.FindStringSubmatch(line); m != nil {
			for _, mod := range strings.Split(m[1], ",") {
				mod = strings.TrimSpace(mod)
				// "import a.b as c" keeps only the module part.
				if idx := strings.Index(mod, " as "); idx >= 0 {
					mod = mod[:idx]
				}
				if mod != "" {
					refs = append(refs, resolvePythonModule(dir, mod, exists))
				}
			}
		}
	}
	return refs
}

// resolvePythonModule maps a dotted module to a repository path. Leading
// dots resolve relative to the importing file's package; absolute modules
// resolve from the repository root. Of the two conventional layouts
// (module.py vs module/__init__.py) the one that was imported wins;
// module.py is the dangling fallback.
func resolvePythonModule(dir, module string, exists func(string) bool) string {
	base := ""
	if strings.HasPrefix(module, ".") {
		// The first dot anchors at the importing file's package; each
		// additional dot walks one package up.
		module = module[1:]
		base = dir
		for strings.HasPrefix(module, ".") {
			module = module[1:]
			base = path.Dir(base)
		}
		// "from . import x" names the package itself.
		if module == "" {
			return cleanRepoPath(path.Join(base, "__init__.py"))
		}
	}

	rel := strings.ReplaceAll(module, ".", "/")
	asFile := cleanRepoPath(path.Join(base, rel+".py"))
	asPackage := cleanRepoPath(path.Join(base, rel, "__init__.py"))
	if !exists(asFile) && exists(asPackage) {
		return asPackage
	}
	return asFile
}

func extractJavaScript(relPath, content string, exists func(string) bool) []string {
	dir := path.Dir(relPath)
	var refs []string

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		for _, pattern := range []*regexp.Regexp{jsImportPattern, jsRequirePattern, jsBareImportPattern} {
			for _, m := range pattern.FindAllStringSubmatch(line, -1) {
				spec := m[1]
				// Package imports resolve through node_modules, not the
				// repository tree; only relative specifiers become edges.
				if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") {
					continue
				}
				refs = append(refs, resolveJSSpecifier(dir, spec, exists))
			}
		}
	}
	return refs
}

func resolveJSSpecifier(dir, spec string, exists func(string) bool) string {
	target := cleanRepoPath(path.Join(dir, spec))
	if target == "" {
		return ""
	}
	if path.Ext(target) != "" {
		return target
	}
	for _, ext := range jsExtensions {
		if exists(target + ext) {
			return target + ext
		}
	}
	for _, ext := range jsExtensions {
		if exists(path.Join(target, "index"+ext)) {
			return path.Join(target, "index"+ext)
		}
	}
	return target + ".js"
}

func extractCInclude(relPath, content string) []string {
	dir := path.Dir(relPath)
	var refs []string

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		if m := cIncludePattern.FindStringSubmatch(scanner.Text()); m != nil {
			refs = append(refs, cleanRepoPath(path.Join(dir, m[1])))
		}
	}
	return refs
}

// cleanRepoPath normalizes a candidate target and rejects escapes above
// the repository root.
func cleanRepoPath(p string) string {
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ""
	}
	return cleaned
}

// languageByExtension maps file extensions to language tags stored on File
// entities. Unknown extensions leave the tag empty.
var languageByExtension = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".go":    "go",
	".java":  "java",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".hh":    "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
}

// languageForPath returns the language tag for a repository path.
func languageForPath(relPath string) string {
	switch path.Base(relPath) {
	case "Makefile":
		return "make"
	case "Dockerfile":
		return "dockerfile"
	}
	return languageByExtension[strings.ToLower(path.Ext(relPath))]
}
