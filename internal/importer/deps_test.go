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
	"testing"

	"github.com/stretchr/testify/assert"
)

func existsIn(paths ...string) func(string) bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return func(p string) bool { return set[p] }
}

func TestExtractReferencesPython(t *testing.T) {
	t.Run("plain and dotted imports", func(t *testing.T) {
		content := "import utils\nimport pkg.helpers as h\nfrom models import User\n"
		refs := ExtractReferences("src/main.py", content, existsIn("utils.py", "pkg/helpers.py", "models.py"))
		assert.Equal(t, []string{"utils.py", "pkg/helpers.py", "models.py"}, refs)
	})

	t.Run("comma separated import list", func(t *testing.T) {
		refs := ExtractReferences("main.py", "import os, utils, app.db\n", nil)
		assert.Equal(t, []string{"os.py", "utils.py", "app/db.py"}, refs)
	})

	t.Run("relative imports resolve against the package", func(t *testing.T) {
		content := "from .sibling import x\nfrom . import y\n"
		refs := ExtractReferences("pkg/mod.py", content, existsIn("pkg/sibling.py", "pkg/__init__.py"))
		assert.Equal(t, []string{"pkg/sibling.py", "pkg/__init__.py"}, refs)
	})

	t.Run("package layout preferred when module file absent", func(t *testing.T) {
		refs := ExtractReferences("main.py", "import app\n", existsIn("app/__init__.py"))
		assert.Equal(t, []string{"app/__init__.py"}, refs)
	})

	t.Run("unresolvable module still yields a candidate edge", func(t *testing.T) {
		refs := ExtractReferences("main.py", "import ghost\n", existsIn("main.py"))
		assert.Equal(t, []string{"ghost.py"}, refs)
	})
}

func TestExtractReferencesJavaScript(t *testing.T) {
	t.Run("relative imports resolved with extension probing", func(t *testing.T) {
		content := "import { f } from './lib/helpers';\nconst x = require('../shared/config.js');\n"
		refs := ExtractReferences("src/app/main.js", content,
			existsIn("src/app/lib/helpers.ts", "src/shared/config.js"))
		assert.Equal(t, []string{"src/app/lib/helpers.ts", "src/shared/config.js"}, refs)
	})

	t.Run("package imports are ignored", func(t *testing.T) {
		refs := ExtractReferences("src/main.ts", "import React from 'react';\nimport './init';\n",
			existsIn("src/init.ts"))
		assert.Equal(t, []string{"src/init.ts"}, refs)
	})

	t.Run("index resolution", func(t *testing.T) {
		refs := ExtractReferences("src/main.js", "import api from './api';\n",
			existsIn("src/api/index.js"))
		assert.Equal(t, []string{"src/api/index.js"}, refs)
	})

	t.Run("escaping the repository root drops the reference", func(t *testing.T) {
		refs := ExtractReferences("main.js", "import x from '../../outside.js';\n", nil)
		assert.Empty(t, refs)
	})
}

func TestExtractReferencesCInclude(t *testing.T) {
	content := "#include <stdio.h>\n#include \"util.h\"\n#include \"../shared/defs.h\"\n"
	refs := ExtractReferences("src/main.c", content, nil)
	assert.Equal(t, []string{"src/util.h", "shared/defs.h"}, refs)
}

func TestExtractReferencesNonCodeFile(t *testing.T) {
	assert.Nil(t, ExtractReferences("README.md", "import x\n", nil))
}

func TestExtractReferencesDeduplicates(t *testing.T) {
	content := "import utils\nimport utils\n"
	refs := ExtractReferences("main.py", content, nil)
	assert.Equal(t, []string{"utils.py"}, refs)
}

func TestLanguageForPath(t *testing.T) {
	assert.Equal(t, "python", languageForPath("src/main.py"))
	assert.Equal(t, "typescript", languageForPath("a/b.tsx"))
	assert.Equal(t, "make", languageForPath("sub/Makefile"))
	assert.Equal(t, "dockerfile", languageForPath("Dockerfile"))
	assert.Equal(t, "", languageForPath("LICENSE"))
}
