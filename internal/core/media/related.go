// Copyright 2025 OpenLabel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package media classifies uploaded files, orders them deterministically and
// turns them into frame extractors and chunk artifacts. This file detects the
// auxiliary companions of 3D data. The layout convention is
//
//	<dir>/<name>.<ext>
//	<dir>/related_images/<name>_<ext>/<companion files>
//
// Companions are context images for a point cloud. They must be excluded from
// the primary frame set before any frame-size query is trusted, then
// reattached to their primary frame through the extractor's Reconcile pass.
package media

import (
	"log/slog"
	"path/filepath"
	"strings"
)

// relatedDirName is the well-known directory holding companion files.
const relatedDirName = "related_images"

// DetectRelated splits a discovered file set into primary frames and their
// companion files keyed by primary path. Companion files whose owning
// directory does not match any primary are logged and dropped.
func DetectRelated(files []string) (primary []string, related map[string][]string) {
	related = make(map[string][]string)

	// Index the expected companion directory of every primary candidate.
	ownerByDir := make(map[string]string)
	for _, f := range files {
		if underRelatedDir(f) {
			continue
		}
		base := filepath.Base(f)
		mangled := strings.ReplaceAll(base, ".", "_")
		dir := filepath.Join(filepath.Dir(f), relatedDirName, mangled)
		ownerByDir[dir] = f
	}

	for _, f := range files {
		if !underRelatedDir(f) {
			primary = append(primary, f)
			continue
		}
		owner, ok := ownerByDir[filepath.Dir(f)]
		if !ok {
			slog.Warn("companion file has no matching primary frame", "path", f)
			continue
		}
		related[owner] = append(related[owner], f)
	}
	return primary, related
}

// underRelatedDir reports whether the path sits below a related_images
// directory at any depth.
func underRelatedDir(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == relatedDirName {
			return true
		}
	}
	return false
}
